package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"trivia-sync-service/internal/domain"
)

// PlayerService registers aliases.
type PlayerService struct {
	store Store
	opts  options
}

func NewPlayerService(store Store, opts ...Option) *PlayerService {
	return &PlayerService{store: store, opts: buildOptions(opts)}
}

// Register claims an alias. Aliases are unique case-insensitively.
func (s *PlayerService) Register(ctx context.Context, in RegisterPlayerInput) (player domain.Player, err error) {
	defer observe(s.opts.observer, "register_player", time.Now(), &err)

	in.Alias = strings.TrimSpace(in.Alias)
	if err := validateInput(in); err != nil {
		return domain.Player{}, err
	}
	player, err = s.store.CreatePlayer(ctx, domain.Player{
		Alias:     in.Alias,
		CreatedAt: s.opts.now(),
	})
	if err != nil {
		return domain.Player{}, err
	}
	s.opts.log.WithField("player_id", player.ID).Info("player registered")
	return player, nil
}

// AliasAvailable reports whether nobody holds alias yet.
func (s *PlayerService) AliasAvailable(ctx context.Context, alias string) (bool, error) {
	_, err := s.store.GetPlayerByAlias(ctx, domain.NormalizeAlias(alias))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, domain.ErrPlayerNotFound):
		return true, nil
	}
	return false, err
}

func (s *PlayerService) Get(ctx context.Context, id string) (domain.Player, error) {
	return s.store.GetPlayer(ctx, id)
}

func (s *PlayerService) GetByAlias(ctx context.Context, alias string) (domain.Player, error) {
	return s.store.GetPlayerByAlias(ctx, domain.NormalizeAlias(alias))
}
