package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trivia-sync-service/internal/domain"

	"github.com/sirupsen/logrus"
)

// SessionService owns the quiz session lifecycle: waiting -> in_progress -> completed,
// or cancelled (deleted) from waiting/in_progress.
type SessionService struct {
	store Store
	pub   publisher
	opts  options
}

func NewSessionService(store Store, bus Bus, opts ...Option) *SessionService {
	o := buildOptions(opts)
	return &SessionService{
		store: store,
		pub:   publisher{bus: bus, log: o.log},
		opts:  o,
	}
}

// Create opens a waiting session hosted by hostPlayerID under a fresh lobby code.
func (s *SessionService) Create(ctx context.Context, hostPlayerID string) (session domain.QuizSession, err error) {
	defer observe(s.opts.observer, "create_session", time.Now(), &err)

	if hostPlayerID == "" {
		return domain.QuizSession{}, fmt.Errorf("%w: host player id required", domain.ErrInvalidInput)
	}
	if _, err := s.store.GetPlayer(ctx, hostPlayerID); err != nil {
		return domain.QuizSession{}, err
	}
	session, err = allocateSession(ctx, s.store, s.opts.codes, hostPlayerID, s.opts.now())
	if err != nil {
		return domain.QuizSession{}, err
	}
	s.opts.log.WithFields(logrus.Fields{"session_id": session.ID, "lobby_code": session.LobbyCode}).Info("session created")
	s.pub.publish(ctx, domain.SessionEvent(domain.EventInsert, session))
	return session, nil
}

// Get reads the authoritative session row.
func (s *SessionService) Get(ctx context.Context, sessionID string) (domain.QuizSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Join adds playerID to the session. Joining twice returns the existing participant
// with the player's current alias.
func (s *SessionService) Join(ctx context.Context, sessionID, playerID string) (participant domain.QuizParticipant, err error) {
	defer observe(s.opts.observer, "join", time.Now(), &err)

	if sessionID == "" || playerID == "" {
		return domain.QuizParticipant{}, fmt.Errorf("%w: session and player id required", domain.ErrInvalidInput)
	}
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return domain.QuizParticipant{}, err
	}

	existing, err := s.store.GetParticipant(ctx, sessionID, playerID)
	switch {
	case err == nil:
		existing.PlayerAlias = player.Alias
		return existing, nil
	case !errors.Is(err, domain.ErrParticipantNotFound):
		return domain.QuizParticipant{}, err
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.QuizParticipant{}, err
	}
	if session.Status != domain.StatusWaiting {
		return domain.QuizParticipant{}, domain.ErrSessionNotJoinable
	}

	participant, err = s.store.CreateParticipant(ctx, domain.QuizParticipant{
		QuizSessionID: sessionID,
		PlayerID:      playerID,
		PlayerAlias:   player.Alias,
		JoinedAt:      s.opts.now(),
	})
	if errors.Is(err, domain.ErrDuplicateParticipant) {
		// lost a race with a concurrent join of the same player
		existing, err := s.store.GetParticipant(ctx, sessionID, playerID)
		if err != nil {
			return domain.QuizParticipant{}, err
		}
		existing.PlayerAlias = player.Alias
		return existing, nil
	}
	if err != nil {
		return domain.QuizParticipant{}, err
	}
	s.pub.publish(ctx, domain.ParticipantEvent(domain.EventInsert, participant))
	return participant, nil
}

// JoinByCode resolves a lobby code (case-insensitive) and joins its session.
func (s *SessionService) JoinByCode(ctx context.Context, code, playerID string) (domain.QuizSession, domain.QuizParticipant, error) {
	session, err := s.store.GetSessionByCode(ctx, domain.NormalizeLobbyCode(code))
	if err != nil {
		return domain.QuizSession{}, domain.QuizParticipant{}, err
	}
	participant, err := s.Join(ctx, session.ID, playerID)
	if err != nil {
		return domain.QuizSession{}, domain.QuizParticipant{}, err
	}
	return session, participant, nil
}

// Start freezes the question list and moves the session to in_progress.
func (s *SessionService) Start(ctx context.Context, sessionID string, questionIDs []string) (session domain.QuizSession, err error) {
	defer observe(s.opts.observer, "start", time.Now(), &err)

	if len(questionIDs) == 0 {
		return domain.QuizSession{}, fmt.Errorf("%w: at least one question required", domain.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(questionIDs))
	for _, id := range questionIDs {
		if _, dup := seen[id]; dup {
			return domain.QuizSession{}, fmt.Errorf("%w: duplicate question %s", domain.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		if _, err := s.store.GetQuestion(ctx, id); err != nil {
			return domain.QuizSession{}, err
		}
	}

	ids := append([]string(nil), questionIDs...)
	session, err = s.store.StartSession(ctx, sessionID, ids, s.opts.now())
	if err != nil {
		return domain.QuizSession{}, err
	}
	s.opts.log.WithFields(logrus.Fields{"session_id": sessionID, "questions": len(ids)}).Info("session started")
	s.pub.publish(ctx, domain.SessionEvent(domain.EventUpdate, session))
	return session, nil
}

// SampleQuestions picks count distinct non-flagged questions carrying every tag.
func (s *SessionService) SampleQuestions(ctx context.Context, count int, tags []string) ([]string, error) {
	if err := validateInput(SampleInput{Count: count, Tags: tags}); err != nil {
		return nil, err
	}
	pool, err := s.store.ListQuestions(ctx, QuestionFilter{Tags: domain.NormalizeTags(tags), ExcludeFlagged: true})
	if err != nil {
		return nil, err
	}
	if len(pool) < count {
		return nil, fmt.Errorf("%w: want %d, have %d", domain.ErrInsufficientQuestions, count, len(pool))
	}
	ids := make([]string, len(pool))
	for i, q := range pool {
		ids[i] = q.ID
	}
	s.opts.rnd.shuffle(ids)
	return ids[:count], nil
}

// StartWithSample samples questions and starts the session with them. The session is
// untouched when the pool is too small.
func (s *SessionService) StartWithSample(ctx context.Context, sessionID string, count int, tags []string) (domain.QuizSession, error) {
	ids, err := s.SampleQuestions(ctx, count, tags)
	if err != nil {
		return domain.QuizSession{}, err
	}
	return s.Start(ctx, sessionID, ids)
}

// Advance moves to the next question based on the stored index.
func (s *SessionService) Advance(ctx context.Context, sessionID string) (domain.QuizSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if session.Status != domain.StatusInProgress {
		return domain.QuizSession{}, domain.ErrInvalidTransition
	}
	return s.AdvanceFrom(ctx, sessionID, session.CurrentQuestionIndex)
}

// AdvanceFrom moves past expectedIndex only if the session is still on it, so two
// hosts clicking "next" on the same question advance once.
func (s *SessionService) AdvanceFrom(ctx context.Context, sessionID string, expectedIndex int) (session domain.QuizSession, err error) {
	defer observe(s.opts.observer, "advance", time.Now(), &err)

	session, err = s.store.AdvanceSession(ctx, sessionID, expectedIndex, s.opts.now())
	if err != nil {
		return domain.QuizSession{}, err
	}
	if session.Status == domain.StatusCompleted {
		s.opts.log.WithField("session_id", sessionID).Info("session completed")
	}
	s.pub.publish(ctx, domain.SessionEvent(domain.EventUpdate, session))
	return session, nil
}

// Cancel deletes a waiting or running session with its participants and answers and
// rolls back the players' totals.
func (s *SessionService) Cancel(ctx context.Context, sessionID string) (result CancelResult, err error) {
	defer observe(s.opts.observer, "cancel", time.Now(), &err)
	return s.cancel(ctx, sessionID)
}

func (s *SessionService) cancel(ctx context.Context, sessionID string, only ...domain.SessionStatus) (CancelResult, error) {
	result, err := s.store.CancelSession(ctx, sessionID, only...)
	if err != nil {
		return CancelResult{}, err
	}
	s.opts.log.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"answers":      len(result.Answers),
		"participants": len(result.Participants),
	}).Info("session cancelled")

	events := make([]domain.ChangeEvent, 0, len(result.Players)+1)
	for _, p := range result.Players {
		events = append(events, domain.PlayerEvent(sessionID, domain.EventUpdate, p))
	}
	events = append(events, domain.SessionEvent(domain.EventDelete, result.Session))
	s.pub.publish(ctx, events...)
	return result, nil
}

// ReapStaleLobbies cancels waiting sessions older than maxAge and reports how many
// were removed. A lobby started after the listing is left alone: the store rechecks
// the status in the cancelling transaction.
func (s *SessionService) ReapStaleLobbies(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := s.store.ListWaitingSessions(ctx, s.opts.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, session := range stale {
		_, err := s.cancel(ctx, session.ID, domain.StatusWaiting)
		switch {
		case err == nil:
			reaped++
		case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrInvalidTransition):
			// started or cancelled since the listing
		default:
			return reaped, err
		}
	}
	if reaped > 0 {
		s.opts.log.WithField("count", reaped).Info("reaped stale lobbies")
	}
	return reaped, nil
}
