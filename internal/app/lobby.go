package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"trivia-sync-service/internal/domain"
)

const (
	// LobbyCodeAlphabet leaves out I, O, 0 and 1.
	LobbyCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	LobbyCodeLength   = 6
	// MaxLobbyCodeAttempts bounds the collision retry loop.
	MaxLobbyCodeAttempts = 10
)

// CodeGenerator produces candidate lobby codes.
type CodeGenerator func() (string, error)

// RandomLobbyCode draws LobbyCodeLength symbols uniformly from LobbyCodeAlphabet.
func RandomLobbyCode() (string, error) {
	buf := make([]byte, LobbyCodeLength)
	limit := big.NewInt(int64(len(LobbyCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate lobby code: %w", err)
		}
		buf[i] = LobbyCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidLobbyCode reports whether code (after normalization) could have been allocated.
func ValidLobbyCode(code string) bool {
	code = domain.NormalizeLobbyCode(code)
	if len(code) != LobbyCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		found := false
		for j := 0; j < len(LobbyCodeAlphabet); j++ {
			if code[i] == LobbyCodeAlphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// allocateSession inserts a waiting session, retrying on lobby code collisions. The
// store's unique constraint is the arbiter, so concurrent allocations in other
// processes are covered too.
func allocateSession(ctx context.Context, store Store, gen CodeGenerator, hostPlayerID string, now time.Time) (domain.QuizSession, error) {
	for attempt := 0; attempt < MaxLobbyCodeAttempts; attempt++ {
		code, err := gen()
		if err != nil {
			return domain.QuizSession{}, err
		}
		session, err := store.CreateSession(ctx, domain.QuizSession{
			LobbyCode:            domain.NormalizeLobbyCode(code),
			HostPlayerID:         hostPlayerID,
			Status:               domain.StatusWaiting,
			CurrentQuestionIndex: 0,
			QuestionIDs:          []string{},
			CreatedAt:            now,
		})
		if errors.Is(err, domain.ErrDuplicateLobbyCode) {
			continue
		}
		if err != nil {
			return domain.QuizSession{}, err
		}
		return session, nil
	}
	return domain.QuizSession{}, domain.ErrAllocationExhausted
}
