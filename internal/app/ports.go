package app

import (
	"context"
	"time"

	"trivia-sync-service/internal/domain"
)

// QuestionFilter narrows question listings. Tags must all be present.
type QuestionFilter struct {
	Tags           []string
	ExcludeFlagged bool
}

// CancelResult is everything a cancellation removed or compensated.
type CancelResult struct {
	Session      domain.QuizSession
	Participants []domain.QuizParticipant
	Answers      []domain.Answer
	Players      []domain.Player
}

// Store is the persistent row store. Implementations enforce the unique constraints
// (alias, lobby code, participant pair, answer triple) and the conditional updates, and
// wrap transport failures with domain.ErrStoreUnavailable.
type Store interface {
	CreatePlayer(ctx context.Context, p domain.Player) (domain.Player, error)
	GetPlayer(ctx context.Context, id string) (domain.Player, error)
	GetPlayerByAlias(ctx context.Context, alias string) (domain.Player, error)
	ListAnsweringPlayers(ctx context.Context) ([]domain.Player, error)

	CreateQuestion(ctx context.Context, q domain.Question) (domain.Question, error)
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
	ListQuestions(ctx context.Context, filter QuestionFilter) ([]domain.Question, error)
	CountQuestions(ctx context.Context, filter QuestionFilter) (int, error)
	FlagQuestion(ctx context.Context, id, reason string) (domain.Question, error)

	CreateSession(ctx context.Context, s domain.QuizSession) (domain.QuizSession, error)
	GetSession(ctx context.Context, id string) (domain.QuizSession, error)
	GetSessionByCode(ctx context.Context, code string) (domain.QuizSession, error)
	ListWaitingSessions(ctx context.Context, createdBefore time.Time) ([]domain.QuizSession, error)
	// StartSession only succeeds while the stored status is waiting.
	StartSession(ctx context.Context, id string, questionIDs []string, startedAt time.Time) (domain.QuizSession, error)
	// AdvanceSession increments the index only if it still equals expectedIndex.
	AdvanceSession(ctx context.Context, id string, expectedIndex int, now time.Time) (domain.QuizSession, error)
	// CancelSession deletes the session with its participants and answers and rolls
	// back player totals, atomically. Completed sessions are never cancelled; with
	// only set, the status read inside the same transaction must be one of them.
	CancelSession(ctx context.Context, id string, only ...domain.SessionStatus) (CancelResult, error)

	CreateParticipant(ctx context.Context, p domain.QuizParticipant) (domain.QuizParticipant, error)
	GetParticipant(ctx context.Context, sessionID, playerID string) (domain.QuizParticipant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.QuizParticipant, error)

	// RecordAnswer inserts the answer and bumps the player's totals atomically.
	RecordAnswer(ctx context.Context, a domain.Answer) (domain.Answer, domain.Player, error)
	GetAnswer(ctx context.Context, sessionID, questionID, playerID string) (domain.Answer, error)
	// ListAnswers returns a session's answers; an empty questionID means all questions.
	ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error)
}

// Subscription is a live bus subscription. Close is synchronous: once it returns the
// handler will not be invoked again.
type Subscription interface {
	Close() error
}

// Bus delivers row-change events per session topic, at least once, unordered.
type Bus interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
	Subscribe(ctx context.Context, topic string, handler func(domain.ChangeEvent)) (Subscription, error)
}

// QuestionRepository serves question content (from cache/backing store).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
	Invalidate(ctx context.Context, id string)
}
