package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"
)

func TestStoreAliasIsCaseInsensitiveUnique(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.CreatePlayer(ctx, domain.Player{Alias: "Alice"}); err != nil {
		t.Fatalf("create player: %v", err)
	}
	if _, err := store.CreatePlayer(ctx, domain.Player{Alias: "aLICE"}); !errors.Is(err, domain.ErrAliasTaken) {
		t.Fatalf("expected alias taken, got %v", err)
	}
	if _, err := store.GetPlayerByAlias(ctx, "ALICE"); err != nil {
		t.Fatalf("lookup by alias: %v", err)
	}
}

func TestStoreVersionsIncrease(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	a, _ := store.CreatePlayer(ctx, domain.Player{Alias: "a"})
	b, _ := store.CreatePlayer(ctx, domain.Player{Alias: "b"})
	if b.Version <= a.Version {
		t.Fatalf("expected increasing versions, got %d then %d", a.Version, b.Version)
	}
}

func TestStoreSessionLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sess, err := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "abcdef", HostPlayerID: "h", Status: domain.StatusWaiting})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.LobbyCode != "ABCDEF" {
		t.Fatalf("expected normalized code, got %s", sess.LobbyCode)
	}
	if _, err := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "ABCDEF"}); !errors.Is(err, domain.ErrDuplicateLobbyCode) {
		t.Fatalf("expected duplicate code, got %v", err)
	}

	if _, err := store.AdvanceSession(ctx, sess.ID, 0, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition before start, got %v", err)
	}

	started, err := store.StartSession(ctx, sess.ID, []string{"q1", "q2"}, now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.StatusInProgress || started.StartedAt == nil {
		t.Fatalf("unexpected started session %+v", started)
	}
	if _, err := store.StartSession(ctx, sess.ID, []string{"q1"}, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second start rejected, got %v", err)
	}

	if _, err := store.AdvanceSession(ctx, sess.ID, 1, now); !errors.Is(err, domain.ErrAdvanceConflict) {
		t.Fatalf("expected conflict on stale index, got %v", err)
	}
	next, err := store.AdvanceSession(ctx, sess.ID, 0, now)
	if err != nil || next.CurrentQuestionIndex != 1 {
		t.Fatalf("advance: %v %+v", err, next)
	}
	done, err := store.AdvanceSession(ctx, sess.ID, 1, now)
	if err != nil {
		t.Fatalf("advance past end: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.EndedAt == nil || done.CurrentQuestionIndex != 2 {
		t.Fatalf("expected completed session, got %+v", done)
	}
}

func TestStoreRecordAnswerIsAtomicAndUnique(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	p, _ := store.CreatePlayer(ctx, domain.Player{Alias: "p"})
	sess, _ := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "AAAAAA"})

	ans := domain.Answer{QuizSessionID: sess.ID, QuestionID: "q1", PlayerID: p.ID, SelectedAnswer: "x", IsCorrect: true}
	_, player, err := store.RecordAnswer(ctx, ans)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if player.TotalQuestionsAnswered != 1 || player.TotalCorrectAnswers != 1 {
		t.Fatalf("unexpected totals %+v", player)
	}
	if _, _, err := store.RecordAnswer(ctx, ans); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	stored, _ := store.GetPlayer(ctx, p.ID)
	if stored.TotalQuestionsAnswered != 1 {
		t.Fatalf("duplicate changed totals: %+v", stored)
	}
}

func TestStoreCancelRollsBackTotals(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	p, _ := store.CreatePlayer(ctx, domain.Player{Alias: "p"})
	keep, _ := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "KEEPKP"})
	drop, _ := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "DROPDR"})
	_, _ = store.CreateParticipant(ctx, domain.QuizParticipant{QuizSessionID: drop.ID, PlayerID: p.ID})

	_, _, _ = store.RecordAnswer(ctx, domain.Answer{QuizSessionID: keep.ID, QuestionID: "q1", PlayerID: p.ID, IsCorrect: true})
	_, _, _ = store.RecordAnswer(ctx, domain.Answer{QuizSessionID: drop.ID, QuestionID: "q1", PlayerID: p.ID, IsCorrect: true})
	_, _, _ = store.RecordAnswer(ctx, domain.Answer{QuizSessionID: drop.ID, QuestionID: "q2", PlayerID: p.ID})

	result, err := store.CancelSession(ctx, drop.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(result.Answers) != 2 || len(result.Participants) != 1 || len(result.Players) != 1 {
		t.Fatalf("unexpected cancel result %+v", result)
	}
	if got := result.Players[0]; got.TotalQuestionsAnswered != 1 || got.TotalCorrectAnswers != 1 {
		t.Fatalf("expected totals rolled back to the kept session, got %+v", got)
	}
	if _, err := store.GetSession(ctx, drop.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	if _, err := store.GetSessionByCode(ctx, "DROPDR"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected code released, got %v", err)
	}
	answers, _ := store.ListAnswers(ctx, drop.ID, "")
	if len(answers) != 0 {
		t.Fatalf("expected answers removed, got %d", len(answers))
	}
}

func TestStoreCancelCompletedIsRejected(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()
	sess, err := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "DONEDN", Status: domain.StatusWaiting})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.StartSession(ctx, sess.ID, []string{"q1"}, now); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := store.AdvanceSession(ctx, sess.ID, 0, now)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	if _, err := store.CancelSession(ctx, sess.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestStoreQuestionFilterAndFlag(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	a, _ := store.CreateQuestion(ctx, domain.Question{QuestionText: "a", Tags: []string{"geo", "eu"}})
	_, _ = store.CreateQuestion(ctx, domain.Question{QuestionText: "b", Tags: []string{"geo"}})

	n, _ := store.CountQuestions(ctx, app.QuestionFilter{Tags: []string{"geo"}, ExcludeFlagged: true})
	if n != 2 {
		t.Fatalf("expected 2 geo questions, got %d", n)
	}
	flagged, err := store.FlagQuestion(ctx, a.ID, "typo")
	if err != nil || !flagged.Flagged {
		t.Fatalf("flag: %v %+v", err, flagged)
	}
	again, _ := store.FlagQuestion(ctx, a.ID, "other")
	if again.FlagReason != "typo" || again.Version != flagged.Version {
		t.Fatalf("expected flagging to be one-way and idempotent, got %+v", again)
	}
	list, _ := store.ListQuestions(ctx, app.QuestionFilter{Tags: []string{"geo"}, ExcludeFlagged: true})
	if len(list) != 1 || list[0].QuestionText != "b" {
		t.Fatalf("unexpected filtered list %+v", list)
	}
}

func TestStoreParticipantUnique(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	sess, _ := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "PPPPPP"})

	if _, err := store.CreateParticipant(ctx, domain.QuizParticipant{QuizSessionID: sess.ID, PlayerID: "p"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := store.CreateParticipant(ctx, domain.QuizParticipant{QuizSessionID: sess.ID, PlayerID: "p"}); !errors.Is(err, domain.ErrDuplicateParticipant) {
		t.Fatalf("expected duplicate participant, got %v", err)
	}
	if _, err := store.CreateParticipant(ctx, domain.QuizParticipant{QuizSessionID: "nope", PlayerID: "p"}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected missing session, got %v", err)
	}
}

func TestStoreCancelWaitingOnly(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	started, _ := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "STARTD", Status: domain.StatusWaiting})
	if _, err := store.StartSession(ctx, started.ID, []string{"q1"}, now); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := store.CancelSession(ctx, started.ID, domain.StatusWaiting); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for a started session, got %v", err)
	}
	if _, err := store.GetSession(ctx, started.ID); err != nil {
		t.Fatalf("started session must survive: %v", err)
	}

	lobby, _ := store.CreateSession(ctx, domain.QuizSession{LobbyCode: "LOBBYL", Status: domain.StatusWaiting})
	if _, err := store.CancelSession(ctx, lobby.ID, domain.StatusWaiting); err != nil {
		t.Fatalf("cancel waiting: %v", err)
	}
	if _, err := store.GetSession(ctx, lobby.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected lobby gone, got %v", err)
	}
}
