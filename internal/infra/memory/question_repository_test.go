package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trivia-sync-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{questions: map[string]domain.Question{"q1": sampleQuestion()}}
	repo := NewQuestionRepository(loader, time.Minute)

	if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("get question: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	q, err := repo.GetQuestion(context.Background(), "q1")
	if err != nil {
		t.Fatalf("get question 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
	if q.CorrectAnswer != "4" {
		t.Fatalf("unexpected cached question %+v", q)
	}
}

func TestQuestionRepositoryExpiresAndInvalidates(t *testing.T) {
	loader := &countingLoader{questions: map[string]domain.Question{"q1": sampleQuestion()}}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	ctx := context.Background()
	_, _ = repo.GetQuestion(ctx, "q1")

	now = now.Add(2 * time.Minute)
	_, _ = repo.GetQuestion(ctx, "q1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls.Load())
	}

	repo.Invalidate(ctx, "q1")
	_, _ = repo.GetQuestion(ctx, "q1")
	if loader.calls.Load() != 3 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls.Load())
	}
}

func TestQuestionRepositoryDoesNotCacheMisses(t *testing.T) {
	loader := &countingLoader{questions: map[string]domain.Question{}}
	repo := NewQuestionRepository(loader, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := repo.GetQuestion(context.Background(), "missing")
		if !errors.Is(err, domain.ErrQuestionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected every miss to reach the loader, got %d", loader.calls.Load())
	}
}

func TestQuestionRepositoryCollapsesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{
		questions: map[string]domain.Question{"q1": sampleQuestion()},
		gate:      release,
	}
	repo := NewQuestionRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
				t.Errorf("get question: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if loader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", loader.calls.Load())
	}
}

func TestQuestionRepositorySweepsExpiredEntries(t *testing.T) {
	second := sampleQuestion()
	second.ID = "q2"
	loader := &countingLoader{questions: map[string]domain.Question{"q1": sampleQuestion(), "q2": second}}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	ctx := context.Background()
	_, _ = repo.GetQuestion(ctx, "q1")
	if repo.Len() != 1 {
		t.Fatalf("expected one entry, got %d", repo.Len())
	}

	now = now.Add(2 * time.Minute)
	if _, err := repo.GetQuestion(ctx, "q2"); err != nil {
		t.Fatalf("get question: %v", err)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected the expired entry swept, got %d entries", repo.Len())
	}
}

func TestQuestionRepositoryLoadOutlivesCancelledCaller(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{
		questions: map[string]domain.Question{"q1": sampleQuestion()},
		gate:      release,
	}
	repo := NewQuestionRepository(loader, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := repo.GetQuestion(ctx, "q1")
		errs <- err
	}()
	deadline := time.Now().Add(time.Second)
	for loader.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("load never started")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected the cancelled caller to stop waiting, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled caller kept waiting on the load")
	}

	close(release)
	q, err := repo.GetQuestion(context.Background(), "q1")
	if err != nil {
		t.Fatalf("get question: %v", err)
	}
	if q.ID != "q1" || loader.calls.Load() != 1 {
		t.Fatalf("expected the shared load to finish, got %+v after %d loads", q, loader.calls.Load())
	}
}

type countingLoader struct {
	questions map[string]domain.Question
	gate      chan struct{}
	calls     atomic.Int32
}

func (l *countingLoader) GetQuestion(_ context.Context, id string) (domain.Question, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	q, ok := l.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func sampleQuestion() domain.Question {
	return domain.Question{
		ID:            "q1",
		QuestionText:  "What is 2 + 2?",
		CorrectAnswer: "4",
		WrongAnswers:  [3]string{"3", "5", "22"},
		Tags:          []string{"math"},
	}
}
