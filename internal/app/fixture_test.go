package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"
	"trivia-sync-service/internal/infra/memory"
	"trivia-sync-service/internal/timer"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *memory.Store
	bus       *memory.Bus
	questions *memory.QuestionRepository
	svc       app.Services
	clock     *testClock
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStoreWithClock(clock.now)
	bus := memory.NewBus()
	questions := memory.NewQuestionRepository(store, time.Minute)

	opts = append([]app.Option{app.WithClock(clock.now), app.WithSeed(1)}, opts...)
	return &fixture{
		store:     store,
		bus:       bus,
		questions: questions,
		clock:     clock,
		svc: app.Services{
			Sessions:  app.NewSessionService(store, bus, opts...),
			Answers:   app.NewAnswerService(store, questions, bus, opts...),
			Questions: app.NewQuestionService(store, questions, bus, opts...),
			Players:   app.NewPlayerService(store, opts...),
		},
	}
}

func (f *fixture) player(t *testing.T, alias string) domain.Player {
	t.Helper()
	p, err := f.svc.Players.Register(context.Background(), app.RegisterPlayerInput{Alias: alias})
	require.NoError(t, err)
	return p
}

func (f *fixture) question(t *testing.T, text string, tags ...string) domain.Question {
	t.Helper()
	q, err := f.svc.Questions.Submit(context.Background(), app.NewQuestionInput{
		QuestionText:  text,
		CorrectAnswer: "right",
		WrongAnswers:  [3]string{"wrong-a", "wrong-b", "wrong-c"},
		Tags:          tags,
	})
	require.NoError(t, err)
	return q
}

func (f *fixture) questions3(t *testing.T) []string {
	t.Helper()
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = f.question(t, fmt.Sprintf("question %d?", i)).ID
	}
	return ids
}

// startedSession returns an in_progress session hosted by host with the given players joined.
func (f *fixture) startedSession(t *testing.T, host domain.Player, players ...domain.Player) domain.QuizSession {
	t.Helper()
	ctx := context.Background()
	session, err := f.svc.Sessions.Create(ctx, host.ID)
	require.NoError(t, err)
	for _, p := range players {
		_, err := f.svc.Sessions.Join(ctx, session.ID, p.ID)
		require.NoError(t, err)
	}
	session, err = f.svc.Sessions.Start(ctx, session.ID, f.questions3(t))
	require.NoError(t, err)
	return session
}

func (f *fixture) client(t *testing.T, playerID string) *app.Client {
	t.Helper()
	cache := app.NewSessionCache(f.store, f.bus)
	c := app.NewClient(playerID, cache, f.svc, timer.NewWithClock(timer.DefaultConfig(), f.clock.now), nil)
	t.Cleanup(c.Close)
	return c
}

// eventually polls cond until it holds; bus delivery is asynchronous.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
