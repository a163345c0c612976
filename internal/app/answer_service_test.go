package app_test

import (
	"context"
	"testing"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submit(t *testing.T, f *fixture, session domain.QuizSession, idx int, player domain.Player, selected string) (domain.Answer, domain.Player, error) {
	t.Helper()
	return f.svc.Answers.Submit(context.Background(), app.SubmitAnswerInput{
		SessionID:      session.ID,
		QuestionID:     session.QuestionIDs[idx],
		PlayerID:       player.ID,
		SelectedAnswer: selected,
		CorrectAnswer:  "right",
	})
}

func TestSubmitScoresAndUpdatesTotals(t *testing.T) {
	f := newFixture(t)
	host := f.player(t, "host")
	alice := f.player(t, "alice")
	session := f.startedSession(t, host, alice)

	answer, player, err := submit(t, f, session, 0, alice, "right")
	require.NoError(t, err)
	assert.True(t, answer.IsCorrect)
	assert.Equal(t, 1, player.TotalQuestionsAnswered)
	assert.Equal(t, 1, player.TotalCorrectAnswers)

	answer, player, err = submit(t, f, session, 1, alice, "wrong-b")
	require.NoError(t, err)
	assert.False(t, answer.IsCorrect)
	assert.Equal(t, 2, player.TotalQuestionsAnswered)
	assert.Equal(t, 1, player.TotalCorrectAnswers)
}

func TestSubmitTwiceIsRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	host := f.player(t, "host")
	alice := f.player(t, "alice")
	session := f.startedSession(t, host, alice)

	_, _, err := submit(t, f, session, 0, alice, "right")
	require.NoError(t, err)
	_, _, err = submit(t, f, session, 0, alice, "wrong-a")
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)

	p, err := f.store.GetPlayer(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalQuestionsAnswered)
	assert.Equal(t, 1, p.TotalCorrectAnswers)
}

func TestSubmitPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host := f.player(t, "host")
	alice := f.player(t, "alice")
	outsider := f.player(t, "outsider")
	session := f.startedSession(t, host, alice)

	_, _, err := submit(t, f, session, 0, outsider, "right")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)

	_, _, err = f.svc.Answers.Submit(ctx, app.SubmitAnswerInput{
		SessionID: session.ID, QuestionID: "not-in-session", PlayerID: alice.ID,
		SelectedAnswer: "right", CorrectAnswer: "right",
	})
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)

	_, _, err = f.svc.Answers.Submit(ctx, app.SubmitAnswerInput{SessionID: session.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	waiting, err := f.svc.Sessions.Create(ctx, host.ID)
	require.NoError(t, err)
	_, _, err = f.svc.Answers.Submit(ctx, app.SubmitAnswerInput{
		SessionID: waiting.ID, QuestionID: session.QuestionIDs[0], PlayerID: alice.ID,
		SelectedAnswer: "right", CorrectAnswer: "right",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDistributionCanonicalOrder(t *testing.T) {
	f := newFixture(t)
	host := f.player(t, "host")
	players := []domain.Player{f.player(t, "p1"), f.player(t, "p2"), f.player(t, "p3"), f.player(t, "p4")}
	session := f.startedSession(t, host, players...)

	for i, selected := range []string{"right", "right", "wrong-c", "wrong-a"} {
		_, _, err := submit(t, f, session, 0, players[i], selected)
		require.NoError(t, err)
	}

	dist := f.svc.Answers.Distribution(context.Background(), session.ID, session.QuestionIDs[0])
	assert.Equal(t, 4, dist.Total)
	want := [4]domain.OptionStat{
		{Answer: "right", Count: 2, Percentage: 50},
		{Answer: "wrong-a", Count: 1, Percentage: 25},
		{Answer: "wrong-b", Count: 0, Percentage: 0},
		{Answer: "wrong-c", Count: 1, Percentage: 25},
	}
	assert.Equal(t, want, dist.Options)
}

func TestDistributionWithoutAnswers(t *testing.T) {
	f := newFixture(t)
	host := f.player(t, "host")
	session := f.startedSession(t, host)

	dist := f.svc.Answers.Distribution(context.Background(), session.ID, session.QuestionIDs[1])
	assert.Equal(t, 0, dist.Total)
	for _, opt := range dist.Options {
		assert.NotEmpty(t, opt.Answer)
		assert.Zero(t, opt.Percentage)
	}
}

func TestDistributionDegradesOnUnknownQuestion(t *testing.T) {
	f := newFixture(t)
	dist := f.svc.Answers.Distribution(context.Background(), "s", "missing")
	assert.Equal(t, "missing", dist.QuestionID)
	assert.Zero(t, dist.Total)
}

func TestGlobalScoreboardOrdering(t *testing.T) {
	f := newFixture(t)
	host := f.player(t, "host")
	// ann 2/2, ben 1/1, cid 1/2, dee 1/2, idle never answers
	ann := f.player(t, "ann")
	ben := f.player(t, "ben")
	cid := f.player(t, "cid")
	dee := f.player(t, "dee")
	_ = f.player(t, "idle")
	session := f.startedSession(t, host, ann, ben, cid, dee)

	mustSubmit := func(idx int, p domain.Player, sel string) {
		_, _, err := submit(t, f, session, idx, p, sel)
		require.NoError(t, err)
	}
	mustSubmit(0, ann, "right")
	mustSubmit(1, ann, "right")
	mustSubmit(0, ben, "right")
	mustSubmit(0, cid, "right")
	mustSubmit(1, cid, "wrong-a")
	mustSubmit(0, dee, "wrong-a")
	mustSubmit(1, dee, "right")

	board := f.svc.Answers.GlobalScoreboard(context.Background())
	require.Len(t, board, 4)

	var order []string
	for i, e := range board {
		assert.Equal(t, i+1, e.Rank)
		order = append(order, e.Alias)
	}
	// ann and ben tie on 100%, ann has more correct; cid and dee tie fully, alias decides
	assert.Equal(t, []string{"ann", "ben", "cid", "dee"}, order)
	assert.InDelta(t, 50.0, board[2].Accuracy, 0.0001)
}

func TestSessionScoreboardOrdering(t *testing.T) {
	f := newFixture(t)
	host := f.player(t, "host")
	ann := f.player(t, "ann")
	ben := f.player(t, "ben")
	session := f.startedSession(t, host, ann, ben)

	// ann: 1 correct of 1. ben: 2 correct of 3. Correct count ranks first.
	for _, s := range []struct {
		idx int
		p   domain.Player
		sel string
	}{
		{0, ann, "right"},
		{0, ben, "right"},
		{1, ben, "right"},
		{2, ben, "wrong-a"},
	} {
		_, _, err := submit(t, f, session, s.idx, s.p, s.sel)
		require.NoError(t, err)
	}

	board := f.svc.Answers.SessionScoreboard(context.Background(), session.ID)
	require.Len(t, board, 2)
	assert.Equal(t, "ben", board[0].Alias)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, 2, board[0].TotalCorrectAnswers)
	assert.Equal(t, "ann", board[1].Alias)
	assert.Equal(t, 2, board[1].Rank)
}

func TestRankGlobalUsesExactAccuracy(t *testing.T) {
	// 2/3 and 4/6 are equal accuracy; correct count then decides.
	players := []domain.Player{
		{ID: "a", Alias: "a", TotalQuestionsAnswered: 3, TotalCorrectAnswers: 2},
		{ID: "b", Alias: "b", TotalQuestionsAnswered: 6, TotalCorrectAnswers: 4},
		{ID: "c", Alias: "c", TotalQuestionsAnswered: 0},
	}
	board := app.RankGlobal(players)
	require.Len(t, board, 2)
	assert.Equal(t, "b", board[0].PlayerID)
	assert.Equal(t, "a", board[1].PlayerID)
}

func TestRankSessionFallsBackToPlayerID(t *testing.T) {
	board := app.RankSession([]domain.Answer{{PlayerID: "p9", IsCorrect: true}}, nil)
	require.Len(t, board, 1)
	assert.Equal(t, "p9", board[0].Alias)
	assert.Equal(t, 100.0, board[0].Accuracy)
}
