package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trivia-sync-service/internal/domain"
	"trivia-sync-service/internal/timer"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Services bundles the use cases a client view drives.
type Services struct {
	Sessions  *SessionService
	Answers   *AnswerService
	Questions *QuestionService
	Players   *PlayerService
}

// Client is one connected player's view of a session: its own cache, its own timer,
// and the commands that player may issue. A Client follows one session at a time.
type Client struct {
	playerID string
	cache    *SessionCache
	svc      Services
	timer    *timer.Timer
	log      logrus.FieldLogger
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	sessionID string
}

func NewClient(playerID string, cache *SessionCache, svc Services, tm *timer.Timer, log logrus.FieldLogger) *Client {
	if log == nil {
		log = discardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		playerID: playerID,
		cache:    cache,
		svc:      svc,
		timer:    tm,
		log:      log.WithField("player_id", playerID),
		ctx:      ctx,
		cancel:   cancel,
	}
	cache.Subscribe(c.hydrate)
	return c
}

func (c *Client) PlayerID() string { return c.playerID }

// SessionID is the session currently followed, empty before Join/Create.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Cache() *SessionCache { return c.cache }

// OnChange calls fn with a fresh view after every cache change batch.
func (c *Client) OnChange(fn func(View)) func() {
	return c.cache.Subscribe(func() {
		fn(c.Render())
	})
}

// hydrate fetches the current question when a session update moved to one this
// cache has not seen yet.
func (c *Client) hydrate() {
	session, ok := c.cache.GetSessionByID(c.SessionID())
	if !ok {
		return
	}
	qid, ok := session.CurrentQuestionID()
	if !ok {
		return
	}
	if _, ok := c.cache.GetQuestionByID(qid); ok {
		return
	}
	go func() {
		if _, err := c.cache.RefreshQuestion(c.ctx, qid); err != nil && c.ctx.Err() == nil {
			c.log.WithError(err).WithField("question_id", qid).Warn("load current question")
		}
	}()
}

// Load follows sessionID: subscribes its topic and hydrates the cache.
func (c *Client) Load(ctx context.Context, sessionID string) error {
	if err := c.follow(ctx, sessionID); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	var session domain.QuizSession
	g.Go(func() error {
		var err error
		session, err = c.cache.RefreshSession(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		_, err := c.cache.RefreshParticipants(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		_, err := c.cache.RefreshPlayer(gctx, c.playerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, qid := range session.QuestionIDs {
		qid := qid
		g.Go(func() error {
			_, err := c.cache.RefreshQuestion(gctx, qid)
			return err
		})
	}
	if qid, ok := session.CurrentQuestionID(); ok {
		g.Go(func() error {
			_, err := c.cache.RefreshAnswersForQuestion(gctx, sessionID, qid)
			return err
		})
	}
	if session.Status == domain.StatusCompleted {
		g.Go(func() error {
			for _, qid := range session.QuestionIDs {
				if _, err := c.cache.RefreshAnswersForQuestion(gctx, sessionID, qid); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.observeTimer()
	return nil
}

// follow switches the watched topic to sessionID. The countdown is keyed by question
// index only, so a different session always starts from a fresh timer.
func (c *Client) follow(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	prev := c.sessionID
	c.sessionID = sessionID
	if prev != sessionID {
		c.timer.Reset(0)
	}
	c.mu.Unlock()

	if prev != "" && prev != sessionID {
		c.cache.Unwatch(prev)
	}
	return c.cache.Watch(ctx, sessionID)
}

// Create hosts a new session and follows it.
func (c *Client) Create(ctx context.Context) (domain.QuizSession, error) {
	session, err := c.svc.Sessions.Create(ctx, c.playerID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	c.cache.Install(domain.SessionEvent(domain.EventInsert, session))
	if err := c.Load(ctx, session.ID); err != nil {
		return domain.QuizSession{}, err
	}
	return session, nil
}

// JoinByCode joins the session behind a lobby code and follows it.
func (c *Client) JoinByCode(ctx context.Context, code string) (domain.QuizSession, error) {
	session, participant, err := c.svc.Sessions.JoinByCode(ctx, code, c.playerID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	c.cache.Install(
		domain.SessionEvent(domain.EventUpdate, session),
		domain.ParticipantEvent(domain.EventInsert, participant),
	)
	if err := c.Load(ctx, session.ID); err != nil {
		return domain.QuizSession{}, err
	}
	return session, nil
}

// Join joins a session by id and follows it.
func (c *Client) Join(ctx context.Context, sessionID string) error {
	participant, err := c.svc.Sessions.Join(ctx, sessionID, c.playerID)
	if err != nil {
		return err
	}
	c.cache.Install(domain.ParticipantEvent(domain.EventInsert, participant))
	return c.Load(ctx, sessionID)
}

// Start samples count questions (optionally by tags) and starts the session.
func (c *Client) Start(ctx context.Context, count int, tags []string) error {
	session, err := c.hostSession()
	if err != nil {
		return err
	}
	started, err := c.svc.Sessions.StartWithSample(ctx, session.ID, count, tags)
	if err != nil {
		return err
	}
	c.cache.Install(domain.SessionEvent(domain.EventUpdate, started))
	return c.Load(ctx, started.ID)
}

// Next advances from the question this client is looking at. Two hosts pressing next
// on the same question move the session once; the loser gets ErrAdvanceConflict.
func (c *Client) Next(ctx context.Context) error {
	session, err := c.hostSession()
	if err != nil {
		return err
	}
	advanced, err := c.svc.Sessions.AdvanceFrom(ctx, session.ID, session.CurrentQuestionIndex)
	if errors.Is(err, domain.ErrAdvanceConflict) {
		if _, rerr := c.cache.RefreshSession(ctx, session.ID); rerr != nil {
			c.log.WithError(rerr).Warn("refresh after advance conflict")
		}
		return err
	}
	if err != nil {
		return err
	}
	c.cache.Install(domain.SessionEvent(domain.EventUpdate, advanced))
	if qid, ok := advanced.CurrentQuestionID(); ok {
		if _, err := c.cache.RefreshAnswersForQuestion(ctx, advanced.ID, qid); err != nil {
			c.log.WithError(err).Warn("refresh answers after advance")
		}
	}
	c.observeTimer()
	return nil
}

// Answer submits selected for the current question.
func (c *Client) Answer(ctx context.Context, selected string) (domain.Answer, error) {
	session, q, err := c.currentQuestion(ctx)
	if err != nil {
		return domain.Answer{}, err
	}
	if !q.HasOption(selected) {
		return domain.Answer{}, fmt.Errorf("%w: %q is not an option", domain.ErrInvalidInput, selected)
	}
	answer, player, err := c.svc.Answers.Submit(ctx, SubmitAnswerInput{
		SessionID:      session.ID,
		QuestionID:     q.ID,
		PlayerID:       c.playerID,
		SelectedAnswer: selected,
		CorrectAnswer:  q.CorrectAnswer,
	})
	if err != nil {
		return domain.Answer{}, err
	}
	c.cache.Install(
		domain.AnswerEvent(domain.EventInsert, answer),
		domain.PlayerEvent(session.ID, domain.EventUpdate, player),
	)
	return answer, nil
}

// Flag reports the current question.
func (c *Client) Flag(ctx context.Context, reason string) error {
	session, q, err := c.currentQuestion(ctx)
	if err != nil {
		return err
	}
	flagged, err := c.svc.Questions.Flag(ctx, session.ID, q.ID, reason)
	if err != nil {
		return err
	}
	c.cache.Install(domain.QuestionEvent(session.ID, domain.EventUpdate, flagged))
	return nil
}

// Cancel deletes the hosted session and stops following it.
func (c *Client) Cancel(ctx context.Context) error {
	session, err := c.hostSession()
	if err != nil {
		return err
	}
	result, err := c.svc.Sessions.Cancel(ctx, session.ID)
	if err != nil {
		return err
	}
	events := make([]domain.ChangeEvent, 0, len(result.Players)+1)
	for _, p := range result.Players {
		events = append(events, domain.PlayerEvent(session.ID, domain.EventUpdate, p))
	}
	events = append(events, domain.SessionEvent(domain.EventDelete, result.Session))
	c.cache.Install(events...)
	c.cache.Unwatch(session.ID)
	return nil
}

// Close releases the cache subscriptions.
func (c *Client) Close() {
	c.cancel()
	c.cache.Close()
}

// Tick counts the local countdown down by one second while a question is live.
// ok is false in the lobby, after completion and before a session is followed.
func (c *Client) Tick() (snap timer.Snapshot, ok bool) {
	c.observeTimer()
	session, found := c.cache.GetSessionByID(c.SessionID())
	if !found || session.Status != domain.StatusInProgress {
		return timer.Snapshot{}, false
	}
	return c.timer.Tick(), true
}

// TickInterval is how often Tick should be driven.
func (c *Client) TickInterval() time.Duration {
	return c.timer.Interval()
}

func (c *Client) hostSession() (domain.QuizSession, error) {
	id := c.SessionID()
	if id == "" {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	session, ok := c.cache.GetSessionByID(id)
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if session.HostPlayerID != c.playerID {
		return domain.QuizSession{}, domain.ErrNotHost
	}
	return session, nil
}

func (c *Client) currentQuestion(ctx context.Context) (domain.QuizSession, domain.Question, error) {
	id := c.SessionID()
	session, ok := c.cache.GetSessionByID(id)
	if !ok {
		return domain.QuizSession{}, domain.Question{}, domain.ErrSessionNotFound
	}
	qid, ok := session.CurrentQuestionID()
	if !ok {
		return domain.QuizSession{}, domain.Question{}, domain.ErrInvalidTransition
	}
	q, ok := c.cache.GetQuestionByID(qid)
	if !ok {
		var err error
		if q, err = c.cache.RefreshQuestion(ctx, qid); err != nil {
			return domain.QuizSession{}, domain.Question{}, err
		}
	}
	return session, q, nil
}

func (c *Client) observeTimer() {
	id := c.SessionID()
	session, ok := c.cache.GetSessionByID(id)
	if !ok || session.Status != domain.StatusInProgress {
		return
	}
	qid, _ := session.CurrentQuestionID()
	c.timer.Observe(
		session.CurrentQuestionIndex,
		len(c.cache.GetAnswersForQuestion(id, qid)),
		len(c.cache.GetParticipants(id)),
	)
}

// QuestionView is a question as shown to players: the correct answer is only
// revealed once results are shown.
type QuestionView struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	Tags          []string `json:"tags"`
	Flagged       bool     `json:"flagged"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
}

// View is the render-ready state of a client.
type View struct {
	PlayerID     string                   `json:"playerId"`
	Session      *domain.QuizSession      `json:"session,omitempty"`
	Deleted      bool                     `json:"deleted"`
	IsHost       bool                     `json:"isHost"`
	Participants []domain.QuizParticipant `json:"participants"`
	Question     *QuestionView            `json:"question,omitempty"`
	MyAnswer     *domain.Answer           `json:"myAnswer,omitempty"`
	Timer        *timer.Snapshot          `json:"timer,omitempty"`
	ShowResults  bool                     `json:"showResults"`
	Distribution *domain.Distribution     `json:"distribution,omitempty"`
	Scoreboard   []domain.ScoreboardEntry `json:"scoreboard,omitempty"`
}

// Render builds the view from cached state, feeding the timer the current counts.
func (c *Client) Render() View {
	c.observeTimer()
	id := c.SessionID()
	v := View{PlayerID: c.playerID, Participants: c.cache.GetParticipants(id)}
	session, ok := c.cache.GetSessionByID(id)
	if !ok {
		v.Deleted = id != "" && c.cache.IsDeleted(id)
		return v
	}
	v.Session = &session
	v.IsHost = session.HostPlayerID == c.playerID

	switch session.Status {
	case domain.StatusInProgress:
		qid, _ := session.CurrentQuestionID()
		snap := c.timer.Snapshot()
		if snap.QuestionIndex == session.CurrentQuestionIndex {
			v.Timer = &snap
			v.ShowResults = snap.State == timer.StateExpired
		}
		if q, ok := c.cache.GetQuestionByID(qid); ok {
			v.Question = questionView(q, v.ShowResults)
			if v.ShowResults {
				dist := ComputeDistribution(id, q, c.cache.GetAnswersForQuestion(id, qid))
				v.Distribution = &dist
			}
		}
		if a, ok := c.cache.GetPlayerAnswer(id, qid, c.playerID); ok {
			v.MyAnswer = &a
		}
	case domain.StatusCompleted:
		aliases := aliasIndex(v.Participants)
		v.Scoreboard = RankSession(c.cache.GetSessionAnswers(id), aliases)
	}
	return v
}

func questionView(q domain.Question, reveal bool) *QuestionView {
	opts := q.Options()
	shown := append([]string(nil), opts[:]...)
	sort.Strings(shown)
	qv := &QuestionView{
		ID:      q.ID,
		Text:    q.QuestionText,
		Options: shown,
		Tags:    q.Tags,
		Flagged: q.Flagged,
	}
	if reveal {
		qv.CorrectAnswer = q.CorrectAnswer
	}
	return qv
}
