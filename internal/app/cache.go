package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"trivia-sync-service/internal/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrCacheClosed is returned by Watch after Close.
var ErrCacheClosed = errors.New("session cache closed")

// Listener is notified after each batch of cache changes.
type Listener func()

// SessionCache is one client's view of the rows it cares about: players, questions,
// sessions, participants and answers, keyed by id. Reads never hit the store. Rows
// only move forward: an install older than the cached version is dropped and a
// deleted session stays deleted.
type SessionCache struct {
	store Store
	bus   Bus
	log   logrus.FieldLogger
	obs   Observer
	sf    singleflight.Group

	mu           sync.Mutex
	players      map[string]domain.Player
	questions    map[string]domain.Question
	sessions     map[string]domain.QuizSession
	codes        map[string]string
	participants map[string]map[string]domain.QuizParticipant // session -> player -> row
	answers      map[string]map[answerKey]domain.Answer       // session -> (question, player) -> row
	tombstones   map[string]struct{}
	watched      map[string]*watch
	listeners    []*listenerEntry
	pending      int
	dispatching  bool
	closed       bool
}

type answerKey struct {
	questionID string
	playerID   string
}

type watch struct {
	sub Subscription
}

type listenerEntry struct {
	fn Listener
}

func NewSessionCache(store Store, bus Bus, opts ...Option) *SessionCache {
	o := buildOptions(opts)
	return &SessionCache{
		store:        store,
		bus:          bus,
		log:          o.log,
		obs:          o.observer,
		players:      make(map[string]domain.Player),
		questions:    make(map[string]domain.Question),
		sessions:     make(map[string]domain.QuizSession),
		codes:        make(map[string]string),
		participants: make(map[string]map[string]domain.QuizParticipant),
		answers:      make(map[string]map[answerKey]domain.Answer),
		tombstones:   make(map[string]struct{}),
		watched:      make(map[string]*watch),
	}
}

func (c *SessionCache) GetPlayerByID(id string) (domain.Player, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[id]
	return p, ok
}

func (c *SessionCache) GetQuestionByID(id string) (domain.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.questions[id]
	return q, ok
}

func (c *SessionCache) GetSessionByID(id string) (domain.QuizSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// GetSessionByCode looks a session up by lobby code, case-insensitively.
func (c *SessionCache) GetSessionByCode(code string) (domain.QuizSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.codes[domain.NormalizeLobbyCode(code)]
	if !ok {
		return domain.QuizSession{}, false
	}
	s, ok := c.sessions[id]
	return s, ok
}

// GetParticipants returns the session's participants in join order.
func (c *SessionCache) GetParticipants(sessionID string) []domain.QuizParticipant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.QuizParticipant, 0, len(c.participants[sessionID]))
	for _, p := range c.participants[sessionID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *SessionCache) IsPlayerInSession(sessionID, playerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.participants[sessionID][playerID]
	return ok
}

// GetAnswersForQuestion returns the cached answers to one question in submit order.
func (c *SessionCache) GetAnswersForQuestion(sessionID, questionID string) []domain.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Answer
	for key, a := range c.answers[sessionID] {
		if key.questionID == questionID {
			out = append(out, a)
		}
	}
	sortAnswers(out)
	return out
}

// GetSessionAnswers returns every cached answer of a session.
func (c *SessionCache) GetSessionAnswers(sessionID string) []domain.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Answer, 0, len(c.answers[sessionID]))
	for _, a := range c.answers[sessionID] {
		out = append(out, a)
	}
	sortAnswers(out)
	return out
}

func (c *SessionCache) GetPlayerAnswer(sessionID, questionID, playerID string) (domain.Answer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.answers[sessionID][answerKey{questionID: questionID, playerID: playerID}]
	return a, ok
}

func sortAnswers(answers []domain.Answer) {
	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].AnsweredAt.Equal(answers[j].AnsweredAt) {
			return answers[i].AnsweredAt.Before(answers[j].AnsweredAt)
		}
		return answers[i].ID < answers[j].ID
	})
}

func (c *SessionCache) RefreshPlayer(ctx context.Context, id string) (domain.Player, error) {
	_, err, _ := c.sf.Do("player:"+id, func() (interface{}, error) {
		p, err := c.store.GetPlayer(ctx, id)
		if err != nil {
			return nil, err
		}
		c.Install(domain.PlayerEvent("", domain.EventUpdate, p))
		return nil, nil
	})
	if err != nil {
		return domain.Player{}, err
	}
	p, _ := c.GetPlayerByID(id)
	return p, nil
}

func (c *SessionCache) RefreshQuestion(ctx context.Context, id string) (domain.Question, error) {
	_, err, _ := c.sf.Do("question:"+id, func() (interface{}, error) {
		q, err := c.store.GetQuestion(ctx, id)
		if err != nil {
			return nil, err
		}
		c.Install(domain.QuestionEvent("", domain.EventUpdate, q))
		return nil, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	q, _ := c.GetQuestionByID(id)
	return q, nil
}

// RefreshSession re-reads a session. If the store no longer has it, the cached copy
// and its dependents are dropped.
func (c *SessionCache) RefreshSession(ctx context.Context, id string) (domain.QuizSession, error) {
	_, err, _ := c.sf.Do("session:"+id, func() (interface{}, error) {
		s, err := c.store.GetSession(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Install(domain.SessionEvent(domain.EventDelete, domain.QuizSession{ID: id}))
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		c.Install(domain.SessionEvent(domain.EventUpdate, s))
		return nil, nil
	})
	if err != nil {
		return domain.QuizSession{}, err
	}
	s, ok := c.GetSessionByID(id)
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return s, nil
}

func (c *SessionCache) RefreshSessionByCode(ctx context.Context, code string) (domain.QuizSession, error) {
	code = domain.NormalizeLobbyCode(code)
	v, err, _ := c.sf.Do("code:"+code, func() (interface{}, error) {
		s, err := c.store.GetSessionByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		c.Install(domain.SessionEvent(domain.EventUpdate, s))
		return s.ID, nil
	})
	if err != nil {
		return domain.QuizSession{}, err
	}
	s, ok := c.GetSessionByID(v.(string))
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return s, nil
}

func (c *SessionCache) RefreshParticipants(ctx context.Context, sessionID string) ([]domain.QuizParticipant, error) {
	_, err, _ := c.sf.Do("participants:"+sessionID, func() (interface{}, error) {
		rows, err := c.store.ListParticipants(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		events := make([]domain.ChangeEvent, 0, len(rows))
		for _, p := range rows {
			events = append(events, domain.ParticipantEvent(domain.EventUpdate, p))
		}
		c.Install(events...)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return c.GetParticipants(sessionID), nil
}

func (c *SessionCache) RefreshAnswersForQuestion(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	_, err, _ := c.sf.Do("answers:"+sessionID+":"+questionID, func() (interface{}, error) {
		rows, err := c.store.ListAnswers(ctx, sessionID, questionID)
		if err != nil {
			return nil, err
		}
		events := make([]domain.ChangeEvent, 0, len(rows))
		for _, a := range rows {
			events = append(events, domain.AnswerEvent(domain.EventUpdate, a))
		}
		c.Install(events...)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return c.GetAnswersForQuestion(sessionID, questionID), nil
}

// RefreshPlayerAnswer reports whether the player has answered the question.
func (c *SessionCache) RefreshPlayerAnswer(ctx context.Context, sessionID, questionID, playerID string) (domain.Answer, bool, error) {
	_, err, _ := c.sf.Do("answer:"+sessionID+":"+questionID+":"+playerID, func() (interface{}, error) {
		a, err := c.store.GetAnswer(ctx, sessionID, questionID, playerID)
		if err != nil {
			return nil, err
		}
		c.Install(domain.AnswerEvent(domain.EventUpdate, a))
		return nil, nil
	})
	if errors.Is(err, domain.ErrAnswerNotFound) {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, err
	}
	a, ok := c.GetPlayerAnswer(sessionID, questionID, playerID)
	return a, ok, nil
}

// Apply merges a bus event. Events for sessions that are not watched are ignored.
func (c *SessionCache) Apply(event domain.ChangeEvent) bool {
	c.mu.Lock()
	if _, ok := c.watched[event.Topic]; !ok || c.closed {
		c.mu.Unlock()
		return false
	}
	changed := c.applyLocked(event)
	c.mu.Unlock()

	c.obs.ObserveEvent(event.Table, event.Type, changed)
	if changed {
		c.notify()
	}
	return changed
}

func (c *SessionCache) applyFrom(w *watch, event domain.ChangeEvent) {
	c.mu.Lock()
	if cur, ok := c.watched[event.Topic]; !ok || cur != w || c.closed {
		c.mu.Unlock()
		return
	}
	changed := c.applyLocked(event)
	c.mu.Unlock()

	c.obs.ObserveEvent(event.Table, event.Type, changed)
	if changed {
		c.notify()
	}
}

// Install merges authoritative rows (command results, refreshes) as one batch,
// regardless of which sessions are watched.
func (c *SessionCache) Install(events ...domain.ChangeEvent) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	changed := false
	for _, ev := range events {
		if c.applyLocked(ev) {
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
	return changed
}

func (c *SessionCache) applyLocked(ev domain.ChangeEvent) bool {
	switch ev.Table {
	case domain.TablePlayers:
		if ev.Player == nil {
			return false
		}
		if ev.Type == domain.EventDelete {
			_, ok := c.players[ev.Player.ID]
			delete(c.players, ev.Player.ID)
			return ok
		}
		cur, ok := c.players[ev.Player.ID]
		if ok && cur.Version >= ev.Player.Version {
			return false
		}
		c.players[ev.Player.ID] = *ev.Player
		return true

	case domain.TableQuestions:
		if ev.Question == nil {
			return false
		}
		if ev.Type == domain.EventDelete {
			_, ok := c.questions[ev.Question.ID]
			delete(c.questions, ev.Question.ID)
			return ok
		}
		cur, ok := c.questions[ev.Question.ID]
		if ok && cur.Version >= ev.Question.Version {
			return false
		}
		c.questions[ev.Question.ID] = *ev.Question
		return true

	case domain.TableSessions:
		if ev.Session == nil {
			return false
		}
		if ev.Type == domain.EventDelete {
			return c.deleteSessionLocked(ev.Session.ID)
		}
		return c.installSessionLocked(*ev.Session)

	case domain.TableParticipants:
		p := ev.Participant
		if p == nil {
			return false
		}
		rows := c.participants[p.QuizSessionID]
		if ev.Type == domain.EventDelete {
			_, ok := rows[p.PlayerID]
			delete(rows, p.PlayerID)
			return ok
		}
		if _, dead := c.tombstones[p.QuizSessionID]; dead {
			return false
		}
		if cur, ok := rows[p.PlayerID]; ok && cur.Version >= p.Version {
			return false
		}
		if rows == nil {
			rows = make(map[string]domain.QuizParticipant)
			c.participants[p.QuizSessionID] = rows
		}
		rows[p.PlayerID] = *p
		return true

	case domain.TableAnswers:
		a := ev.Answer
		if a == nil {
			return false
		}
		key := answerKey{questionID: a.QuestionID, playerID: a.PlayerID}
		rows := c.answers[a.QuizSessionID]
		if ev.Type == domain.EventDelete {
			_, ok := rows[key]
			delete(rows, key)
			return ok
		}
		if _, dead := c.tombstones[a.QuizSessionID]; dead {
			return false
		}
		if cur, ok := rows[key]; ok && cur.Version >= a.Version {
			return false
		}
		if rows == nil {
			rows = make(map[answerKey]domain.Answer)
			c.answers[a.QuizSessionID] = rows
		}
		rows[key] = *a
		return true
	}
	return false
}

func (c *SessionCache) installSessionLocked(s domain.QuizSession) bool {
	if _, dead := c.tombstones[s.ID]; dead {
		return false
	}
	cur, ok := c.sessions[s.ID]
	if ok && cur.Version >= s.Version {
		return false
	}
	if ok && cur.LobbyCode != s.LobbyCode {
		delete(c.codes, cur.LobbyCode)
	}
	c.sessions[s.ID] = s
	c.codes[domain.NormalizeLobbyCode(s.LobbyCode)] = s.ID
	return true
}

// deleteSessionLocked drops the session with its participants and answers and
// remembers the id so a late refresh cannot bring it back.
func (c *SessionCache) deleteSessionLocked(id string) bool {
	c.tombstones[id] = struct{}{}

	changed := false
	if s, ok := c.sessions[id]; ok {
		delete(c.codes, domain.NormalizeLobbyCode(s.LobbyCode))
		delete(c.sessions, id)
		changed = true
	}
	if len(c.participants[id]) > 0 {
		changed = true
	}
	if len(c.answers[id]) > 0 {
		changed = true
	}
	delete(c.participants, id)
	delete(c.answers, id)
	return changed
}

// IsDeleted reports whether the session was deleted while this cache observed it.
func (c *SessionCache) IsDeleted(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, dead := c.tombstones[sessionID]
	return dead
}

// Watch subscribes to the session's topic. Calling it again for a watched session
// is a no-op.
func (c *SessionCache) Watch(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCacheClosed
	}
	if _, ok := c.watched[sessionID]; ok {
		c.mu.Unlock()
		return nil
	}
	w := &watch{}
	c.watched[sessionID] = w
	c.mu.Unlock()

	if c.bus == nil {
		return nil
	}
	sub, err := c.bus.Subscribe(ctx, sessionID, func(ev domain.ChangeEvent) {
		c.applyFrom(w, ev)
	})
	if err != nil {
		c.mu.Lock()
		if c.watched[sessionID] == w {
			delete(c.watched, sessionID)
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.watched[sessionID] == w {
		w.sub = sub
		sub = nil
	}
	c.mu.Unlock()
	if sub != nil {
		// unwatched or closed while subscribing
		_ = sub.Close()
	}
	return nil
}

// Unwatch stops applying the session's events. Once it returns no further event for
// the session reaches the cache.
func (c *SessionCache) Unwatch(sessionID string) {
	c.mu.Lock()
	w, ok := c.watched[sessionID]
	delete(c.watched, sessionID)
	c.mu.Unlock()
	if ok && w.sub != nil {
		if err := w.sub.Close(); err != nil {
			c.log.WithError(err).WithField("session_id", sessionID).Warn("unsubscribe failed")
		}
	}
}

// Watching reports whether the session's topic is subscribed.
func (c *SessionCache) Watching(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watched[sessionID]
	return ok
}

// Subscribe registers a listener; the returned func removes it.
func (c *SessionCache) Subscribe(l Listener) func() {
	entry := &listenerEntry{fn: l}
	c.mu.Lock()
	c.listeners = append(c.listeners, entry)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.listeners {
			if e == entry {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// notify delivers one notification for a change batch. A batch raised while another
// goroutine (or a listener) is dispatching is queued behind the running dispatch.
func (c *SessionCache) notify() {
	c.mu.Lock()
	c.pending++
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true
	for c.pending > 0 {
		c.pending--
		listeners := append([]*listenerEntry(nil), c.listeners...)
		c.mu.Unlock()
		for _, l := range listeners {
			c.call(l.fn)
		}
		c.mu.Lock()
	}
	c.dispatching = false
	c.mu.Unlock()
}

func (c *SessionCache) call(fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("cache listener panicked")
		}
	}()
	fn()
}

// Close unwatches every session and drops all listeners.
func (c *SessionCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	watched := c.watched
	c.watched = make(map[string]*watch)
	c.listeners = nil
	c.mu.Unlock()

	for id, w := range watched {
		if w.sub == nil {
			continue
		}
		if err := w.sub.Close(); err != nil {
			c.log.WithError(err).WithField("session_id", id).Warn("unsubscribe failed")
		}
	}
}
