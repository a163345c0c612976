package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"

	"github.com/google/uuid"
)

// Store is an in-memory implementation of app.Store. A single mutex makes every
// method behave like one transaction, which is what the unique constraints and the
// conditional updates rely on.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	version int64

	players      map[string]*domain.Player
	aliases      map[string]string // normalized alias -> player id
	questions    map[string]*domain.Question
	sessions     map[string]*domain.QuizSession
	codes        map[string]string // lobby code -> session id
	participants map[string]*domain.QuizParticipant
	answers      map[string]*domain.Answer
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock is used by tests for deterministic timestamps.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		now:          now,
		players:      make(map[string]*domain.Player),
		aliases:      make(map[string]string),
		questions:    make(map[string]*domain.Question),
		sessions:     make(map[string]*domain.QuizSession),
		codes:        make(map[string]string),
		participants: make(map[string]*domain.QuizParticipant),
		answers:      make(map[string]*domain.Answer),
	}
}

var _ app.Store = (*Store)(nil)

func (s *Store) nextVersionLocked() int64 {
	s.version++
	return s.version
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Store) CreatePlayer(_ context.Context, p domain.Player) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NormalizeAlias(p.Alias)
	if _, taken := s.aliases[key]; taken {
		return domain.Player{}, domain.ErrAliasTaken
	}
	p.ID = newID(p.ID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.Version = s.nextVersionLocked()
	s.players[p.ID] = &p
	s.aliases[key] = p.ID
	return p, nil
}

func (s *Store) GetPlayer(_ context.Context, id string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return *p, nil
}

func (s *Store) GetPlayerByAlias(_ context.Context, alias string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.aliases[domain.NormalizeAlias(alias)]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return *s.players[id], nil
}

func (s *Store) ListAnsweringPlayers(_ context.Context) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Player, 0, len(s.players))
	for _, p := range s.players {
		if p.TotalQuestionsAnswered >= 1 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) CreateQuestion(_ context.Context, q domain.Question) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.ID = newID(q.ID)
	if q.CreatedAt.IsZero() {
		q.CreatedAt = s.now()
	}
	q.Tags = append([]string(nil), q.Tags...)
	q.Version = s.nextVersionLocked()
	s.questions[q.ID] = &q
	return cloneQuestion(q), nil
}

func (s *Store) GetQuestion(_ context.Context, id string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return cloneQuestion(*q), nil
}

func (s *Store) ListQuestions(_ context.Context, filter app.QuestionFilter) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, 0, len(s.questions))
	for _, q := range s.questions {
		if matchesFilter(*q, filter) {
			out = append(out, cloneQuestion(*q))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CountQuestions(_ context.Context, filter app.QuestionFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, q := range s.questions {
		if matchesFilter(*q, filter) {
			n++
		}
	}
	return n, nil
}

func matchesFilter(q domain.Question, filter app.QuestionFilter) bool {
	if filter.ExcludeFlagged && q.Flagged {
		return false
	}
	return q.HasAllTags(filter.Tags)
}

func (s *Store) FlagQuestion(_ context.Context, id, reason string) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if q.Flagged {
		return cloneQuestion(*q), nil
	}
	q.Flagged = true
	q.FlagReason = reason
	q.Version = s.nextVersionLocked()
	return cloneQuestion(*q), nil
}

func (s *Store) CreateSession(_ context.Context, sess domain.QuizSession) (domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := domain.NormalizeLobbyCode(sess.LobbyCode)
	if _, taken := s.codes[code]; taken {
		return domain.QuizSession{}, domain.ErrDuplicateLobbyCode
	}
	sess.ID = newID(sess.ID)
	sess.LobbyCode = code
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	sess.QuestionIDs = append([]string{}, sess.QuestionIDs...)
	sess.Version = s.nextVersionLocked()
	s.sessions[sess.ID] = &sess
	s.codes[code] = sess.ID
	return cloneSession(sess), nil
}

func (s *Store) GetSession(_ context.Context, id string) (domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return cloneSession(*sess), nil
}

func (s *Store) GetSessionByCode(_ context.Context, code string) (domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[domain.NormalizeLobbyCode(code)]
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return cloneSession(*s.sessions[id]), nil
}

func (s *Store) ListWaitingSessions(_ context.Context, createdBefore time.Time) ([]domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.QuizSession
	for _, sess := range s.sessions {
		if sess.Status == domain.StatusWaiting && sess.CreatedAt.Before(createdBefore) {
			out = append(out, cloneSession(*sess))
		}
	}
	return out, nil
}

func (s *Store) StartSession(_ context.Context, id string, questionIDs []string, startedAt time.Time) (domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if sess.Status != domain.StatusWaiting {
		return domain.QuizSession{}, domain.ErrInvalidTransition
	}
	sess.Status = domain.StatusInProgress
	sess.QuestionIDs = append([]string{}, questionIDs...)
	sess.CurrentQuestionIndex = 0
	started := startedAt
	sess.StartedAt = &started
	sess.Version = s.nextVersionLocked()
	return cloneSession(*sess), nil
}

func (s *Store) AdvanceSession(_ context.Context, id string, expectedIndex int, now time.Time) (domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if sess.Status != domain.StatusInProgress {
		return domain.QuizSession{}, domain.ErrInvalidTransition
	}
	if sess.CurrentQuestionIndex != expectedIndex {
		return domain.QuizSession{}, domain.ErrAdvanceConflict
	}
	sess.CurrentQuestionIndex++
	if sess.CurrentQuestionIndex >= len(sess.QuestionIDs) {
		sess.CurrentQuestionIndex = len(sess.QuestionIDs)
		sess.Status = domain.StatusCompleted
		ended := now
		sess.EndedAt = &ended
	}
	sess.Version = s.nextVersionLocked()
	return cloneSession(*sess), nil
}

func (s *Store) CancelSession(_ context.Context, id string, only ...domain.SessionStatus) (app.CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return app.CancelResult{}, domain.ErrSessionNotFound
	}
	if !sess.Status.Cancellable(only...) {
		return app.CancelResult{}, domain.ErrInvalidTransition
	}

	result := app.CancelResult{Session: cloneSession(*sess)}
	type delta struct{ answered, correct int }
	deltas := make(map[string]*delta)
	for answerID, a := range s.answers {
		if a.QuizSessionID != id {
			continue
		}
		d := deltas[a.PlayerID]
		if d == nil {
			d = &delta{}
			deltas[a.PlayerID] = d
		}
		d.answered++
		if a.IsCorrect {
			d.correct++
		}
		result.Answers = append(result.Answers, *a)
		delete(s.answers, answerID)
	}
	for pid, p := range s.participants {
		if p.QuizSessionID == id {
			result.Participants = append(result.Participants, *p)
			delete(s.participants, pid)
		}
	}
	for playerID, d := range deltas {
		p, ok := s.players[playerID]
		if !ok {
			continue
		}
		p.TotalQuestionsAnswered = max(0, p.TotalQuestionsAnswered-d.answered)
		p.TotalCorrectAnswers = min(p.TotalQuestionsAnswered, max(0, p.TotalCorrectAnswers-d.correct))
		p.Version = s.nextVersionLocked()
		result.Players = append(result.Players, *p)
	}
	delete(s.codes, sess.LobbyCode)
	delete(s.sessions, id)
	sort.Slice(result.Players, func(i, j int) bool { return result.Players[i].ID < result.Players[j].ID })
	return result, nil
}

func (s *Store) CreateParticipant(_ context.Context, p domain.QuizParticipant) (domain.QuizParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[p.QuizSessionID]; !ok {
		return domain.QuizParticipant{}, domain.ErrSessionNotFound
	}
	for _, existing := range s.participants {
		if existing.QuizSessionID == p.QuizSessionID && existing.PlayerID == p.PlayerID {
			return domain.QuizParticipant{}, domain.ErrDuplicateParticipant
		}
	}
	p.ID = newID(p.ID)
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now()
	}
	p.Version = s.nextVersionLocked()
	s.participants[p.ID] = &p
	return p, nil
}

func (s *Store) GetParticipant(_ context.Context, sessionID, playerID string) (domain.QuizParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.QuizSessionID == sessionID && p.PlayerID == playerID {
			return *p, nil
		}
	}
	return domain.QuizParticipant{}, domain.ErrParticipantNotFound
}

func (s *Store) ListParticipants(_ context.Context, sessionID string) ([]domain.QuizParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.QuizParticipant
	for _, p := range s.participants {
		if p.QuizSessionID == sessionID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) RecordAnswer(_ context.Context, a domain.Answer) (domain.Answer, domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[a.PlayerID]
	if !ok {
		return domain.Answer{}, domain.Player{}, domain.ErrPlayerNotFound
	}
	if _, ok := s.sessions[a.QuizSessionID]; !ok {
		return domain.Answer{}, domain.Player{}, domain.ErrSessionNotFound
	}
	for _, existing := range s.answers {
		if existing.QuizSessionID == a.QuizSessionID && existing.QuestionID == a.QuestionID && existing.PlayerID == a.PlayerID {
			return domain.Answer{}, domain.Player{}, domain.ErrDuplicateSubmission
		}
	}
	a.ID = newID(a.ID)
	if a.AnsweredAt.IsZero() {
		a.AnsweredAt = s.now()
	}
	a.Version = s.nextVersionLocked()
	s.answers[a.ID] = &a

	player.TotalQuestionsAnswered++
	if a.IsCorrect {
		player.TotalCorrectAnswers++
	}
	player.Version = s.nextVersionLocked()
	return a, *player, nil
}

func (s *Store) GetAnswer(_ context.Context, sessionID, questionID, playerID string) (domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.answers {
		if a.QuizSessionID == sessionID && a.QuestionID == questionID && a.PlayerID == playerID {
			return *a, nil
		}
	}
	return domain.Answer{}, domain.ErrAnswerNotFound
}

func (s *Store) ListAnswers(_ context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for _, a := range s.answers {
		if a.QuizSessionID != sessionID {
			continue
		}
		if questionID != "" && a.QuestionID != questionID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Tags = append([]string(nil), q.Tags...)
	return q
}

func cloneSession(s domain.QuizSession) domain.QuizSession {
	s.QuestionIDs = append([]string{}, s.QuestionIDs...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}
