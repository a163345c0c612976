package domain

import (
	"slices"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a quiz session. Cancellation deletes the
// session instead of introducing a fourth status.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// Cancellable reports whether a session in this status may be cancelled. A non-empty
// only narrows cancellation to those statuses.
func (s SessionStatus) Cancellable(only ...SessionStatus) bool {
	if s == StatusCompleted {
		return false
	}
	return len(only) == 0 || slices.Contains(only, s)
}

// Player is a registered alias and its lifetime answer totals.
type Player struct {
	ID                     string    `json:"id"`
	Alias                  string    `json:"alias"`
	TotalQuestionsAnswered int       `json:"totalQuestionsAnswered"`
	TotalCorrectAnswers    int       `json:"totalCorrectAnswers"`
	CreatedAt              time.Time `json:"createdAt"`
	Version                int64     `json:"version"`
}

// Accuracy is the percentage of correct answers, 0 when nothing was answered.
func (p Player) Accuracy() float64 {
	return accuracy(p.TotalCorrectAnswers, p.TotalQuestionsAnswered)
}

// Question has exactly one correct answer and three wrong ones.
type Question struct {
	ID            string    `json:"id"`
	QuestionText  string    `json:"questionText"`
	CorrectAnswer string    `json:"correctAnswer"`
	WrongAnswers  [3]string `json:"wrongAnswers"`
	Tags          []string  `json:"tags"`
	Flagged       bool      `json:"flagged"`
	FlagReason    string    `json:"flagReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Version       int64     `json:"version"`
}

// Options returns the four answer options, correct answer first.
func (q Question) Options() [4]string {
	return [4]string{q.CorrectAnswer, q.WrongAnswers[0], q.WrongAnswers[1], q.WrongAnswers[2]}
}

// HasOption reports whether answer is one of the question's four options.
func (q Question) HasOption(answer string) bool {
	for _, opt := range q.Options() {
		if opt == answer {
			return true
		}
	}
	return false
}

// HasAllTags reports whether the question carries every tag in tags.
func (q Question) HasAllTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range q.Tags {
			if have == want {
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

// QuizSession is one run of a quiz.
type QuizSession struct {
	ID                   string        `json:"id"`
	LobbyCode            string        `json:"lobbyCode"`
	HostPlayerID         string        `json:"hostPlayerId"`
	Status               SessionStatus `json:"status"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	QuestionIDs          []string      `json:"questionIds"`
	CreatedAt            time.Time     `json:"createdAt"`
	StartedAt            *time.Time    `json:"startedAt,omitempty"`
	EndedAt              *time.Time    `json:"endedAt,omitempty"`
	Version              int64         `json:"version"`
}

// CurrentQuestionID returns the id of the active question, if any.
func (s QuizSession) CurrentQuestionID() (string, bool) {
	if s.Status != StatusInProgress {
		return "", false
	}
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionIDs) {
		return "", false
	}
	return s.QuestionIDs[s.CurrentQuestionIndex], true
}

// ContainsQuestion reports whether questionID is part of the frozen question list.
func (s QuizSession) ContainsQuestion(questionID string) bool {
	for _, id := range s.QuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// QuizParticipant is a player who joined a specific session.
type QuizParticipant struct {
	ID            string    `json:"id"`
	QuizSessionID string    `json:"quizSessionId"`
	PlayerID      string    `json:"playerId"`
	PlayerAlias   string    `json:"playerAlias"`
	JoinedAt      time.Time `json:"joinedAt"`
	Version       int64     `json:"version"`
}

// Answer is a single submission. IsCorrect is frozen at submission time.
type Answer struct {
	ID             string    `json:"id"`
	QuizSessionID  string    `json:"quizSessionId"`
	QuestionID     string    `json:"questionId"`
	PlayerID       string    `json:"playerId"`
	SelectedAnswer string    `json:"selectedAnswer"`
	IsCorrect      bool      `json:"isCorrect"`
	AnsweredAt     time.Time `json:"answeredAt"`
	Version        int64     `json:"version"`
}

// ScoreboardEntry is a ranked, derived view of a player's totals.
type ScoreboardEntry struct {
	Rank                   int     `json:"rank"`
	PlayerID               string  `json:"playerId"`
	Alias                  string  `json:"alias"`
	TotalQuestionsAnswered int     `json:"totalQuestionsAnswered"`
	TotalCorrectAnswers    int     `json:"totalCorrectAnswers"`
	Accuracy               float64 `json:"accuracy"`
}

// OptionStat is the tally of one answer option.
type OptionStat struct {
	Answer     string  `json:"answer"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Distribution is the per-option tally of a question within a session.
type Distribution struct {
	SessionID  string        `json:"sessionId"`
	QuestionID string        `json:"questionId"`
	Total      int           `json:"total"`
	Options    [4]OptionStat `json:"options"`
}

// NormalizeLobbyCode upper-cases and trims a human-typed lobby code.
func NormalizeLobbyCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeAlias folds an alias for case-insensitive comparison.
func NormalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

// NormalizeTags case-folds, trims and de-duplicates tags, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func accuracy(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(correct) / float64(total) * 100
}

// Accuracy is exported for derived views that only hold raw counts.
func Accuracy(correct, total int) float64 {
	return accuracy(correct, total)
}
