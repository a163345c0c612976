package postgres

import (
	"time"

	"trivia-sync-service/internal/domain"

	"github.com/uptrace/bun"
)

// Version and timestamp columns are nullzero so inserts fall back to the column
// defaults (nextval('row_versions'), now()).

type playerRow struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	ID                     string    `bun:"id,pk"`
	Alias                  string    `bun:"alias,notnull"`
	TotalQuestionsAnswered int       `bun:"total_questions_answered,notnull"`
	TotalCorrectAnswers    int       `bun:"total_correct_answers,notnull"`
	CreatedAt              time.Time `bun:"created_at,nullzero"`
	Version                int64     `bun:"version,nullzero"`
}

func newPlayerRow(p domain.Player) *playerRow {
	return &playerRow{
		ID:                     p.ID,
		Alias:                  p.Alias,
		TotalQuestionsAnswered: p.TotalQuestionsAnswered,
		TotalCorrectAnswers:    p.TotalCorrectAnswers,
		CreatedAt:              p.CreatedAt,
	}
}

func (r playerRow) toDomain() domain.Player {
	return domain.Player{
		ID:                     r.ID,
		Alias:                  r.Alias,
		TotalQuestionsAnswered: r.TotalQuestionsAnswered,
		TotalCorrectAnswers:    r.TotalCorrectAnswers,
		CreatedAt:              r.CreatedAt,
		Version:                r.Version,
	}
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID            string    `bun:"id,pk"`
	QuestionText  string    `bun:"question_text,notnull"`
	CorrectAnswer string    `bun:"correct_answer,notnull"`
	WrongAnswers  []string  `bun:"wrong_answers,array"`
	Tags          []string  `bun:"tags,array"`
	Flagged       bool      `bun:"flagged,notnull"`
	FlagReason    string    `bun:"flag_reason,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero"`
	Version       int64     `bun:"version,nullzero"`
}

func newQuestionRow(q domain.Question) *questionRow {
	tags := q.Tags
	if tags == nil {
		tags = []string{}
	}
	return &questionRow{
		ID:            q.ID,
		QuestionText:  q.QuestionText,
		CorrectAnswer: q.CorrectAnswer,
		WrongAnswers:  q.WrongAnswers[:],
		Tags:          tags,
		Flagged:       q.Flagged,
		FlagReason:    q.FlagReason,
		CreatedAt:     q.CreatedAt,
	}
}

func (r questionRow) toDomain() domain.Question {
	q := domain.Question{
		ID:            r.ID,
		QuestionText:  r.QuestionText,
		CorrectAnswer: r.CorrectAnswer,
		Tags:          append([]string{}, r.Tags...),
		Flagged:       r.Flagged,
		FlagReason:    r.FlagReason,
		CreatedAt:     r.CreatedAt,
		Version:       r.Version,
	}
	copy(q.WrongAnswers[:], r.WrongAnswers)
	return q
}

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions,alias:s"`

	ID                   string     `bun:"id,pk"`
	LobbyCode            string     `bun:"lobby_code,notnull"`
	HostPlayerID         string     `bun:"host_player_id,notnull"`
	Status               string     `bun:"status,notnull"`
	CurrentQuestionIndex int        `bun:"current_question_index,notnull"`
	QuestionIDs          []string   `bun:"question_ids,array"`
	CreatedAt            time.Time  `bun:"created_at,nullzero"`
	StartedAt            *time.Time `bun:"started_at"`
	EndedAt              *time.Time `bun:"ended_at"`
	Version              int64      `bun:"version,nullzero"`
}

func newSessionRow(s domain.QuizSession) *sessionRow {
	ids := s.QuestionIDs
	if ids == nil {
		ids = []string{}
	}
	return &sessionRow{
		ID:                   s.ID,
		LobbyCode:            domain.NormalizeLobbyCode(s.LobbyCode),
		HostPlayerID:         s.HostPlayerID,
		Status:               string(s.Status),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		QuestionIDs:          ids,
		CreatedAt:            s.CreatedAt,
		StartedAt:            s.StartedAt,
		EndedAt:              s.EndedAt,
	}
}

func (r sessionRow) toDomain() domain.QuizSession {
	return domain.QuizSession{
		ID:                   r.ID,
		LobbyCode:            r.LobbyCode,
		HostPlayerID:         r.HostPlayerID,
		Status:               domain.SessionStatus(r.Status),
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		QuestionIDs:          append([]string{}, r.QuestionIDs...),
		CreatedAt:            r.CreatedAt,
		StartedAt:            r.StartedAt,
		EndedAt:              r.EndedAt,
		Version:              r.Version,
	}
}

type participantRow struct {
	bun.BaseModel `bun:"table:quiz_participants,alias:qp"`

	ID            string    `bun:"id,pk"`
	QuizSessionID string    `bun:"quiz_session_id,notnull"`
	PlayerID      string    `bun:"player_id,notnull"`
	PlayerAlias   string    `bun:"player_alias,notnull"`
	JoinedAt      time.Time `bun:"joined_at,nullzero"`
	Version       int64     `bun:"version,nullzero"`
}

func newParticipantRow(p domain.QuizParticipant) *participantRow {
	return &participantRow{
		ID:            p.ID,
		QuizSessionID: p.QuizSessionID,
		PlayerID:      p.PlayerID,
		PlayerAlias:   p.PlayerAlias,
		JoinedAt:      p.JoinedAt,
	}
}

func (r participantRow) toDomain() domain.QuizParticipant {
	return domain.QuizParticipant{
		ID:            r.ID,
		QuizSessionID: r.QuizSessionID,
		PlayerID:      r.PlayerID,
		PlayerAlias:   r.PlayerAlias,
		JoinedAt:      r.JoinedAt,
		Version:       r.Version,
	}
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID             string    `bun:"id,pk"`
	QuizSessionID  string    `bun:"quiz_session_id,notnull"`
	QuestionID     string    `bun:"question_id,notnull"`
	PlayerID       string    `bun:"player_id,notnull"`
	SelectedAnswer string    `bun:"selected_answer,notnull"`
	IsCorrect      bool      `bun:"is_correct,notnull"`
	AnsweredAt     time.Time `bun:"answered_at,nullzero"`
	Version        int64     `bun:"version,nullzero"`
}

func newAnswerRow(a domain.Answer) *answerRow {
	return &answerRow{
		ID:             a.ID,
		QuizSessionID:  a.QuizSessionID,
		QuestionID:     a.QuestionID,
		PlayerID:       a.PlayerID,
		SelectedAnswer: a.SelectedAnswer,
		IsCorrect:      a.IsCorrect,
		AnsweredAt:     a.AnsweredAt,
	}
}

func (r answerRow) toDomain() domain.Answer {
	return domain.Answer{
		ID:             r.ID,
		QuizSessionID:  r.QuizSessionID,
		QuestionID:     r.QuestionID,
		PlayerID:       r.PlayerID,
		SelectedAnswer: r.SelectedAnswer,
		IsCorrect:      r.IsCorrect,
		AnsweredAt:     r.AnsweredAt,
		Version:        r.Version,
	}
}
