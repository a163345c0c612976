package app

import (
	"fmt"
	"strings"

	"trivia-sync-service/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RegisterPlayerInput is the command to claim an alias.
type RegisterPlayerInput struct {
	Alias string `json:"alias" validate:"required,min=2,max=20"`
}

// NewQuestionInput is the command to submit a question.
type NewQuestionInput struct {
	QuestionText  string    `json:"questionText" validate:"required,max=500"`
	CorrectAnswer string    `json:"correctAnswer" validate:"required,max=200"`
	WrongAnswers  [3]string `json:"wrongAnswers" validate:"dive,required,max=200"`
	Tags          []string  `json:"tags" validate:"max=10,dive,max=32"`
}

// SubmitAnswerInput is the command to answer a question. CorrectAnswer comes from the
// server-side question, never from the submitting client.
type SubmitAnswerInput struct {
	SessionID      string `validate:"required"`
	QuestionID     string `validate:"required"`
	PlayerID       string `validate:"required"`
	SelectedAnswer string `validate:"required"`
	CorrectAnswer  string `validate:"required"`
}

// SampleInput controls question sampling for a session start.
type SampleInput struct {
	Count int      `json:"count" validate:"min=1,max=100"`
	Tags  []string `json:"tags" validate:"max=10"`
}

func validateInput(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func distinctOptions(in NewQuestionInput) error {
	seen := make(map[string]struct{}, 4)
	for _, opt := range append([]string{in.CorrectAnswer}, in.WrongAnswers[:]...) {
		key := strings.TrimSpace(opt)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: answer options must be distinct", domain.ErrInvalidInput)
		}
		seen[key] = struct{}{}
	}
	return nil
}
