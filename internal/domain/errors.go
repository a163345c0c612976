package domain

import "errors"

// ErrNotFound is the family every by-id lookup miss belongs to.
var ErrNotFound = errors.New("not found")

var (
	// ErrPlayerNotFound is returned when a player id or alias is unknown.
	ErrPlayerNotFound = notFound("player not found")
	// ErrQuestionNotFound indicates a question id is unknown.
	ErrQuestionNotFound = notFound("question not found")
	// ErrSessionNotFound is returned when a quiz session does not exist (or was cancelled).
	ErrSessionNotFound = notFound("quiz session not found")
	// ErrParticipantNotFound is returned when a player acts on a session before joining.
	ErrParticipantNotFound = notFound("participant not found in session")
	// ErrAnswerNotFound is returned when a player has not answered a question yet.
	ErrAnswerNotFound = notFound("answer not found")
)

var (
	// ErrAllocationExhausted means every lobby code attempt collided.
	ErrAllocationExhausted = errors.New("lobby code allocation exhausted")
	// ErrInsufficientQuestions means the filtered question pool is smaller than requested.
	ErrInsufficientQuestions = errors.New("not enough questions available")
	// ErrDuplicateSubmission is returned for a second answer to the same question.
	ErrDuplicateSubmission = errors.New("answer already submitted")
	// ErrStoreUnavailable wraps persistence and transport failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidTransition is returned when a lifecycle command is not valid in the current status.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrAdvanceConflict means the stored question index moved before the advance landed.
	ErrAdvanceConflict = errors.New("question index changed concurrently")
	// ErrSessionNotJoinable is returned when a new player tries to join a started session.
	ErrSessionNotJoinable = errors.New("session is no longer accepting participants")
	// ErrAliasTaken is returned when an alias is already registered (case-insensitive).
	ErrAliasTaken = errors.New("alias already taken")
	// ErrDuplicateLobbyCode is the store's unique-constraint signal for lobby codes.
	ErrDuplicateLobbyCode = errors.New("lobby code already in use")
	// ErrDuplicateParticipant is the store's unique-constraint signal for (session, player).
	ErrDuplicateParticipant = errors.New("player already joined session")
	// ErrInvalidInput wraps validation failures on command inputs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotHost is returned when a host-only command is issued by someone else.
	ErrNotHost = errors.New("only the host can do that")
)

type notFoundError struct {
	msg string
}

func notFound(msg string) error { return &notFoundError{msg: msg} }

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }
