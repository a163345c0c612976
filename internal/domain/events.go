package domain

import (
	"encoding/json"
	"fmt"
)

// Table names the row family a change event refers to.
type Table string

const (
	TablePlayers      Table = "players"
	TableQuestions    Table = "questions"
	TableSessions     Table = "quiz_sessions"
	TableParticipants Table = "quiz_participants"
	TableAnswers      Table = "answers"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is a row-level change published on a session topic.
// Exactly one row pointer matching Table is set.
type ChangeEvent struct {
	Topic       string           `json:"topic"`
	Table       Table            `json:"table"`
	Type        EventType        `json:"type"`
	Player      *Player          `json:"player,omitempty"`
	Question    *Question        `json:"question,omitempty"`
	Session     *QuizSession     `json:"session,omitempty"`
	Participant *QuizParticipant `json:"participant,omitempty"`
	Answer      *Answer          `json:"answer,omitempty"`
}

// Validate checks that the event carries the row its table promises.
func (e ChangeEvent) Validate() error {
	if e.Topic == "" {
		return fmt.Errorf("%w: event without topic", ErrInvalidInput)
	}
	switch e.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, e.Type)
	}
	var ok bool
	switch e.Table {
	case TablePlayers:
		ok = e.Player != nil && e.Player.ID != ""
	case TableQuestions:
		ok = e.Question != nil && e.Question.ID != ""
	case TableSessions:
		ok = e.Session != nil && e.Session.ID != ""
	case TableParticipants:
		ok = e.Participant != nil && e.Participant.ID != ""
	case TableAnswers:
		ok = e.Answer != nil && e.Answer.ID != ""
	default:
		return fmt.Errorf("%w: unknown table %q", ErrInvalidInput, e.Table)
	}
	if !ok {
		return fmt.Errorf("%w: %s event missing row", ErrInvalidInput, e.Table)
	}
	return nil
}

// DecodeChangeEvent is the single translation point from wire payloads to typed events.
func DecodeChangeEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return ev, nil
}

// Encode serializes the event for a bus transport.
func (e ChangeEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func SessionEvent(typ EventType, s QuizSession) ChangeEvent {
	return ChangeEvent{Topic: s.ID, Table: TableSessions, Type: typ, Session: &s}
}

func ParticipantEvent(typ EventType, p QuizParticipant) ChangeEvent {
	return ChangeEvent{Topic: p.QuizSessionID, Table: TableParticipants, Type: typ, Participant: &p}
}

func AnswerEvent(typ EventType, a Answer) ChangeEvent {
	return ChangeEvent{Topic: a.QuizSessionID, Table: TableAnswers, Type: typ, Answer: &a}
}

// PlayerEvent publishes a player row on a session topic; players are not session-scoped
// themselves, so the caller picks the session the change originated from.
func PlayerEvent(topic string, typ EventType, p Player) ChangeEvent {
	return ChangeEvent{Topic: topic, Table: TablePlayers, Type: typ, Player: &p}
}

func QuestionEvent(topic string, typ EventType, q Question) ChangeEvent {
	return ChangeEvent{Topic: topic, Table: TableQuestions, Type: typ, Question: &q}
}
