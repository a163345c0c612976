package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"
	"trivia-sync-service/internal/metrics"
	"trivia-sync-service/internal/timer"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSHandler serves one app.Client per websocket connection. Every connection gets its
// own session cache and countdown, fed by the shared store and change bus.
type WSHandler struct {
	store    app.Store
	bus      app.Bus
	svc      app.Services
	timerCfg timer.Config
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(store app.Store, bus app.Bus, svc app.Services, timerCfg timer.Config, m *metrics.Metrics, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		store:    store,
		bus:      bus,
		svc:      svc,
		timerCfg: timerCfg,
		metrics:  m,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Code      string `json:"code"`
	SessionID string `json:"sessionId"`
}

type answerPayload struct {
	Selected string `json:"selected"`
}

type flagPayload struct {
	Reason string `json:"reason"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Command string `json:"command"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type cancelledPayload struct {
	SessionID string `json:"sessionId"`
}

// ServeWS upgrades a registered player's request and runs its client until the socket closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		http.Error(w, "missing playerId", http.StatusBadRequest)
		return
	}
	if _, err := h.svc.Players.Get(r.Context(), playerID); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.ConnectedClients.Inc()
		defer h.metrics.ConnectedClients.Dec()
	}

	log := h.log.WithField("player_id", playerID)
	opts := []app.Option{app.WithLogger(log)}
	if h.metrics != nil {
		opts = append(opts, app.WithObserver(h.metrics))
	}
	client := app.NewClient(playerID, app.NewSessionCache(h.store, h.bus, opts...), h.svc, timer.New(h.timerCfg), log)
	defer client.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan outboundMessage, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write failed")
				cancel()
				// keep draining so producers never block on a dead socket
				for range send {
				}
				return
			}
		}
	}()

	// State pushes coalesce: only the newest view is sent when the writer falls behind.
	var (
		viewMu sync.Mutex
		latest app.View
	)
	dirty := make(chan struct{}, 1)
	markDirty := func(v app.View) {
		viewMu.Lock()
		latest = v
		viewMu.Unlock()
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	stopChanges := client.OnChange(markDirty)
	defer stopChanges()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		wasDeleted := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty:
			}
			viewMu.Lock()
			v := latest
			viewMu.Unlock()

			msg := outboundMessage{Type: "state", Payload: v}
			if v.Deleted && !wasDeleted {
				msg = outboundMessage{Type: "cancelled", Payload: cancelledPayload{SessionID: client.SessionID()}}
			}
			wasDeleted = v.Deleted
			select {
			case send <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		timer.Run(ctx, client.TickInterval(), client.Tick, func(s timer.Snapshot) {
			select {
			case send <- outboundMessage{Type: "timer", Payload: s}:
			default:
			}
		})
	}()

	markDirty(client.Render())

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(ctx, client, inbound); err != nil {
			log.WithError(err).WithField("command", inbound.Type).Debug("command rejected")
			select {
			case send <- outboundMessage{Type: "error", Payload: errorPayload{
				Command: inbound.Type,
				Code:    errorCode(err),
				Message: err.Error(),
			}}:
			case <-ctx.Done():
			}
		}
		// a rejected command may still have refreshed the cache, e.g. after an advance conflict
		markDirty(client.Render())
	}

	cancel()
	wg.Wait()
	close(send)
	<-writerDone
}

var errUnsupported = errors.New("unsupported message type")

func (h *WSHandler) dispatch(ctx context.Context, client *app.Client, in inboundMessage) error {
	switch in.Type {
	case "create":
		_, err := client.Create(ctx)
		return err
	case "join":
		var p joinPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		if p.Code != "" {
			_, err := client.JoinByCode(ctx, p.Code)
			return err
		}
		if p.SessionID == "" {
			return invalidPayload("code or sessionId required")
		}
		return client.Join(ctx, p.SessionID)
	case "start":
		var p app.SampleInput
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return client.Start(ctx, p.Count, p.Tags)
	case "answer":
		var p answerPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		_, err := client.Answer(ctx, p.Selected)
		return err
	case "next":
		return client.Next(ctx)
	case "flag":
		var p flagPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return client.Flag(ctx, p.Reason)
	case "cancel":
		return client.Cancel(ctx)
	default:
		return errUnsupported
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidPayload(err.Error())
	}
	return nil
}

func invalidPayload(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, msg)
}

// errorCode is the stable machine-readable reason sent with an error message.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return "question_not_found"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return "duplicate_submission"
	case errors.Is(err, domain.ErrAdvanceConflict):
		return "advance_conflict"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrSessionNotJoinable):
		return "not_joinable"
	case errors.Is(err, domain.ErrInsufficientQuestions):
		return "insufficient_questions"
	case errors.Is(err, domain.ErrAllocationExhausted):
		return "allocation_exhausted"
	case errors.Is(err, domain.ErrAliasTaken):
		return "alias_taken"
	case errors.Is(err, domain.ErrNotHost):
		return "not_host"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, errUnsupported):
		return "unsupported"
	}
	return "internal"
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAliasTaken),
		errors.Is(err, domain.ErrDuplicateSubmission),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAdvanceConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
