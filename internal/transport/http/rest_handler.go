package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"trivia-sync-service/internal/app"

	"github.com/sirupsen/logrus"
)

// RESTHandler serves the request/response surface that does not need a live session:
// player registration, question submission and the scoreboards.
type RESTHandler struct {
	svc app.Services
	log logrus.FieldLogger
}

func NewRESTHandler(svc app.Services, log logrus.FieldLogger) *RESTHandler {
	return &RESTHandler{svc: svc, log: log}
}

// Register mounts the routes on mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /players", h.registerPlayer)
	mux.HandleFunc("GET /players/available", h.aliasAvailable)
	mux.HandleFunc("POST /questions", h.submitQuestion)
	mux.HandleFunc("GET /questions/count", h.countQuestions)
	mux.HandleFunc("GET /tags", h.tags)
	mux.HandleFunc("GET /scoreboard", h.scoreboard)
}

func (h *RESTHandler) registerPlayer(w http.ResponseWriter, r *http.Request) {
	var in app.RegisterPlayerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, invalidPayload(err.Error()))
		return
	}
	player, err := h.svc.Players.Register(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, player)
}

func (h *RESTHandler) aliasAvailable(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.Players.AliasAvailable(r.Context(), r.URL.Query().Get("alias"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"available": ok})
}

func (h *RESTHandler) submitQuestion(w http.ResponseWriter, r *http.Request) {
	var in app.NewQuestionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, invalidPayload(err.Error()))
		return
	}
	q, err := h.svc.Questions.Submit(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, q)
}

func (h *RESTHandler) countQuestions(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Questions.Count(r.Context(), splitTags(r.URL.Query().Get("tags")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *RESTHandler) tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Questions.Tags(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tags)
}

// scoreboard ranks one session when sessionId is given, every player otherwise.
// Read failures degrade to an empty board.
func (h *RESTHandler) scoreboard(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("sessionId"); id != "" {
		h.writeJSON(w, http.StatusOK, h.svc.Answers.SessionScoreboard(r.Context(), id))
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Answers.GlobalScoreboard(r.Context()))
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (h *RESTHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Warn("write response")
	}
}

func (h *RESTHandler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	h.writeJSON(w, code, errorPayload{Code: errorCode(err), Message: err.Error()})
}
