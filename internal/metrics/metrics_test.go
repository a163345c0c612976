package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trivia-sync-service/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCommandLabelsOutcome(t *testing.T) {
	m := New()
	m.ObserveCommand("join", nil, time.Millisecond)
	m.ObserveCommand("join", domain.ErrSessionNotFound, time.Millisecond)
	m.ObserveCommand("join", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandCounter.WithLabelValues("join", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandCounter.WithLabelValues("join", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandCounter.WithLabelValues("join", "rejected")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveEvent(domain.TableAnswers, domain.EventInsert, true)
	m.ConnectedClients.Set(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `trivia_bus_events_total{applied="true",table="answers",type="insert"} 1`), body)
	assert.True(t, strings.Contains(body, "trivia_connected_clients 2"), body)
}

func TestMiddlewareCountsStatus(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/healthz", "418")))
}
