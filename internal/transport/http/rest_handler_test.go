package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

func TestRESTPlayerRegistration(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "Dana")

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "alias taken ignoring case", body: `{"alias":"dana"}`, wantCode: http.StatusConflict, wantErr: "alias_taken"},
		{name: "alias too short", body: `{"alias":"d"}`, wantCode: http.StatusBadRequest, wantErr: "invalid_input"},
		{name: "malformed body", body: `{"alias":`, wantCode: http.StatusBadRequest, wantErr: "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/players", "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, resp.StatusCode)
			}
			var payload errorPayload
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.Code != tt.wantErr {
				t.Fatalf("expected code %s, got %s", tt.wantErr, payload.Code)
			}
		})
	}

	var avail map[string]bool
	getJSON(t, srv.URL+"/players/available?alias=DANA", &avail)
	if avail["available"] {
		t.Fatalf("expected DANA to be taken")
	}
	getJSON(t, srv.URL+"/players/available?alias=Erin", &avail)
	if !avail["available"] {
		t.Fatalf("expected Erin to be available")
	}
}

func TestRESTQuestionsAndTags(t *testing.T) {
	srv := newTestServer(t)

	submit := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+"/questions", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("post question: %v", err)
		}
		return resp
	}

	resp := submit(`{"questionText":"Capital of France?","correctAnswer":"Paris","wrongAnswers":["Rome","Oslo","Bern"],"tags":["Geo"," europe "]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp = submit(`{"questionText":"Dupes?","correctAnswer":"a","wrongAnswers":["a","b","c"]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate options, got %d", resp.StatusCode)
	}

	var tags []string
	getJSON(t, srv.URL+"/tags", &tags)
	if len(tags) != 2 || tags[0] != "europe" || tags[1] != "geo" {
		t.Fatalf("expected normalized sorted tags, got %v", tags)
	}

	var count map[string]int
	getJSON(t, srv.URL+"/questions/count?tags=geo,europe", &count)
	if count["count"] != 1 {
		t.Fatalf("expected 1 matching question, got %v", count)
	}
	getJSON(t, srv.URL+"/questions/count?tags=history", &count)
	if count["count"] != 0 {
		t.Fatalf("expected no history questions, got %v", count)
	}
}

func TestRESTScoreboardStartsEmpty(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "Frank")

	var board []map[string]any
	getJSON(t, srv.URL+"/scoreboard", &board)
	if len(board) != 0 {
		t.Fatalf("players without answers are not ranked, got %v", board)
	}
	getJSON(t, srv.URL+"/scoreboard?sessionId=missing", &board)
	if len(board) != 0 {
		t.Fatalf("expected empty session board, got %v", board)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d: %s", url, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
