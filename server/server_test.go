//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumycoding/kotori/anki"
	"github.com/rumycoding/kotori/graph"
	"github.com/rumycoding/kotori/kotori"
	"github.com/rumycoding/kotori/model"
	"github.com/rumycoding/kotori/session"
)

// stubModel answers every invocation with a fixed reply.
type stubModel struct {
	mu      sync.Mutex
	replies []string
}

func (s *stubModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	s.mu.Lock()
	reply := "ok"
	if len(s.replies) > 0 {
		reply = s.replies[0]
		s.replies = s.replies[1:]
	}
	s.mu.Unlock()

	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		Choices: []model.Choice{{Message: model.NewAssistantMessage(reply)}},
		Done:    true,
	}
	close(ch)
	return ch, nil
}

func (s *stubModel) Info() model.Info { return model.Info{Name: "stub"} }

func stubAnki(t *testing.T) *anki.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string `json:"action"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		var result any
		switch req.Action {
		case "version":
			result = 6
		case "deckNames":
			result = []string{"Kotori", "JLPT N5"}
		default:
			result = []int64{}
		}
		json.NewEncoder(w).Encode(map[string]any{"result": result, "error": nil})
	}))
	t.Cleanup(server.Close)
	return anki.NewClient(anki.WithBaseURL(server.URL))
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	manager := session.NewManager()
	srv := New(manager, &stubModel{}, stubAnki(t))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, manager
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestCreateSessionDefaults(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, body["session_id"])
	require.Equal(t, true, body["is_active"])

	cfg := body["config"].(map[string]any)
	require.Equal(t, kotori.LanguageEnglish, cfg["language"])
	require.Equal(t, "Kotori", cfg["deck_name"])
}

func TestCreateSessionWithConfig(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]any{
		"config": map[string]any{"language": "japanese", "deck_name": "JLPT N5"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	cfg := body["config"].(map[string]any)
	require.Equal(t, "japanese", cfg["language"])
	require.Equal(t, "JLPT N5", cfg["deck_name"])
}

func TestGetSessionNotFoundEnvelope(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/sessions/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "session_not_found", body["error"])
	require.NotEmpty(t, body["message"])
	require.NotEmpty(t, body["timestamp"])
}

func TestListSessionsAndStats(t *testing.T) {
	ts, manager := newTestServer(t)
	for i := 0; i < 3; i++ {
		_, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
		require.NoError(t, err)
	}

	_, body := doJSON(t, http.MethodGet, ts.URL+"/sessions", nil)
	require.Len(t, body["sessions"], 3)

	_, stats := doJSON(t, http.MethodGet, ts.URL+"/sessions/stats", nil)
	require.Equal(t, float64(3), stats["total_sessions"])
	require.Equal(t, float64(3), stats["active_sessions"])
}

func TestUpdateConfig(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/sessions/"+sess.ID+"/config",
		kotori.Config{Language: kotori.LanguageJapanese, DeckName: "JLPT N5"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := manager.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, kotori.LanguageJapanese, got.Config.Language)
}

func TestHistoryEndpoints(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	manager.Conversations().Append(sess.ID, session.NewMessage(session.KindUser, "hello", nil))
	manager.Conversations().Append(sess.ID, session.NewMessage(session.KindAssistant, "hi!", nil))

	_, body := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+sess.ID+"/history", nil)
	require.Equal(t, float64(2), body["count"])

	_, limited := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+sess.ID+"/history?limit=1", nil)
	require.Equal(t, float64(1), limited["count"])

	// Export as plain text.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/history/export",
		bytes.NewReader([]byte(`{"format":"txt"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "USER: hello")

	resp2, _ := doJSON(t, http.MethodDelete, ts.URL+"/sessions/"+sess.ID+"/history", nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	require.Empty(t, manager.Conversations().History(sess.ID, 0))
}

func TestExportUnknownFormat(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/history/export",
		map[string]any{"format": "xml"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "bad_format", body["error"])
}

func TestDeleteSession(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, manager.Exists(sess.ID))
}

func TestCleanupInactiveReapsAll(t *testing.T) {
	ts, manager := newTestServer(t)
	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}
	require.NoError(t, manager.SetActive(ids[0], false))
	require.NoError(t, manager.SetActive(ids[1], false))

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/maintenance/cleanup-inactive?max_age_hours=0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(2), body["cleaned_sessions"])
	require.True(t, manager.Exists(ids[2]))
}

func TestHealthAndFlashcards(t *testing.T) {
	ts, _ := newTestServer(t)

	_, health := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "stub", health["model"])

	_, status := doJSON(t, http.MethodGet, ts.URL+"/flashcards/status", nil)
	require.Equal(t, true, status["available"])
	require.Equal(t, float64(6), status["version"])

	_, decks := doJSON(t, http.MethodGet, ts.URL+"/flashcards/decks", nil)
	require.Equal(t, []any{"Kotori", "JLPT N5"}, decks["decks"])
}

func TestSessionCleanupEndpoint(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/cleanup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "cleaned", body["status"])

	got, err := manager.Get(sess.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestCheckpointHistoryEndpoint(t *testing.T) {
	manager := session.NewManager()
	saver := graph.NewInMemorySaver()
	srv := New(manager, &stubModel{}, stubAnki(t), WithCheckpointSaver(saver))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, saver.Put(ctx,
		graph.NewCheckpoint(sess.ID, graph.State{}, "greeting", graph.SourceInput, 0)))
	require.NoError(t, saver.Put(ctx,
		graph.NewCheckpoint(sess.ID, graph.State{}, "greeting", graph.SourceInterrupt, 1)))

	_, body := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+sess.ID+"/checkpoints", nil)
	require.Equal(t, float64(2), body["count"])
	checkpoints := body["checkpoints"].([]any)
	first := checkpoints[0].(map[string]any)
	require.Equal(t, graph.SourceInterrupt, first["source"])
	require.Equal(t, "greeting", first["next_node"])

	resp, errBody := doJSON(t, http.MethodGet, ts.URL+"/sessions/nope/checkpoints", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "session_not_found", errBody["error"])
}

func TestBadLimitRejected(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	resp, body := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/sessions/%s/history?limit=-3", ts.URL, sess.ID), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "bad_request", body["error"])
}
