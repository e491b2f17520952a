//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rumycoding/kotori/anki"
	"github.com/rumycoding/kotori/graph"
	"github.com/rumycoding/kotori/kotori"
	"github.com/rumycoding/kotori/model"
)

// scriptedModel replays canned assistant replies in order, then echoes a
// generic reply.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
}

func (s *scriptedModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
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

func (s *scriptedModel) Info() model.Info { return model.Info{Name: "scripted"} }

func testAnkiClient(t *testing.T) *anki.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": []int64{}, "error": nil})
	}))
	t.Cleanup(server.Close)
	return anki.NewClient(anki.WithBaseURL(server.URL))
}

// eventSink collects orchestrator events and lets tests await them.
type eventSink struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan Event, 64)}
}

func (s *eventSink) handle(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.ch <- ev
}

func (s *eventSink) await(t *testing.T, eventType string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", eventType)
		}
	}
}

func (s *eventSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func newTestOrchestrator(t *testing.T, replies ...string) (*Manager, *Orchestrator, *eventSink) {
	t.Helper()
	manager := NewManager()
	sess, err := manager.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)

	bot, err := kotori.New(sess.Config, &scriptedModel{replies: replies}, testAnkiClient(t))
	require.NoError(t, err)

	sink := newEventSink()
	orch := NewOrchestrator(bot, manager, sess.ID, sink.handle)
	require.NoError(t, manager.AttachOrchestrator(sess.ID, orch))
	return manager, orch, sink
}

func TestOrchestratorGreetingThenExit(t *testing.T) {
	manager, orch, sink := newTestOrchestrator(t)
	require.NoError(t, orch.Start(context.Background()))

	greeting := sink.await(t, EventAIResponse)
	content, _ := greeting.Data["content"].(string)
	require.Contains(t, content, "Kotori")

	require.True(t, orch.SendUserMessage("exit"))
	sink.await(t, EventUserMessage)

	end := sink.await(t, EventConversationEnd)
	require.Equal(t, EndReasonUserExit, end.Data["reason"])

	select {
	case <-orch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	// One greeting, delivered once.
	require.Equal(t, 1, sink.count(EventAIResponse))

	sess, err := manager.Get(end.SessionID)
	require.NoError(t, err)
	require.False(t, sess.IsActive)
}

func TestOrchestratorResumeAdvancesConversation(t *testing.T) {
	_, orch, sink := newTestOrchestrator(t, "Would you like to study cards or chat?")
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	sink.await(t, EventAIResponse)
	// Let the interrupt cooldown lapse so the next prompt is delivered.
	time.Sleep(interruptCooldown + 100*time.Millisecond)
	require.True(t, orch.SendUserMessage("beginner, daily conversation"))

	next := sink.await(t, EventAIResponse)
	content, _ := next.Data["content"].(string)
	require.Contains(t, content, "study cards or chat")

	// The greeting leg produced committed state along the way.
	require.GreaterOrEqual(t, sink.count(EventStateChange), 1)
}

func TestOrchestratorInputTimeout(t *testing.T) {
	manager := NewManager()
	sess, err := manager.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)

	bot, err := kotori.New(sess.Config, &scriptedModel{}, testAnkiClient(t))
	require.NoError(t, err)

	sink := newEventSink()
	orch := NewOrchestrator(bot, manager, sess.ID, sink.handle,
		WithInputTimeout(50*time.Millisecond))
	require.NoError(t, orch.Start(context.Background()))

	sink.await(t, EventAIResponse)
	end := sink.await(t, EventConversationEnd)
	require.Equal(t, EndReasonTimeout, end.Data["reason"])
}

func TestOrchestratorInputQueueDepth(t *testing.T) {
	_, orch, _ := newTestOrchestrator(t)

	// No prompt is pending yet, so input is rejected outright.
	require.False(t, orch.SendUserMessage("before any prompt"))

	// With a prompt pending, the queue holds one message; a second is
	// rejected until the first is consumed.
	orch.setWaiting(true)
	require.True(t, orch.SendUserMessage("first"))
	require.False(t, orch.SendUserMessage("second"))
}

func TestOrchestratorRejectsInputBeforePrompt(t *testing.T) {
	_, orch, sink := newTestOrchestrator(t)
	require.False(t, orch.SendUserMessage("sent before any prompt"))

	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()
	sink.await(t, EventAIResponse)

	// Only input sent after the prompt reaches the conversation.
	require.True(t, orch.SendUserMessage("exit"))
	msg := sink.await(t, EventUserMessage)
	require.Equal(t, "exit", msg.Data["content"])
}

func TestOrchestratorReconnectDoesNotRepeatPrompt(t *testing.T) {
	manager := NewManager()
	sess, err := manager.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)

	saver := graph.NewInMemorySaver()
	client := testAnkiClient(t)
	m := &scriptedModel{replies: []string{"Would you like to study cards or chat?"}}

	bot, err := kotori.New(sess.Config, m, client, kotori.WithCheckpointSaver(saver))
	require.NoError(t, err)
	sink := newEventSink()
	orch := NewOrchestrator(bot, manager, sess.ID, sink.handle)
	require.NoError(t, manager.AttachOrchestrator(sess.ID, orch))
	require.NoError(t, orch.Start(context.Background()))

	sink.await(t, EventAIResponse)
	orch.Stop()
	select {
	case <-orch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	manager.DetachOrchestrator(sess.ID)

	// Reattach over the same checkpoints. The paused prompt must not be
	// replayed; the conversation waits for the user's reply.
	bot2, err := kotori.New(sess.Config, m, client, kotori.WithCheckpointSaver(saver))
	require.NoError(t, err)
	sink2 := newEventSink()
	orch2 := NewOrchestrator(bot2, manager, sess.ID, sink2.handle)
	require.NoError(t, manager.AttachOrchestrator(sess.ID, orch2))
	require.NoError(t, orch2.Start(context.Background()))
	defer orch2.Stop()

	require.Eventually(t, orch2.Waiting, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, sink2.count(EventAIResponse))

	require.True(t, orch2.SendUserMessage("beginner, daily conversation"))
	next := sink2.await(t, EventAIResponse)
	content, _ := next.Data["content"].(string)
	require.Contains(t, content, "study cards or chat")
}

func TestOrchestratorDoubleStart(t *testing.T) {
	_, orch, sink := newTestOrchestrator(t)
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	sink.await(t, EventAIResponse)
	require.Error(t, orch.Start(context.Background()))
}
