//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rumycoding/kotori/kotori"
	"github.com/rumycoding/kotori/session"
)

func wsURL(httpURL, sessionID string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/" + sessionID
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) session.Event {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev session.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func awaitEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, eventType string) session.Event {
	t.Helper()
	for {
		ev := readEvent(t, ctx, conn)
		if ev.Type == eventType {
			return ev
		}
	}
}

func sendEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, eventType string, data map[string]any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event_type": eventType, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

func TestWebSocketUnknownSessionRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL, "nope"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestWebSocketConversationFlow(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL, sess.ID), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	established := awaitEvent(t, ctx, conn, "connection_established")
	require.Equal(t, sess.ID, established.SessionID)

	greeting := awaitEvent(t, ctx, conn, session.EventAIResponse)
	content, _ := greeting.Data["content"].(string)
	require.Contains(t, content, "Kotori")

	sendEvent(t, ctx, conn, "ping", nil)
	awaitEvent(t, ctx, conn, "pong")

	sendEvent(t, ctx, conn, "user_message", map[string]any{"message": "hello"})
	awaitEvent(t, ctx, conn, "message_sent")
	awaitEvent(t, ctx, conn, session.EventUserMessage)

	sendEvent(t, ctx, conn, "get_history", nil)
	history := awaitEvent(t, ctx, conn, "conversation_history")
	require.NotNil(t, history.Data["messages"])
}

func TestWebSocketSecondConnectionRejected(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, _, err := websocket.Dial(ctx, wsURL(ts.URL, sess.ID), nil)
	require.NoError(t, err)
	defer first.Close(websocket.StatusNormalClosure, "")
	awaitEvent(t, ctx, first, "connection_established")
	awaitEvent(t, ctx, first, session.EventAIResponse)

	second, _, err := websocket.Dial(ctx, wsURL(ts.URL, sess.ID), nil)
	require.NoError(t, err)
	defer second.Close(websocket.StatusNormalClosure, "")

	_, _, err = second.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestWebSocketUnknownEventType(t *testing.T) {
	ts, manager := newTestServer(t)
	sess, err := manager.Create(kotori.DefaultConfig(), session.DefaultUISettings())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL, sess.ID), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	awaitEvent(t, ctx, conn, "connection_established")

	sendEvent(t, ctx, conn, "bogus", nil)
	errEvent := awaitEvent(t, ctx, conn, session.EventError)
	require.Equal(t, "unknown_event", errEvent.Data["error"])
}
