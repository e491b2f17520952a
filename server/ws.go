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
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/rumycoding/kotori/kotori"
	"github.com/rumycoding/kotori/log"
	"github.com/rumycoding/kotori/session"
)

// Inbound push-channel event types.
const (
	inboundUserMessage = "user_message"
	inboundGetHistory  = "get_history"
	inboundPing        = "ping"
)

// Outbound push-channel event types beyond the orchestrator's own.
const (
	outboundConnectionEstablished = "connection_established"
	outboundMessageSent           = "message_sent"
	outboundConversationHistory   = "conversation_history"
	outboundPong                  = "pong"
)

// wsWriteTimeout bounds a single push write so a stalled client cannot
// block the orchestrator's event handler.
const wsWriteTimeout = 5 * time.Second

type inboundEnvelope struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// pushConn serializes writes to one WebSocket connection.
type pushConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *pushConn) send(ev session.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("marshal push event %s: %v", ev.Type, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Debugf("push write failed: %v", err)
	}
}

// handleWebSocket attaches the push channel to an existing session. The
// session must have been created over HTTP first, and only one channel
// may be attached at a time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Errorf("websocket accept: %v", err)
		return
	}

	sess, err := s.manager.Get(id)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "Session not found")
		return
	}

	bot, err := kotori.New(sess.Config, s.model, s.anki, kotori.WithCheckpointSaver(s.saver))
	if err != nil {
		log.Errorf("session %s: build bot: %v", id, err)
		conn.Close(websocket.StatusInternalError, "failed to start conversation")
		return
	}

	push := &pushConn{conn: conn}
	store := s.manager.Conversations()

	handler := func(ev session.Event) {
		recordEvent(store, id, ev)
		push.send(ev)
	}

	var opts []session.OrchestratorOption
	if s.inputTimeout > 0 {
		opts = append(opts, session.WithInputTimeout(s.inputTimeout))
	}
	orch := session.NewOrchestrator(bot, s.manager, id, handler, opts...)

	if err := s.manager.AttachOrchestrator(id, orch); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "Session already connected")
		return
	}
	defer func() {
		orch.Stop()
		s.manager.DetachOrchestrator(id)
		if err := s.manager.SetActive(id, false); err != nil {
			log.Debugf("session %s: deactivate on detach: %v", id, err)
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	if err := s.manager.SetActive(id, true); err != nil {
		log.Errorf("session %s: activate: %v", id, err)
		return
	}

	push.send(session.Event{
		Type:      outboundConnectionEstablished,
		Data:      map[string]any{"session_id": id},
		SessionID: id,
		Timestamp: time.Now().UTC(),
	})

	if err := orch.Start(context.Background()); err != nil {
		log.Errorf("session %s: start orchestrator: %v", id, err)
		return
	}

	s.readLoop(r.Context(), conn, push, orch, id)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, push *pushConn, orch *session.Orchestrator, id string) {
	store := s.manager.Conversations()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Debugf("session %s: push channel closed: %v", id, err)
			return
		}

		var envelope inboundEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			push.send(errorEvent(id, "bad_message", "event is not valid JSON"))
			continue
		}

		switch envelope.EventType {
		case inboundUserMessage:
			text, _ := envelope.Data["message"].(string)
			if !orch.SendUserMessage(text) {
				push.send(errorEvent(id, "input_rejected", "conversation is not ready for input"))
				continue
			}
			push.send(session.Event{
				Type:      outboundMessageSent,
				Data:      map[string]any{"message": text},
				SessionID: id,
				Timestamp: time.Now().UTC(),
			})
			if err := s.manager.Touch(id); err != nil {
				log.Debugf("session %s: touch: %v", id, err)
			}

		case inboundGetHistory:
			push.send(session.Event{
				Type:      outboundConversationHistory,
				Data:      map[string]any{"messages": store.History(id, 0)},
				SessionID: id,
				Timestamp: time.Now().UTC(),
			})

		case inboundPing:
			push.send(session.Event{
				Type:      outboundPong,
				SessionID: id,
				Timestamp: time.Now().UTC(),
			})

		default:
			push.send(errorEvent(id, "unknown_event", "unsupported event type: "+envelope.EventType))
		}
	}
}

// recordEvent mirrors conversation-bearing events into the history store.
func recordEvent(store *session.ConversationStore, id string, ev session.Event) {
	var kind string
	var content string
	switch ev.Type {
	case session.EventAIResponse:
		kind = session.KindAssistant
		content, _ = ev.Data["content"].(string)
	case session.EventUserMessage:
		kind = session.KindUser
		content, _ = ev.Data["content"].(string)
	case session.EventToolCall:
		kind = session.KindToolCall
		name, _ := ev.Data["tool_name"].(string)
		args, _ := ev.Data["arguments"].(string)
		content = name + " " + args
	case session.EventToolMessage:
		kind = session.KindToolResult
		content, _ = ev.Data["content"].(string)
	default:
		return
	}
	store.Append(id, session.NewMessage(kind, content, ev.Data))
}

func errorEvent(id, code, message string) session.Event {
	return session.Event{
		Type:      session.EventError,
		Data:      map[string]any{"error": code, "message": message},
		SessionID: id,
		Timestamp: time.Now().UTC(),
	}
}
