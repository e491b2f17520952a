//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatTxt  = "txt"
	FormatCSV  = "csv"
)

// dedupeWindow is how many trailing same-kind messages are checked for
// content duplicates.
const dedupeWindow = 5

// ConversationStore keeps the append-only message history per session.
type ConversationStore struct {
	mu       sync.Mutex
	sessions map[string][]Message
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{sessions: make(map[string][]Message)}
}

// NewMessage builds a history item with a fresh id and timestamp.
func NewMessage(kind, content string, metadata map[string]any) Message {
	return Message{
		ID:        uuid.New().String(),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// Append adds a message unless it duplicates an existing one. It returns
// whether the message was stored. Duplicates are messages whose id
// collides, or whose normalized content matches one of the last 5
// messages of the same kind.
func (cs *ConversationStore) Append(sessionID string, msg Message) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	history := cs.sessions[sessionID]
	for _, existing := range history {
		if existing.ID == msg.ID {
			return false
		}
	}

	normalized := normalizeContent(msg.Content)
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < dedupeWindow; i-- {
		if history[i].Kind != msg.Kind {
			continue
		}
		seen++
		if normalizeContent(history[i].Content) == normalized {
			return false
		}
	}

	cs.sessions[sessionID] = append(history, msg)
	return true
}

// History returns up to limit most recent messages in order. limit <= 0
// returns everything.
func (cs *ConversationStore) History(sessionID string, limit int) []Message {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	history := cs.sessions[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]Message(nil), history...)
}

// Clear empties the session's history but keeps the session entry.
func (cs *ConversationStore) Clear(sessionID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.sessions[sessionID] = nil
}

// Delete removes the session's history entirely.
func (cs *ConversationStore) Delete(sessionID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.sessions, sessionID)
}

// Export renders the history in the requested format.
func (cs *ConversationStore) Export(sessionID, format string) ([]byte, error) {
	history := cs.History(sessionID, 0)
	switch format {
	case FormatJSON:
		return json.MarshalIndent(history, "", "  ")
	case FormatTxt:
		var sb strings.Builder
		for _, msg := range history {
			fmt.Fprintf(&sb, "[%s] %s: %s\n",
				msg.Timestamp.Format(time.RFC3339),
				strings.ToUpper(msg.Kind),
				msg.Content)
		}
		return []byte(sb.String()), nil
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write([]string{"timestamp", "kind", "content", "metadata"}); err != nil {
			return nil, err
		}
		for _, msg := range history {
			metadata := ""
			if len(msg.Metadata) > 0 {
				data, err := json.Marshal(msg.Metadata)
				if err != nil {
					return nil, err
				}
				metadata = string(data)
			}
			if err := w.Write([]string{
				msg.Timestamp.Format(time.RFC3339),
				msg.Kind,
				msg.Content,
				metadata,
			}); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ImportJSON replaces the session's history with a previously exported
// JSON document. Export followed by ImportJSON is lossless.
func (cs *ConversationStore) ImportJSON(sessionID string, data []byte) error {
	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.sessions[sessionID] = history
	return nil
}

func normalizeContent(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
