//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package session owns the set of tutoring sessions: the registry that
// serializes their lifecycle, the per-session conversation history, and
// the orchestrator that drives a session's graph and adapts interrupts
// to an async request/reply channel.
package session

import (
	"time"

	"github.com/rumycoding/kotori/kotori"
)

// Message kinds stored in the conversation history.
const (
	KindUser       = "user"
	KindAssistant  = "assistant"
	KindSystem     = "system"
	KindToolCall   = "tool_call"
	KindToolResult = "tool_result"
)

// Message is one conversation history item.
type Message struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UISettings are client presentation preferences stored with a session.
type UISettings struct {
	Theme          string         `json:"theme"`
	DebugMode      bool           `json:"debug_mode"`
	ShowAssessment bool           `json:"show_assessment"`
	ShowDebugPanel bool           `json:"show_debug_panel"`
	VoiceSettings  map[string]any `json:"voice_settings,omitempty"`
}

// DefaultUISettings returns the stock UI settings.
func DefaultUISettings() UISettings {
	return UISettings{Theme: "light", ShowAssessment: true}
}

// StateInfo is a summary of the graph state exposed to clients.
type StateInfo struct {
	CurrentNode       string   `json:"current_node"`
	NextNode          string   `json:"next_node"`
	LearningGoals     string   `json:"learning_goals"`
	ActiveCard        string   `json:"active_card"`
	AssessmentHistory []string `json:"assessment_history"`
	Counter           int      `json:"counter"`
}

// Session is a registry record.
type Session struct {
	ID           string        `json:"session_id"`
	IsActive     bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	Config       kotori.Config `json:"config"`
	UISettings   UISettings    `json:"ui_settings"`
	CurrentState StateInfo     `json:"current_state"`
}

// Clone returns a copy safe to hand out without the registry lock.
func (s *Session) Clone() *Session {
	clone := *s
	clone.CurrentState.AssessmentHistory = append([]string(nil), s.CurrentState.AssessmentHistory...)
	return &clone
}
