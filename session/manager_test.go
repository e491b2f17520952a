//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rumycoding/kotori/kotori"
)

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager()
	created, err := m.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.True(t, created.IsActive)

	got, err := m.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, kotori.LanguageEnglish, got.Config.Language)

	_, err = m.Get("nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerCreateReturnsFreshIDs(t *testing.T) {
	m := NewManager()
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		s, err := m.Create(kotori.DefaultConfig(), DefaultUISettings())
		require.NoError(t, err)
		require.False(t, seen[s.ID])
		seen[s.ID] = true
	}
	require.Equal(t, 10, m.Stats().Total)
}

func TestManagerUpdateConfig(t *testing.T) {
	m := NewManager()
	s, err := m.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)

	cfg := kotori.Config{Language: kotori.LanguageJapanese, DeckName: "JLPT"}
	require.NoError(t, m.UpdateConfig(s.ID, cfg))

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	require.Equal(t, kotori.LanguageJapanese, got.Config.Language)
	require.Equal(t, "JLPT", got.Config.DeckName)
}

func TestManagerSingleOrchestratorPerSession(t *testing.T) {
	m := NewManager()
	s, err := m.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)

	first := &Orchestrator{}
	second := &Orchestrator{}
	require.NoError(t, m.AttachOrchestrator(s.ID, first))
	require.Error(t, m.AttachOrchestrator(s.ID, second))

	m.DetachOrchestrator(s.ID)
	require.NoError(t, m.AttachOrchestrator(s.ID, second))
}

func TestManagerClose(t *testing.T) {
	m := NewManager()
	s, err := m.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)

	m.Conversations().Append(s.ID, NewMessage(KindUser, "hello", nil))
	require.NoError(t, m.Close(s.ID))
	require.False(t, m.Exists(s.ID))
	require.Empty(t, m.Conversations().History(s.ID, 0))
	require.ErrorIs(t, m.Close(s.ID), ErrSessionNotFound)
}

func TestManagerCleanupInactive(t *testing.T) {
	m := NewManager()
	active, err := m.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)
	idle, err := m.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)

	require.NoError(t, m.SetActive(idle.ID, false))
	time.Sleep(10 * time.Millisecond)

	reaped := m.CleanupInactive(time.Nanosecond)
	require.Equal(t, 1, reaped)
	require.False(t, m.Exists(idle.ID))
	require.True(t, m.Exists(active.ID))
}

func TestManagerCleanupSparesRecentlyIdle(t *testing.T) {
	m := NewManager()
	s, err := m.Create(kotori.DefaultConfig(), DefaultUISettings())
	require.NoError(t, err)
	require.NoError(t, m.SetActive(s.ID, false))

	reaped := m.CleanupInactive(time.Hour)
	require.Equal(t, 0, reaped)
	require.True(t, m.Exists(s.ID))
}
