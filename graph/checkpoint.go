//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Checkpoint sources.
const (
	// SourceInput marks a checkpoint created from initial input.
	SourceInput = "input"
	// SourceLoop marks a checkpoint created at a node boundary.
	SourceLoop = "loop"
	// SourceInterrupt marks a checkpoint created at an interrupt.
	SourceInterrupt = "interrupt"
)

// Checkpoint is a snapshot of a graph run.
type Checkpoint struct {
	// ID is the unique identifier of the checkpoint.
	ID string `json:"id"`
	// ThreadID identifies the run the checkpoint belongs to.
	ThreadID string `json:"thread_id"`
	// State is the run state at the snapshot point.
	State State `json:"state"`
	// NextNode is the node to execute when the run continues.
	NextNode string `json:"next_node"`
	// Source records what produced the checkpoint.
	Source string `json:"source"`
	// Step is the step counter at the snapshot point.
	Step int `json:"step"`
	// CreatedAt is when the checkpoint was taken.
	CreatedAt time.Time `json:"created_at"`
}

// NewCheckpoint creates a checkpoint for the given thread.
func NewCheckpoint(threadID string, state State, nextNode, source string, step int) *Checkpoint {
	return &Checkpoint{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		State:     state,
		NextNode:  nextNode,
		Source:    source,
		Step:      step,
		CreatedAt: time.Now().UTC(),
	}
}

// CheckpointSaver persists checkpoints per thread.
type CheckpointSaver interface {
	// Get returns the latest checkpoint of the thread, or nil when the
	// thread has none.
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
	// List returns the checkpoints of the thread, newest first.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)
	// Put stores a checkpoint.
	Put(ctx context.Context, checkpoint *Checkpoint) error
	// DeleteThread removes all checkpoints of the thread.
	DeleteThread(ctx context.Context, threadID string) error
}

// defaultCheckpointHistory bounds the per-thread history kept in memory.
const defaultCheckpointHistory = 20

// InMemorySaver is a CheckpointSaver backed by process memory.
type InMemorySaver struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint
	limit   int
}

// NewInMemorySaver creates an empty in-memory checkpoint saver.
func NewInMemorySaver() *InMemorySaver {
	return &InMemorySaver{
		threads: make(map[string][]*Checkpoint),
		limit:   defaultCheckpointHistory,
	}
}

// Get returns the latest checkpoint of the thread.
func (s *InMemorySaver) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.threads[threadID]
	if len(history) == 0 {
		return nil, nil
	}
	return history[len(history)-1], nil
}

// List returns the checkpoints of the thread, newest first.
func (s *InMemorySaver) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.threads[threadID]
	out := make([]*Checkpoint, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// Put stores a checkpoint, trimming history past the limit.
func (s *InMemorySaver) Put(ctx context.Context, checkpoint *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.threads[checkpoint.ThreadID], checkpoint)
	if len(history) > s.limit {
		history = history[len(history)-s.limit:]
	}
	s.threads[checkpoint.ThreadID] = history
	return nil
}

// DeleteThread removes all checkpoints of the thread.
func (s *InMemorySaver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}
