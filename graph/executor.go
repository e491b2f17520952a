//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"fmt"

	"github.com/rumycoding/kotori/log"
)

// defaultRecursionLimit bounds the number of node executions per drive.
const defaultRecursionLimit = 100

// ErrNoCheckpoint is returned when a resume or continuation is requested
// for a thread that has no checkpoint.
var ErrNoCheckpoint = fmt.Errorf("no checkpoint for thread")

// Chunk is one unit of executor output. Exactly one of State, Interrupt
// and Err is meaningful: a completed node emits its post-merge state, an
// interrupted node emits the interrupt, a failed node emits the error.
type Chunk struct {
	// Node is the ID of the node the chunk belongs to.
	Node string
	// State is the run state after the node completed.
	State State
	// Interrupt is set when the node suspended execution.
	Interrupt *GraphInterrupt
	// Err is set when the node failed.
	Err error
}

// Executor drives a compiled graph, checkpointing at every node boundary.
type Executor struct {
	graph          *Graph
	saver          CheckpointSaver
	recursionLimit int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCheckpointSaver sets the checkpoint saver. Without one, runs cannot
// be resumed.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(e *Executor) {
		e.saver = saver
	}
}

// WithRecursionLimit overrides the per-drive node execution limit.
func WithRecursionLimit(limit int) ExecutorOption {
	return func(e *Executor) {
		if limit > 0 {
			e.recursionLimit = limit
		}
	}
}

// NewExecutor creates an executor for the compiled graph.
func NewExecutor(graph *Graph, opts ...ExecutorOption) *Executor {
	e := &Executor{
		graph:          graph,
		recursionLimit: defaultRecursionLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stream drives the graph for one leg of execution and emits a chunk per
// node. input is an initial State for a fresh run, a *ResumeCommand to
// resume an interrupted run, or nil to continue from the latest
// checkpoint. The channel closes when the drive ends, whether by routing
// to End, an interrupt, or an error.
func (e *Executor) Stream(ctx context.Context, input any, threadID string) (<-chan *Chunk, error) {
	state, pending, step, err := e.prepare(ctx, input, threadID)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Chunk, 1)
	go func() {
		defer close(ch)
		e.run(ctx, ch, state, pending, step, threadID)
	}()
	return ch, nil
}

// prepare resolves the starting state and pending node for a drive.
func (e *Executor) prepare(ctx context.Context, input any, threadID string) (State, string, int, error) {
	switch in := input.(type) {
	case State:
		state := e.graph.Schema().Init()
		for k, v := range in {
			state[k] = v
		}
		if e.saver != nil {
			ckpt := NewCheckpoint(threadID, state.Clone(), e.graph.EntryPoint(), SourceInput, 0)
			if err := e.saver.Put(ctx, ckpt); err != nil {
				return nil, "", 0, fmt.Errorf("save input checkpoint: %w", err)
			}
		}
		return state, e.graph.EntryPoint(), 0, nil

	case *ResumeCommand:
		ckpt, err := e.latest(ctx, threadID)
		if err != nil {
			return nil, "", 0, err
		}
		state := ckpt.State.Clone()
		if in.Resume != nil {
			state[ResumeChannel] = in.Resume
		}
		if len(in.ResumeMap) > 0 {
			state[StateKeyResumeMap] = in.ResumeMap
		}
		return state, ckpt.NextNode, ckpt.Step, nil

	case nil:
		ckpt, err := e.latest(ctx, threadID)
		if err != nil {
			return nil, "", 0, err
		}
		return ckpt.State.Clone(), ckpt.NextNode, ckpt.Step, nil

	default:
		return nil, "", 0, fmt.Errorf("unsupported input type %T", input)
	}
}

func (e *Executor) latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	if e.saver == nil {
		return nil, fmt.Errorf("executor has no checkpoint saver")
	}
	ckpt, err := e.saver.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if ckpt == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
	}
	return ckpt, nil
}

func (e *Executor) run(ctx context.Context, ch chan<- *Chunk, state State, pending string, step int, threadID string) {
	for i := 0; i < e.recursionLimit; i++ {
		if pending == End || pending == "" {
			return
		}
		node, ok := e.graph.Node(pending)
		if !ok {
			e.emit(ctx, ch, &Chunk{Node: pending, Err: fmt.Errorf("node %s does not exist", pending)})
			return
		}

		// Snapshot before the node runs. Interrupted or failed nodes
		// re-execute from this state.
		snapshot := state.Clone()
		ClearAllResumeValues(snapshot)

		step++
		delta, err := node.Function(ctx, state)
		if err != nil {
			if interrupt, ok := GetInterrupt(err); ok {
				interrupt.NodeID = pending
				interrupt.Step = step
				e.checkpoint(ctx, threadID, snapshot, pending, SourceInterrupt, step)
				e.emit(ctx, ch, &Chunk{Node: pending, Interrupt: interrupt})
				return
			}
			log.Errorf("graph node %s failed: %v", pending, err)
			e.checkpoint(ctx, threadID, snapshot, pending, SourceLoop, step)
			e.emit(ctx, ch, &Chunk{Node: pending, Err: fmt.Errorf("node %s: %w", pending, err)})
			return
		}

		e.graph.Schema().ApplyUpdate(state, delta)

		next, err := e.graph.NextNode(ctx, pending, state)
		if err != nil {
			e.emit(ctx, ch, &Chunk{Node: pending, Err: err})
			return
		}

		committed := state.Clone()
		ClearAllResumeValues(committed)
		e.checkpoint(ctx, threadID, committed, next, SourceLoop, step)

		if !e.emit(ctx, ch, &Chunk{Node: pending, State: committed}) {
			return
		}
		pending = next
	}
	e.emit(ctx, ch, &Chunk{Err: fmt.Errorf("recursion limit %d exceeded", e.recursionLimit)})
}

func (e *Executor) checkpoint(ctx context.Context, threadID string, state State, next, source string, step int) {
	if e.saver == nil {
		return
	}
	if err := e.saver.Put(ctx, NewCheckpoint(threadID, state, next, source, step)); err != nil {
		log.Errorf("save checkpoint for thread %s: %v", threadID, err)
	}
}

func (e *Executor) emit(ctx context.Context, ch chan<- *Chunk, chunk *Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
