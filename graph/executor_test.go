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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumycoding/kotori/model"
	"github.com/rumycoding/kotori/tool"
	"github.com/rumycoding/kotori/tool/function"
)

func collect(t *testing.T, ch <-chan *Chunk) []*Chunk {
	t.Helper()
	var chunks []*Chunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// askGraph is a two-node graph where the first node suspends to ask a
// question and the second records the answer.
func askGraph(t *testing.T) *Graph {
	t.Helper()
	schema := NewStateSchema().
		AddField("answer", StateField{Default: func() any { return "" }})

	g, err := NewStateGraph(schema).
		AddNode("ask", func(ctx context.Context, state State) (State, error) {
			answer, err := Suspend(ctx, state, "ask", "What is your name?")
			if err != nil {
				return nil, err
			}
			text, _ := answer.(string)
			return State{"answer": text}, nil
		}).
		AddNode("done", func(ctx context.Context, state State) (State, error) {
			return State{}, nil
		}).
		SetEntryPoint("ask").
		AddEdge("ask", "done").
		SetFinishPoint("done").
		Compile()
	require.NoError(t, err)
	return g
}

func TestExecutorInterruptAndResume(t *testing.T) {
	saver := NewInMemorySaver()
	exec := NewExecutor(askGraph(t), WithCheckpointSaver(saver))
	ctx := context.Background()

	ch, err := exec.Stream(ctx, State{}, "thread-1")
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Interrupt)
	require.Equal(t, "ask", chunks[0].Node)
	require.Equal(t, "What is your name?", chunks[0].Interrupt.Value)

	// The interrupt checkpoint points back at the suspended node.
	ckpt, err := saver.Get(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, SourceInterrupt, ckpt.Source)
	require.Equal(t, "ask", ckpt.NextNode)

	ch, err = exec.Stream(ctx, NewResumeCommand().WithResume("Momo"), "thread-1")
	require.NoError(t, err)
	chunks = collect(t, ch)
	require.Len(t, chunks, 2)
	require.Nil(t, chunks[0].Interrupt)
	require.Equal(t, "Momo", chunks[0].State["answer"])
	require.Equal(t, "done", chunks[1].Node)

	// Committed state never carries resume values.
	ckpt, err = saver.Get(ctx, "thread-1")
	require.NoError(t, err)
	require.NotContains(t, ckpt.State, ResumeChannel)
}

func TestExecutorResumeWithoutCheckpoint(t *testing.T) {
	exec := NewExecutor(askGraph(t), WithCheckpointSaver(NewInMemorySaver()))
	_, err := exec.Stream(context.Background(), NewResumeCommand().WithResume("x"), "missing")
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestExecutorContinueFromCheckpoint(t *testing.T) {
	saver := NewInMemorySaver()
	exec := NewExecutor(askGraph(t), WithCheckpointSaver(saver))
	ctx := context.Background()

	ch, err := exec.Stream(ctx, State{}, "thread-2")
	require.NoError(t, err)
	collect(t, ch)

	// Continuing without a resume value re-runs the node, which suspends
	// again with the same prompt.
	ch, err = exec.Stream(ctx, nil, "thread-2")
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Interrupt)
	require.Equal(t, "What is your name?", chunks[0].Interrupt.Value)
}

func TestExecutorKeyedResume(t *testing.T) {
	saver := NewInMemorySaver()
	exec := NewExecutor(askGraph(t), WithCheckpointSaver(saver))
	ctx := context.Background()

	ch, err := exec.Stream(ctx, State{}, "thread-6")
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 1)
	interrupt := chunks[0].Interrupt
	require.NotNil(t, interrupt)
	require.True(t, IsInterrupt(interrupt))
	require.Equal(t, "ask", interrupt.TaskID)

	// A resume value keyed to a different suspension leaves this one
	// paused.
	ch, err = exec.Stream(ctx, NewResumeCommand().AddResumeValue("other", "x"), "thread-6")
	require.NoError(t, err)
	chunks = collect(t, ch)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Interrupt)

	ch, err = exec.Stream(ctx, NewResumeCommand().AddResumeValue("ask", "Momo"), "thread-6")
	require.NoError(t, err)
	chunks = collect(t, ch)
	require.Len(t, chunks, 2)
	require.Equal(t, "Momo", chunks[0].State["answer"])

	// Committed state never carries the resume map.
	ckpt, err := saver.Get(ctx, "thread-6")
	require.NoError(t, err)
	require.NotContains(t, ckpt.State, StateKeyResumeMap)
}

func TestSaverListsCheckpointsNewestFirst(t *testing.T) {
	saver := NewInMemorySaver()
	exec := NewExecutor(askGraph(t), WithCheckpointSaver(saver))
	ctx := context.Background()

	ch, err := exec.Stream(ctx, State{}, "thread-7")
	require.NoError(t, err)
	collect(t, ch)
	ch, err = exec.Stream(ctx, NewResumeCommand().WithResume("Momo"), "thread-7")
	require.NoError(t, err)
	collect(t, ch)

	// input, interrupt at ask, ask committed, done committed.
	history, err := saver.List(ctx, "thread-7")
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, End, history[0].NextNode)
	require.Equal(t, SourceInterrupt, history[2].Source)
	require.Equal(t, SourceInput, history[3].Source)

	latest, err := saver.Get(ctx, "thread-7")
	require.NoError(t, err)
	require.Equal(t, history[0].ID, latest.ID)
}

func TestExecutorNodeErrorCheckpointsForRetry(t *testing.T) {
	attempts := 0
	schema := NewStateSchema()
	g, err := NewStateGraph(schema).
		AddNode("flaky", func(ctx context.Context, state State) (State, error) {
			attempts++
			if attempts == 1 {
				return nil, fmt.Errorf("transient failure")
			}
			return State{"ok": true}, nil
		}).
		SetEntryPoint("flaky").
		SetFinishPoint("flaky").
		Compile()
	require.NoError(t, err)

	saver := NewInMemorySaver()
	exec := NewExecutor(g, WithCheckpointSaver(saver))
	ctx := context.Background()

	ch, err := exec.Stream(ctx, State{}, "thread-3")
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 1)
	require.Error(t, chunks[0].Err)

	// The failure checkpoint re-runs the failed node on continue.
	ch, err = exec.Stream(ctx, nil, "thread-3")
	require.NoError(t, err)
	chunks = collect(t, ch)
	require.Len(t, chunks, 1)
	require.NoError(t, chunks[0].Err)
	require.Equal(t, true, chunks[0].State["ok"])
	require.Equal(t, 2, attempts)
}

func TestExecutorRecursionLimit(t *testing.T) {
	g, err := NewStateGraph(NewStateSchema()).
		AddNode("loop", func(ctx context.Context, state State) (State, error) {
			return State{}, nil
		}).
		SetEntryPoint("loop").
		AddEdge("loop", "loop").
		Compile()
	require.NoError(t, err)

	exec := NewExecutor(g, WithCheckpointSaver(NewInMemorySaver()), WithRecursionLimit(5))
	ch, err := exec.Stream(context.Background(), State{}, "thread-4")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	require.Error(t, last.Err)
	require.Contains(t, last.Err.Error(), "recursion limit")
}

func TestExecutorConditionalRouting(t *testing.T) {
	g, err := NewStateGraph(NewStateSchema()).
		AddNode("router", func(ctx context.Context, state State) (State, error) {
			return State{"target": "right"}, nil
		}).
		AddNode("left", func(ctx context.Context, state State) (State, error) {
			return State{"visited": "left"}, nil
		}).
		AddNode("right", func(ctx context.Context, state State) (State, error) {
			return State{"visited": "right"}, nil
		}).
		SetEntryPoint("router").
		AddConditionalEdges("router", func(ctx context.Context, state State) (string, error) {
			target, _ := state["target"].(string)
			return target, nil
		}, nil).
		SetFinishPoint("left").
		SetFinishPoint("right").
		Compile()
	require.NoError(t, err)

	exec := NewExecutor(g, WithCheckpointSaver(NewInMemorySaver()))
	ch, err := exec.Stream(context.Background(), State{}, "thread-5")
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	require.Equal(t, "right", chunks[1].Node)
	require.Equal(t, "right", chunks[1].State["visited"])
}

func TestToolsNodeExecutesPendingCalls(t *testing.T) {
	echo := function.NewFunctionTool(
		func(ctx context.Context, args struct {
			Text string `json:"text"`
		}) (string, error) {
			return "echo: " + args.Text, nil
		},
		function.WithName("echo"),
		function.WithDescription("echoes input"),
	)

	fn := NewToolsNodeFunc(map[string]tool.Tool{"echo": echo})
	state := State{
		StateKeyMessages: []model.Message{
			{
				Role: model.RoleAssistant,
				ToolCalls: []model.ToolCall{
					{
						Type: "function",
						ID:   "call_1",
						Function: model.FunctionDefinitionParam{
							Name:      "echo",
							Arguments: []byte(`{"text":"hi"}`),
						},
					},
					{
						Type: "function",
						ID:   "call_2",
						Function: model.FunctionDefinitionParam{
							Name:      "nope",
							Arguments: []byte(`{}`),
						},
					},
				},
			},
		},
	}

	delta, err := fn(context.Background(), state)
	require.NoError(t, err)

	results := delta[StateKeyMessages].([]model.Message)
	require.Len(t, results, 2)
	require.Equal(t, model.RoleTool, results[0].Role)
	require.Equal(t, "call_1", results[0].ToolID)
	require.Equal(t, "echo: hi", results[0].Content)
	require.Contains(t, results[1].Content, "unknown tool")
}

func TestToolsNodeNoPendingCalls(t *testing.T) {
	fn := NewToolsNodeFunc(nil)
	delta, err := fn(context.Background(), State{
		StateKeyMessages: []model.Message{model.NewAssistantMessage("no calls")},
	})
	require.NoError(t, err)
	require.Empty(t, delta)
}
