//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumycoding/kotori/model"
)

func TestSchemaInitUsesDefaults(t *testing.T) {
	schema := NewStateSchema().
		AddField("counter", StateField{Default: func() any { return 0 }}).
		AddField("name", StateField{Default: func() any { return "" }})

	state := schema.Init()
	require.Equal(t, 0, state["counter"])
	require.Equal(t, "", state["name"])
}

func TestMessageReducerAppends(t *testing.T) {
	schema := MessagesStateSchema()
	state := schema.Init()

	schema.ApplyUpdate(state, State{
		StateKeyMessages: model.NewUserMessage("hello"),
	})
	schema.ApplyUpdate(state, State{
		StateKeyMessages: []model.Message{
			model.NewAssistantMessage("hi"),
			model.NewUserMessage("how are you"),
		},
	})

	messages := state[StateKeyMessages].([]model.Message)
	require.Len(t, messages, 3)
	require.Equal(t, "hello", messages[0].Content)
	require.Equal(t, model.RoleAssistant, messages[1].Role)
}

func TestDefaultReducerReplaces(t *testing.T) {
	schema := NewStateSchema().AddField("next", StateField{Default: func() any { return "" }})
	state := schema.Init()

	schema.ApplyUpdate(state, State{"next": "a"})
	schema.ApplyUpdate(state, State{"next": "b"})
	require.Equal(t, "b", state["next"])
}

func TestApplyUpdateUnknownFieldReplaces(t *testing.T) {
	schema := NewStateSchema()
	state := State{}
	schema.ApplyUpdate(state, State{"extra": 1})
	schema.ApplyUpdate(state, State{"extra": 2})
	require.Equal(t, 2, state["extra"])
}

func TestHasPendingToolCalls(t *testing.T) {
	require.False(t, HasPendingToolCalls(nil))
	require.False(t, HasPendingToolCalls([]model.Message{
		model.NewAssistantMessage("plain"),
	}))
	require.True(t, HasPendingToolCalls([]model.Message{
		{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{{
				Type: "function",
				ID:   "call_1",
				Function: model.FunctionDefinitionParam{
					Name:      "lookup",
					Arguments: []byte(`{}`),
				},
			}},
		},
	}))
	// A tool result after the call means nothing is pending.
	require.False(t, HasPendingToolCalls([]model.Message{
		{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{{
				Type:     "function",
				ID:       "call_1",
				Function: model.FunctionDefinitionParam{Name: "lookup"},
			}},
		},
		model.NewToolMessage("call_1", "lookup", "result"),
	}))
}
