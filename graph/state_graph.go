//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rumycoding/kotori/log"
	"github.com/rumycoding/kotori/model"
	"github.com/rumycoding/kotori/tool"
)

// StateGraph is a fluent builder for Graph.
type StateGraph struct {
	graph *Graph
	err   error
}

// NewStateGraph creates a new graph builder with the given state schema.
func NewStateGraph(schema *StateSchema) *StateGraph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &StateGraph{
		graph: &Graph{
			nodes:            make(map[string]*Node),
			edges:            make(map[string]*Edge),
			conditionalEdges: make(map[string]*ConditionalEdge),
			schema:           schema,
		},
	}
}

// AddNode adds a function node to the graph.
func (sg *StateGraph) AddNode(id string, fn NodeFunc) *StateGraph {
	if sg.err != nil {
		return sg
	}
	if id == "" || id == Start || id == End {
		sg.err = fmt.Errorf("invalid node ID %q", id)
		return sg
	}
	if _, exists := sg.graph.nodes[id]; exists {
		sg.err = fmt.Errorf("node %s already exists", id)
		return sg
	}
	sg.graph.nodes[id] = &Node{ID: id, Function: fn}
	return sg
}

// AddToolsNode adds a node that executes the pending tool calls of the
// last assistant message.
func (sg *StateGraph) AddToolsNode(id string, tools map[string]tool.Tool) *StateGraph {
	return sg.AddNode(id, NewToolsNodeFunc(tools))
}

// AddEdge adds an unconditional edge. To may be End.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if sg.err != nil {
		return sg
	}
	if from == "" || to == "" {
		sg.err = fmt.Errorf("edge endpoints cannot be empty")
		return sg
	}
	sg.graph.edges[from] = &Edge{From: from, To: to}
	return sg
}

// AddConditionalEdges adds a conditional edge from the node. The
// condition's return value is resolved through pathMap, or used directly
// as the target when pathMap is nil.
func (sg *StateGraph) AddConditionalEdges(from string, condition ConditionalFunc, pathMap map[string]string) *StateGraph {
	if sg.err != nil {
		return sg
	}
	if condition == nil {
		sg.err = fmt.Errorf("conditional edge from %s: condition cannot be nil", from)
		return sg
	}
	sg.graph.conditionalEdges[from] = &ConditionalEdge{
		From:      from,
		Condition: condition,
		PathMap:   pathMap,
	}
	return sg
}

// SetEntryPoint sets the first node to execute.
func (sg *StateGraph) SetEntryPoint(id string) *StateGraph {
	if sg.err != nil {
		return sg
	}
	sg.graph.entryPoint = id
	return sg
}

// SetFinishPoint routes the node to End.
func (sg *StateGraph) SetFinishPoint(id string) *StateGraph {
	return sg.AddEdge(id, End)
}

// Compile validates the graph and returns it.
func (sg *StateGraph) Compile() (*Graph, error) {
	if sg.err != nil {
		return nil, sg.err
	}
	if err := sg.graph.validate(); err != nil {
		return nil, err
	}
	return sg.graph, nil
}

// NewToolsNodeFunc returns a NodeFunc that executes the tool calls of the
// last assistant message and appends one tool message per call. Tool
// failures become error strings in the tool result so that the model can
// react to them.
func NewToolsNodeFunc(tools map[string]tool.Tool) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		messages, _ := state[StateKeyMessages].([]model.Message)
		last := lastAssistantWithToolCalls(messages)
		if last == nil {
			return State{}, nil
		}

		var results []model.Message
		for _, call := range last.ToolCalls {
			name := call.Function.Name
			t, ok := tools[name]
			if !ok {
				results = append(results, model.NewToolMessage(call.ID, name,
					fmt.Sprintf("Error: unknown tool %q", name)))
				continue
			}
			callable, ok := t.(tool.CallableTool)
			if !ok {
				results = append(results, model.NewToolMessage(call.ID, name,
					fmt.Sprintf("Error: tool %q is not callable", name)))
				continue
			}
			result, err := callable.Call(ctx, call.Function.Arguments)
			if err != nil {
				log.Warnf("tool %s failed: %v", name, err)
				results = append(results, model.NewToolMessage(call.ID, name,
					fmt.Sprintf("Error executing tool %s: %v", name, err)))
				continue
			}
			results = append(results, model.NewToolMessage(call.ID, name, stringifyToolResult(result)))
		}
		return State{StateKeyMessages: results}, nil
	}
}

// HasPendingToolCalls reports whether the last message carries tool calls
// that have not been answered yet.
func HasPendingToolCalls(messages []model.Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return last.Role == model.RoleAssistant && len(last.ToolCalls) > 0
}

func lastAssistantWithToolCalls(messages []model.Message) *model.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant {
			if len(messages[i].ToolCalls) > 0 {
				return &messages[i]
			}
			return nil
		}
	}
	return nil
}

func stringifyToolResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
