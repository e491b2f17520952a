//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a suspendable state-machine runtime for
// conversational workflows. Graphs are built with StateGraph, compiled,
// and driven by an Executor that checkpoints state at every node boundary
// so that execution can pause on an interrupt and resume later.
package graph

import (
	"context"
	"fmt"
	"sync"
)

// Virtual node identifiers.
const (
	// Start is the virtual entry node. It carries no function; execution
	// begins at the node the entry point edge targets.
	Start = "__start__"
	// End is the virtual terminal node. Routing to End finishes the run.
	End = "__end__"
)

// State represents the state that flows through the graph.
type State map[string]any

// Clone creates a shallow copy of the state.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// NodeFunc executes a node. It returns a state delta that is merged into
// the run state through the schema reducers.
type NodeFunc func(ctx context.Context, state State) (State, error)

// ConditionalFunc routes execution after a node. The returned key is
// looked up in the conditional edge's path map.
type ConditionalFunc func(ctx context.Context, state State) (string, error)

// Node is a vertex of the graph.
type Node struct {
	// ID is the unique identifier of the node.
	ID string
	// Function executes the node.
	Function NodeFunc
}

// Edge is an unconditional transition.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes from a node based on state.
type ConditionalEdge struct {
	From string
	// Condition produces a routing key.
	Condition ConditionalFunc
	// PathMap maps routing keys to target node IDs. When nil, the key
	// itself is the target.
	PathMap map[string]string
}

// Graph is a compiled, immutable workflow graph.
type Graph struct {
	nodes            map[string]*Node
	edges            map[string]*Edge
	conditionalEdges map[string]*ConditionalEdge
	entryPoint       string
	schema           *StateSchema

	mutex sync.RWMutex
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	node, ok := g.nodes[id]
	return node, ok
}

// EntryPoint returns the ID of the first node to execute.
func (g *Graph) EntryPoint() string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.entryPoint
}

// Schema returns the state schema of the graph.
func (g *Graph) Schema() *StateSchema {
	return g.schema
}

// NextNode resolves the node that follows nodeID for the given state.
// It returns End when no outgoing edge exists.
func (g *Graph) NextNode(ctx context.Context, nodeID string, state State) (string, error) {
	g.mutex.RLock()
	cond := g.conditionalEdges[nodeID]
	edge := g.edges[nodeID]
	g.mutex.RUnlock()

	if cond != nil {
		key, err := cond.Condition(ctx, state)
		if err != nil {
			return "", fmt.Errorf("conditional edge from %s: %w", nodeID, err)
		}
		if cond.PathMap == nil {
			return key, nil
		}
		target, ok := cond.PathMap[key]
		if !ok {
			return "", fmt.Errorf("conditional edge from %s: no target for key %q", nodeID, key)
		}
		return target, nil
	}
	if edge != nil {
		return edge.To, nil
	}
	return End, nil
}

// validate checks the graph structure before compilation succeeds.
func (g *Graph) validate() error {
	if g.entryPoint == "" {
		return fmt.Errorf("graph must have an entry point")
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return fmt.Errorf("entry point %s does not exist", g.entryPoint)
	}
	for from, edge := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edge source %s does not exist", from)
		}
		if edge.To != End {
			if _, ok := g.nodes[edge.To]; !ok {
				return fmt.Errorf("edge target %s does not exist", edge.To)
			}
		}
	}
	for from, cond := range g.conditionalEdges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("conditional edge source %s does not exist", from)
		}
		for key, target := range cond.PathMap {
			if target == End {
				continue
			}
			if _, ok := g.nodes[target]; !ok {
				return fmt.Errorf("conditional edge from %s: target %s for key %q does not exist", from, target, key)
			}
		}
	}
	return nil
}
