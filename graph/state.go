//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"github.com/rumycoding/kotori/model"
)

// Reducer merges a field update into the existing field value.
type Reducer func(existing, update any) any

// StateField describes one field of the state schema.
type StateField struct {
	// Reducer merges updates for this field. Nil means replace.
	Reducer Reducer
	// Default provides the initial value for the field, if any.
	Default func() any
}

// StateSchema defines how state deltas are merged into the run state.
type StateSchema struct {
	Fields map[string]StateField
}

// NewStateSchema creates an empty state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{Fields: map[string]StateField{}}
}

// AddField registers a field in the schema.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.Fields[name] = field
	return s
}

// ApplyUpdate merges a node's state delta into state in place, field by
// field, through the registered reducers.
func (s *StateSchema) ApplyUpdate(state State, update State) {
	for key, value := range update {
		field, ok := s.Fields[key]
		if !ok || field.Reducer == nil {
			state[key] = DefaultReducer(state[key], value)
			continue
		}
		state[key] = field.Reducer(state[key], value)
	}
}

// Init returns a state populated with the schema defaults.
func (s *StateSchema) Init() State {
	state := make(State)
	for name, field := range s.Fields {
		if field.Default != nil {
			state[name] = field.Default()
		}
	}
	return state
}

// DefaultReducer replaces the existing value with the update.
func DefaultReducer(existing, update any) any {
	return update
}

// MessageReducer appends message updates to the existing message list.
// Updates may be a single message or a slice.
func MessageReducer(existing, update any) any {
	messages, _ := existing.([]model.Message)
	switch v := update.(type) {
	case model.Message:
		return append(messages, v)
	case []model.Message:
		return append(messages, v...)
	case nil:
		return messages
	default:
		return existing
	}
}

// MessagesStateSchema creates a state schema for message-based workflows.
func MessagesStateSchema() *StateSchema {
	return NewStateSchema().AddField(StateKeyMessages, StateField{
		Reducer: MessageReducer,
		Default: func() any { return []model.Message{} },
	})
}
