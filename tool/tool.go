//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package tool provides the interfaces and types for tools that can be
// exposed to a language model.
package tool

import "context"

// Tool is the interface that all tools must implement.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool is a tool that can be executed with JSON-encoded arguments.
type CallableTool interface {
	Tool

	// Call executes the tool. jsonArgs is the raw JSON argument object
	// produced by the model.
	Call(ctx context.Context, jsonArgs []byte) (any, error)
}

// Declaration describes a tool to the model.
type Declaration struct {
	// Name is the tool name. Must match ^[a-zA-Z0-9_-]+$ for broad LLM API
	// compatibility.
	Name string `json:"name"`
	// Description tells the model what the tool does and when to use it.
	Description string `json:"description"`
	// InputSchema is the JSON schema of the argument object.
	InputSchema *Schema `json:"input_schema,omitempty"`
	// OutputSchema is the JSON schema of the result, if structured.
	OutputSchema *Schema `json:"output_schema,omitempty"`
}

// Schema is a subset of JSON schema sufficient for tool declarations.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	Default              any                `json:"default,omitempty"`
	AdditionalProperties *Schema            `json:"additionalProperties,omitempty"`
}
