//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package function provides function-based tool implementations.
package function

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/rumycoding/kotori/internal/schema"
	"github.com/rumycoding/kotori/log"
	"github.com/rumycoding/kotori/tool"
)

// FunctionTool wraps a typed Go function as a CallableTool. The input
// schema is generated from I by reflection unless overridden.
type FunctionTool[I, O any] struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
	fn           func(context.Context, I) (O, error)
}

// Option is a function that configures a FunctionTool.
type Option func(*functionToolOptions)

type functionToolOptions struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
}

// WithName sets the name of the function tool.
//
// Tool names must match ^[a-zA-Z0-9_-]+$ so that strict LLM APIs accept
// them.
func WithName(name string) Option {
	return func(opts *functionToolOptions) {
		opts.name = name
	}
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(opts *functionToolOptions) {
		opts.description = description
	}
}

// WithInputSchema sets a custom input schema for the function tool.
// When provided, the automatic schema generation is skipped.
func WithInputSchema(s *tool.Schema) Option {
	return func(opts *functionToolOptions) {
		opts.inputSchema = s
	}
}

// WithOutputSchema sets a custom output schema for the function tool.
// When provided, the automatic schema generation is skipped.
func WithOutputSchema(s *tool.Schema) Option {
	return func(opts *functionToolOptions) {
		opts.outputSchema = s
	}
}

// NewFunctionTool creates a FunctionTool around fn.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	options := &functionToolOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.name == "" {
		log.Warnf("FunctionTool: name is empty")
	}
	if options.description == "" {
		log.Warnf("FunctionTool: description is empty")
	}

	var (
		emptyI I
		emptyO O
	)
	iSchema := options.inputSchema
	if iSchema == nil {
		iSchema = schema.Generate(reflect.TypeOf(emptyI))
	}
	oSchema := options.outputSchema
	if oSchema == nil {
		oSchema = schema.Generate(reflect.TypeOf(emptyO))
	}

	return &FunctionTool[I, O]{
		name:         options.name,
		description:  options.description,
		fn:           fn,
		inputSchema:  iSchema,
		outputSchema: oSchema,
	}
}

// Call executes the function tool with the provided JSON arguments.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, err
		}
	}
	return ft.fn(ctx, input)
}

// Declaration returns the tool's declaration information.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:         ft.name,
		Description:  ft.description,
		InputSchema:  ft.inputSchema,
		OutputSchema: ft.outputSchema,
	}
}
