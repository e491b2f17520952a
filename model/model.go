//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package model provides the interfaces and types for chat model
// implementations.
package model

import (
	"context"

	"github.com/rumycoding/kotori/tool"
)

// Model represents a chat language model.
type Model interface {
	// GenerateContent generates content from the model. The returned channel
	// is closed after the final response has been sent.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a model.
type Info struct {
	Name string
}

// Request is the request to the model.
type Request struct {
	// Messages is the ordered conversation history.
	Messages []Message `json:"messages"`

	// GenerationConfig controls sampling behavior.
	GenerationConfig GenerationConfig `json:"generation_config"`

	// Tools is the set of tools available to the model, keyed by tool name.
	Tools map[string]tool.Tool `json:"-"`
}

// GenerationConfig contains the sampling configuration of a generation call.
type GenerationConfig struct {
	// Stream indicates whether the response should be streamed.
	Stream bool `json:"stream"`
	// Temperature controls randomness, if set.
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens limits the response length, if set.
	MaxTokens *int `json:"max_tokens,omitempty"`
}

// Response is the response from the model.
type Response struct {
	Choices []Choice       `json:"choices"`
	Error   *ResponseError `json:"error,omitempty"`

	// Done indicates this is the final response of the call.
	Done bool `json:"-"`
}

// Choice is one generation candidate.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ResponseError carries an API-level error returned in-band by the provider.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func (e *ResponseError) Error() string {
	return e.Message
}
