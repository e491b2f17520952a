//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package kotori

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rumycoding/kotori/log"
	"github.com/rumycoding/kotori/model"
	"github.com/rumycoding/kotori/tool"
)

const (
	llmCallTimeout = 10 * time.Second
	llmMaxAttempts = 3
	llmRetryDelay  = time.Second
)

// invoke performs one chat completion with retries. tools may be nil for
// plain generation.
func (b *Bot) invoke(ctx context.Context, messages []model.Message, tools map[string]tool.Tool) (model.Message, error) {
	request := &model.Request{
		Messages: messages,
		Tools:    tools,
		GenerationConfig: model.GenerationConfig{
			Temperature: b.config.Temperature,
		},
	}

	var lastErr error
	for attempt := 1; attempt <= llmMaxAttempts; attempt++ {
		msg, err := b.generateOnce(ctx, request)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Warnf("llm call failed (attempt %d/%d): %v", attempt, llmMaxAttempts, err)
		if attempt < llmMaxAttempts {
			select {
			case <-time.After(llmRetryDelay):
			case <-ctx.Done():
				return model.Message{}, ctx.Err()
			}
		}
	}
	return model.Message{}, fmt.Errorf("llm call failed after %d attempts: %w", llmMaxAttempts, lastErr)
}

func (b *Bot) generateOnce(ctx context.Context, request *model.Request) (model.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
	defer cancel()

	responses, err := b.model.GenerateContent(callCtx, request)
	if err != nil {
		return model.Message{}, err
	}
	for response := range responses {
		if response.Error != nil {
			return model.Message{}, response.Error
		}
		if len(response.Choices) > 0 {
			return response.Choices[0].Message, nil
		}
	}
	return model.Message{}, fmt.Errorf("model returned no choices")
}

// classify runs a classifier prompt over the given context messages and
// returns the trimmed label text.
func (b *Bot) classify(ctx context.Context, systemPrompt string, contextMessages []model.Message) (string, error) {
	messages := append([]model.Message{model.NewSystemMessage(systemPrompt)}, contextMessages...)
	response, err := b.invoke(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Content), nil
}
