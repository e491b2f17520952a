//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package model

// Role is the role of the author of a message.
type Role string

// Role constants.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Message is one message of a chat conversation.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text content.
	Content string `json:"content"`
	// ToolID is the id of the tool call this message responds to.
	// Only set on tool messages.
	ToolID string `json:"tool_id,omitempty"`
	// ToolName is the name of the tool that produced this message.
	// Only set on tool messages.
	ToolName string `json:"tool_name,omitempty"`
	// ToolCalls are the tool calls requested by the assistant.
	// Only set on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// Type is the tool type, currently always "function".
	Type string `json:"type"`
	// Function holds the function name and raw JSON arguments.
	Function FunctionDefinitionParam `json:"function"`
	// ID identifies the call so that tool results can be matched back.
	ID string `json:"id,omitempty"`
}

// FunctionDefinitionParam is the function part of a tool call.
type FunctionDefinitionParam struct {
	Name      string `json:"name"`
	Arguments []byte `json:"arguments,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool message carrying a tool result.
func NewToolMessage(toolID, toolName, content string) Message {
	return Message{
		Role:     RoleTool,
		Content:  content,
		ToolID:   toolID,
		ToolName: toolName,
	}
}
