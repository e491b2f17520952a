//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package kotori implements the language-tutor conversation graph: a
// multi-phase dialogue that greets the user, selects between card study
// and free chat, drives guided conversation anchored on a flashcard,
// assesses mastery and grades the card against the flashcard service.
package kotori

import (
	"context"
	"fmt"

	"github.com/rumycoding/kotori/anki"
	"github.com/rumycoding/kotori/graph"
	"github.com/rumycoding/kotori/model"
	"github.com/rumycoding/kotori/tool"
)

// Node names.
const (
	NodeGreeting             = "greeting"
	NodeModeSelectionPrompt  = "mode_selection_prompt"
	NodeModeSelection        = "mode_selection"
	NodeRetrieveCards        = "retrieve_cards"
	NodeConversation         = "conversation"
	NodeAssessment           = "assessment"
	NodeFreeConversation     = "free_conversation"
	NodeFreeConversationEval = "free_conversation_eval"
	NodeTools                = "tools"
)

// State keys beyond graph.StateKeyMessages.
const (
	StateKeyNext              = "next"
	StateKeyLearningGoals     = "learning_goals"
	StateKeyActiveCard        = "active_card"
	StateKeyAssessmentHistory = "assessment_history"
	StateKeyCallingNode       = "calling_node"
	StateKeyCounter           = "counter"
	StateKeyRoundStartIdx     = "round_start_idx"
	StateKeyNeedCardAnswer    = "need_card_answer"
)

// Supported languages.
const (
	LanguageEnglish  = "english"
	LanguageJapanese = "japanese"
)

// Config holds the per-session bot configuration.
type Config struct {
	// Language is the target language, english or japanese.
	Language string `json:"language"`
	// DeckName is the Anki deck used for study and new notes.
	DeckName string `json:"deck_name"`
	// Temperature overrides the sampling temperature when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{Language: LanguageEnglish, DeckName: "Kotori"}
}

// Bot holds a compiled conversation graph plus its collaborators.
type Bot struct {
	config   Config
	model    model.Model
	anki     *anki.Client
	registry map[string]tool.Tool
	chat     map[string]tool.Tool
	executor *graph.Executor
	saver    graph.CheckpointSaver
}

// BotOption configures a Bot.
type BotOption func(*Bot)

// WithCheckpointSaver sets the checkpoint saver shared across sessions.
func WithCheckpointSaver(saver graph.CheckpointSaver) BotOption {
	return func(b *Bot) {
		b.saver = saver
	}
}

// New builds the conversation graph for the given configuration.
func New(cfg Config, m model.Model, client *anki.Client, opts ...BotOption) (*Bot, error) {
	if m == nil {
		return nil, fmt.Errorf("model is required")
	}
	if client == nil {
		return nil, fmt.Errorf("flashcard client is required")
	}
	if cfg.Language == "" {
		cfg.Language = LanguageEnglish
	}
	if cfg.DeckName == "" {
		cfg.DeckName = "Kotori"
	}

	b := &Bot{
		config:   cfg,
		model:    m,
		anki:     client,
		registry: anki.Tools(client),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.saver == nil {
		b.saver = graph.NewInMemorySaver()
	}

	// Interactive nodes only bind the note-taking and health tools; the
	// full registry stays available to the tools node.
	b.chat = map[string]tool.Tool{
		anki.ToolAddFlashcard: b.registry[anki.ToolAddFlashcard],
		anki.ToolCheckService: b.registry[anki.ToolCheckService],
	}

	g, err := b.buildGraph()
	if err != nil {
		return nil, err
	}
	b.executor = graph.NewExecutor(g,
		graph.WithCheckpointSaver(b.saver),
		graph.WithRecursionLimit(100),
	)
	return b, nil
}

// Config returns the bot configuration.
func (b *Bot) Config() Config {
	return b.config
}

// Stream drives the graph for one leg of execution. See graph.Executor.
func (b *Bot) Stream(ctx context.Context, input any, threadID string) (<-chan *graph.Chunk, error) {
	return b.executor.Stream(ctx, input, threadID)
}

// DeleteThread drops the checkpoints of a session thread.
func (b *Bot) DeleteThread(ctx context.Context, threadID string) error {
	return b.saver.DeleteThread(ctx, threadID)
}

// LatestCheckpoint returns the thread's latest checkpoint, or nil when
// the thread has no history.
func (b *Bot) LatestCheckpoint(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	return b.saver.Get(ctx, threadID)
}

// InitialState returns the state a fresh conversation starts from.
func InitialState() graph.State {
	return graph.State{
		graph.StateKeyMessages:    []model.Message{},
		StateKeyNext:              "",
		StateKeyLearningGoals:     "",
		StateKeyActiveCard:        "",
		StateKeyAssessmentHistory: []string{},
		StateKeyCallingNode:       "",
		StateKeyCounter:           0,
		StateKeyRoundStartIdx:     0,
		StateKeyNeedCardAnswer:    false,
	}
}

func stateSchema() *graph.StateSchema {
	schema := graph.MessagesStateSchema()
	for _, key := range []string{
		StateKeyNext,
		StateKeyLearningGoals,
		StateKeyActiveCard,
		StateKeyCallingNode,
	} {
		schema.AddField(key, graph.StateField{Default: func() any { return "" }})
	}
	schema.AddField(StateKeyAssessmentHistory, graph.StateField{
		Default: func() any { return []string{} },
	})
	schema.AddField(StateKeyCounter, graph.StateField{Default: func() any { return 0 }})
	schema.AddField(StateKeyRoundStartIdx, graph.StateField{Default: func() any { return 0 }})
	schema.AddField(StateKeyNeedCardAnswer, graph.StateField{Default: func() any { return false }})
	return schema
}

func (b *Bot) buildGraph() (*graph.Graph, error) {
	sg := graph.NewStateGraph(stateSchema()).
		AddNode(NodeGreeting, b.greetingNode).
		AddNode(NodeModeSelectionPrompt, b.modeSelectionPromptNode).
		AddNode(NodeModeSelection, b.modeSelectionNode).
		AddNode(NodeRetrieveCards, b.retrieveCardsNode).
		AddNode(NodeConversation, b.conversationNode).
		AddNode(NodeAssessment, b.assessmentNode).
		AddNode(NodeFreeConversation, b.freeConversationNode).
		AddNode(NodeFreeConversationEval, b.freeConversationEvalNode).
		AddToolsNode(NodeTools, b.registry).
		SetEntryPoint(NodeGreeting)

	for _, node := range []string{
		NodeGreeting,
		NodeModeSelectionPrompt,
		NodeModeSelection,
		NodeRetrieveCards,
		NodeConversation,
		NodeAssessment,
		NodeFreeConversation,
		NodeFreeConversationEval,
	} {
		sg.AddConditionalEdges(node, b.routeNext, nil)
	}
	sg.AddConditionalEdges(NodeTools, b.routeAfterTools, nil)

	return sg.Compile()
}

// routeNext routes to the tools node when the last assistant message has
// pending tool calls, otherwise to the node recorded in state.next.
func (b *Bot) routeNext(ctx context.Context, state graph.State) (string, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	if graph.HasPendingToolCalls(messages) {
		return NodeTools, nil
	}
	next, _ := state[StateKeyNext].(string)
	if next == "" {
		return graph.End, nil
	}
	return next, nil
}

// routeAfterTools returns control to the node that requested the tool
// calls, falling back to mode selection when the record is missing or
// stale.
func (b *Bot) routeAfterTools(ctx context.Context, state graph.State) (string, error) {
	callingNode, _ := state[StateKeyCallingNode].(string)
	switch callingNode {
	case NodeConversation, NodeFreeConversation, NodeAssessment, NodeRetrieveCards:
		return callingNode, nil
	}
	return NodeModeSelectionPrompt, nil
}
