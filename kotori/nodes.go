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

	"github.com/google/uuid"

	"github.com/rumycoding/kotori/anki"
	"github.com/rumycoding/kotori/graph"
	"github.com/rumycoding/kotori/model"
)

// assessmentWindow is the number of trailing messages given to the
// classifier and rubric prompts.
const assessmentWindow = 6

// greetingNode emits the locale greeting and captures the user's level
// and goals.
func (b *Bot) greetingNode(ctx context.Context, state graph.State) (graph.State, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	if len(messages) > 0 {
		// Already greeted, e.g. after a reconnect.
		return graph.State{StateKeyNext: NodeModeSelectionPrompt}, nil
	}

	prompt := greetingPrompt(b.config.Language)
	if b.config.Language != LanguageEnglish && b.config.Language != LanguageJapanese {
		return graph.State{
			graph.StateKeyMessages: []model.Message{model.NewAssistantMessage(prompt)},
			StateKeyNext:           graph.End,
		}, nil
	}

	userInput, err := graph.Suspend(ctx, state, NodeGreeting, prompt)
	if err != nil {
		return nil, err
	}
	text, _ := userInput.(string)
	return graph.State{
		graph.StateKeyMessages: []model.Message{
			model.NewAssistantMessage(prompt),
			model.NewUserMessage(text),
		},
		StateKeyLearningGoals: text,
		StateKeyNext:          NodeModeSelectionPrompt,
	}, nil
}

// modeSelectionPromptNode asks whether the user wants card study or free
// chat.
func (b *Bot) modeSelectionPromptNode(ctx context.Context, state graph.State) (graph.State, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	goals, _ := state[StateKeyLearningGoals].(string)

	system := model.NewSystemMessage(modeSelectionSystemPrompt(b.config.Language, goals))
	response, err := b.invoke(ctx, append([]model.Message{system}, messages...), nil)
	if err != nil {
		return nil, err
	}

	userInput, err := graph.Suspend(ctx, state, NodeModeSelectionPrompt, response.Content)
	if err != nil {
		return nil, err
	}
	text, _ := userInput.(string)
	return graph.State{
		graph.StateKeyMessages: []model.Message{
			model.NewAssistantMessage(response.Content),
			model.NewUserMessage(text),
		},
		StateKeyNext: NodeModeSelection,
	}, nil
}

// modeSelectionNode classifies the user's answer into study or chat.
func (b *Bot) modeSelectionNode(ctx context.Context, state graph.State) (graph.State, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	lastUser := lastUserMessage(messages)
	if lastUser == nil {
		return graph.State{StateKeyNext: NodeModeSelectionPrompt}, nil
	}

	decision, err := b.classify(ctx, modeClassifierPrompt,
		[]model.Message{model.NewUserMessage(lastUser.Content)})
	if err != nil {
		return nil, err
	}

	if strings.Contains(decision, labelStudy) {
		return graph.State{StateKeyNext: NodeRetrieveCards}, nil
	}
	delta := resetDelta(len(messages))
	delta[StateKeyNext] = NodeFreeConversation
	return delta, nil
}

// retrieveCardsNode asks the flashcard service for one study candidate,
// falling back to free conversation when nothing usable comes back.
func (b *Bot) retrieveCardsNode(ctx context.Context, state graph.State) (graph.State, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)

	result, _ := anki.FindCardsForStudy(ctx, b.anki, b.config.DeckName, 1)
	if result == "" || strings.Contains(result, "Error") || strings.Contains(result, "No cards found") {
		delta := resetDelta(len(messages))
		delta[StateKeyNext] = NodeFreeConversation
		return delta, nil
	}

	return graph.State{
		StateKeyActiveCard:        result,
		StateKeyAssessmentHistory: []string{},
		StateKeyCounter:           0,
		StateKeyRoundStartIdx:     len(messages),
		StateKeyNeedCardAnswer:    false,
		StateKeyNext:              NodeConversation,
	}, nil
}

// conversationNode drives the guided dialogue anchored on the active
// card, with note-taking tools bound.
func (b *Bot) conversationNode(ctx context.Context, state graph.State) (graph.State, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	activeCard, _ := state[StateKeyActiveCard].(string)
	goals, _ := state[StateKeyLearningGoals].(string)

	system := model.NewSystemMessage(conversationSystemPrompt(
		b.config.Language, activeCard, goals, b.config.DeckName))
	response, err := b.invoke(ctx, append([]model.Message{system}, messages...), b.chat)
	if err != nil {
		return nil, err
	}

	if len(response.ToolCalls) > 0 {
		return graph.State{
			graph.StateKeyMessages: []model.Message{response},
			StateKeyCallingNode:    NodeConversation,
			StateKeyNext:           NodeTools,
		}, nil
	}

	userInput, err := graph.Suspend(ctx, state, NodeConversation, response.Content)
	if err != nil {
		return nil, err
	}
	text, _ := userInput.(string)
	return graph.State{
		graph.StateKeyMessages: []model.Message{
			model.NewAssistantMessage(response.Content),
			model.NewUserMessage(text),
		},
		StateKeyCallingNode: NodeConversation,
		StateKeyNext:        NodeAssessment,
	}, nil
}

// assessmentNode classifies the user's intent for the study round and,
// on a card switch or a move to free talk, scores mastery and grades the
// active card.
func (b *Bot) assessmentNode(ctx context.Context, state graph.State) (graph.State, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	activeCard, _ := state[StateKeyActiveCard].(string)
	lastUser := lastUserMessage(messages)
	if lastUser == nil {
		return graph.State{StateKeyNext: NodeConversation}, nil
	}

	window := recentWindow(messages, assessmentWindow)
	decision, err := b.classify(ctx,
		assessmentClassifierPrompt(b.config.Language, activeCard), window)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(decision, labelSwitchCard), strings.Contains(decision, labelFreeTalk):
		delta, err := b.assessAndGrade(ctx, state, window, lastUser)
		if err != nil {
			return nil, err
		}
		if strings.Contains(decision, labelFreeTalk) {
			for k, v := range resetDelta(len(messages)) {
				if _, set := delta[k]; !set {
					delta[k] = v
				}
			}
			delta[StateKeyNext] = NodeFreeConversation
		} else {
			delta[StateKeyActiveCard] = ""
			delta[StateKeyNext] = NodeRetrieveCards
		}
		return delta, nil
	default:
		return graph.State{StateKeyNext: NodeConversation}, nil
	}
}

// assessAndGrade produces the rubric assessment, appends it to the
// history and converts it into a card grade with a synthesized tool-call
// round trip.
func (b *Bot) assessAndGrade(ctx context.Context, state graph.State, window []model.Message, lastUser *model.Message) (graph.State, error) {
	activeCard, _ := state[StateKeyActiveCard].(string)
	history, _ := state[StateKeyAssessmentHistory].([]string)

	system := model.NewSystemMessage(masteryAssessmentPrompt(b.config.Language, activeCard))
	response, err := b.invoke(ctx, append([]model.Message{system}, window...), nil)
	if err != nil {
		return nil, err
	}

	entry := fmt.Sprintf("Assessment of message %q: %s", truncate(lastUser.Content, 50), response.Content)
	delta := graph.State{
		StateKeyAssessmentHistory: appendHistory(history, entry),
		StateKeyNeedCardAnswer:    activeCard != "",
	}
	if activeCard == "" {
		return delta, nil
	}

	summary := anki.GradeFromAssessment(ctx, b.anki, activeCard, response.Content)

	callID := "card_grade_" + uuid.New().String()
	args := []byte("{}")
	if cardID, ok := anki.ParseCardID(activeCard); ok {
		if mastery, ok := anki.ParseMastery(response.Content); ok {
			ease := mastery
			if ease > 4 {
				ease = 4
			}
			args = fmt.Appendf(nil, `{"card_id":%d,"ease":%d}`, cardID, ease)
		}
	}
	delta[graph.StateKeyMessages] = []model.Message{
		{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{{
				Type: "function",
				ID:   callID,
				Function: model.FunctionDefinitionParam{
					Name:      anki.ToolAnswerCard,
					Arguments: args,
				},
			}},
		},
		model.NewToolMessage(callID, anki.ToolAnswerCard, summary),
	}
	delta[StateKeyNeedCardAnswer] = false
	delta[StateKeyCallingNode] = NodeAssessment
	return delta, nil
}

// freeConversationNode handles casual chat with the note-taking tools
// bound. It never corrects the user unless asked.
func (b *Bot) freeConversationNode(ctx context.Context, state graph.State) (graph.State, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	goals, _ := state[StateKeyLearningGoals].(string)
	counter, _ := state[StateKeyCounter].(int)

	system := model.NewSystemMessage(freeConversationSystemPrompt(
		b.config.Language, goals, b.config.DeckName))
	response, err := b.invoke(ctx, append([]model.Message{system}, messages...), b.chat)
	if err != nil {
		return nil, err
	}

	if len(response.ToolCalls) > 0 {
		return graph.State{
			graph.StateKeyMessages: []model.Message{response},
			StateKeyCallingNode:    NodeFreeConversation,
			StateKeyNext:           NodeTools,
		}, nil
	}

	userInput, err := graph.Suspend(ctx, state, NodeFreeConversation, response.Content)
	if err != nil {
		return nil, err
	}
	text, _ := userInput.(string)
	return graph.State{
		graph.StateKeyMessages: []model.Message{
			model.NewAssistantMessage(response.Content),
			model.NewUserMessage(text),
		},
		StateKeyCounter:     counter + 1,
		StateKeyCallingNode: NodeFreeConversation,
		StateKeyNext:        NodeFreeConversationEval,
	}, nil
}

// freeConversationEvalNode decides whether to keep chatting, give
// feedback, or return to mode selection.
func (b *Bot) freeConversationEvalNode(ctx context.Context, state graph.State) (graph.State, error) {
	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	lastUser := lastUserMessage(messages)
	if lastUser == nil {
		return graph.State{StateKeyNext: NodeModeSelectionPrompt}, nil
	}

	window := recentWindow(messages, assessmentWindow)
	decision, err := b.classify(ctx, freeEvalClassifierPrompt(b.config.Language), window)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(decision, labelChangeTopic):
		return graph.State{StateKeyNext: NodeModeSelectionPrompt}, nil
	case strings.Contains(decision, labelRequestAssessment):
		goals, _ := state[StateKeyLearningGoals].(string)
		history, _ := state[StateKeyAssessmentHistory].([]string)
		system := model.NewSystemMessage(freeAssessmentPrompt(b.config.Language, goals))
		response, err := b.invoke(ctx, append([]model.Message{system}, window...), nil)
		if err != nil {
			return nil, err
		}
		entry := fmt.Sprintf("Free conversation assessment - %s: %s",
			truncate(lastUser.Content, 30), response.Content)
		return graph.State{
			StateKeyAssessmentHistory: appendHistory(history, entry),
			StateKeyNext:              NodeFreeConversation,
		}, nil
	default:
		return graph.State{StateKeyNext: NodeFreeConversation}, nil
	}
}

// resetDelta clears the learning round state for a fresh mode.
func resetDelta(messagesLen int) graph.State {
	return graph.State{
		StateKeyActiveCard:        "",
		StateKeyAssessmentHistory: []string{},
		StateKeyCounter:           0,
		StateKeyRoundStartIdx:     messagesLen,
		StateKeyNeedCardAnswer:    false,
	}
}

func lastUserMessage(messages []model.Message) *model.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return &messages[i]
		}
	}
	return nil
}

func recentWindow(messages []model.Message, n int) []model.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func appendHistory(history []string, entry string) []string {
	out := make([]string, 0, len(history)+1)
	out = append(out, history...)
	return append(out, entry)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
