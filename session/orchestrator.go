//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rumycoding/kotori/graph"
	"github.com/rumycoding/kotori/kotori"
	"github.com/rumycoding/kotori/log"
	"github.com/rumycoding/kotori/model"
)

// Event types pushed to clients.
const (
	EventAIResponse       = "ai_response"
	EventUserMessage      = "user_message"
	EventStateChange      = "state_change"
	EventToolCall         = "tool_call"
	EventToolMessage      = "tool_message"
	EventAssessmentUpdate = "assessment_update"
	EventConversationEnd  = "conversation_end"
	EventError            = "error"
)

// Conversation end reasons.
const (
	EndReasonCompleted = "completed"
	EndReasonUserExit  = "user_exit"
	EndReasonTimeout   = "timeout"
	EndReasonError     = "error"
)

const (
	// defaultInputTimeout is how long the drive loop waits for user input
	// after an interrupt before ending the conversation.
	defaultInputTimeout = 300 * time.Second
	// retryBackoff is the pause before re-driving after a node error.
	retryBackoff = time.Second
	// maxConsecutiveErrors ends the conversation when retries keep failing.
	maxConsecutiveErrors = 5
)

// Event is one orchestrator-to-client notification.
type Event struct {
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler receives orchestrator events. Handlers must not block.
type EventHandler func(Event)

// Orchestrator drives one session's conversation graph, turning the
// interrupt/resume protocol into an async exchange: interrupts become
// ai_response events, user messages resume the graph.
type Orchestrator struct {
	bot       *kotori.Bot
	manager   *Manager
	sessionID string
	handler   EventHandler
	filter    *InterruptFilter

	inputTimeout time.Duration

	input  chan string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	running   bool
	waiting   bool
	resumeKey string

	msgBase    int
	assessBase int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithInputTimeout overrides the wait for user input after an interrupt.
func WithInputTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.inputTimeout = d
		}
	}
}

// NewOrchestrator creates an orchestrator for the session. The handler
// receives every event the conversation produces.
func NewOrchestrator(bot *kotori.Bot, manager *Manager, sessionID string, handler EventHandler, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		bot:          bot,
		manager:      manager,
		sessionID:    sessionID,
		handler:      handler,
		filter:       NewInterruptFilter(),
		inputTimeout: defaultInputTimeout,
		input:        make(chan string, 1),
		done:         make(chan struct{}),
		msgBase:      -1,
		assessBase:   -1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the drive loop. A session that already has checkpoints
// continues from its latest one instead of greeting again.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator for session %s already running", o.sessionID)
	}
	o.running = true
	o.mu.Unlock()

	ctx, o.cancel = context.WithCancel(ctx)
	go o.loop(ctx)
	return nil
}

// Stop cancels the drive loop. Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done closes when the drive loop has exited.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Waiting reports whether the conversation is blocked on user input.
func (o *Orchestrator) Waiting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waiting
}

// SendUserMessage queues a user message for the drive loop. It reports
// whether the message was accepted: messages are rejected while no
// prompt is pending, and the queue holds a single message.
func (o *Orchestrator) SendUserMessage(text string) bool {
	if !o.Waiting() {
		return false
	}
	select {
	case o.input <- text:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) setWaiting(waiting bool) {
	o.mu.Lock()
	o.waiting = waiting
	o.mu.Unlock()
}

// setPending marks the conversation as blocked on input for the given
// suspend key.
func (o *Orchestrator) setPending(key string) {
	o.mu.Lock()
	o.waiting = true
	o.resumeKey = key
	o.mu.Unlock()
}

// takePending clears the waiting state and returns the suspend key of
// the prompt being answered, if known.
func (o *Orchestrator) takePending() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := o.resumeKey
	o.waiting = false
	o.resumeKey = ""
	return key
}

func (o *Orchestrator) emit(eventType string, data map[string]any) {
	if o.handler == nil {
		return
	}
	o.handler(Event{
		Type:      eventType,
		Data:      data,
		SessionID: o.sessionID,
		Timestamp: time.Now().UTC(),
	})
}

type driveResult int

const (
	driveCompleted driveResult = iota
	driveInterrupted
	driveFailed
	driveCanceled
)

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	input, ok := o.initialInput(ctx)
	if !ok {
		return
	}

	consecutiveErrs := 0
	for {
		result, interrupt, err := o.drive(ctx, input)
		input = nil

		switch result {
		case driveCanceled:
			return

		case driveFailed:
			consecutiveErrs++
			o.emit(EventError, map[string]any{"message": err.Error()})
			if consecutiveErrs >= maxConsecutiveErrors {
				log.Errorf("session %s: giving up after %d consecutive errors", o.sessionID, consecutiveErrs)
				o.end(EndReasonError)
				return
			}
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return
			}

		case driveCompleted:
			o.end(EndReasonCompleted)
			return

		case driveInterrupted:
			consecutiveErrs = 0
			prompt, _ := interrupt.Value.(string)
			accepted := o.filter.Accept(prompt, o.Waiting())
			o.setPending(interrupt.TaskID)
			if accepted {
				o.emit(EventAIResponse, map[string]any{"content": prompt})
			}
			// A rejected duplicate is not re-delivered, but the graph is
			// still blocked on input.

			input, ok = o.awaitInput(ctx)
			if !ok {
				return
			}
		}
	}
}

// initialInput decides how the first drive starts. A thread with no
// checkpoints starts fresh; a thread paused on an interrupt waits for
// the user's reply without re-running the interrupted node; anything
// else continues from the latest checkpoint.
func (o *Orchestrator) initialInput(ctx context.Context) (any, bool) {
	ckpt, err := o.bot.LatestCheckpoint(ctx, o.sessionID)
	if err != nil {
		o.emit(EventError, map[string]any{"message": err.Error()})
		return nil, false
	}
	switch {
	case ckpt == nil:
		o.msgBase = 0
		o.assessBase = 0
		return kotori.InitialState(), true
	case ckpt.Source == graph.SourceInterrupt:
		o.setWaiting(true)
		return o.awaitInput(ctx)
	default:
		return nil, true
	}
}

// awaitInput blocks until the user replies, the input timeout expires,
// or the orchestrator is stopped. It returns the resume command for the
// next drive, targeting the pending suspend key when one is known.
func (o *Orchestrator) awaitInput(ctx context.Context) (any, bool) {
	select {
	case text := <-o.input:
		key := o.takePending()
		o.emit(EventUserMessage, map[string]any{"content": text})
		if isExitCommand(text) {
			o.end(EndReasonUserExit)
			return nil, false
		}
		if key != "" {
			return graph.NewResumeCommand().AddResumeValue(key, text), true
		}
		return graph.NewResumeCommand().WithResume(text), true

	case <-time.After(o.inputTimeout):
		log.Infof("session %s: no input for %s, ending conversation", o.sessionID, o.inputTimeout)
		o.end(EndReasonTimeout)
		return nil, false

	case <-ctx.Done():
		return nil, false
	}
}

// drive consumes one executor stream. It returns how the leg ended and,
// for interrupts, the interrupt carrying the prompt and suspend key.
func (o *Orchestrator) drive(ctx context.Context, input any) (driveResult, *graph.GraphInterrupt, error) {
	ch, err := o.bot.Stream(ctx, input, o.sessionID)
	if err != nil {
		return driveFailed, nil, err
	}

	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			return driveFailed, nil, chunk.Err

		case chunk.Interrupt != nil:
			return driveInterrupted, chunk.Interrupt, nil

		default:
			o.observe(chunk)
		}
	}
	if ctx.Err() != nil {
		return driveCanceled, nil, ctx.Err()
	}
	return driveCompleted, nil, nil
}

// observe publishes state_change, tool and assessment events for one
// completed node.
func (o *Orchestrator) observe(chunk *graph.Chunk) {
	state := chunk.State

	messages, _ := state[graph.StateKeyMessages].([]model.Message)
	if o.msgBase < 0 || o.msgBase > len(messages) {
		o.msgBase = len(messages)
	}
	for _, msg := range messages[o.msgBase:] {
		o.observeMessage(msg)
	}
	o.msgBase = len(messages)

	history, _ := state[kotori.StateKeyAssessmentHistory].([]string)
	if o.assessBase < 0 || o.assessBase > len(history) {
		o.assessBase = len(history)
	}
	for _, entry := range history[o.assessBase:] {
		metrics := ParseAssessmentMetrics(entry)
		o.emit(EventAssessmentUpdate, map[string]any{
			"assessment": entry,
			"metrics":    metrics,
		})
	}
	o.assessBase = len(history)

	info := stateInfoFrom(chunk.Node, state)
	if err := o.manager.UpdateStateInfo(o.sessionID, info); err != nil {
		log.Debugf("session %s: state info update: %v", o.sessionID, err)
	}
	o.emit(EventStateChange, map[string]any{
		"node":  chunk.Node,
		"state": info,
	})
}

func (o *Orchestrator) observeMessage(msg model.Message) {
	switch {
	case msg.Role == model.RoleAssistant && len(msg.ToolCalls) > 0:
		for _, call := range msg.ToolCalls {
			o.emit(EventToolCall, map[string]any{
				"tool_call_id": call.ID,
				"tool_name":    call.Function.Name,
				"arguments":    string(call.Function.Arguments),
			})
		}
	case msg.Role == model.RoleTool:
		o.emit(EventToolMessage, map[string]any{
			"tool_call_id": msg.ToolID,
			"tool_name":    msg.ToolName,
			"content":      msg.Content,
		})
	}
}

func (o *Orchestrator) end(reason string) {
	o.setWaiting(false)
	if err := o.manager.SetActive(o.sessionID, false); err != nil && !errors.Is(err, ErrSessionNotFound) {
		log.Errorf("session %s: deactivate: %v", o.sessionID, err)
	}
	o.emit(EventConversationEnd, map[string]any{"reason": reason})
}

func stateInfoFrom(node string, state graph.State) StateInfo {
	info := StateInfo{CurrentNode: node}
	info.NextNode, _ = state[kotori.StateKeyNext].(string)
	info.LearningGoals, _ = state[kotori.StateKeyLearningGoals].(string)
	info.ActiveCard, _ = state[kotori.StateKeyActiveCard].(string)
	if history, ok := state[kotori.StateKeyAssessmentHistory].([]string); ok {
		info.AssessmentHistory = append([]string(nil), history...)
	}
	info.Counter, _ = state[kotori.StateKeyCounter].(int)
	return info
}

func isExitCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "exit", "quit":
		return true
	}
	return false
}
