//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"errors"
	"fmt"
	"time"
)

// GraphInterrupt represents an interrupt in graph execution that can be
// resumed. It implements error so that node functions can surface it
// through the normal error path.
type GraphInterrupt struct {
	// Value is the value that was passed to the interrupt, typically the
	// prompt shown to the user.
	Value any
	// NodeID is the ID of the node where the interrupt occurred.
	NodeID string
	// TaskID is the suspend key of the paused suspension.
	TaskID string
	// Step is the step number when the interrupt occurred.
	Step int
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time
}

// Error returns the error message for the interrupt.
func (g *GraphInterrupt) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (step %d): %v", g.NodeID, g.Step, g.Value)
}

// NewInterrupt creates a new GraphInterrupt with the given value.
func NewInterrupt(value any) *GraphInterrupt {
	return &GraphInterrupt{
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// IsInterrupt checks if an error is a GraphInterrupt.
func IsInterrupt(err error) bool {
	var gi *GraphInterrupt
	return errors.As(err, &gi)
}

// GetInterrupt extracts a GraphInterrupt from an error.
func GetInterrupt(err error) (*GraphInterrupt, bool) {
	var gi *GraphInterrupt
	if errors.As(err, &gi) {
		return gi, true
	}
	return nil, false
}

// ResumeCommand resumes an interrupted graph run.
type ResumeCommand struct {
	// Resume is the value returned to the suspended node.
	Resume any
	// ResumeMap maps suspend keys to resume values.
	ResumeMap map[string]any
}

// NewResumeCommand creates a new resume command.
func NewResumeCommand() *ResumeCommand {
	return &ResumeCommand{ResumeMap: make(map[string]any)}
}

// WithResume sets the resume value.
func (c *ResumeCommand) WithResume(value any) *ResumeCommand {
	c.Resume = value
	return c
}

// AddResumeValue adds a resume value for a specific suspend key.
func (c *ResumeCommand) AddResumeValue(key string, value any) *ResumeCommand {
	if c.ResumeMap == nil {
		c.ResumeMap = make(map[string]any)
	}
	c.ResumeMap[key] = value
	return c
}
