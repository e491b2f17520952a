//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
)

// Suspend suspends execution at the current node and surfaces the prompt
// value. On resume it returns the resume value that was provided, taken
// either from the single resume channel or from the resume map entry for
// the suspend key.
func Suspend(ctx context.Context, state State, key string, prompt any) (any, error) {
	if resumeValue, exists := state[ResumeChannel]; exists {
		// Clear the resume value to avoid reusing it
		delete(state, ResumeChannel)
		return resumeValue, nil
	}

	if resumeMap, exists := state[StateKeyResumeMap]; exists {
		if typed, ok := resumeMap.(map[string]any); ok {
			if resumeValue, exists := typed[key]; exists {
				delete(typed, key)
				return resumeValue, nil
			}
		}
	}

	// Not resuming, so suspend with the prompt. The key travels on the
	// interrupt so the caller can resume this suspension specifically.
	interrupt := NewInterrupt(prompt)
	interrupt.TaskID = key
	return nil, interrupt
}

// ClearAllResumeValues clears all resume values from the state.
func ClearAllResumeValues(state State) {
	delete(state, ResumeChannel)
	delete(state, StateKeyResumeMap)
}
