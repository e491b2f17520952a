//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package graph

// Well-known state keys.
const (
	// StateKeyMessages holds the conversation history ([]model.Message).
	StateKeyMessages = "messages"

	// ResumeChannel carries a single resume value injected by a
	// ResumeCommand.
	ResumeChannel = "__resume__"
	// StateKeyResumeMap carries per-key resume values.
	StateKeyResumeMap = "__resume_map__"
)

// Configuration keys used in executor configs and checkpoints.
const (
	CfgKeyConfigurable = "configurable"
	CfgKeyThreadID     = "thread_id"
	CfgKeyCheckpointID = "checkpoint_id"
)
