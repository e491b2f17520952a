//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package anki

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

var (
	cardIDPattern = regexp.MustCompile(`ID:\s*(\d+)`)
	// The mastery line accepts both spellings used by the assessment
	// prompts.
	masteryPattern = regexp.MustCompile(`OVERALL(?:_ACTIVE_CARDS)?_MASTERY:\s*([1-5])`)
)

// ParseCardID extracts the card id from an active-card description.
func ParseCardID(activeCard string) (int64, bool) {
	m := cardIDPattern.FindStringSubmatch(activeCard)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ParseMastery extracts the overall mastery score from an assessment.
func ParseMastery(assessment string) (int, bool) {
	m := masteryPattern.FindStringSubmatch(assessment)
	if m == nil {
		return 0, false
	}
	score, err := strconv.Atoi(m[1])
	if err != nil || score < 1 || score > 5 {
		return 0, false
	}
	return score, true
}

// GradeFromAssessment grades the active card according to the assessment
// text. The card is first moved into the learning queue so the grade
// takes effect immediately. Returns a summary suitable for a tool-result
// message. When the id or mastery patterns do not match, no grade is
// scheduled and the summary says so.
func GradeFromAssessment(ctx context.Context, client *Client, activeCard, assessment string) string {
	cardID, ok := ParseCardID(activeCard)
	if !ok {
		return "No card graded: card id not found in active card"
	}
	mastery, ok := ParseMastery(assessment)
	if !ok {
		return "No card graded: mastery score not found in assessment"
	}

	ease := mastery
	if ease > 4 {
		ease = 4
	}

	if err := client.RelearnCards(ctx, []int64{cardID}); err != nil {
		return toolError(err)
	}
	return answerOne(ctx, client, cardID, ease) +
		fmt.Sprintf(" (mastery %d/5)", mastery)
}
