//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"regexp"
	"strconv"
	"strings"
)

// AssessmentMetrics is the structured form of a rubric assessment,
// extracted from the assessment text for the assessment_update event.
type AssessmentMetrics struct {
	VocabularyUsage       int    `json:"vocabulary_usage,omitempty"`
	Comprehension         int    `json:"comprehension,omitempty"`
	ContextualApplication int    `json:"contextual_application,omitempty"`
	OverallMastery        int    `json:"overall_mastery,omitempty"`
	NextSteps             string `json:"next_steps,omitempty"`
}

var (
	scoreBracketPattern = regexp.MustCompile(`\[score ([1-5])-5\]`)
	scoreSlashPattern   = regexp.MustCompile(`([1-5])\s*/\s*5`)
	scoreColonPattern   = regexp.MustCompile(`:\s*([1-5])\b`)
)

// ParseAssessmentMetrics extracts per-axis scores from an assessment
// text. Lines that do not match any score pattern are left at zero.
func ParseAssessmentMetrics(text string) AssessmentMetrics {
	var metrics AssessmentMetrics
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.Contains(lower, "vocabulary_usage:") || strings.Contains(lower, "language use:"):
			metrics.VocabularyUsage = extractScore(lower)
		case strings.Contains(lower, "comprehension:") || strings.Contains(lower, "communication:"):
			metrics.Comprehension = extractScore(lower)
		case strings.Contains(lower, "contextual_application:") || strings.Contains(lower, "progress:"):
			metrics.ContextualApplication = extractScore(lower)
		case strings.Contains(lower, "overall"):
			metrics.OverallMastery = extractScore(lower)
		case strings.Contains(lower, "next_steps") || strings.Contains(lower, "next steps"):
			if _, after, ok := strings.Cut(line, ":"); ok {
				metrics.NextSteps = strings.TrimSpace(after)
			}
		}
	}
	return metrics
}

func extractScore(line string) int {
	for _, pattern := range []*regexp.Regexp{
		scoreBracketPattern,
		scoreSlashPattern,
		scoreColonPattern,
	} {
		if m := pattern.FindStringSubmatch(line); m != nil {
			score, err := strconv.Atoi(m[1])
			if err == nil {
				return score
			}
		}
	}
	return 0
}
