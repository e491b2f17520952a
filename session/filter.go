//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// The same logical interrupt may be observed more than once across
// stream iterations; exactly one must reach the client.
const (
	// interruptCooldown is the minimum gap between accepted interrupts.
	interruptCooldown = 500 * time.Millisecond
	// similarityThreshold rejects near-identical consecutive prompts.
	similarityThreshold = 0.80
	// trackingHighWater / trackingLowWater bound the dedupe sets.
	trackingHighWater = 100
	trackingLowWater  = 50
)

var (
	punctPattern     = regexp.MustCompile(`[^\w\s]`)
	alphaWordPattern = regexp.MustCompile(`[a-zA-Z]+`)
	keyPhrasePattern = regexp.MustCompile(`\b\w{4,}\b`)
)

// InterruptFilter decides whether an interrupt prompt is a duplicate of
// one already delivered. Safe for concurrent use.
type InterruptFilter struct {
	mu          sync.Mutex
	lastContent string
	lastAt      time.Time

	seen  map[string]struct{}
	order []string
}

// NewInterruptFilter creates an empty filter.
func NewInterruptFilter() *InterruptFilter {
	return &InterruptFilter{seen: make(map[string]struct{})}
}

// Accept reports whether the prompt should be delivered. waiting is the
// session's waiting-for-input flag; an interrupt observed while one is
// already pending is always a duplicate.
func (f *InterruptFilter) Accept(content string, waiting bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if waiting {
		return false
	}

	now := time.Now()
	if !f.lastAt.IsZero() && now.Sub(f.lastAt) < interruptCooldown {
		return false
	}

	if f.lastContent != "" &&
		lcsRatio(f.lastContent, content) >= similarityThreshold {
		return false
	}

	v1 := normalizeV1(content)
	v2 := normalizeV2(v1)
	v3 := normalizeV3(content)
	checks := []string{
		v1, v2, v3,
		md5Hex(v1), md5Hex(v2), md5Hex(v3),
	}
	for _, check := range checks {
		if _, dup := f.seen[check]; dup {
			return false
		}
	}
	if sig := phraseSignature(content); sig != "" {
		if _, dup := f.seen[sig]; dup {
			return false
		}
		checks = append(checks, sig)
	}

	f.lastAt = now
	f.lastContent = content
	for _, check := range checks {
		if check == "" {
			continue
		}
		if _, ok := f.seen[check]; !ok {
			f.seen[check] = struct{}{}
			f.order = append(f.order, check)
		}
	}
	f.trim()
	return true
}

// trim drops the oldest tracked entries once the high-water mark is
// passed.
func (f *InterruptFilter) trim() {
	if len(f.order) <= trackingHighWater {
		return
	}
	cut := len(f.order) - trackingLowWater
	for _, stale := range f.order[:cut] {
		delete(f.seen, stale)
	}
	f.order = append([]string(nil), f.order[cut:]...)
}

// normalizeV1 collapses whitespace and lowercases.
func normalizeV1(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// normalizeV2 additionally strips punctuation.
func normalizeV2(v1 string) string {
	return strings.Join(strings.Fields(punctPattern.ReplaceAllString(v1, " ")), " ")
}

// normalizeV3 reduces to sorted unique alphabetic tokens.
func normalizeV3(s string) string {
	words := alphaWordPattern.FindAllString(strings.ToLower(s), -1)
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for w := range unique {
		sorted = append(sorted, w)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// phraseSignature joins the first three long words as a cheap fingerprint
// of prompts that differ only in filler.
func phraseSignature(s string) string {
	phrases := keyPhrasePattern.FindAllString(strings.ToLower(s), -1)
	if len(phrases) < 3 {
		return ""
	}
	head := append([]string(nil), phrases[:3]...)
	sort.Strings(head)
	return strings.Join(head, "|")
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// lcsMaxLen bounds the quadratic similarity computation.
const lcsMaxLen = 400

// lcsRatio computes 2*LCS(a,b) / (len(a)+len(b)) over runes.
func lcsRatio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) > lcsMaxLen {
		ra = ra[:lcsMaxLen]
	}
	if len(rb) > lcsMaxLen {
		rb = rb[:lcsMaxLen]
	}
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}
