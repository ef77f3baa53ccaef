// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

// Default similarity thresholds.
const (
	// DefaultSimilarityMinimum is the score two nodes of the same kind get
	// for maximally different strings.
	DefaultSimilarityMinimum = 0.9

	// DefaultSimilarityMinForStrings is the per-attribute similarity below
	// which a pair scores 0.
	DefaultSimilarityMinForStrings = 0.7
)

// ErrInvalidThreshold is returned by Scorer.Validate.
var ErrInvalidThreshold = errors.New("similarity threshold out of range")

// Scorer computes bounded pairwise similarity of same-kind nodes.
//
// Description:
//
//	Nodes of different kinds score 0. For nodes of the same kind every
//	string attribute is compared by normalized edit distance,
//	1 - distance / max(runeLen(a), runeLen(b), 1). If any attribute falls
//	below MinForStrings the pair scores 0. Otherwise the mean attribute
//	similarity s is rescaled into [Minimum, 1] as Minimum + s*(1-Minimum).
//	A kind without string attributes scores 1, and a node compared with
//	itself always scores 1.
//
// Thread Safety: Scorer is a value with no mutable state.
type Scorer struct {
	// Minimum is the floor for same-kind pairs, in [0,1).
	Minimum float64

	// MinForStrings is the per-attribute disqualification floor, in [0,1].
	MinForStrings float64
}

// DefaultScorer returns a scorer with the default thresholds.
func DefaultScorer() Scorer {
	return Scorer{
		Minimum:       DefaultSimilarityMinimum,
		MinForStrings: DefaultSimilarityMinForStrings,
	}
}

// Validate checks the thresholds.
func (s Scorer) Validate() error {
	if s.Minimum < 0 || s.Minimum >= 1 {
		return fmt.Errorf("%w: minimum %v not in [0,1)", ErrInvalidThreshold, s.Minimum)
	}
	if s.MinForStrings < 0 || s.MinForStrings > 1 {
		return fmt.Errorf("%w: string minimum %v not in [0,1]", ErrInvalidThreshold, s.MinForStrings)
	}
	return nil
}

// Similarity scores a against b. The nodes may belong to different
// factories; each string is resolved through its own factory's table.
//
// Outputs:
//
//	float64 - A value in [0,1], symmetric in a and b.
//	error - Non-nil if a string key cannot be resolved.
func (s Scorer) Similarity(a, b *graph.Node) (float64, error) {
	if a == b {
		return 1, nil
	}
	if a == nil || b == nil || a.Kind() != b.Kind() {
		return 0, nil
	}

	attrs := a.Kind().StringAttrs()
	if len(attrs) == 0 {
		return 1, nil
	}

	total := 0.0
	for _, attr := range attrs {
		sa, err := lookup(a, a.Attr(attr))
		if err != nil {
			return 0, err
		}
		sb, err := lookup(b, b.Attr(attr))
		if err != nil {
			return 0, err
		}
		sim := StringSimilarity(sa, sb)
		if sim < s.MinForStrings {
			return 0, nil
		}
		total += sim
	}

	mean := total / float64(len(attrs))
	return clamp(s.Minimum + mean*(1-s.Minimum)), nil
}

// StringSimilarity returns 1 - distance/max(len,1) with lengths counted in
// runes.
func StringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b), 1)
	d := levenshtein.Distance(a, b, nil)
	return clamp(1 - float64(d)/float64(longest))
}

func lookup(n *graph.Node, raw uint32) (string, error) {
	text, err := n.Factory().Strings().Lookup(strtable.Key(raw))
	if err != nil {
		return "", fmt.Errorf("node %d: %w", n.ID(), err)
	}
	return text, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
