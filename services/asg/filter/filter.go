// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filter marks nodes as logically deleted by predicate.
//
// Filtering never changes structure: filtered nodes keep their ids, edges
// and reverse index entries, and are still written by the codec. Only the
// dereferencing edge getters of graph.Factory skip them.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

var nodesFiltered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "asg_filter_nodes_total",
	Help: "Nodes newly flagged as filtered",
})

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown filter mode")

// Predicate selects nodes.
type Predicate func(n *graph.Node) bool

// Mode controls what a match filters.
type Mode int

const (
	// Subtree filters the match and every node it owns, transitively.
	Subtree Mode = iota

	// NodeOnly filters just the match.
	NodeOnly
)

// String returns the config spelling of the mode.
func (m Mode) String() string {
	switch m {
	case Subtree:
		return "subtree"
	case NodeOnly:
		return "node"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "subtree" or "node".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "subtree", "":
		return Subtree, nil
	case "node":
		return NodeOnly, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// ByKinds matches nodes whose kind IsA any of the named kinds.
//
// Errors:
//
//	Returns an error naming the first kind the catalogue does not declare.
func ByKinds(cat *schema.Catalogue, names ...string) (Predicate, error) {
	kinds := make([]*schema.Kind, 0, len(names))
	for _, name := range names {
		k, ok := cat.KindByName(name)
		if !ok {
			return nil, fmt.Errorf("filter kind %q: %w", name, graph.ErrUnknownKind)
		}
		kinds = append(kinds, k)
	}
	return func(n *graph.Node) bool {
		for _, k := range kinds {
			if n.IsA(k) {
				return true
			}
		}
		return false
	}, nil
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(n *graph.Node) bool { return !p(n) }
}

// Any matches when at least one of ps matches. Any() matches nothing.
func Any(ps ...Predicate) Predicate {
	return func(n *graph.Node) bool {
		for _, p := range ps {
			if p(n) {
				return true
			}
		}
		return false
	}
}

// Apply flags every node selected by pred.
//
// Description:
//
//	Visits live nodes in ascending id order. Nodes that are already
//	filtered still have their subtree visited in Subtree mode, so applying
//	a predicate twice is idempotent.
//
// Outputs:
//
//	int - Number of nodes newly filtered.
//	error - Non-nil only if the arena is inconsistent.
func Apply(f *graph.Factory, pred Predicate, mode Mode) (int, error) {
	marked := 0
	mark := func(id graph.NodeID) error {
		if f.IsFiltered(id) {
			return nil
		}
		if err := f.SetFiltered(id); err != nil {
			return err
		}
		marked++
		return nil
	}

	for id, n := range f.Nodes() {
		if !pred(n) {
			continue
		}
		if err := mark(id); err != nil {
			return marked, err
		}
		if mode != Subtree {
			continue
		}
		if err := walkOwned(f, n, mark); err != nil {
			return marked, err
		}
	}

	nodesFiltered.Add(float64(marked))
	f.Logger().Debug("filter applied",
		slog.String("arena_id", f.ArenaID().String()),
		slog.String("mode", mode.String()),
		slog.Int("marked", marked),
		slog.Int("filtered_total", f.FilteredCount()),
	)
	return marked, nil
}

// walkOwned calls visit for every node n owns, transitively, depth first.
func walkOwned(f *graph.Factory, n *graph.Node, visit func(graph.NodeID) error) error {
	stack := []*graph.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range cur.Kind().Edges() {
			if !e.Owning {
				continue
			}
			for _, child := range cur.Targets(e) {
				if err := visit(child); err != nil {
					return err
				}
				c, err := f.Get(child)
				if err != nil {
					return err
				}
				stack = append(stack, c)
			}
		}
	}
	return nil
}

// Reset clears every filter flag and returns how many were cleared.
func Reset(f *graph.Factory) (int, error) {
	cleared := 0
	for id, n := range f.Nodes() {
		if !n.IsFiltered() {
			continue
		}
		if err := f.ClearFiltered(id); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}
