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
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
)

var tracer = otel.Tracer("aleutian.asg.analysis")

// CloneGroup is a set of structurally identical subtrees.
type CloneGroup struct {
	// Hash is the shared structural hash.
	Hash uint32

	// Kind is the kind name of the subtree roots.
	Kind string

	// Size is the number of nodes in each subtree, root included.
	Size int

	// Nodes are the subtree roots in ascending id order.
	Nodes []graph.NodeID
}

// CloneGroups groups subtree roots by structural hash.
//
// Description:
//
//	Considers every live, unfiltered node that currently owns at least one
//	child and whose owned subtree has at least minSize nodes. Nodes sharing
//	kind and hash form a group; only groups with two or more members are
//	returned. Groups are ordered by Size descending, then by first member.
//
// Inputs:
//
//	ctx - Context for tracing.
//	f - The factory to scan. Must not be mutated concurrently.
//	minSize - Minimum subtree size. Values below 2 are treated as 2.
//
// Outputs:
//
//	[]CloneGroup - The groups, possibly empty.
//	error - Non-nil if hashing fails.
func CloneGroups(ctx context.Context, f *graph.Factory, minSize int) ([]CloneGroup, error) {
	_, span := tracer.Start(ctx, "analysis.CloneGroups")
	defer span.End()

	minSize = max(minSize, 2)
	hasher := NewHasher(f)
	sizes := make(map[graph.NodeID]int)

	type groupKey struct {
		kind string
		hash uint32
	}
	groups := make(map[groupKey]*CloneGroup)

	for id, n := range f.Nodes() {
		if n.IsFiltered() {
			continue
		}
		size := subtreeSize(n, sizes)
		if size < minSize {
			continue
		}
		h, err := hasher.Hash(id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "hash failed")
			return nil, err
		}
		key := groupKey{kind: n.Kind().Name, hash: h}
		g := groups[key]
		if g == nil {
			g = &CloneGroup{Hash: h, Kind: key.kind, Size: size}
			groups[key] = g
		}
		g.Nodes = append(g.Nodes, id)
	}

	var out []CloneGroup
	for _, g := range groups {
		if len(g.Nodes) >= 2 {
			out = append(out, *g)
		}
	}
	slices.SortFunc(out, func(a, b CloneGroup) int {
		if a.Size != b.Size {
			return b.Size - a.Size
		}
		return int(a.Nodes[0]) - int(b.Nodes[0])
	})

	span.SetAttributes(attribute.Int("asg.clone_groups", len(out)))
	f.Logger().Debug("clone scan complete",
		slog.Int("groups", len(out)),
		slog.Int("min_size", minSize),
	)
	return out, nil
}

// subtreeSize counts n and everything it owns.
func subtreeSize(n *graph.Node, memo map[graph.NodeID]int) int {
	if s, ok := memo[n.ID()]; ok {
		return s
	}
	size := 1
	for _, e := range n.Kind().Edges() {
		if !e.Owning {
			continue
		}
		for _, t := range n.Targets(e) {
			if child, err := n.Factory().Get(t); err == nil {
				size += subtreeSize(child, memo)
			}
		}
	}
	memo[n.ID()] = size
	return size
}
