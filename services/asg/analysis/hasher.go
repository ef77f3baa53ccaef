// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis provides read-only algorithms over a graph.Factory:
// structural hashing, pairwise similarity and clone grouping.
//
// # Thread Safety
//
// The algorithms read the factory without locking and store memoized hashes
// on the nodes. Run them only while nothing mutates the factory, and from
// one goroutine per factory.
package analysis

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

// Hasher computes cycle-safe structural hashes.
//
// Description:
//
//	A node's hash is seeded with the fully qualified name of its kind,
//	then folds in every attribute and every edge slot in declaration order
//	(base kinds first). String attributes contribute their text, so equal
//	subtrees hash equally across arenas with different string tables.
//	Edge targets contribute their own hash recursively, owning and
//	reference edges alike. Filtered nodes are hashed like any other.
//
//	A node reached again while it is still being hashed contributes 0 for
//	that occurrence, which makes hashing terminate on reference cycles.
//
// Memoization:
//
//	A hash is stored on the node together with the factory's mutation
//	epoch, so any later mutation invalidates it. Hashes whose computation
//	cut a cycle depend on where the walk started and are only reused
//	within the same Hash call.
type Hasher struct {
	f *graph.Factory
}

// NewHasher creates a hasher for f.
func NewHasher(f *graph.Factory) *Hasher {
	return &Hasher{f: f}
}

// hashCall is the state of one top-level Hash call.
type hashCall struct {
	f        *graph.Factory
	visiting map[graph.NodeID]struct{}
	local    map[graph.NodeID]uint32
	buf      [4]byte
}

// Hash returns the structural hash of id.
//
// Errors:
//
//	graph.ErrNotFound - id is not live
//	strtable.ErrUnknownKey - a string attribute holds a key unknown to the
//	  factory's table (corrupt arena)
//
// Complexity: O(V + E) of the reachable subgraph on a cold cache.
func (h *Hasher) Hash(id graph.NodeID) (uint32, error) {
	n, err := h.f.Get(id)
	if err != nil {
		return 0, err
	}
	if v, ok := n.CachedHash(); ok {
		return v, nil
	}
	call := &hashCall{
		f:        h.f,
		visiting: make(map[graph.NodeID]struct{}),
		local:    make(map[graph.NodeID]uint32),
	}
	v, _, err := call.hash(n)
	return v, err
}

// hash returns the node's hash and whether a cycle was cut below it.
func (c *hashCall) hash(n *graph.Node) (uint32, bool, error) {
	if v, ok := n.CachedHash(); ok {
		return v, false, nil
	}
	if v, ok := c.local[n.ID()]; ok {
		return v, true, nil
	}
	if _, ok := c.visiting[n.ID()]; ok {
		return 0, true, nil
	}
	c.visiting[n.ID()] = struct{}{}
	defer delete(c.visiting, n.ID())

	kind := n.Kind()
	d := xxhash.New()
	_, _ = d.WriteString(kind.FullyQualifiedName())

	for _, a := range kind.Attrs() {
		raw := n.Attr(a)
		if a.Type == schema.AttrString {
			text, err := c.f.Strings().Lookup(strtable.Key(raw))
			if err != nil {
				return 0, false, fmt.Errorf("node %d %s: %w", n.ID(), a.QualifiedName(), err)
			}
			c.writeU32(d, uint32(len(text)))
			_, _ = d.WriteString(text)
			continue
		}
		c.writeU32(d, raw)
	}

	cut := false
	for _, e := range kind.Edges() {
		targets := n.Targets(e)
		if e.List {
			c.writeU32(d, uint32(len(targets)))
		}
		if len(targets) == 0 && !e.List {
			c.writeU32(d, 0)
		}
		for _, t := range targets {
			tn, err := c.f.Get(t)
			if err != nil {
				return 0, false, fmt.Errorf("node %d %s: %w", n.ID(), e, err)
			}
			v, childCut, err := c.hash(tn)
			if err != nil {
				return 0, false, err
			}
			cut = cut || childCut
			c.writeU32(d, v)
		}
	}

	sum := d.Sum64()
	v := uint32(sum) ^ uint32(sum>>32)
	if cut {
		c.local[n.ID()] = v
	} else {
		n.StoreHash(v)
	}
	return v, cut, nil
}

func (c *hashCall) writeU32(d *xxhash.Digest, v uint32) {
	binary.LittleEndian.PutUint32(c.buf[:], v)
	_, _ = d.Write(c.buf[:])
}
