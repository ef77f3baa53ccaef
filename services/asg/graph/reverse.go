// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

// sourceRef is one source of a (target, edge) pair. count is the number of
// times the source's slot holds the target; it is above one only for
// reference lists that repeat a target.
type sourceRef struct {
	id    NodeID
	count int
}

// reverseIndex maps (target, edge) to the ordered set of sources.
//
// Sources are kept in first-insertion order. While built is false every
// update is skipped; the index is replayed from the forward edges when it
// is first needed.
type reverseIndex struct {
	built  bool
	byNode map[NodeID]map[schema.EdgeID][]sourceRef
}

func newReverseIndex() *reverseIndex {
	return &reverseIndex{
		byNode: make(map[NodeID]map[schema.EdgeID][]sourceRef),
	}
}

func (r *reverseIndex) insert(target NodeID, e *schema.Edge, src NodeID) {
	if !r.built {
		return
	}
	slots := r.byNode[target]
	if slots == nil {
		slots = make(map[schema.EdgeID][]sourceRef)
		r.byNode[target] = slots
	}
	refs := slots[e.ID]
	for i := range refs {
		if refs[i].id == src {
			refs[i].count++
			return
		}
	}
	slots[e.ID] = append(refs, sourceRef{id: src, count: 1})
}

func (r *reverseIndex) remove(target NodeID, e *schema.Edge, src NodeID) {
	if !r.built {
		return
	}
	slots := r.byNode[target]
	refs := slots[e.ID]
	for i := range refs {
		if refs[i].id != src {
			continue
		}
		refs[i].count--
		if refs[i].count > 0 {
			return
		}
		refs = slices.Delete(refs, i, i+1)
		if len(refs) == 0 {
			delete(slots, e.ID)
			if len(slots) == 0 {
				delete(r.byNode, target)
			}
		} else {
			slots[e.ID] = refs
		}
		return
	}
}

func (r *reverseIndex) sources(target NodeID, edge schema.EdgeID) []NodeID {
	refs := r.byNode[target][edge]
	if len(refs) == 0 {
		return nil
	}
	out := make([]NodeID, len(refs))
	for i, ref := range refs {
		out[i] = ref.id
	}
	return out
}

// incoming returns a snapshot of every (edge, sources) pair targeting id.
func (r *reverseIndex) incoming(target NodeID) map[schema.EdgeID][]NodeID {
	slots := r.byNode[target]
	out := make(map[schema.EdgeID][]NodeID, len(slots))
	for edge := range slots {
		out[edge] = r.sources(target, edge)
	}
	return out
}

func (r *reverseIndex) dropTarget(target NodeID) {
	delete(r.byNode, target)
}

// entries returns the number of (target, edge, source) triples.
func (r *reverseIndex) entries() int {
	total := 0
	for _, slots := range r.byNode {
		for _, refs := range slots {
			total += len(refs)
		}
	}
	return total
}

// diff compares two indexes as multisets, ignoring source order, and
// describes the first difference. It returns "" when they agree.
func (r *reverseIndex) diff(other *reverseIndex) string {
	if len(r.byNode) != len(other.byNode) {
		return fmt.Sprintf("%d indexed targets, expected %d", len(r.byNode), len(other.byNode))
	}
	for target, slots := range other.byNode {
		mine := r.byNode[target]
		if len(mine) != len(slots) {
			return fmt.Sprintf("target %d has %d indexed edges, expected %d", target, len(mine), len(slots))
		}
		for edge, refs := range slots {
			if !sameRefs(mine[edge], refs) {
				return fmt.Sprintf("target %d edge %d: sources %v, expected %v",
					target, edge, refIDs(mine[edge]), refIDs(refs))
			}
		}
	}
	return ""
}

func sameRefs(a, b []sourceRef) bool {
	if len(a) != len(b) {
		return false
	}
	sortRefs := func(refs []sourceRef) []sourceRef {
		out := slices.Clone(refs)
		slices.SortFunc(out, func(x, y sourceRef) int { return int(x.id) - int(y.id) })
		return out
	}
	return slices.Equal(sortRefs(a), sortRefs(b))
}

func refIDs(refs []sourceRef) []NodeID {
	out := make([]NodeID, len(refs))
	for i, ref := range refs {
		out[i] = ref.id
	}
	return out
}

// replay builds a fresh index from the forward edges of f.
func replay(f *Factory) *reverseIndex {
	idx := newReverseIndex()
	idx.built = true
	for _, n := range f.Nodes() {
		for _, e := range n.kind.Edges() {
			if e.List {
				for _, t := range n.lists[e.Slot] {
					idx.insert(t, e, n.id)
				}
			} else if t := n.singles[e.Slot]; t != NoNode {
				idx.insert(t, e, n.id)
			}
		}
	}
	return idx
}

// RebuildReverseIndex discards the reverse index and replays every forward
// edge once.
//
// Description:
//
//	Needed only after bulk operations that bypassed the index, or to turn
//	a lazily indexed factory into an eagerly indexed one. Sources end up in
//	ascending id order.
//
// Thread Safety: Not safe for concurrent use.
func (f *Factory) RebuildReverseIndex(ctx context.Context) {
	_, span := f.startSpan(ctx, "RebuildReverseIndex")
	defer span.End()

	start := time.Now()
	f.reverse = replay(f)
	reverseBuildNodes.Observe(float64(f.live))

	span.SetAttributes(attribute.Int("asg.reverse_entries", f.reverse.entries()))
	f.logger.Debug("reverse index built",
		slog.Int("nodes", f.live),
		slog.Int("entries", f.reverse.entries()),
		slog.Duration("duration", time.Since(start)),
	)
}

// ensureReverse builds the reverse index if it is still deferred.
func (f *Factory) ensureReverse() {
	if !f.reverse.built {
		f.RebuildReverseIndex(context.Background())
	}
}

// ReverseIndexBuilt reports whether the reverse index is materialized.
func (f *Factory) ReverseIndexBuilt() bool {
	return f.reverse.built
}

// SourcesOf returns the nodes whose slot e currently contains target.
//
// Description:
//
//	Sources appear once each, in the order they first linked to target
//	(ascending id after a rebuild). Filtered sources are included. Builds
//	the index first if it was deferred.
//
// Outputs:
//
//	[]NodeID - A copy of the sources. Empty if none.
func (f *Factory) SourcesOf(target NodeID, e *schema.Edge) []NodeID {
	f.ensureReverse()
	return f.reverse.sources(target, e.ID)
}

// Incoming returns every edge pointing at target, grouped by edge slot.
func (f *Factory) Incoming(target NodeID) map[*schema.Edge][]NodeID {
	f.ensureReverse()
	raw := f.reverse.incoming(target)
	out := make(map[*schema.Edge][]NodeID, len(raw))
	for id, sources := range raw {
		if e, ok := f.cat.EdgeByID(id); ok {
			out[e] = sources
		}
	}
	return out
}
