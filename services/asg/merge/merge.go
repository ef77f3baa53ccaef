// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merge combines arenas built independently.
//
// A Factory is single-writer, so concurrent construction runs one arena per
// worker and merges the results. Merging moves the source arena onto the
// destination's string table (each distinct string is interned once) and
// copies every node to a fresh destination id.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

var tracer = otel.Tracer("aleutian.asg.merge")

// ErrCatalogueMismatch is returned when merging arenas of different
// catalogues.
var ErrCatalogueMismatch = errors.New("arenas use different catalogues")

// ErrSameArena is returned when merging an arena into itself.
var ErrSameArena = errors.New("cannot merge an arena into itself")

// IDMap maps source ids to destination ids.
type IDMap map[graph.NodeID]graph.NodeID

// Merge copies every live node of src into dst.
//
// Description:
//
//	First swaps src onto dst's string table through one remap cache, so
//	src afterwards shares dst's table. Then creates a dst node per src
//	node in ascending id order, copies attributes and filter flags, and
//	relinks every edge through the id map. Owning structure, reference
//	edges, list order and reverse index entries carry over.
//
//	If copying fails, every node created in dst is deleted again. The
//	string swap of src is kept, since it is harmless to src.
//
// Inputs:
//
//	ctx - Context for tracing.
//	dst - The destination, in the building state.
//	src - The source, in the building state, sharing dst's catalogue.
//
// Outputs:
//
//	IDMap - src id to dst id for every copied node.
//	error - Non-nil on catalogue mismatch, frozen factories or capacity.
func Merge(ctx context.Context, dst, src *graph.Factory) (IDMap, error) {
	if dst == src {
		return nil, ErrSameArena
	}
	if dst.Catalogue() != src.Catalogue() {
		return nil, fmt.Errorf("%w: %q and %q", ErrCatalogueMismatch,
			dst.Catalogue().Name(), src.Catalogue().Name())
	}

	_, span := tracer.Start(ctx, "merge.Merge",
		trace.WithAttributes(
			attribute.String("asg.dst_arena", dst.ArenaID().String()),
			attribute.String("asg.src_arena", src.ArenaID().String()),
			attribute.Int("asg.src_nodes", src.NodeCount()),
		),
	)
	defer span.End()
	start := time.Now()

	cache := strtable.NewRemapCache()
	if err := src.SwapStrings(dst.Strings(), cache); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "string swap failed")
		return nil, fmt.Errorf("swapping strings: %w", err)
	}

	ids, err := copyNodes(dst, src)
	if err != nil {
		rollback(dst, ids)
		span.RecordError(err)
		span.SetStatus(codes.Error, "copy failed")
		return nil, err
	}

	hits, misses := cache.Stats()
	span.SetAttributes(attribute.Int("asg.strings_interned", misses))
	dst.Logger().Debug("arena merged",
		slog.String("src_arena", src.ArenaID().String()),
		slog.Int("nodes", len(ids)),
		slog.Int("string_hits", hits),
		slog.Int("string_misses", misses),
		slog.Duration("duration", time.Since(start)),
	)
	return ids, nil
}

func copyNodes(dst, src *graph.Factory) (IDMap, error) {
	ids := make(IDMap, src.NodeCount())
	for id, n := range src.Nodes() {
		nid, err := dst.Create(n.Kind())
		if err != nil {
			return ids, fmt.Errorf("copying node %d: %w", id, err)
		}
		ids[id] = nid
	}

	for id, n := range src.Nodes() {
		nid := ids[id]
		for _, a := range n.Kind().Attrs() {
			if err := dst.SetAttrRaw(nid, a, n.Attr(a)); err != nil {
				return ids, fmt.Errorf("copying %s of node %d: %w", a.QualifiedName(), id, err)
			}
		}
		for _, e := range n.Kind().Edges() {
			for _, t := range n.Targets(e) {
				if err := dst.LinkRaw(nid, e, ids[t]); err != nil {
					return ids, fmt.Errorf("relinking node %d: %w", id, err)
				}
			}
		}
		if n.IsFiltered() {
			if err := dst.SetFiltered(nid); err != nil {
				return ids, err
			}
		}
	}
	return ids, nil
}

// rollback deletes the nodes a failed merge created, highest id first.
func rollback(dst *graph.Factory, ids IDMap) {
	created := make([]graph.NodeID, 0, len(ids))
	for _, nid := range ids {
		created = append(created, nid)
	}
	slices.Sort(created)
	for _, nid := range slices.Backward(created) {
		if dst.Exists(nid) {
			_, _ = dst.Delete(nid)
		}
	}
}
