// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

// Builder populates one private arena.
type Builder func(ctx context.Context, f *graph.Factory) error

// Result is the outcome of BuildParallel.
type Result struct {
	// Factory holds every builder's nodes.
	Factory *graph.Factory

	// IDMaps[i] maps the ids builder i saw to ids in Factory.
	IDMaps []IDMap
}

// BuildParallel runs builders concurrently and merges their arenas.
//
// Description:
//
//	Each builder gets its own factory, so builders never share mutable
//	state. At most limit builders run at once; limit <= 0 means no limit.
//	After all builders succeed, their arenas are merged into a new
//	factory in builder order, which makes the result independent of
//	scheduling.
//
// Inputs:
//
//	ctx - Cancelled for the remaining builders once one fails.
//	cat - Catalogue for every arena.
//	limit - Maximum concurrent builders.
//	builders - The builders.
//	opts - Options for every factory. Do not pass graph.WithStringTable:
//	       a table cannot be shared between concurrent builders.
//
// Outputs:
//
//	*Result - The merged factory and per-builder id maps.
//	error - The first builder error, or a merge error.
//
// Thread Safety: Safe to call concurrently. Builders must only touch the
// factory they are given.
func BuildParallel(ctx context.Context, cat *schema.Catalogue, limit int, builders []Builder, opts ...graph.Option) (*Result, error) {
	ctx, span := tracer.Start(ctx, "merge.BuildParallel",
		trace.WithAttributes(
			attribute.Int("asg.builders", len(builders)),
			attribute.Int("asg.limit", limit),
		),
	)
	defer span.End()
	start := time.Now()

	arenas := make([]*graph.Factory, len(builders))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, build := range builders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f := graph.NewFactory(cat, opts...)
			if err := build(gctx, f); err != nil {
				return fmt.Errorf("builder %d: %w", i, err)
			}
			arenas[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "builder failed")
		return nil, err
	}

	out := &Result{
		Factory: graph.NewFactory(cat, opts...),
		IDMaps:  make([]IDMap, len(arenas)),
	}
	for i, f := range arenas {
		ids, err := Merge(ctx, out.Factory, f)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "merge failed")
			return nil, fmt.Errorf("merging builder %d: %w", i, err)
		}
		out.IDMaps[i] = ids
	}

	span.SetAttributes(attribute.Int("asg.node_count", out.Factory.NodeCount()))
	out.Factory.Logger().Info("parallel build complete",
		slog.String("arena_id", out.Factory.ArenaID().String()),
		slog.Int("builders", len(builders)),
		slog.Int("nodes", out.Factory.NodeCount()),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}
