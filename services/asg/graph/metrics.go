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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.asg.graph")

var (
	nodesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asg_nodes_created_total",
		Help: "Total nodes created or restored across all arenas",
	})

	nodesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asg_nodes_deleted_total",
		Help: "Total nodes structurally deleted, owned descendants included",
	})

	edgeMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asg_edge_mutations_total",
		Help: "Successful edge mutations by operation",
	}, []string{"op"})

	edgeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asg_edge_rejections_total",
		Help: "Edge operations rejected by validation, by reason",
	}, []string{"reason"})

	reverseBuildNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asg_reverse_index_build_nodes",
		Help:    "Number of nodes replayed per reverse index build",
		Buckets: prometheus.ExponentialBuckets(16, 4, 10),
	})
)

func recordEdgeMutation(op string) {
	edgeMutations.WithLabelValues(op).Inc()
}

func recordEdgeRejection(reason error) {
	edgeRejections.WithLabelValues(reasonLabel(reason)).Inc()
}

// startSpan creates a span for a whole-arena operation.
func (f *Factory) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Factory."+name,
		trace.WithAttributes(
			attribute.String("asg.arena_id", f.arenaID.String()),
			attribute.Int("asg.node_count", f.live),
		),
	)
}
