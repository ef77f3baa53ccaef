// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the OTel instruments recorded by ASG commands.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// CommandsTotal counts command runs by command and status.
	CommandsTotal metric.Int64Counter

	// CommandDuration records command wall time in seconds.
	CommandDuration metric.Float64Histogram
}

// NewMetrics registers the command instruments with meter.
//
// Example:
//
//	m, err := telemetry.NewMetrics(otel.Meter("asgtool"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	m.Record(ctx, "stats", time.Since(start), err)
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandsTotal, err = meter.Int64Counter(
		"asg_commands_total",
		metric.WithDescription("Total command runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("create asg_commands_total: %w", err)
	}

	m.CommandDuration, err = meter.Float64Histogram(
		"asg_command_duration_seconds",
		metric.WithDescription("Command duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create asg_command_duration_seconds: %w", err)
	}
	return m, nil
}

// Record adds one run of command with its outcome.
func (m *Metrics) Record(ctx context.Context, command string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CommandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	))
	m.CommandDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("command", command),
	))
}

// WritePrometheus writes every metric family from g in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// LoggerWithTrace returns logger with trace_id and span_id attributes when
// ctx carries a valid span, and logger unchanged otherwise.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
