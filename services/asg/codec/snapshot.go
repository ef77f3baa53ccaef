// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

var tracer = otel.Tracer("aleutian.asg.codec")

var (
	codecBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asg_codec_bytes_total",
		Help: "Snapshot bytes written or read",
	}, []string{"direction"})

	codecOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asg_codec_operations_total",
		Help: "Snapshot saves and loads by outcome",
	}, []string{"op", "status"})
)

// Save writes a snapshot of f to w.
//
// Description:
//
//	Writes every live node, filtered ones included, in ascending id order.
//	The persisted-string marks of the factory's table are reset and
//	rebuilt, so the snapshot carries exactly the strings its nodes use.
//
// Outputs:
//
//	int64 - Bytes written.
//	error - ErrCodecBusy, or the writer's error.
func (c *Codec) Save(ctx context.Context, w io.Writer, f *graph.Factory) (int64, error) {
	if err := c.enter(StateWriting); err != nil {
		return 0, err
	}
	defer c.leave()

	_, span := tracer.Start(ctx, "codec.Save",
		trace.WithAttributes(
			attribute.String("asg.arena_id", f.ArenaID().String()),
			attribute.Int("asg.node_count", f.NodeCount()),
		),
	)
	defer span.End()
	start := time.Now()

	n, err := c.save(w, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		codecOps.WithLabelValues("save", "error").Inc()
		return n, err
	}

	codecBytes.WithLabelValues("write").Add(float64(n))
	codecOps.WithLabelValues("save", "ok").Inc()
	span.SetAttributes(attribute.Int64("asg.bytes", n))
	c.logger.Debug("snapshot saved",
		slog.String("arena_id", f.ArenaID().String()),
		slog.Int("nodes", f.NodeCount()),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)),
	)
	return n, nil
}

func (c *Codec) save(w io.Writer, f *graph.Factory) (int64, error) {
	strs := f.Strings()
	strs.ResetPersist()

	// Fields go first into a buffer: encoding them decides which strings
	// the table section has to carry.
	var fields bytes.Buffer
	fenc := &encoder{w: &fields}
	for _, n := range f.Nodes() {
		encodeNode(fenc, strs, n)
	}
	if fenc.err != nil {
		return 0, fenc.err
	}

	bw := bufio.NewWriter(w)
	enc := &encoder{w: bw}

	enc.write(Magic[:])
	fp := f.Catalogue().Fingerprint()
	enc.u32(uint32(fp))
	enc.u32(uint32(fp >> 32))
	enc.u32(uint32(f.NextID()))

	keys := strs.PersistedKeys()
	enc.u32(uint32(len(keys)))
	for _, key := range keys {
		text, err := strs.Lookup(key)
		if err != nil {
			return enc.n, err
		}
		enc.u32(uint32(key))
		enc.u32(uint32(len(text)))
		enc.write([]byte(text))
	}

	enc.u32(uint32(f.NodeCount()))
	for id, n := range f.Nodes() {
		var flags uint32
		if n.IsFiltered() {
			flags |= FlagFiltered
		}
		enc.u32(uint32(id))
		enc.u32(uint32(n.Kind().ID))
		enc.u32(flags)
	}

	enc.write(fields.Bytes())
	if enc.err != nil {
		return enc.n, enc.err
	}
	return enc.n, bw.Flush()
}

// Load reads a snapshot from r into a new factory.
//
// Description:
//
//	Restores every node at its original id, then every field, then the
//	filter flags and the id allocator, and finally runs Verify. The
//	returned factory is still in the building state.
//
// Inputs:
//
//	ctx - Context for tracing.
//	r - The snapshot stream.
//	cat - The catalogue the snapshot was written with.
//	opts - Options for the new factory. A string table passed with
//	       graph.WithStringTable must not already bind the snapshot's keys.
//
// Errors:
//
//	ErrCodecBusy - Another operation is in progress
//	ErrBadMagic - r is not a snapshot
//	ErrCatalogueMismatch - cat differs from the writer's catalogue
//	ErrCorruptStream - truncated or inconsistent content
func (c *Codec) Load(ctx context.Context, r io.Reader, cat *schema.Catalogue, opts ...graph.Option) (*graph.Factory, error) {
	if err := c.enter(StateReading); err != nil {
		return nil, err
	}
	defer c.leave()

	_, span := tracer.Start(ctx, "codec.Load",
		trace.WithAttributes(attribute.String("asg.catalogue", cat.Name())),
	)
	defer span.End()
	start := time.Now()

	dec := &decoder{r: bufio.NewReader(r)}
	f, err := c.load(dec, cat, opts)
	codecBytes.WithLabelValues("read").Add(float64(dec.n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		codecOps.WithLabelValues("load", "error").Inc()
		return nil, err
	}

	codecOps.WithLabelValues("load", "ok").Inc()
	span.SetAttributes(
		attribute.Int("asg.node_count", f.NodeCount()),
		attribute.Int64("asg.bytes", dec.n),
	)
	c.logger.Debug("snapshot loaded",
		slog.String("arena_id", f.ArenaID().String()),
		slog.Int("nodes", f.NodeCount()),
		slog.Int64("bytes", dec.n),
		slog.Duration("duration", time.Since(start)),
	)
	return f, nil
}

func (c *Codec) load(dec *decoder, cat *schema.Catalogue, opts []graph.Option) (*graph.Factory, error) {
	magic, err := dec.bytes(uint32(len(Magic)))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, magic)
	}

	lo, err := dec.u32()
	if err != nil {
		return nil, err
	}
	hi, err := dec.u32()
	if err != nil {
		return nil, err
	}
	if fp := uint64(hi)<<32 | uint64(lo); fp != cat.Fingerprint() {
		return nil, fmt.Errorf("%w: snapshot %016x, catalogue %q is %016x",
			ErrCatalogueMismatch, fp, cat.Name(), cat.Fingerprint())
	}

	nextID, err := dec.u32()
	if err != nil {
		return nil, err
	}
	if nextID == 0 || nextID > c.maxID {
		return nil, fmt.Errorf("%w: next id %d outside [1, %d]", ErrCorruptStream, nextID, c.maxID)
	}

	f := graph.NewFactory(cat, opts...)
	if err := readStrings(dec, f.Strings()); err != nil {
		return nil, err
	}

	count, err := dec.u32()
	if err != nil {
		return nil, err
	}
	if count >= nextID {
		return nil, fmt.Errorf("%w: %d nodes with next id %d", ErrCorruptStream, count, nextID)
	}
	order := make([]graph.NodeID, 0, min(count, 1<<20))
	var filtered []graph.NodeID
	for i := uint32(0); i < count; i++ {
		id, kindID, flags, err := readKindEntry(dec)
		if err != nil {
			return nil, err
		}
		kind, ok := cat.Kind(schema.KindID(kindID))
		if !ok || kindID > 0xFFFF {
			return nil, fmt.Errorf("%w: node %d has unknown kind %d", ErrCorruptStream, id, kindID)
		}
		if id >= nextID {
			return nil, fmt.Errorf("%w: node %d at or above next id %d", ErrCorruptStream, id, nextID)
		}
		if flags&^FlagFiltered != 0 {
			return nil, fmt.Errorf("%w: node %d has unknown flags %#x", ErrCorruptStream, id, flags)
		}
		if err := f.Restore(graph.NodeID(id), kind); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptStream, err)
		}
		order = append(order, graph.NodeID(id))
		if flags&FlagFiltered != 0 {
			filtered = append(filtered, graph.NodeID(id))
		}
	}

	for _, id := range order {
		if err := decodeNode(dec, f, id); err != nil {
			return nil, err
		}
	}
	for _, id := range filtered {
		if err := f.SetFiltered(id); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptStream, err)
		}
	}
	if graph.NodeID(nextID) != f.NextID() {
		if err := f.SetNextID(graph.NodeID(nextID)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptStream, err)
		}
	}
	if err := f.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptStream, err)
	}
	return f, nil
}

func readStrings(dec *decoder, strs *strtable.Table) error {
	count, err := dec.u32()
	if err != nil {
		return err
	}
	if count > MaxStrings {
		return fmt.Errorf("%w: %d strings", ErrCorruptStream, count)
	}
	for i := uint32(0); i < count; i++ {
		key, err := dec.u32()
		if err != nil {
			return err
		}
		length, err := dec.u32()
		if err != nil {
			return err
		}
		if length > MaxStringLen {
			return fmt.Errorf("%w: string of %d bytes", ErrCorruptStream, length)
		}
		text, err := dec.bytes(length)
		if err != nil {
			return err
		}
		if err := strs.Restore(strtable.Key(key), string(text)); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptStream, err)
		}
	}
	return nil
}

func readKindEntry(dec *decoder) (id, kind, flags uint32, err error) {
	if id, err = dec.u32(); err != nil {
		return
	}
	if kind, err = dec.u32(); err != nil {
		return
	}
	flags, err = dec.u32()
	return
}

// Save writes a snapshot of f with a fresh codec.
func Save(ctx context.Context, w io.Writer, f *graph.Factory) (int64, error) {
	return New(WithLogger(f.Logger())).Save(ctx, w, f)
}

// Load reads a snapshot with a fresh codec and the default limits.
func Load(ctx context.Context, r io.Reader, cat *schema.Catalogue, opts ...graph.Option) (*graph.Factory, error) {
	return New().Load(ctx, r, cat, opts...)
}
