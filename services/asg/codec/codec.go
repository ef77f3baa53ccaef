// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec implements the binary format of a graph.Factory.
//
// # Node Format
//
// Every field is a little-endian uint32. A node is written level by level
// along its kind's inheritance chain, root kind first; each level writes
// its own attributes and then its own edge slots in declaration order:
//
//	int attr     int32 bit pattern
//	bool attr    0 or 1
//	string attr  strtable.Key (the key is marked for persistence)
//	single edge  target NodeID, 0 when empty
//	list edge    target NodeIDs followed by a 0 terminator
//
// The node's kind is not part of the node format.
//
// # Snapshot Format
//
//	"ASG1"                      magic
//	u32 u32                     catalogue fingerprint, low then high half
//	u32                         next id
//	u32 {u32 u32 bytes}         persisted strings: count, then key, length, text
//	u32 {u32 u32 u32}           nodes: count, then id, kind id, flags
//	node fields                 one node record per node, in the same order
//
// Flag bit 0 marks a filtered node. The format is closed-world: the loader
// must use the catalogue the snapshot was written with, which the
// fingerprint checks.
package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Sentinel errors for the codec.
var (
	// ErrCodecBusy is returned when a Codec is used while a Save or Load is
	// already in progress.
	ErrCodecBusy = errors.New("codec busy")

	// ErrBadMagic is returned when a stream does not start with the snapshot
	// magic.
	ErrBadMagic = errors.New("not an ASG snapshot")

	// ErrCatalogueMismatch is returned when a snapshot was written with a
	// different catalogue.
	ErrCatalogueMismatch = errors.New("snapshot catalogue mismatch")

	// ErrCorruptStream is returned for truncated or inconsistent streams.
	ErrCorruptStream = errors.New("corrupt snapshot stream")
)

// Magic starts every snapshot.
var Magic = [4]byte{'A', 'S', 'G', '1'}

// Stream limits.
const (
	// MaxStringLen is the longest string accepted from a stream.
	MaxStringLen = 64 << 20

	// MaxStrings is the largest string table accepted from a stream.
	MaxStrings = 1 << 28

	// DefaultMaxID is the default bound on the next id a stream may
	// declare. Every node id in the stream is below it.
	DefaultMaxID = 1 << 24

	// FlagFiltered marks a filtered node in the kind stream.
	FlagFiltered uint32 = 1 << 0
)

// State is the codec state.
type State int32

const (
	// StateIdle accepts a Save or a Load.
	StateIdle State = iota

	// StateWriting is set for the duration of a Save.
	StateWriting

	// StateReading is set for the duration of a Load.
	StateReading
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateReading:
		return "reading"
	default:
		return "unknown"
	}
}

// Codec saves and loads arenas.
//
// A Codec runs one operation at a time: Idle -> Writing -> Idle or
// Idle -> Reading -> Idle. A call made while another is in progress fails
// with ErrCodecBusy instead of interleaving. No partial state survives a
// failed call.
type Codec struct {
	state  atomic.Int32
	logger *slog.Logger
	maxID  uint32
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = l
	}
}

// WithMaxID bounds the next id accepted by Load. Streams declaring a larger
// next id fail with ErrCorruptStream before any node is allocated.
func WithMaxID(n uint32) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxID = n
		}
	}
}

// New creates an idle codec.
func New(opts ...Option) *Codec {
	c := &Codec{logger: slog.Default(), maxID: DefaultMaxID}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Codec) State() State {
	return State(c.state.Load())
}

func (c *Codec) enter(s State) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(s)) {
		return fmt.Errorf("%w: %s", ErrCodecBusy, c.State())
	}
	return nil
}

func (c *Codec) leave() {
	c.state.Store(int32(StateIdle))
}
