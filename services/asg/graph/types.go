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
	"log/slog"

	"github.com/AleutianAI/AleutianASG/services/asg/schema"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of live nodes.
	DefaultMaxNodes = 10_000_000
)

// NodeID identifies a node within one Factory. IDs are dense, start at 1 and
// are never reused. They are meaningless across factories.
type NodeID uint32

// NoNode is the "no edge" value and the list terminator of the binary format.
const NoNode NodeID = 0

// State represents the lifecycle state of a Factory.
type State int

const (
	// StateBuilding indicates the factory accepts mutations.
	StateBuilding State = iota

	// StateReadOnly indicates the factory is frozen.
	StateReadOnly
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// Node is one vertex of the graph.
//
// Fields are reachable only through Factory and Node methods so that the
// ownership back-pointer and the reverse index cannot drift from the edges.
// A *Node stays valid until the node is deleted; after that every method
// that goes through the factory reports ErrNotFound.
type Node struct {
	id      NodeID
	kind    *schema.Kind
	factory *Factory

	attrs   []uint32
	singles []NodeID
	lists   [][]NodeID

	// owner is the source of the single owning edge targeting this node.
	owner     NodeID
	ownerEdge *schema.Edge

	filtered bool

	// hash caches the structural hash; valid while hashEpoch matches the
	// factory's mutation epoch.
	hash      uint32
	hashEpoch uint64
}

// Options configures Factory behavior and limits.
type Options struct {
	// MaxNodes is the maximum number of live nodes.
	// Default: 10,000,000
	MaxNodes int

	// LazyReverseIndex defers building the reverse index until it is first
	// queried. Edge mutations before that point skip index maintenance.
	// Default: false
	LazyReverseIndex bool

	// Strings is the table used for string attributes. A fresh table is
	// created when nil.
	Strings *strtable.Table

	// Logger receives debug and warning events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults for factory configuration.
func DefaultOptions() Options {
	return Options{
		MaxNodes: DefaultMaxNodes,
	}
}

// Option is a functional option for configuring Factory.
type Option func(*Options)

// WithMaxNodes sets the maximum number of live nodes.
func WithMaxNodes(n int) Option {
	return func(o *Options) {
		o.MaxNodes = n
	}
}

// WithLazyReverseIndex defers the reverse index until first use.
func WithLazyReverseIndex() Option {
	return func(o *Options) {
		o.LazyReverseIndex = true
	}
}

// WithStringTable makes the factory use an existing string table.
func WithStringTable(t *strtable.Table) Option {
	return func(o *Options) {
		o.Strings = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Stats contains statistics about a factory.
type Stats struct {
	// NodeCount is the number of live nodes.
	NodeCount int

	// FilteredCount is the number of live nodes flagged as filtered.
	FilteredCount int

	// NextID is the id the next Create will return.
	NextID NodeID

	// NodesByKind maps kind name to live node count.
	NodesByKind map[string]int

	// EdgesBySlot maps "Kind.edge" to the number of stored edge values.
	EdgesBySlot map[string]int

	// Strings is the number of entries in the string table.
	Strings int

	// State is the lifecycle state.
	State State
}
