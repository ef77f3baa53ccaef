// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the arena that stores an Abstract Semantic Graph.
//
// A Factory owns every node of one analyzed program. Nodes are identified by
// dense NodeIDs that are never reused, typed by a schema.Kind, and connected
// through the edge slots their kind declares.
//
// # Ownership Model
//
// Owning edges form a forest: a node is the target of at most one owning
// edge at any time, and each node remembers its owner. Assigning an owning
// edge to a node that already has an owner detaches it from the old owner
// first. Reference edges do not participate in ownership; any number of
// them may target a node.
//
// # Reverse Index
//
// For every (target, edge slot) the factory keeps the ordered set of source
// nodes pointing at it. Forward edges and the reverse index are only ever
// mutated together, inside the same Factory method.
//
// # Thread Safety
//
// Factory is NOT safe for concurrent use. It is designed for:
//   - Single-writer access during build (Create, SetEdge, AddEdge calls)
//   - Read-only access after Freeze() is called
//
// Run one Factory per worker and combine them with the merge package rather
// than sharing one Factory between goroutines.
//
// # Errors
//
// Every failed mutation leaves the factory exactly as it was: validation is
// completed before any state is touched.
package graph

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

// Sentinel errors for arena operations.
var (
	// ErrNotFound is returned when a node id does not exist in the arena.
	ErrNotFound = errors.New("node not found")

	// ErrDanglingEdge is returned when an edge target id does not exist.
	ErrDanglingEdge = errors.New("dangling edge target")

	// ErrKindMismatch is returned when an edge target is not of the declared
	// target kind or one of its sub-kinds.
	ErrKindMismatch = errors.New("edge target kind mismatch")

	// ErrForeignArena is returned when source and target were created by
	// different Factory instances.
	ErrForeignArena = errors.New("edge target belongs to another arena")

	// ErrRequiredEdge is returned when a required edge would be left empty.
	ErrRequiredEdge = errors.New("required edge cannot be cleared")

	// ErrEdgeNotFound is returned when removing a target that is not in the
	// list.
	ErrEdgeNotFound = errors.New("edge target not in list")

	// ErrNullNotAllowed is returned when "no value" is assigned to a
	// required single edge or appended to a list.
	ErrNullNotAllowed = errors.New("no-value target not allowed")

	// ErrOwnershipCycle is returned when an owning edge would make a node
	// own itself or one of its owners.
	ErrOwnershipCycle = errors.New("owning edge would create a cycle")

	// ErrInvalidSlot is returned when an edge or attribute is not declared
	// by the node's kind, or a single-edge operation is used on a list slot
	// (and vice versa).
	ErrInvalidSlot = errors.New("slot not declared for node kind")

	// ErrAttrType is returned when an attribute is accessed with the wrong
	// scalar type.
	ErrAttrType = errors.New("attribute type mismatch")

	// ErrAbstractKind is returned when creating a node of an abstract kind.
	ErrAbstractKind = errors.New("cannot instantiate abstract kind")

	// ErrUnknownKind is returned when a kind does not belong to the factory's
	// catalogue.
	ErrUnknownKind = errors.New("kind not in catalogue")

	// ErrFactoryFrozen is returned when mutating a frozen factory.
	ErrFactoryFrozen = errors.New("factory is frozen and cannot be modified")

	// ErrMaxNodesExceeded is returned when the factory is at capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrCorruptGraph is returned by Verify and by the restore API when the
	// invariants of the arena do not hold.
	ErrCorruptGraph = errors.New("corrupt graph")

	// ErrDuplicateNode is returned when restoring an id that already exists.
	ErrDuplicateNode = errors.New("duplicate node ID")
)

// EdgeError describes a rejected edge operation.
//
// It unwraps to one of the sentinel errors above, so callers test it with
// errors.Is(err, ErrKindMismatch) and friends.
type EdgeError struct {
	// Op is "set", "clear", "add", "remove" or "link".
	Op string

	// Source is the node whose slot was addressed.
	Source NodeID

	// Edge is the addressed slot.
	Edge *schema.Edge

	// Target is the requested target, NoNode when not applicable.
	Target NodeID

	// Err is the sentinel reason.
	Err error

	// Detail is optional extra context.
	Detail string
}

// Error implements error.
func (e *EdgeError) Error() string {
	edge := "<nil>"
	if e.Edge != nil {
		edge = e.Edge.QualifiedName()
	}
	msg := fmt.Sprintf("%s %s on node %d", e.Op, edge, e.Source)
	if e.Target != NoNode {
		msg += fmt.Sprintf(" -> %d", e.Target)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the sentinel reason.
func (e *EdgeError) Unwrap() error {
	return e.Err
}

func edgeErr(op string, src NodeID, e *schema.Edge, target NodeID, reason error, detail string) error {
	recordEdgeRejection(reason)
	return &EdgeError{Op: op, Source: src, Edge: e, Target: target, Err: reason, Detail: detail}
}

// reasonLabel maps a sentinel to a low-cardinality metric label.
func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDanglingEdge):
		return "dangling_edge"
	case errors.Is(err, ErrKindMismatch):
		return "kind_mismatch"
	case errors.Is(err, ErrForeignArena):
		return "foreign_arena"
	case errors.Is(err, ErrRequiredEdge):
		return "required_edge"
	case errors.Is(err, ErrEdgeNotFound):
		return "edge_not_found"
	case errors.Is(err, ErrNullNotAllowed):
		return "null_not_allowed"
	case errors.Is(err, ErrOwnershipCycle):
		return "ownership_cycle"
	case errors.Is(err, ErrInvalidSlot):
		return "invalid_slot"
	case errors.Is(err, ErrFactoryFrozen):
		return "frozen"
	case errors.Is(err, ErrCorruptGraph):
		return "corrupt"
	default:
		return "other"
	}
}
