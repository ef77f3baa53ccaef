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
	"fmt"

	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

// ID returns the node's id within its factory.
func (n *Node) ID() NodeID {
	return n.id
}

// Kind returns the node's concrete kind.
func (n *Node) Kind() *schema.Kind {
	return n.kind
}

// Factory returns the arena that created the node.
func (n *Node) Factory() *Factory {
	return n.factory
}

// Owner returns the source of the owning edge targeting n and the slot it
// holds n in, or NoNode and nil for a root.
func (n *Node) Owner() (NodeID, *schema.Edge) {
	return n.owner, n.ownerEdge
}

// IsFiltered reports whether the node is logically deleted.
func (n *Node) IsFiltered() bool {
	return n.filtered
}

// IsA reports whether the node's kind is k or derives from it.
func (n *Node) IsA(k *schema.Kind) bool {
	return n.kind.IsA(k)
}

// Targets returns a copy of the raw values of slot e, filtered targets
// included. A single slot yields zero or one value.
func (n *Node) Targets(e *schema.Edge) []NodeID {
	if !n.kind.HasEdge(e) {
		return nil
	}
	return n.targets(e)
}

// Attr returns the raw 32-bit value of attribute a, or 0 if the kind does
// not declare it.
func (n *Node) Attr(a *schema.Attr) uint32 {
	if !n.kind.HasAttr(a) {
		return 0
	}
	return n.attrs[a.Slot]
}

// Set assigns the single slot e to target. A nil target clears the slot.
//
// Description:
//
//	Pointer-based form of Factory.SetEdge. Because both nodes are known,
//	this form also rejects targets created by another Factory with
//	ErrForeignArena, before any other validation.
func (n *Node) Set(e *schema.Edge, target *Node) error {
	if target == nil {
		return n.factory.SetEdge(n.id, e, NoNode)
	}
	if err := n.checkArena("set", e, target); err != nil {
		return err
	}
	return n.factory.SetEdge(n.id, e, target.id)
}

// Clear empties the single slot e.
func (n *Node) Clear(e *schema.Edge) error {
	return n.factory.ClearEdge(n.id, e)
}

// Add appends target to the list slot e.
func (n *Node) Add(e *schema.Edge, target *Node) error {
	if target == nil {
		return n.factory.AddEdge(n.id, e, NoNode)
	}
	if err := n.checkArena("add", e, target); err != nil {
		return err
	}
	return n.factory.AddEdge(n.id, e, target.id)
}

// Remove removes the first occurrence of target from the list slot e.
func (n *Node) Remove(e *schema.Edge, target *Node) error {
	if target == nil {
		return n.factory.RemoveEdge(n.id, e, NoNode)
	}
	if err := n.checkArena("remove", e, target); err != nil {
		return err
	}
	return n.factory.RemoveEdge(n.id, e, target.id)
}

func (n *Node) checkArena(op string, e *schema.Edge, target *Node) error {
	if target.factory != n.factory {
		return edgeErr(op, n.id, e, target.id, ErrForeignArena,
			fmt.Sprintf("target arena %s, source arena %s", target.factory.arenaID, n.factory.arenaID))
	}
	if n.factory.lookup(target.id) != target {
		return edgeErr(op, n.id, e, target.id, ErrDanglingEdge, "target was deleted")
	}
	return nil
}

// CachedHash returns the memoized structural hash, if it is still valid for
// the factory's current mutation epoch.
func (n *Node) CachedHash() (uint32, bool) {
	if n.hashEpoch == 0 || n.hashEpoch != n.factory.epoch {
		return 0, false
	}
	return n.hash, true
}

// StoreHash memoizes a structural hash for the current mutation epoch.
func (n *Node) StoreHash(h uint32) {
	n.hash = h
	n.hashEpoch = n.factory.epoch
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.kind.Name, n.id)
}
