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

// SetEdge assigns a single-valued edge slot.
//
// Description:
//
//	Validates completely before mutating. If the slot already holds a
//	value it is detached first. For owning slots, a target that already
//	has an owner is detached from it (detach-and-reattach). Assigning the
//	value the slot already holds is a no-op. Passing NoNode clears the
//	slot, which fails for required slots.
//
// Inputs:
//
//	src - The node whose slot is assigned.
//	e - A single-valued slot declared by src's kind.
//	target - The new target, or NoNode.
//
// Errors:
//
//	ErrFactoryFrozen - Factory has been frozen
//	ErrNotFound - src does not exist
//	ErrInvalidSlot - e is not a single slot of src's kind
//	ErrNullNotAllowed - target is NoNode and e is required
//	ErrDanglingEdge - target does not exist
//	ErrKindMismatch - target is not an e.Target
//	ErrOwnershipCycle - target owns src (or is src) and e is owning
//	ErrRequiredEdge - target is held by another required owning slot
//
// Ids carry no arena tag, so target is always resolved in f: an id taken
// from another Factory names whatever node f holds under it, or fails with
// ErrDanglingEdge. Use Node.Set to get ErrForeignArena for such targets.
func (f *Factory) SetEdge(src NodeID, e *schema.Edge, target NodeID) error {
	n, err := f.source("set", src, e, false)
	if err != nil {
		return err
	}
	if target == NoNode {
		if e.Required {
			return edgeErr("set", src, e, target, ErrNullNotAllowed, "")
		}
		return f.clearSingle(n, e)
	}
	if n.singles[e.Slot] == target {
		return nil
	}
	t, err := f.checkTarget("set", n, e, target)
	if err != nil {
		return err
	}

	if old := n.singles[e.Slot]; old != NoNode {
		f.unlink(n, e, old, -1)
	}
	if e.Owning && t.owner != NoNode {
		f.detachFromOwner(t)
	}
	f.link(n, e, t)
	f.touch()
	recordEdgeMutation("set")
	return nil
}

// ClearEdge empties a single-valued slot.
//
// Errors:
//
//	ErrRequiredEdge - e is required and currently set
func (f *Factory) ClearEdge(src NodeID, e *schema.Edge) error {
	n, err := f.source("clear", src, e, false)
	if err != nil {
		return err
	}
	return f.clearSingle(n, e)
}

func (f *Factory) clearSingle(n *Node, e *schema.Edge) error {
	old := n.singles[e.Slot]
	if old == NoNode {
		return nil
	}
	if e.Required {
		return edgeErr("clear", n.id, e, old, ErrRequiredEdge, "")
	}
	f.unlink(n, e, old, -1)
	f.touch()
	recordEdgeMutation("clear")
	return nil
}

// AddEdge appends target to a list slot.
//
// Description:
//
//	Same validation as SetEdge. For owning lists a target that already has
//	an owner is detached first, so re-adding a node to the list it is
//	already in moves it to the end.
//
// Errors:
//
//	ErrNullNotAllowed - target is NoNode
//	plus everything SetEdge can return
//
// As with SetEdge, target is resolved in f; only Node.Add reports
// ErrForeignArena.
func (f *Factory) AddEdge(src NodeID, e *schema.Edge, target NodeID) error {
	n, err := f.source("add", src, e, true)
	if err != nil {
		return err
	}
	if target == NoNode {
		return edgeErr("add", src, e, target, ErrNullNotAllowed, "")
	}
	t, err := f.checkTarget("add", n, e, target)
	if err != nil {
		return err
	}

	if e.Owning && t.owner != NoNode {
		f.detachFromOwner(t)
	}
	f.link(n, e, t)
	f.touch()
	recordEdgeMutation("add")
	return nil
}

// RemoveEdge removes the first occurrence of target from a list slot.
//
// Errors:
//
//	ErrEdgeNotFound - target is not in the list
func (f *Factory) RemoveEdge(src NodeID, e *schema.Edge, target NodeID) error {
	n, err := f.source("remove", src, e, true)
	if err != nil {
		return err
	}
	idx := indexOf(n.lists[e.Slot], target)
	if idx < 0 {
		return edgeErr("remove", src, e, target, ErrEdgeNotFound, "")
	}
	f.unlink(n, e, target, idx)
	f.touch()
	recordEdgeMutation("remove")
	return nil
}

// Edge returns the target of a single slot. A filtered target, like an
// empty slot, reads as NoNode.
func (f *Factory) Edge(src NodeID, e *schema.Edge) (NodeID, error) {
	id, err := f.RawEdge(src, e)
	if err != nil || id == NoNode {
		return NoNode, err
	}
	if f.IsFiltered(id) {
		return NoNode, nil
	}
	return id, nil
}

// RawEdge returns the target of a single slot without applying the filter.
func (f *Factory) RawEdge(src NodeID, e *schema.Edge) (NodeID, error) {
	n, err := f.reader(src, e, false)
	if err != nil {
		return NoNode, err
	}
	return n.singles[e.Slot], nil
}

// EdgeList returns a copy of a list slot without its filtered targets.
func (f *Factory) EdgeList(src NodeID, e *schema.Edge) ([]NodeID, error) {
	n, err := f.reader(src, e, true)
	if err != nil {
		return nil, err
	}
	list := n.lists[e.Slot]
	out := make([]NodeID, 0, len(list))
	for _, id := range list {
		if !f.IsFiltered(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// RawEdgeList returns a copy of a list slot without applying the filter.
func (f *Factory) RawEdgeList(src NodeID, e *schema.Edge) ([]NodeID, error) {
	n, err := f.reader(src, e, true)
	if err != nil {
		return nil, err
	}
	return append([]NodeID(nil), n.lists[e.Slot]...), nil
}

// Owner returns the node owning id and the slot it is held in. A root node
// returns NoNode and nil.
func (f *Factory) Owner(id NodeID) (NodeID, *schema.Edge, error) {
	n, err := f.Get(id)
	if err != nil {
		return NoNode, nil, err
	}
	return n.owner, n.ownerEdge, nil
}

// source validates the addressed slot of a mutation.
func (f *Factory) source(op string, src NodeID, e *schema.Edge, wantList bool) (*Node, error) {
	if err := f.checkMutable(); err != nil {
		return nil, edgeErr(op, src, e, NoNode, err, "")
	}
	return f.slot(op, src, e, wantList)
}

// reader validates the addressed slot of a read.
func (f *Factory) reader(src NodeID, e *schema.Edge, wantList bool) (*Node, error) {
	n := f.lookup(src)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, src)
	}
	if !n.kind.HasEdge(e) || e.List != wantList {
		return nil, fmt.Errorf("%w: %v on %s", ErrInvalidSlot, e, n.kind.Name)
	}
	return n, nil
}

func (f *Factory) slot(op string, src NodeID, e *schema.Edge, wantList bool) (*Node, error) {
	n := f.lookup(src)
	if n == nil {
		return nil, edgeErr(op, src, e, NoNode, ErrNotFound, "")
	}
	if !n.kind.HasEdge(e) {
		return nil, edgeErr(op, src, e, NoNode, ErrInvalidSlot, "kind "+n.kind.Name)
	}
	if e.List != wantList {
		detail := "slot is single-valued"
		if e.List {
			detail = "slot is a list"
		}
		return nil, edgeErr(op, src, e, NoNode, ErrInvalidSlot, detail)
	}
	return n, nil
}

// checkTarget performs every target validation of a mutation.
func (f *Factory) checkTarget(op string, n *Node, e *schema.Edge, target NodeID) (*Node, error) {
	t := f.lookup(target)
	if t == nil {
		return nil, edgeErr(op, n.id, e, target, ErrDanglingEdge, "")
	}
	if !t.kind.IsA(e.Target) {
		return nil, edgeErr(op, n.id, e, target, ErrKindMismatch,
			fmt.Sprintf("want %s, got %s", e.Target.Name, t.kind.Name))
	}
	if !e.Owning {
		return t, nil
	}
	if f.ownsTransitively(t, n) {
		return nil, edgeErr(op, n.id, e, target, ErrOwnershipCycle, "")
	}
	if t.owner != NoNode && t.ownerEdge.Required && !t.ownerEdge.List {
		sameSlot := t.owner == n.id && t.ownerEdge == e
		if !sameSlot {
			return nil, edgeErr(op, n.id, e, target, ErrRequiredEdge,
				fmt.Sprintf("held by required %s of node %d", t.ownerEdge.QualifiedName(), t.owner))
		}
	}
	return t, nil
}

// ownsTransitively reports whether a is b or one of b's owners.
func (f *Factory) ownsTransitively(a, b *Node) bool {
	for cur := b; cur != nil; cur = f.lookup(cur.owner) {
		if cur == a {
			return true
		}
		if cur.owner == NoNode {
			return false
		}
	}
	return false
}

// link stores t in n's slot e and performs the matching bookkeeping.
func (f *Factory) link(n *Node, e *schema.Edge, t *Node) {
	if e.List {
		n.lists[e.Slot] = append(n.lists[e.Slot], t.id)
	} else {
		n.singles[e.Slot] = t.id
	}
	if e.Owning {
		t.owner, t.ownerEdge = n.id, e
	}
	f.reverse.insert(t.id, e, n.id)
}

// unlink removes target from n's slot e. For lists idx is the position to
// remove; it is ignored for single slots.
func (f *Factory) unlink(n *Node, e *schema.Edge, target NodeID, idx int) {
	if e.List {
		list := n.lists[e.Slot]
		n.lists[e.Slot] = append(list[:idx:idx], list[idx+1:]...)
	} else {
		n.singles[e.Slot] = NoNode
	}
	if e.Owning {
		if t := f.lookup(target); t != nil && t.owner == n.id && t.ownerEdge == e {
			t.owner, t.ownerEdge = NoNode, nil
		}
	}
	f.reverse.remove(target, e, n.id)
}

// detachFromOwner removes t from the slot of its current owner.
func (f *Factory) detachFromOwner(t *Node) {
	owner := f.lookup(t.owner)
	e := t.ownerEdge
	if owner == nil || e == nil {
		t.owner, t.ownerEdge = NoNode, nil
		return
	}
	if e.List {
		if idx := indexOf(owner.lists[e.Slot], t.id); idx >= 0 {
			f.unlink(owner, e, t.id, idx)
		}
		return
	}
	f.unlink(owner, e, t.id, -1)
}

// targets returns a copy of the values stored in slot e.
func (n *Node) targets(e *schema.Edge) []NodeID {
	if e.List {
		return append([]NodeID(nil), n.lists[e.Slot]...)
	}
	if v := n.singles[e.Slot]; v != NoNode {
		return []NodeID{v}
	}
	return nil
}

// dropTarget removes every occurrence of id from slot e without touching
// the reverse index.
func (n *Node) dropTarget(e *schema.Edge, id NodeID) {
	if !e.List {
		if n.singles[e.Slot] == id {
			n.singles[e.Slot] = NoNode
		}
		return
	}
	list := n.lists[e.Slot]
	kept := list[:0]
	for _, v := range list {
		if v != id {
			kept = append(kept, v)
		}
	}
	n.lists[e.Slot] = kept
}

func indexOf(list []NodeID, id NodeID) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}
