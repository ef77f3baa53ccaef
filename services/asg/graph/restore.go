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
	"log/slog"

	"github.com/AleutianAI/AleutianASG/services/asg/schema"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

// The restore API rebuilds an arena from an external representation
// (a snapshot stream or another arena). It keeps ids as given and treats
// anything the regular edge API would resolve by detaching as corruption.

// Restore installs a node of kind at a caller-chosen id.
//
// Errors:
//
//	ErrFactoryFrozen - Factory has been frozen
//	ErrCorruptGraph - id is NoNode
//	ErrDuplicateNode - id is already live
//	ErrUnknownKind, ErrAbstractKind, ErrMaxNodesExceeded - as for Create
func (f *Factory) Restore(id NodeID, kind *schema.Kind) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	if id == NoNode {
		return fmt.Errorf("%w: node id 0", ErrCorruptGraph)
	}
	if f.Exists(id) {
		return fmt.Errorf("%w: %d", ErrDuplicateNode, id)
	}
	if err := f.checkKind(kind); err != nil {
		return err
	}
	f.install(id, kind)
	if id >= f.nextID {
		f.nextID = id + 1
	}
	f.touch()
	return nil
}

// SetNextID moves the id allocator. Ids are never reused, so next must be
// greater than every id ever installed.
func (f *Factory) SetNextID(next NodeID) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	if next < f.nextID || next == NoNode {
		return fmt.Errorf("%w: next id %d below allocator position %d", ErrCorruptGraph, next, f.nextID)
	}
	f.nextID = next
	return nil
}

// LinkRaw appends target to src's slot e.
//
// Description:
//
//	Validates like SetEdge/AddEdge but never detaches anything. A single
//	slot that is already set, or an owning link to a node that already has
//	an owner, is reported as ErrCorruptGraph since a consistent source
//	arena cannot produce it.
func (f *Factory) LinkRaw(src NodeID, e *schema.Edge, target NodeID) error {
	if err := f.checkMutable(); err != nil {
		return edgeErr("link", src, e, target, err, "")
	}
	n := f.lookup(src)
	if n == nil {
		return edgeErr("link", src, e, target, ErrNotFound, "")
	}
	if !n.kind.HasEdge(e) {
		return edgeErr("link", src, e, target, ErrInvalidSlot, "kind "+n.kind.Name)
	}
	if target == NoNode {
		return edgeErr("link", src, e, target, ErrNullNotAllowed, "")
	}
	t, err := f.checkTarget("link", n, e, target)
	if err != nil {
		return err
	}
	if !e.List && n.singles[e.Slot] != NoNode {
		return edgeErr("link", src, e, target, ErrCorruptGraph,
			fmt.Sprintf("single slot already holds %d", n.singles[e.Slot]))
	}
	if e.Owning && t.owner != NoNode {
		return edgeErr("link", src, e, target, ErrCorruptGraph,
			fmt.Sprintf("already owned by %d", t.owner))
	}
	f.link(n, e, t)
	f.touch()
	return nil
}

// AttrRaw returns the stored 32-bit value of attribute a.
func (f *Factory) AttrRaw(id NodeID, a *schema.Attr) (uint32, error) {
	n, err := f.Get(id)
	if err != nil {
		return 0, err
	}
	if !n.kind.HasAttr(a) {
		return 0, fmt.Errorf("%w: attribute %s on %s", ErrInvalidSlot, attrName(a), n.kind.Name)
	}
	return n.attrs[a.Slot], nil
}

// SetAttrRaw stores a 32-bit value into attribute a without type
// conversion. String values must be keys of the factory's string table.
func (f *Factory) SetAttrRaw(id NodeID, a *schema.Attr, raw uint32) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	n, err := f.Get(id)
	if err != nil {
		return err
	}
	if !n.kind.HasAttr(a) {
		return fmt.Errorf("%w: attribute %s on %s", ErrInvalidSlot, attrName(a), n.kind.Name)
	}
	switch a.Type {
	case schema.AttrString:
		if _, err := f.strings.Lookup(strtable.Key(raw)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorruptGraph, a.QualifiedName(), err)
		}
	case schema.AttrBool:
		if raw > 1 {
			return fmt.Errorf("%w: %s: bool value %d", ErrCorruptGraph, a.QualifiedName(), raw)
		}
	}
	f.store(n, a, raw)
	return nil
}

// SwapStrings moves the factory onto dst as its string table.
//
// Description:
//
//	Every string attribute of every live node is remapped through
//	cache, so each distinct old key is interned into dst once. Remapping
//	is computed completely before any field is overwritten; on error the
//	factory is unchanged.
//
// Inputs:
//
//	dst - The new string table. May already hold other arenas' strings.
//	cache - Remap cache for (current table, dst). Reuse it across calls
//	        that share the same pair of tables.
func (f *Factory) SwapStrings(dst *strtable.Table, cache *strtable.RemapCache) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	if dst == f.strings {
		return nil
	}

	type rewrite struct {
		n    *Node
		slot int
		key  strtable.Key
	}
	var rewrites []rewrite
	for _, n := range f.Nodes() {
		for _, a := range n.kind.StringAttrs() {
			old := strtable.Key(n.attrs[a.Slot])
			mapped, err := f.strings.SwapInto(dst, cache, old)
			if err != nil {
				return fmt.Errorf("%w: node %d %s: %w", ErrCorruptGraph, n.id, a.QualifiedName(), err)
			}
			rewrites = append(rewrites, rewrite{n: n, slot: a.Slot, key: mapped})
		}
	}
	for _, r := range rewrites {
		r.n.attrs[r.slot] = uint32(r.key)
	}
	f.strings = dst
	f.touch()

	hits, misses := cache.Stats()
	f.logger.Debug("string table swapped",
		slog.Int("fields", len(rewrites)),
		slog.Int("cache_hits", hits),
		slog.Int("cache_misses", misses),
	)
	return nil
}
