// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema describes the node kinds an ASG arena can hold.
//
// A Catalogue is a closed, single-rooted "is-a" hierarchy of node kinds.
// Each kind declares scalar attributes and edge slots; derived kinds inherit
// everything their base declares. The catalogue is data: it is loaded from a
// YAML document rather than written as one Go type per node kind, and the
// graph package enforces the declared shape at runtime through a single
// centralized check.
//
// # Layout
//
// Attributes and edges are flattened base-first. Because inheritance is
// single, an inherited attribute or edge has the same slot index in every
// derived kind, so storage for a node is a few flat slices indexed by slot.
//
// # Thread Safety
//
// A Catalogue is immutable after construction and safe for concurrent use.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCatalogue is returned when a catalogue definition is malformed.
var ErrInvalidCatalogue = errors.New("invalid catalogue")

// KindID is the dense index of a kind within its catalogue. Declaration order
// defines it, and it doubles as the kind tag written by the codec.
type KindID uint16

// EdgeID is the dense index of an edge slot declaration within its catalogue.
type EdgeID uint16

// AttrType is the scalar type of an attribute.
type AttrType int

const (
	// AttrInt is a signed 32-bit integer.
	AttrInt AttrType = iota

	// AttrBool is stored as 0 or 1.
	AttrBool

	// AttrString is an interned strtable.Key.
	AttrString
)

var attrTypeNames = map[AttrType]string{
	AttrInt:    "int",
	AttrBool:   "bool",
	AttrString: "string",
}

// String returns the YAML spelling of the type.
func (t AttrType) String() string {
	if name, ok := attrTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseAttrType converts the YAML spelling of a type.
func ParseAttrType(s string) (AttrType, error) {
	for t, name := range attrTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown attribute type %q", ErrInvalidCatalogue, s)
}

// Attr is a scalar attribute declaration.
type Attr struct {
	// Name is unique within the declaring kind and all its descendants.
	Name string

	// Type is the scalar type.
	Type AttrType

	// Owner is the kind that declares the attribute.
	Owner *Kind

	// Slot is the index into a node's attribute storage.
	Slot int
}

// QualifiedName returns "Owner.name".
func (a *Attr) QualifiedName() string {
	return a.Owner.Name + "." + a.Name
}

// Edge is an edge slot declaration.
//
// Owning edges define the containment tree: a node is the target of at most
// one owning edge at a time. Reference edges are informational and any
// number of them may target the same node.
type Edge struct {
	// ID is unique across the catalogue. Inherited slots keep the ID of the
	// declaring kind.
	ID EdgeID

	// Name is unique within the declaring kind and all its descendants.
	Name string

	// Owner is the kind that declares the slot.
	Owner *Kind

	// Target is the declared target kind. Any kind that IsA Target is accepted.
	Target *Kind

	// Owning is true for containment edges.
	Owning bool

	// List is true for ordered multi-valued slots.
	List bool

	// Required single slots may be replaced but never cleared.
	Required bool

	// Slot indexes the node's single-edge storage, or its list storage when
	// List is true.
	Slot int
}

// QualifiedName returns "Owner.name".
func (e *Edge) QualifiedName() string {
	return e.Owner.Name + "." + e.Name
}

// String implements fmt.Stringer.
func (e *Edge) String() string {
	return e.QualifiedName()
}

// Kind is a node kind of the catalogue.
type Kind struct {
	// ID is the dense kind tag.
	ID KindID

	// Name is unique within the catalogue.
	Name string

	// Namespace groups kinds in fully qualified names. Optional.
	Namespace string

	// Base is the parent kind, nil for the root.
	Base *Kind

	// Abstract kinds cannot be instantiated.
	Abstract bool

	// OwnAttrs are the attributes declared by this kind only.
	OwnAttrs []*Attr

	// OwnEdges are the edge slots declared by this kind only.
	OwnEdges []*Edge

	catalogue  *Catalogue
	attrs      []*Attr
	edges      []*Edge
	numSingles int
	numLists   int
	ancestors  []bool
	attrByName map[string]*Attr
	edgeByName map[string]*Edge
	chain      []*Kind
	fqn        string
}

// Catalogue returns the catalogue the kind belongs to.
func (k *Kind) Catalogue() *Catalogue {
	return k.catalogue
}

// Attrs returns every attribute of the kind, base-first. Callers must not
// modify the returned slice.
func (k *Kind) Attrs() []*Attr {
	return k.attrs
}

// Edges returns every edge slot of the kind, base-first. Callers must not
// modify the returned slice.
func (k *Kind) Edges() []*Edge {
	return k.edges
}

// Attr looks up an attribute, inherited ones included.
func (k *Kind) Attr(name string) (*Attr, bool) {
	a, ok := k.attrByName[name]
	return a, ok
}

// Edge looks up an edge slot, inherited ones included.
func (k *Kind) Edge(name string) (*Edge, bool) {
	e, ok := k.edgeByName[name]
	return e, ok
}

// HasEdge reports whether e is declared by k or one of its bases.
func (k *Kind) HasEdge(e *Edge) bool {
	return e != nil && e.Owner.catalogue == k.catalogue && k.IsA(e.Owner)
}

// HasAttr reports whether a is declared by k or one of its bases.
func (k *Kind) HasAttr(a *Attr) bool {
	return a != nil && a.Owner.catalogue == k.catalogue && k.IsA(a.Owner)
}

// NumAttrs returns the size of a node's attribute storage.
func (k *Kind) NumAttrs() int {
	return len(k.attrs)
}

// NumSingles returns the size of a node's single-edge storage.
func (k *Kind) NumSingles() int {
	return k.numSingles
}

// NumLists returns the size of a node's list-edge storage.
func (k *Kind) NumLists() int {
	return k.numLists
}

// IsA reports whether k is other or derives from it. O(1).
func (k *Kind) IsA(other *Kind) bool {
	if other == nil || other.catalogue != k.catalogue {
		return false
	}
	return k.ancestors[other.ID]
}

// Chain returns the inheritance chain from the root down to k.
func (k *Kind) Chain() []*Kind {
	return k.chain
}

// FullyQualifiedName returns "catalogue::namespace::Name", omitting an empty
// namespace.
func (k *Kind) FullyQualifiedName() string {
	return k.fqn
}

// String implements fmt.Stringer.
func (k *Kind) String() string {
	return k.Name
}

// StringAttrs returns the string-typed attributes, base-first.
func (k *Kind) StringAttrs() []*Attr {
	var out []*Attr
	for _, a := range k.attrs {
		if a.Type == AttrString {
			out = append(out, a)
		}
	}
	return out
}

func makeFQN(catalogue, namespace, name string) string {
	parts := []string{catalogue}
	if namespace != "" {
		parts = append(parts, namespace)
	}
	parts = append(parts, name)
	return strings.Join(parts, "::")
}
