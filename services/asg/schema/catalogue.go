// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// MaxCatalogueFileSize bounds catalogue files read from disk (1MB).
const MaxCatalogueFileSize = 1024 * 1024

// CatalogueYAML is the root structure of a catalogue document.
type CatalogueYAML struct {
	Name  string     `yaml:"name"`
	Kinds []KindYAML `yaml:"kinds"`
}

// KindYAML declares one node kind.
type KindYAML struct {
	Name      string     `yaml:"name"`
	Base      string     `yaml:"base,omitempty"`
	Namespace string     `yaml:"namespace,omitempty"`
	Abstract  bool       `yaml:"abstract,omitempty"`
	Attrs     []AttrYAML `yaml:"attrs,omitempty"`
	Edges     []EdgeYAML `yaml:"edges,omitempty"`
}

// AttrYAML declares one scalar attribute.
type AttrYAML struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// EdgeYAML declares one edge slot.
type EdgeYAML struct {
	Name     string `yaml:"name"`
	Target   string `yaml:"target"`
	List     bool   `yaml:"list,omitempty"`
	Owning   bool   `yaml:"owning,omitempty"`
	Required bool   `yaml:"required,omitempty"`
}

// Catalogue is a closed set of node kinds.
type Catalogue struct {
	name        string
	kinds       []*Kind
	byName      map[string]*Kind
	edges       []*Edge
	fingerprint uint64
}

// Name returns the catalogue name (the first component of every fully
// qualified kind name).
func (c *Catalogue) Name() string {
	return c.name
}

// Kinds returns every kind in declaration order. Callers must not modify the
// returned slice.
func (c *Catalogue) Kinds() []*Kind {
	return c.kinds
}

// Kind returns the kind with the given tag.
func (c *Catalogue) Kind(id KindID) (*Kind, bool) {
	if int(id) >= len(c.kinds) {
		return nil, false
	}
	return c.kinds[id], true
}

// KindByName looks up a kind.
func (c *Catalogue) KindByName(name string) (*Kind, bool) {
	k, ok := c.byName[name]
	return k, ok
}

// MustKind looks up a kind and panics if it does not exist. Intended for
// package-level wiring and tests where the name is a literal.
func (c *Catalogue) MustKind(name string) *Kind {
	k, ok := c.byName[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown kind %q in catalogue %q", name, c.name))
	}
	return k
}

// Edges returns every edge slot declaration, indexed by EdgeID.
func (c *Catalogue) Edges() []*Edge {
	return c.edges
}

// EdgeByID returns the edge slot with the given id.
func (c *Catalogue) EdgeByID(id EdgeID) (*Edge, bool) {
	if int(id) >= len(c.edges) {
		return nil, false
	}
	return c.edges[id], true
}

// EdgeByName looks up "Kind.edge". The kind may be any kind that has the
// edge, so "Block.comments" finds the slot declared on Positioned.
func (c *Catalogue) EdgeByName(qualified string) (*Edge, bool) {
	kindName, edgeName, ok := strings.Cut(qualified, ".")
	if !ok {
		return nil, false
	}
	k, ok := c.byName[kindName]
	if !ok {
		return nil, false
	}
	return k.Edge(edgeName)
}

// MustEdge is EdgeByName that panics on a missing edge.
func (c *Catalogue) MustEdge(qualified string) *Edge {
	e, ok := c.EdgeByName(qualified)
	if !ok {
		panic(fmt.Sprintf("schema: unknown edge %q in catalogue %q", qualified, c.name))
	}
	return e
}

// AttrByName looks up "Kind.attr", inherited attributes included.
func (c *Catalogue) AttrByName(qualified string) (*Attr, bool) {
	kindName, attrName, ok := strings.Cut(qualified, ".")
	if !ok {
		return nil, false
	}
	k, ok := c.byName[kindName]
	if !ok {
		return nil, false
	}
	return k.Attr(attrName)
}

// MustAttr is AttrByName that panics on a missing attribute.
func (c *Catalogue) MustAttr(qualified string) *Attr {
	a, ok := c.AttrByName(qualified)
	if !ok {
		panic(fmt.Sprintf("schema: unknown attribute %q in catalogue %q", qualified, c.name))
	}
	return a
}

// Fingerprint identifies the exact kind order and field layout. Two
// catalogues with equal fingerprints read and write the same binary format.
func (c *Catalogue) Fingerprint() uint64 {
	return c.fingerprint
}

// Parse builds a catalogue from a YAML document.
func Parse(data []byte) (*Catalogue, error) {
	var doc CatalogueYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidCatalogue, err)
	}
	return Build(doc)
}

// LoadFile reads and parses a catalogue file.
func LoadFile(path string) (*Catalogue, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalogue %s: %w", path, err)
	}
	if info.Size() > MaxCatalogueFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidCatalogue, path, info.Size(), MaxCatalogueFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue %s: %w", path, err)
	}
	return Parse(data)
}

// Build validates a catalogue definition and computes the slot layout.
//
// Description:
//
//	Kinds receive IDs in declaration order. Bases and edge targets may be
//	declared in any order. Exactly one kind must have no base.
//
// Errors:
//
//	ErrInvalidCatalogue - wrapped with the first problem found
func Build(doc CatalogueYAML) (*Catalogue, error) {
	if doc.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidCatalogue)
	}
	if len(doc.Kinds) == 0 {
		return nil, fmt.Errorf("%w: no kinds", ErrInvalidCatalogue)
	}
	if len(doc.Kinds) > int(^KindID(0)) {
		return nil, fmt.Errorf("%w: too many kinds (%d)", ErrInvalidCatalogue, len(doc.Kinds))
	}

	c := &Catalogue{
		name:   doc.Name,
		kinds:  make([]*Kind, len(doc.Kinds)),
		byName: make(map[string]*Kind, len(doc.Kinds)),
	}

	for i, kd := range doc.Kinds {
		if kd.Name == "" {
			return nil, fmt.Errorf("%w: kind #%d has no name", ErrInvalidCatalogue, i)
		}
		if _, dup := c.byName[kd.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate kind %q", ErrInvalidCatalogue, kd.Name)
		}
		k := &Kind{
			ID:        KindID(i),
			Name:      kd.Name,
			Namespace: kd.Namespace,
			Abstract:  kd.Abstract,
			catalogue: c,
			fqn:       makeFQN(doc.Name, kd.Namespace, kd.Name),
		}
		c.kinds[i] = k
		c.byName[kd.Name] = k
	}

	roots := 0
	for i, kd := range doc.Kinds {
		if kd.Base == "" {
			roots++
			continue
		}
		base, ok := c.byName[kd.Base]
		if !ok {
			return nil, fmt.Errorf("%w: kind %q has unknown base %q", ErrInvalidCatalogue, kd.Name, kd.Base)
		}
		c.kinds[i].Base = base
	}
	if roots != 1 {
		return nil, fmt.Errorf("%w: need exactly one root kind, found %d", ErrInvalidCatalogue, roots)
	}

	for _, k := range c.kinds {
		depth := 0
		for b := k.Base; b != nil; b = b.Base {
			depth++
			if depth > len(c.kinds) {
				return nil, fmt.Errorf("%w: inheritance cycle through %q", ErrInvalidCatalogue, k.Name)
			}
		}
	}

	done := make([]bool, len(c.kinds))
	for _, k := range c.kinds {
		if err := c.layout(k, doc.Kinds, done); err != nil {
			return nil, err
		}
	}

	for _, k := range c.kinds {
		k.ancestors = make([]bool, len(c.kinds))
		for a := k; a != nil; a = a.Base {
			k.ancestors[a.ID] = true
			k.chain = append([]*Kind{a}, k.chain...)
		}
	}

	c.fingerprint = c.computeFingerprint()
	return c, nil
}

// layout computes the flattened attribute and edge slots of k after those of
// its base.
func (c *Catalogue) layout(k *Kind, defs []KindYAML, done []bool) error {
	if done[k.ID] {
		return nil
	}
	if k.Base != nil {
		if err := c.layout(k.Base, defs, done); err != nil {
			return err
		}
		k.attrs = append(k.attrs, k.Base.attrs...)
		k.edges = append(k.edges, k.Base.edges...)
		k.numSingles = k.Base.numSingles
		k.numLists = k.Base.numLists
	}

	k.attrByName = make(map[string]*Attr)
	k.edgeByName = make(map[string]*Edge)
	for _, a := range k.attrs {
		k.attrByName[a.Name] = a
	}
	for _, e := range k.edges {
		k.edgeByName[e.Name] = e
	}

	def := defs[k.ID]
	for _, ad := range def.Attrs {
		if err := checkFieldName(k, ad.Name); err != nil {
			return err
		}
		typ, err := ParseAttrType(ad.Type)
		if err != nil {
			return fmt.Errorf("%w (attribute %s.%s)", err, k.Name, ad.Name)
		}
		a := &Attr{Name: ad.Name, Type: typ, Owner: k, Slot: len(k.attrs)}
		k.OwnAttrs = append(k.OwnAttrs, a)
		k.attrs = append(k.attrs, a)
		k.attrByName[a.Name] = a
	}

	for _, ed := range def.Edges {
		if err := checkFieldName(k, ed.Name); err != nil {
			return err
		}
		target, ok := c.byName[ed.Target]
		if !ok {
			return fmt.Errorf("%w: edge %s.%s has unknown target %q", ErrInvalidCatalogue, k.Name, ed.Name, ed.Target)
		}
		if ed.Required && ed.List {
			return fmt.Errorf("%w: list edge %s.%s cannot be required", ErrInvalidCatalogue, k.Name, ed.Name)
		}
		if len(c.edges) >= int(^EdgeID(0)) {
			return fmt.Errorf("%w: too many edge slots", ErrInvalidCatalogue)
		}
		e := &Edge{
			ID:       EdgeID(len(c.edges)),
			Name:     ed.Name,
			Owner:    k,
			Target:   target,
			Owning:   ed.Owning,
			List:     ed.List,
			Required: ed.Required,
		}
		if e.List {
			e.Slot = k.numLists
			k.numLists++
		} else {
			e.Slot = k.numSingles
			k.numSingles++
		}
		c.edges = append(c.edges, e)
		k.OwnEdges = append(k.OwnEdges, e)
		k.edges = append(k.edges, e)
		k.edgeByName[e.Name] = e
	}

	done[k.ID] = true
	return nil
}

func checkFieldName(k *Kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: kind %q declares a field without a name", ErrInvalidCatalogue, k.Name)
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("%w: field name %q contains '.'", ErrInvalidCatalogue, name)
	}
	if _, dup := k.attrByName[name]; dup {
		return fmt.Errorf("%w: duplicate field %s.%s", ErrInvalidCatalogue, k.Name, name)
	}
	if _, dup := k.edgeByName[name]; dup {
		return fmt.Errorf("%w: duplicate field %s.%s", ErrInvalidCatalogue, k.Name, name)
	}
	return nil
}

func (c *Catalogue) computeFingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(c.name)
	for _, k := range c.kinds {
		base := ""
		if k.Base != nil {
			base = k.Base.Name
		}
		_, _ = fmt.Fprintf(d, "|k:%s:%s:%t", k.Name, base, k.Abstract)
		for _, a := range k.OwnAttrs {
			_, _ = fmt.Fprintf(d, "|a:%s:%s", a.Name, a.Type)
		}
		for _, e := range k.OwnEdges {
			_, _ = fmt.Fprintf(d, "|e:%s:%s:%t:%t:%t", e.Name, e.Target.Name, e.Owning, e.List, e.Required)
		}
	}
	return d.Sum64()
}
