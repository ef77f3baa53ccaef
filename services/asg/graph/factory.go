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
	"slices"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianASG/services/asg/schema"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

// Factory is the arena owning every node of one analyzed program.
//
// Lifecycle:
//
//  1. Create with NewFactory(catalogue)
//  2. Build with Create, SetEdge/AddEdge and attribute setters
//  3. Optionally filter nodes with SetFiltered
//  4. Call Freeze() before handing the arena to readers
//  5. Drop the factory; all nodes go with it
type Factory struct {
	arenaID uuid.UUID
	cat     *schema.Catalogue
	strings *strtable.Table

	// nodes is indexed by NodeID. Index 0 is never used; deleted slots are nil.
	nodes []*Node

	live          int
	filteredCount int
	nextID        NodeID

	reverse *reverseIndex

	state State

	// epoch increments on every successful structural or attribute mutation.
	epoch uint64

	options Options
	logger  *slog.Logger
}

// NewFactory creates an empty arena for the given catalogue.
//
// Example:
//
//	cat := schema.Default()
//	f := graph.NewFactory(cat, graph.WithMaxNodes(100_000))
//	block, _ := f.Create(cat.MustKind("Block"))
func NewFactory(cat *schema.Catalogue, opts ...Option) *Factory {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	strs := options.Strings
	if strs == nil {
		strs = strtable.New()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Factory{
		arenaID: uuid.New(),
		cat:     cat,
		strings: strs,
		nodes:   make([]*Node, 1, 64),
		nextID:  1,
		reverse: newReverseIndex(),
		state:   StateBuilding,
		epoch:   1,
		options: options,
	}
	f.logger = logger.With(slog.String("arena_id", f.arenaID.String()))
	if !options.LazyReverseIndex {
		// An empty arena has an empty, trivially consistent index.
		f.reverse.built = true
	}
	return f
}

// ArenaID returns the unique identity of this factory instance.
func (f *Factory) ArenaID() uuid.UUID {
	return f.arenaID
}

// Catalogue returns the node-kind catalogue.
func (f *Factory) Catalogue() *schema.Catalogue {
	return f.cat
}

// Strings returns the string table used for string attributes.
func (f *Factory) Strings() *strtable.Table {
	return f.strings
}

// Logger returns the factory's logger.
func (f *Factory) Logger() *slog.Logger {
	return f.logger
}

// State returns the lifecycle state.
func (f *Factory) State() State {
	return f.state
}

// IsFrozen returns true if the factory is read-only.
func (f *Factory) IsFrozen() bool {
	return f.state == StateReadOnly
}

// Epoch returns the mutation epoch. It changes whenever the graph content
// changes and is used to invalidate cached structural hashes.
func (f *Factory) Epoch() uint64 {
	return f.epoch
}

// NodeCount returns the number of live nodes.
func (f *Factory) NodeCount() int {
	return f.live
}

// NextID returns the id the next Create will assign.
func (f *Factory) NextID() NodeID {
	return f.nextID
}

func (f *Factory) touch() {
	f.epoch++
}

func (f *Factory) checkMutable() error {
	if f.state == StateReadOnly {
		return ErrFactoryFrozen
	}
	return nil
}

// Create allocates a node of the given concrete kind.
//
// Description:
//
//	Assigns the next id, zero-initializes every attribute and edge slot and
//	registers the node as existing.
//
// Outputs:
//
//	NodeID - The new id, never NoNode on success.
//	error - Non-nil if the factory is frozen, full, or kind is unusable.
//
// Errors:
//
//	ErrFactoryFrozen - Factory has been frozen
//	ErrUnknownKind - kind belongs to another catalogue
//	ErrAbstractKind - kind is abstract
//	ErrMaxNodesExceeded - factory is at capacity
func (f *Factory) Create(kind *schema.Kind) (NodeID, error) {
	if err := f.checkMutable(); err != nil {
		return NoNode, err
	}
	if err := f.checkKind(kind); err != nil {
		return NoNode, err
	}
	if f.nextID == ^NodeID(0) {
		return NoNode, fmt.Errorf("%w: id space exhausted", ErrMaxNodesExceeded)
	}

	id := f.nextID
	f.install(id, kind)
	f.nextID++
	f.touch()
	return id, nil
}

func (f *Factory) checkKind(kind *schema.Kind) error {
	if kind == nil || kind.Catalogue() != f.cat {
		return ErrUnknownKind
	}
	if kind.Abstract {
		return fmt.Errorf("%w: %s", ErrAbstractKind, kind.Name)
	}
	if f.live >= f.options.MaxNodes {
		return ErrMaxNodesExceeded
	}
	return nil
}

func (f *Factory) install(id NodeID, kind *schema.Kind) *Node {
	n := &Node{
		id:      id,
		kind:    kind,
		factory: f,
		attrs:   make([]uint32, kind.NumAttrs()),
		singles: make([]NodeID, kind.NumSingles()),
		lists:   make([][]NodeID, kind.NumLists()),
	}
	if need := int(id) + 1 - len(f.nodes); need > 0 {
		f.nodes = slices.Grow(f.nodes, need)[:int(id)+1]
	}
	f.nodes[id] = n
	f.live++
	nodesCreated.Inc()
	return n
}

// Exists reports whether id names a live node.
func (f *Factory) Exists(id NodeID) bool {
	return f.lookup(id) != nil
}

// Get returns the node with the given id.
//
// Errors:
//
//	ErrNotFound - id is unknown or was deleted
func (f *Factory) Get(id NodeID) (*Node, error) {
	n := f.lookup(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return n, nil
}

func (f *Factory) lookup(id NodeID) *Node {
	if id == NoNode || int(id) >= len(f.nodes) {
		return nil
	}
	return f.nodes[id]
}

// IsFiltered reports whether id is logically deleted. Unknown ids report
// false.
func (f *Factory) IsFiltered(id NodeID) bool {
	n := f.lookup(id)
	return n != nil && n.filtered
}

// SetFiltered flags id as logically deleted.
//
// Description:
//
//	The node keeps its id, its edges and its reverse index entries.
//	Edge getters that dereference (Edge, EdgeList) skip it; raw getters and
//	the codec still see it. Filtering is allowed on a frozen factory since
//	it is an analysis-time decision that does not change the structure.
func (f *Factory) SetFiltered(id NodeID) error {
	n, err := f.Get(id)
	if err != nil {
		return err
	}
	if !n.filtered {
		n.filtered = true
		f.filteredCount++
	}
	return nil
}

// ClearFiltered removes the logical-deletion flag from id.
func (f *Factory) ClearFiltered(id NodeID) error {
	n, err := f.Get(id)
	if err != nil {
		return err
	}
	if n.filtered {
		n.filtered = false
		f.filteredCount--
	}
	return nil
}

// FilteredCount returns the number of filtered live nodes.
func (f *Factory) FilteredCount() int {
	return f.filteredCount
}

// Nodes returns an iterator over live nodes in ascending id order.
//
// Example:
//
//	for id, node := range f.Nodes() {
//	    fmt.Printf("%d: %s\n", id, node.Kind().Name)
//	}
func (f *Factory) Nodes() func(yield func(NodeID, *Node) bool) {
	return func(yield func(NodeID, *Node) bool) {
		for i := 1; i < len(f.nodes); i++ {
			n := f.nodes[i]
			if n == nil {
				continue
			}
			if !yield(NodeID(i), n) {
				return
			}
		}
	}
}

// NodeIDs returns the ids of all live nodes in ascending order.
func (f *Factory) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, f.live)
	for id := range f.Nodes() {
		ids = append(ids, id)
	}
	return ids
}

// Delete removes a node and everything it owns.
//
// Description:
//
//	Recursively deletes owned descendants depth-first, removes the node's
//	outgoing reference edges, removes every edge pointing at the node (its
//	owner's slot included) and frees the slot. The id is never reused.
//	Required slots of other nodes that pointed at a deleted node are left
//	empty; deletion is structural and takes precedence.
//
// Outputs:
//
//	int - Number of nodes deleted, descendants included.
//	error - Non-nil if the factory is frozen or id is unknown.
func (f *Factory) Delete(id NodeID) (int, error) {
	if err := f.checkMutable(); err != nil {
		return 0, err
	}
	n, err := f.Get(id)
	if err != nil {
		return 0, err
	}
	// Incoming edges are found through the reverse index.
	f.ensureReverse()

	count := f.deleteNode(n)
	f.touch()
	nodesDeleted.Add(float64(count))
	f.logger.Debug("deleted node",
		slog.Uint64("node_id", uint64(id)),
		slog.String("kind", n.kind.Name),
		slog.Int("deleted", count),
	)
	return count, nil
}

func (f *Factory) deleteNode(n *Node) int {
	count := 1

	for _, e := range n.kind.Edges() {
		if !e.Owning {
			continue
		}
		for _, child := range n.targets(e) {
			if c := f.lookup(child); c != nil {
				count += f.deleteNode(c)
			}
		}
	}

	for _, e := range n.kind.Edges() {
		for _, t := range n.targets(e) {
			f.reverse.remove(t, e, n.id)
			if tn := f.lookup(t); tn != nil && e.Owning && tn.owner == n.id {
				tn.owner, tn.ownerEdge = NoNode, nil
			}
		}
		if e.List {
			n.lists[e.Slot] = nil
		} else {
			n.singles[e.Slot] = NoNode
		}
	}

	for edgeID, sources := range f.reverse.incoming(n.id) {
		e := f.cat.Edges()[edgeID]
		for _, src := range sources {
			if sn := f.lookup(src); sn != nil {
				sn.dropTarget(e, n.id)
			}
		}
	}
	f.reverse.dropTarget(n.id)

	n.owner, n.ownerEdge = NoNode, nil
	if n.filtered {
		f.filteredCount--
	}
	f.nodes[n.id] = nil
	f.live--
	return count
}

// Freeze verifies the arena and transitions it to read-only mode.
//
// Description:
//
//	Runs Verify(). On success every further mutation returns
//	ErrFactoryFrozen. Filter flags may still be toggled. This operation is
//	irreversible.
func (f *Factory) Freeze() error {
	if err := f.Verify(); err != nil {
		f.logger.Warn("refusing to freeze inconsistent arena", slog.String("error", err.Error()))
		return err
	}
	f.state = StateReadOnly
	f.logger.Debug("arena frozen", slog.Int("nodes", f.live))
	return nil
}

// Stats returns statistics about the arena.
func (f *Factory) Stats() Stats {
	byKind := make(map[string]int)
	bySlot := make(map[string]int)
	for _, n := range f.Nodes() {
		byKind[n.kind.Name]++
		for _, e := range n.kind.Edges() {
			if c := len(n.targets(e)); c > 0 {
				bySlot[e.QualifiedName()] += c
			}
		}
	}
	return Stats{
		NodeCount:     f.live,
		FilteredCount: f.filteredCount,
		NextID:        f.nextID,
		NodesByKind:   byKind,
		EdgesBySlot:   bySlot,
		Strings:       f.strings.Len(),
		State:         f.state,
	}
}
