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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEdge_SecondOwnerDetachesFirst(t *testing.T) {
	x := newFixture(t)
	statements := x.edge("Block.statements")

	a := x.create("Block")
	b := x.create("ExpressionStatement")

	require.NoError(t, x.f.AddEdge(a, statements, b))
	assert.Equal(t, []NodeID{a}, x.f.SourcesOf(b, statements))

	// Owning a node that already has an owner moves it.
	a2 := x.create("Block")
	require.NoError(t, x.f.AddEdge(a2, statements, b))

	assert.Empty(t, x.list(a, "Block.statements"))
	assert.Equal(t, []NodeID{b}, x.list(a2, "Block.statements"))
	assert.Equal(t, []NodeID{a2}, x.f.SourcesOf(b, statements))

	owner, edge, err := x.f.Owner(b)
	require.NoError(t, err)
	assert.Equal(t, a2, owner)
	assert.Same(t, statements, edge)
	require.NoError(t, x.f.Verify())
}

func TestAddEdge_ReaddMovesToEnd(t *testing.T) {
	x := newFixture(t)
	statements := x.edge("Block.statements")
	block := x.create("Block")
	s1 := x.create("Return")
	s2 := x.create("Return")

	require.NoError(t, x.f.AddEdge(block, statements, s1))
	require.NoError(t, x.f.AddEdge(block, statements, s2))
	require.NoError(t, x.f.AddEdge(block, statements, s1))

	assert.Equal(t, []NodeID{s2, s1}, x.list(block, "Block.statements"))
	assert.Equal(t, []NodeID{block}, x.f.SourcesOf(s1, statements))
	require.NoError(t, x.f.Verify())
}

func TestSetEdge_ReplacesAndDetachesOldValue(t *testing.T) {
	x := newFixture(t)
	expr := x.edge("Return.expression")
	ret := x.create("Return")
	i1 := x.create("Identifier")
	i2 := x.create("Identifier")

	require.NoError(t, x.f.SetEdge(ret, expr, i1))
	require.NoError(t, x.f.SetEdge(ret, expr, i2))

	assert.Equal(t, i2, x.single(ret, "Return.expression"))
	assert.Empty(t, x.f.SourcesOf(i1, expr))
	assert.Equal(t, []NodeID{ret}, x.f.SourcesOf(i2, expr))

	owner, _, err := x.f.Owner(i1)
	require.NoError(t, err)
	assert.Equal(t, NoNode, owner)
}

func TestSetEdge_SameValueIsNoop(t *testing.T) {
	x := newFixture(t)
	expr := x.edge("Return.expression")
	ret := x.create("Return")
	id := x.create("Identifier")
	require.NoError(t, x.f.SetEdge(ret, expr, id))

	epoch := x.f.Epoch()
	require.NoError(t, x.f.SetEdge(ret, expr, id))
	assert.Equal(t, epoch, x.f.Epoch())
}

func TestSetEdge_StealFromRequiredSlotRejected(t *testing.T) {
	x := newFixture(t)
	stmt := x.create("ExpressionStatement")
	ret := x.create("Return")
	ident := x.create("Identifier")

	require.NoError(t, x.f.SetEdge(stmt, x.edge("ExpressionStatement.expression"), ident))

	err := x.f.SetEdge(ret, x.edge("Return.expression"), ident)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequiredEdge))

	assert.Equal(t, ident, x.single(stmt, "ExpressionStatement.expression"))
	assert.Equal(t, NoNode, x.single(ret, "Return.expression"))
}

func TestSetEdge_RequiredSlotCanBeReplaced(t *testing.T) {
	x := newFixture(t)
	expr := x.edge("ExpressionStatement.expression")
	stmt := x.create("ExpressionStatement")
	i1 := x.create("Identifier")
	i2 := x.create("Identifier")

	require.NoError(t, x.f.SetEdge(stmt, expr, i1))
	require.NoError(t, x.f.SetEdge(stmt, expr, i2))
	assert.Equal(t, i2, x.single(stmt, "ExpressionStatement.expression"))

	err := x.f.ClearEdge(stmt, expr)
	assert.True(t, errors.Is(err, ErrRequiredEdge))

	err = x.f.SetEdge(stmt, expr, NoNode)
	assert.True(t, errors.Is(err, ErrNullNotAllowed))
	assert.Equal(t, i2, x.single(stmt, "ExpressionStatement.expression"))
}

func TestClearEdge_Optional(t *testing.T) {
	x := newFixture(t)
	expr := x.edge("Return.expression")
	ret := x.create("Return")
	id := x.create("Identifier")

	// Clearing an empty slot is allowed.
	require.NoError(t, x.f.ClearEdge(ret, expr))

	require.NoError(t, x.f.SetEdge(ret, expr, id))
	require.NoError(t, x.f.ClearEdge(ret, expr))
	assert.Equal(t, NoNode, x.single(ret, "Return.expression"))
	assert.Empty(t, x.f.SourcesOf(id, expr))
}

func TestEdge_OwnershipCycleRejected(t *testing.T) {
	x := newFixture(t)
	statements := x.edge("Block.statements")
	outer := x.create("Block")
	inner := x.create("Block")
	require.NoError(t, x.f.AddEdge(outer, statements, inner))

	err := x.f.AddEdge(inner, statements, outer)
	assert.True(t, errors.Is(err, ErrOwnershipCycle))

	err = x.f.AddEdge(outer, statements, outer)
	assert.True(t, errors.Is(err, ErrOwnershipCycle))

	assert.Equal(t, []NodeID{inner}, x.list(outer, "Block.statements"))
	assert.Empty(t, x.list(inner, "Block.statements"))
}

func TestEdge_ReferenceCycleAllowed(t *testing.T) {
	x := newFixture(t)
	refersTo := x.edge("Identifier.refersTo")
	a := x.create("Identifier")
	b := x.create("Identifier")

	require.NoError(t, x.f.SetEdge(a, refersTo, b))
	require.NoError(t, x.f.SetEdge(b, refersTo, a))
	require.NoError(t, x.f.SetEdge(a, refersTo, a))
	require.NoError(t, x.f.Verify())
}

func TestEdge_ValidationErrors(t *testing.T) {
	x := newFixture(t)
	block := x.create("Block")
	ret := x.create("Return")
	ident := x.create("Identifier")
	comment := x.create("Comment")

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{
			name: "kind mismatch",
			run:  func() error { return x.f.AddEdge(block, x.edge("Block.statements"), ident) },
			want: ErrKindMismatch,
		},
		{
			name: "dangling target",
			run:  func() error { return x.f.AddEdge(block, x.edge("Block.statements"), 999) },
			want: ErrDanglingEdge,
		},
		{
			name: "unknown source",
			run:  func() error { return x.f.AddEdge(999, x.edge("Block.statements"), ret) },
			want: ErrNotFound,
		},
		{
			name: "slot not declared by kind",
			run:  func() error { return x.f.SetEdge(block, x.edge("Return.expression"), ident) },
			want: ErrInvalidSlot,
		},
		{
			name: "single op on list slot",
			run:  func() error { return x.f.SetEdge(block, x.edge("Block.statements"), ret) },
			want: ErrInvalidSlot,
		},
		{
			name: "list op on single slot",
			run:  func() error { return x.f.AddEdge(ret, x.edge("Return.expression"), ident) },
			want: ErrInvalidSlot,
		},
		{
			name: "add no value",
			run:  func() error { return x.f.AddEdge(block, x.edge("Block.comments"), NoNode) },
			want: ErrNullNotAllowed,
		},
		{
			name: "remove absent",
			run:  func() error { return x.f.RemoveEdge(block, x.edge("Block.comments"), comment) },
			want: ErrEdgeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var edgeErr *EdgeError
			require.True(t, errors.As(err, &edgeErr))
			assert.NotEmpty(t, edgeErr.Op)
		})
	}
	require.NoError(t, x.f.Verify())
}

func TestEdge_FailedValidationIsAtomic(t *testing.T) {
	x := newFixture(t)
	statements := x.edge("Block.statements")
	expr := x.edge("Return.expression")

	block := x.create("Block")
	ret := x.create("Return")
	ident := x.create("Identifier")
	require.NoError(t, x.f.AddEdge(block, statements, ret))
	require.NoError(t, x.f.SetEdge(ret, expr, ident))

	other := NewFactory(x.cat)
	foreignID, err := other.Create(x.cat.MustKind("Identifier"))
	require.NoError(t, err)
	foreign, err := other.Get(foreignID)
	require.NoError(t, err)

	epoch := x.f.Epoch()
	failures := []error{
		x.f.SetEdge(ret, expr, block),  // kind mismatch
		x.f.SetEdge(ret, expr, 4242),   // dangling
		x.node(ret).Set(expr, foreign), // foreign arena
		x.f.AddEdge(block, statements, ident),
	}
	wants := []error{ErrKindMismatch, ErrDanglingEdge, ErrForeignArena, ErrKindMismatch}
	for i, err := range failures {
		assert.True(t, errors.Is(err, wants[i]), "failure %d: %v", i, err)
	}

	assert.Equal(t, epoch, x.f.Epoch())
	assert.Equal(t, ident, x.single(ret, "Return.expression"))
	assert.Equal(t, []NodeID{ret}, x.list(block, "Block.statements"))
	assert.Equal(t, []NodeID{ret}, x.f.SourcesOf(ident, expr))
	assert.Equal(t, []NodeID{block}, x.f.SourcesOf(ret, statements))
	require.NoError(t, x.f.Verify())
}

func TestEdge_IDsResolveInReceivingArena(t *testing.T) {
	x := newFixture(t)
	expr := x.edge("Return.expression")
	statements := x.edge("Block.statements")

	ret := x.create("Return")
	local := x.create("Identifier")

	other := NewFactory(x.cat)
	for range 2 {
		_, err := other.Create(x.cat.MustKind("Block"))
		require.NoError(t, err)
	}
	foreignID, err := other.Create(x.cat.MustKind("Identifier"))
	require.NoError(t, err)
	foreign, err := other.Get(foreignID)
	require.NoError(t, err)
	require.False(t, x.f.Exists(foreignID))
	require.True(t, other.Exists(local))

	// foreignID is free locally, so the id form reports a dangling target.
	err = x.f.SetEdge(ret, expr, foreignID)
	assert.ErrorIs(t, err, ErrDanglingEdge)
	assert.NotErrorIs(t, err, ErrForeignArena)

	// The pointer form knows the target's arena.
	err = x.node(ret).Set(expr, foreign)
	assert.ErrorIs(t, err, ErrForeignArena)
	err = x.node(x.create("Block")).Add(statements, foreign)
	assert.ErrorIs(t, err, ErrForeignArena)

	// An id present in both arenas names the local node, even though the
	// other arena holds a Block under it.
	require.NoError(t, x.f.SetEdge(ret, expr, local))
	assert.Equal(t, local, x.single(ret, "Return.expression"))
	assert.Empty(t, other.SourcesOf(local, expr))
	require.NoError(t, x.f.Verify())
}

func TestNode_PointerAPI(t *testing.T) {
	x := newFixture(t)
	statements := x.edge("Block.statements")
	block := x.node(x.create("Block"))
	ret := x.node(x.create("Return"))

	require.NoError(t, block.Add(statements, ret))
	owner, edge := ret.Owner()
	assert.Equal(t, block.ID(), owner)
	assert.Same(t, statements, edge)
	assert.Equal(t, []NodeID{ret.ID()}, block.Targets(statements))

	require.NoError(t, block.Remove(statements, ret))
	assert.Empty(t, block.Targets(statements))

	id := x.node(x.create("Identifier"))
	require.NoError(t, ret.Set(x.edge("Return.expression"), id))
	require.NoError(t, ret.Set(x.edge("Return.expression"), nil))
	assert.Empty(t, ret.Targets(x.edge("Return.expression")))
	assert.Equal(t, "Return#2", ret.String())
}

func TestNode_DeletedTargetRejected(t *testing.T) {
	x := newFixture(t)
	block := x.node(x.create("Block"))
	ret := x.node(x.create("Return"))
	_, err := x.f.Delete(ret.ID())
	require.NoError(t, err)

	err = block.Add(x.edge("Block.statements"), ret)
	assert.True(t, errors.Is(err, ErrDanglingEdge))
}

func TestReferenceList_DuplicatesTrackedByMultiplicity(t *testing.T) {
	x := newFixture(t)
	comments := x.edge("Positioned.comments")
	block := x.create("Block")
	c := x.create("Comment")

	require.NoError(t, x.f.AddEdge(block, comments, c))
	require.NoError(t, x.f.AddEdge(block, comments, c))
	assert.Equal(t, []NodeID{c, c}, x.list(block, "Block.comments"))
	assert.Equal(t, []NodeID{block}, x.f.SourcesOf(c, comments))

	require.NoError(t, x.f.RemoveEdge(block, comments, c))
	assert.Equal(t, []NodeID{block}, x.f.SourcesOf(c, comments))

	require.NoError(t, x.f.RemoveEdge(block, comments, c))
	assert.Empty(t, x.f.SourcesOf(c, comments))
	require.NoError(t, x.f.Verify())
}

func TestReferenceEdges_ManySources(t *testing.T) {
	x := newFixture(t)
	refersTo := x.edge("Identifier.refersTo")
	param := x.create("Parameter")
	i1 := x.create("Identifier")
	i2 := x.create("Identifier")
	i3 := x.create("Identifier")

	for _, id := range []NodeID{i2, i1, i3} {
		require.NoError(t, x.f.SetEdge(id, refersTo, param))
	}
	assert.Equal(t, []NodeID{i2, i1, i3}, x.f.SourcesOf(param, refersTo))

	owner, _, err := x.f.Owner(param)
	require.NoError(t, err)
	assert.Equal(t, NoNode, owner)
}

func TestIncoming_GroupsByEdge(t *testing.T) {
	x := newFixture(t)
	comments := x.edge("Positioned.comments")
	block := x.create("Block")
	ret := x.create("Return")
	c := x.create("Comment")
	require.NoError(t, x.f.AddEdge(block, comments, c))
	require.NoError(t, x.f.AddEdge(ret, comments, c))

	in := x.f.Incoming(c)
	require.Len(t, in, 1)
	assert.Equal(t, []NodeID{block, ret}, in[comments])
}
