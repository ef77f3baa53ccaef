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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

func TestRestore_KeepsIDs(t *testing.T) {
	x := newFixture(t)
	block := x.cat.MustKind("Block")

	require.NoError(t, x.f.Restore(5, block))
	require.NoError(t, x.f.Restore(2, block))
	assert.Equal(t, NodeID(6), x.f.NextID())
	assert.Equal(t, []NodeID{2, 5}, x.f.NodeIDs())

	assert.ErrorIs(t, x.f.Restore(5, block), ErrDuplicateNode)
	assert.ErrorIs(t, x.f.Restore(NoNode, block), ErrCorruptGraph)

	id := x.create("Block")
	assert.Equal(t, NodeID(6), id)
}

func TestSetNextID(t *testing.T) {
	x := newFixture(t)
	x.create("Block")
	x.create("Block")

	assert.ErrorIs(t, x.f.SetNextID(2), ErrCorruptGraph)
	require.NoError(t, x.f.SetNextID(10))
	assert.Equal(t, NodeID(10), x.create("Block"))
}

func TestLinkRaw(t *testing.T) {
	x := newFixture(t)
	statements := x.edge("Block.statements")
	expr := x.edge("Return.expression")

	b1 := x.create("Block")
	b2 := x.create("Block")
	ret := x.create("Return")
	i1 := x.create("Identifier")
	i2 := x.create("Identifier")

	require.NoError(t, x.f.LinkRaw(b1, statements, ret))
	require.NoError(t, x.f.LinkRaw(ret, expr, i1))
	assert.Equal(t, []NodeID{b1}, x.f.SourcesOf(ret, statements))

	assert.ErrorIs(t, x.f.LinkRaw(b2, statements, ret), ErrCorruptGraph)
	assert.ErrorIs(t, x.f.LinkRaw(ret, expr, i2), ErrCorruptGraph)
	assert.ErrorIs(t, x.f.LinkRaw(ret, expr, b2), ErrKindMismatch)
	assert.ErrorIs(t, x.f.LinkRaw(b1, statements, NoNode), ErrNullNotAllowed)

	assert.Equal(t, []NodeID{ret}, x.list(b1, "Block.statements"))
	require.NoError(t, x.f.Verify())
}

func TestAttrRaw(t *testing.T) {
	x := newFixture(t)
	ident := x.create("Identifier")
	name := x.attr("Identifier.name")
	generated := x.attr("Identifier.isCompilerGenerated")

	key := x.f.Strings().Intern("value")
	require.NoError(t, x.f.SetAttrRaw(ident, name, uint32(key)))
	s, err := x.f.String(ident, name)
	require.NoError(t, err)
	assert.Equal(t, "value", s)

	raw, err := x.f.AttrRaw(ident, name)
	require.NoError(t, err)
	assert.Equal(t, uint32(key), raw)

	assert.ErrorIs(t, x.f.SetAttrRaw(ident, name, 9999), ErrCorruptGraph)
	assert.ErrorIs(t, x.f.SetAttrRaw(ident, generated, 2), ErrCorruptGraph)
	assert.ErrorIs(t, x.f.SetAttrRaw(ident, x.attr("IntegerLiteral.value"), 0), ErrInvalidSlot)
	assert.ErrorIs(t, x.f.SetAttrRaw(999, name, 0), ErrNotFound)
}

func TestSwapStrings_RemapsEveryField(t *testing.T) {
	x := newFixture(t)
	name := x.attr("Identifier.name")
	typeName := x.attr("Identifier.typeName")

	// Give the source table a different key layout from the destination.
	x.f.Strings().Intern("padding")
	a := x.create("Identifier")
	b := x.create("Identifier")
	require.NoError(t, x.f.SetString(a, name, "count"))
	require.NoError(t, x.f.SetString(a, typeName, "int"))
	require.NoError(t, x.f.SetString(b, name, "count"))

	dst := strtable.New()
	dst.Intern("int")
	cache := strtable.NewRemapCache()
	require.NoError(t, x.f.SwapStrings(dst, cache))

	assert.Same(t, dst, x.f.Strings())
	for _, tc := range []struct {
		id   NodeID
		want string
	}{{a, "count"}, {b, "count"}} {
		got, err := x.f.String(tc.id, name)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	typ, err := x.f.String(a, typeName)
	require.NoError(t, err)
	assert.Equal(t, "int", typ)

	ka, _ := x.f.StringKey(a, name)
	kb, _ := x.f.StringKey(b, name)
	assert.Equal(t, ka, kb)
	assert.Equal(t, dst.Intern("count"), ka)

	hits, misses := cache.Stats()
	assert.Greater(t, hits, 0)
	assert.Equal(t, cache.Len(), misses)
}
