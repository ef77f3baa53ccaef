// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package merge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

func create(t *testing.T, f *graph.Factory, kind string) graph.NodeID {
	t.Helper()
	id, err := f.Create(f.Catalogue().MustKind(kind))
	require.NoError(t, err)
	return id
}

// method builds "m(x) { return x + 1; }" with the identifier referring to
// the parameter, and returns the ids by role.
func method(t *testing.T, f *graph.Factory) map[string]graph.NodeID {
	t.Helper()
	cat := f.Catalogue()
	ids := map[string]graph.NodeID{
		"method": create(t, f, "MethodDeclaration"),
		"param":  create(t, f, "Parameter"),
		"body":   create(t, f, "Block"),
		"ret":    create(t, f, "Return"),
		"bin":    create(t, f, "Binary"),
		"ident":  create(t, f, "Identifier"),
		"lit":    create(t, f, "IntegerLiteral"),
		"note":   create(t, f, "Comment"),
	}
	require.NoError(t, f.SetString(ids["method"], cat.MustAttr("Declaration.name"), "m"))
	require.NoError(t, f.SetString(ids["param"], cat.MustAttr("Declaration.name"), "x"))
	require.NoError(t, f.SetString(ids["ident"], cat.MustAttr("Identifier.name"), "x"))
	require.NoError(t, f.SetString(ids["note"], cat.MustAttr("Comment.text"), "adds one"))
	require.NoError(t, f.SetInt(ids["lit"], cat.MustAttr("IntegerLiteral.value"), 1))

	require.NoError(t, f.AddEdge(ids["method"], cat.MustEdge("MethodDeclaration.parameters"), ids["param"]))
	require.NoError(t, f.SetEdge(ids["method"], cat.MustEdge("MethodDeclaration.body"), ids["body"]))
	require.NoError(t, f.AddEdge(ids["body"], cat.MustEdge("Block.statements"), ids["ret"]))
	require.NoError(t, f.SetEdge(ids["ret"], cat.MustEdge("Return.expression"), ids["bin"]))
	require.NoError(t, f.SetEdge(ids["bin"], cat.MustEdge("Binary.leftOperand"), ids["ident"]))
	require.NoError(t, f.SetEdge(ids["bin"], cat.MustEdge("Binary.rightOperand"), ids["lit"]))
	require.NoError(t, f.SetEdge(ids["ident"], cat.MustEdge("Identifier.refersTo"), ids["param"]))
	require.NoError(t, f.AddEdge(ids["method"], cat.MustEdge("Positioned.comments"), ids["note"]))
	require.NoError(t, f.AddEdge(ids["ret"], cat.MustEdge("Positioned.comments"), ids["note"]))
	require.NoError(t, f.SetFiltered(ids["lit"]))
	return ids
}

func TestMerge_CopiesNodesEdgesAndStrings(t *testing.T) {
	cat := schema.Default()
	dst := graph.NewFactory(cat)
	existing := create(t, dst, "Identifier")
	require.NoError(t, dst.SetString(existing, cat.MustAttr("Identifier.name"), "x"))

	src := graph.NewFactory(cat)
	roles := method(t, src)

	ids, err := Merge(context.Background(), dst, src)
	require.NoError(t, err)
	require.Len(t, ids, src.NodeCount())
	assert.Equal(t, 1+src.NodeCount(), dst.NodeCount())
	require.NoError(t, dst.Verify())

	for id, n := range src.Nodes() {
		nid, ok := ids[id]
		require.True(t, ok, "node %d not copied", id)
		copied, err := dst.Get(nid)
		require.NoError(t, err)
		assert.Same(t, n.Kind(), copied.Kind())
		assert.Equal(t, n.IsFiltered(), copied.IsFiltered())

		for _, a := range n.Kind().Attrs() {
			if a.Type != schema.AttrString {
				assert.Equal(t, n.Attr(a), copied.Attr(a), "%s of %s", a.QualifiedName(), n)
				continue
			}
			want, err := src.String(id, a)
			require.NoError(t, err)
			got, err := dst.String(nid, a)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		for _, e := range n.Kind().Edges() {
			var want []graph.NodeID
			for _, target := range n.Targets(e) {
				want = append(want, ids[target])
			}
			assert.Equal(t, want, copied.Targets(e), "%s of %s", e, n)
		}

		owner, edge := n.Owner()
		gotOwner, gotEdge := copied.Owner()
		if owner == graph.NoNode {
			assert.Equal(t, graph.NoNode, gotOwner)
		} else {
			assert.Equal(t, ids[owner], gotOwner)
			assert.Same(t, edge, gotEdge)
		}
	}

	// Both "x" fields share the key dst already had.
	name := cat.MustAttr("Identifier.name")
	want, err := dst.StringKey(existing, name)
	require.NoError(t, err)
	got, err := dst.StringKey(ids[roles["ident"]], name)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, []graph.NodeID{ids[roles["ident"]]},
		dst.SourcesOf(ids[roles["param"]], cat.MustEdge("Identifier.refersTo")))
	assert.ElementsMatch(t, []graph.NodeID{ids[roles["method"]], ids[roles["ret"]]},
		dst.SourcesOf(ids[roles["note"]], cat.MustEdge("Positioned.comments")))
}

func TestMerge_SourceKeepsWorking(t *testing.T) {
	cat := schema.Default()
	dst := graph.NewFactory(cat)
	src := graph.NewFactory(cat)
	roles := method(t, src)

	_, err := Merge(context.Background(), dst, src)
	require.NoError(t, err)

	assert.Same(t, dst.Strings(), src.Strings())
	text, err := src.String(roles["note"], cat.MustAttr("Comment.text"))
	require.NoError(t, err)
	assert.Equal(t, "adds one", text)
	require.NoError(t, src.Verify())
}

func TestMerge_Rejections(t *testing.T) {
	cat := schema.Default()

	t.Run("same arena", func(t *testing.T) {
		f := graph.NewFactory(cat)
		_, err := Merge(context.Background(), f, f)
		assert.ErrorIs(t, err, ErrSameArena)
	})

	t.Run("catalogue mismatch", func(t *testing.T) {
		other, err := schema.Parse([]byte(`
name: tiny
kinds:
  - name: Node
`))
		require.NoError(t, err)
		_, err = Merge(context.Background(), graph.NewFactory(cat), graph.NewFactory(other))
		assert.ErrorIs(t, err, ErrCatalogueMismatch)
	})

	t.Run("frozen destination", func(t *testing.T) {
		dst := graph.NewFactory(cat)
		require.NoError(t, dst.Freeze())
		src := graph.NewFactory(cat)
		create(t, src, "Comment")
		_, err := Merge(context.Background(), dst, src)
		assert.ErrorIs(t, err, graph.ErrFactoryFrozen)
	})

	t.Run("capacity rolls back", func(t *testing.T) {
		dst := graph.NewFactory(cat, graph.WithMaxNodes(3))
		create(t, dst, "Comment")
		src := graph.NewFactory(cat)
		method(t, src)

		_, err := Merge(context.Background(), dst, src)
		assert.ErrorIs(t, err, graph.ErrMaxNodesExceeded)
		assert.Equal(t, 1, dst.NodeCount())
		require.NoError(t, dst.Verify())
	})
}

func TestBuildParallel_MergesInBuilderOrder(t *testing.T) {
	cat := schema.Default()
	const n = 6
	builders := make([]Builder, n)
	for i := range builders {
		builders[i] = func(ctx context.Context, f *graph.Factory) error {
			ret, err := f.Create(cat.MustKind("Return"))
			if err != nil {
				return err
			}
			ident, err := f.Create(cat.MustKind("Identifier"))
			if err != nil {
				return err
			}
			if err := f.SetString(ident, cat.MustAttr("Identifier.name"), fmt.Sprintf("v%d", i)); err != nil {
				return err
			}
			return f.SetEdge(ret, cat.MustEdge("Return.expression"), ident)
		}
	}

	res, err := BuildParallel(context.Background(), cat, 2, builders)
	require.NoError(t, err)
	require.Len(t, res.IDMaps, n)
	assert.Equal(t, 2*n, res.Factory.NodeCount())
	require.NoError(t, res.Factory.Verify())

	for i, ids := range res.IDMaps {
		// Every builder saw ids 1 (Return) and 2 (Identifier).
		ret, ident := ids[1], ids[2]
		assert.Equal(t, graph.NodeID(2*i+1), ret)
		assert.Equal(t, graph.NodeID(2*i+2), ident)

		name, err := res.Factory.String(ident, cat.MustAttr("Identifier.name"))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v%d", i), name)

		owner, _, err := res.Factory.Owner(ident)
		require.NoError(t, err)
		assert.Equal(t, ret, owner)
	}
}

func TestBuildParallel_BuilderError(t *testing.T) {
	cat := schema.Default()
	boom := errors.New("boom")
	builders := []Builder{
		func(ctx context.Context, f *graph.Factory) error {
			_, err := f.Create(cat.MustKind("Comment"))
			return err
		},
		func(ctx context.Context, f *graph.Factory) error { return boom },
	}

	res, err := BuildParallel(context.Background(), cat, 0, builders)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "builder 1")
}

func TestBuildParallel_CancelledContext(t *testing.T) {
	cat := schema.Default()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	builders := []Builder{func(ctx context.Context, f *graph.Factory) error {
		called = true
		return nil
	}}
	_, err := BuildParallel(ctx, cat, 1, builders)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestBuildParallel_NoBuilders(t *testing.T) {
	res, err := BuildParallel(context.Background(), schema.Default(), 4, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Factory.NodeCount())
	assert.Empty(t, res.IDMaps)
}
