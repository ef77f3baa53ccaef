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

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

type fixture struct {
	t   *testing.T
	cat *schema.Catalogue
	f   *Factory
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cat := schema.Default()
	return &fixture{t: t, cat: cat, f: NewFactory(cat, opts...)}
}

func (x *fixture) create(kind string) NodeID {
	x.t.Helper()
	id, err := x.f.Create(x.cat.MustKind(kind))
	require.NoError(x.t, err)
	return id
}

func (x *fixture) node(id NodeID) *Node {
	x.t.Helper()
	n, err := x.f.Get(id)
	require.NoError(x.t, err)
	return n
}

func (x *fixture) edge(qualified string) *schema.Edge {
	return x.cat.MustEdge(qualified)
}

func (x *fixture) attr(qualified string) *schema.Attr {
	return x.cat.MustAttr(qualified)
}

func (x *fixture) list(src NodeID, qualified string) []NodeID {
	x.t.Helper()
	ids, err := x.f.RawEdgeList(src, x.edge(qualified))
	require.NoError(x.t, err)
	return ids
}

func (x *fixture) single(src NodeID, qualified string) NodeID {
	x.t.Helper()
	id, err := x.f.RawEdge(src, x.edge(qualified))
	require.NoError(x.t, err)
	return id
}
