// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianASG/services/asg/analysis"
	"github.com/AleutianAI/AleutianASG/services/asg/codec"
	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

func openTestStore(t *testing.T, cacheEntries int) *Store {
	t.Helper()
	cfg := InMemoryConfig()
	cfg.CacheEntries = cacheEntries
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// sampleArena builds "while (flag) { return total + 42; }" with the
// literal filtered.
func sampleArena(t *testing.T) *graph.Factory {
	t.Helper()
	cat := schema.Default()
	f := graph.NewFactory(cat)
	mk := func(kind string) graph.NodeID {
		id, err := f.Create(cat.MustKind(kind))
		require.NoError(t, err)
		return id
	}
	loop := mk("While")
	cond := mk("Identifier")
	body := mk("Block")
	ret := mk("Return")
	bin := mk("Binary")
	total := mk("Identifier")
	lit := mk("IntegerLiteral")

	require.NoError(t, f.SetString(cond, cat.MustAttr("Identifier.name"), "flag"))
	require.NoError(t, f.SetString(total, cat.MustAttr("Identifier.name"), "total"))
	require.NoError(t, f.SetString(loop, cat.MustAttr("Positioned.path"), "src/Main.java"))
	require.NoError(t, f.SetInt(lit, cat.MustAttr("IntegerLiteral.value"), 42))
	require.NoError(t, f.SetEdge(loop, cat.MustEdge("While.condition"), cond))
	require.NoError(t, f.SetEdge(loop, cat.MustEdge("While.body"), body))
	require.NoError(t, f.AddEdge(body, cat.MustEdge("Block.statements"), ret))
	require.NoError(t, f.SetEdge(ret, cat.MustEdge("Return.expression"), bin))
	require.NoError(t, f.SetEdge(bin, cat.MustEdge("Binary.leftOperand"), total))
	require.NoError(t, f.SetEdge(bin, cat.MustEdge("Binary.rightOperand"), lit))
	require.NoError(t, f.SetEdge(total, cat.MustEdge("Identifier.refersTo"), cond))
	require.NoError(t, f.SetFiltered(lit))
	return f
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)
	src := sampleArena(t)
	cat := src.Catalogue()

	meta, err := s.Put(ctx, "main", src)
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Name)
	assert.Equal(t, src.NodeCount(), meta.Nodes)
	assert.Equal(t, cat.Fingerprint(), meta.Fingerprint)
	assert.Equal(t, src.ArenaID().String(), meta.ArenaID)
	assert.Positive(t, meta.RawBytes)
	assert.Positive(t, meta.StoredBytes)

	got, gotMeta, err := s.Get(ctx, "main", cat)
	require.NoError(t, err)
	assert.Equal(t, meta.Checksum, gotMeta.Checksum)
	assert.Equal(t, meta.CreatedAt.Unix(), gotMeta.CreatedAt.Unix())
	require.NoError(t, got.Verify())

	assert.Equal(t, src.NodeIDs(), got.NodeIDs())
	assert.Equal(t, src.FilteredCount(), got.FilteredCount())
	for id := range src.Nodes() {
		want, err := analysis.NewHasher(src).Hash(id)
		require.NoError(t, err)
		have, err := analysis.NewHasher(got).Hash(id)
		require.NoError(t, err)
		assert.Equal(t, want, have, "node %d", id)
	}
	name, err := got.String(graph.NodeID(6), cat.MustAttr("Identifier.name"))
	require.NoError(t, err)
	assert.Equal(t, "total", name)
}

func TestStore_CacheServesRepeatReads(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 2)
	src := sampleArena(t)

	_, err := s.Put(ctx, "a", src)
	require.NoError(t, err)
	for range 3 {
		_, _, err := s.Get(ctx, "a", src.Catalogue())
		require.NoError(t, err)
	}
	stats := s.CacheStats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, 1, stats.Entries)

	// Replacing the snapshot replaces the cached bytes too.
	require.NoError(t, src.SetString(graph.NodeID(2), src.Catalogue().MustAttr("Identifier.name"), "done"))
	_, err = s.Put(ctx, "a", src)
	require.NoError(t, err)
	got, _, err := s.Get(ctx, "a", src.Catalogue())
	require.NoError(t, err)
	name, err := got.String(graph.NodeID(2), src.Catalogue().MustAttr("Identifier.name"))
	require.NoError(t, err)
	assert.Equal(t, "done", name)
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 4)
	src := sampleArena(t)

	for _, name := range []string{"zeta", "alpha", "mid/one"} {
		_, err := s.Put(ctx, name, src)
		require.NoError(t, err)
	}
	metas, err := s.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, m := range metas {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"alpha", "mid/one", "zeta"}, names)

	require.NoError(t, s.Delete(ctx, "alpha"))
	_, err = s.Stat(ctx, "alpha")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	_, _, err = s.Get(ctx, "alpha", src.Catalogue())
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "alpha"), ErrSnapshotNotFound)

	metas, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}

func TestStore_InvalidNames(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)
	f := sampleArena(t)

	for _, name := range []string{"", "has space", "tab\tname", strings.Repeat("x", MaxNameLen+1)} {
		_, err := s.Put(ctx, name, f)
		assert.ErrorIs(t, err, ErrInvalidName, "%q", name)
	}
}

func TestStore_DamagedData(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)
	src := sampleArena(t)
	_, err := s.Put(ctx, "snap", src)
	require.NoError(t, err)

	t.Run("valid zstd, wrong content", func(t *testing.T) {
		bogus := s.enc.EncodeAll([]byte("not a snapshot"), nil)
		require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(dataPrefix+"snap"), bogus)
		}))
		_, _, err := s.Get(ctx, "snap", src.Catalogue())
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("not zstd", func(t *testing.T) {
		require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(dataPrefix+"snap"), []byte{1, 2, 3, 4})
		}))
		_, _, err := s.Get(ctx, "snap", src.Catalogue())
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("data missing", func(t *testing.T) {
		require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(dataPrefix + "snap"))
		}))
		_, _, err := s.Get(ctx, "snap", src.Catalogue())
		assert.ErrorIs(t, err, ErrSnapshotNotFound)
	})
}

func TestStore_CatalogueMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 0)
	_, err := s.Put(ctx, "snap", sampleArena(t))
	require.NoError(t, err)

	other, err := schema.Parse([]byte("name: tiny\nkinds:\n  - name: Node\n"))
	require.NoError(t, err)
	_, _, err = s.Get(ctx, "snap", other)
	assert.ErrorIs(t, err, codec.ErrCatalogueMismatch)
}

func TestStore_Closed(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx := context.Background()
	_, err = s.Put(ctx, "x", sampleArena(t))
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openTestStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Stat(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false
	cfg.GCInterval = 10 * time.Millisecond
	cfg.Compression = "best"

	s, err := Open(cfg)
	require.NoError(t, err)
	assert.False(t, s.InMemory())
	src := sampleArena(t)
	_, err = s.Put(context.Background(), "keep", src)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	got, _, err := s.Get(context.Background(), "keep", src.Catalogue())
	require.NoError(t, err)
	assert.Equal(t, src.NodeCount(), got.NodeCount())
}

func TestOpen_Errors(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.Compression = "ultra"
	_, err := Open(cfg)
	assert.ErrorContains(t, err, "compression level")

	_, err = Open(Config{})
	assert.ErrorContains(t, err, "path is required")

	cfg = DefaultConfig(t.TempDir())
	cfg.GCDiscardRatio = 1.5
	_, err = Open(cfg)
	assert.ErrorContains(t, err, "discard ratio")
}

func TestSnapshotCache(t *testing.T) {
	c := newSnapshotCache(2)
	c.put("a", 1, []byte("A"))
	c.put("b", 2, []byte("B"))

	got, ok := c.get("a", 1)
	require.True(t, ok)
	assert.Equal(t, []byte("A"), got)

	// "b" is now least recently used.
	c.put("c", 3, []byte("C"))
	_, ok = c.get("b", 2)
	assert.False(t, ok)

	_, ok = c.get("a", 99)
	assert.False(t, ok, "stale checksum must miss")

	c.remove("a")
	assert.Equal(t, 1, c.len())

	stats := c.stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)

	disabled := newSnapshotCache(0)
	disabled.put("a", 1, nil)
	_, ok = disabled.get("a", 1)
	assert.False(t, ok)
	assert.Equal(t, CacheStats{}, disabled.stats())
}
