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
	"container/list"
	"sync"
	"sync/atomic"
)

// snapshotCache keeps the most recently read decompressed snapshots.
//
// Entries are keyed by snapshot name and carry the checksum they were
// stored with, so a stale entry is detected even if invalidation was missed.
//
// Thread Safety: All methods are safe for concurrent use.
type snapshotCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front is most recent

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type cacheEntry struct {
	name     string
	checksum uint64
	raw      []byte
}

// newSnapshotCache returns nil for capacity <= 0; a nil cache never hits.
func newSnapshotCache(capacity int) *snapshotCache {
	if capacity <= 0 {
		return nil
	}
	return &snapshotCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// get returns the cached bytes of name if they were stored with checksum.
// The slice must not be modified.
func (c *snapshotCache) get(name string, checksum uint64) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[name]
	if !ok || elem.Value.(*cacheEntry).checksum != checksum {
		c.misses.Add(1)
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return elem.Value.(*cacheEntry).raw, true
}

func (c *snapshotCache) put(name string, checksum uint64, raw []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[name]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.checksum, entry.raw = checksum, raw
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).name)
			c.evictions.Add(1)
		}
	}
	c.items[name] = c.order.PushFront(&cacheEntry{name: name, checksum: checksum, raw: raw})
}

func (c *snapshotCache) remove(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[name]; ok {
		c.order.Remove(elem)
		delete(c.items, name)
	}
}

func (c *snapshotCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CacheStats reports snapshot cache effectiveness.
type CacheStats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

func (c *snapshotCache) stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	return CacheStats{
		Entries:   c.len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
