// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strtable

// RemapCache records old->new key mappings produced by SwapInto.
//
// One cache belongs to exactly one (source table, destination table) pair.
// Reusing it across pairs returns keys of the wrong table.
type RemapCache struct {
	mapping map[Key]Key
	hits    int
	misses  int
}

// NewRemapCache creates an empty cache.
func NewRemapCache() *RemapCache {
	return &RemapCache{mapping: make(map[Key]Key)}
}

// Get returns the cached mapping for old.
func (c *RemapCache) Get(old Key) (Key, bool) {
	k, ok := c.mapping[old]
	return k, ok
}

// Len returns the number of distinct keys remapped so far.
func (c *RemapCache) Len() int {
	return len(c.mapping)
}

// Stats returns how many SwapInto calls were answered from the cache and how
// many had to intern into the destination.
func (c *RemapCache) Stats() (hits, misses int) {
	return c.hits, c.misses
}

// SwapInto maps key, which belongs to t, into dst.
//
// Description:
//
//	Looks key up in cache first. On a miss the text is interned into dst
//	and the mapping recorded. The caller is expected to call this once per
//	referencing field and overwrite the field with the returned key; the
//	table does not enumerate referencing fields itself.
//
// Inputs:
//
//	dst - The destination table.
//	cache - Mapping cache for this (t, dst) pair. Must not be nil.
//	key - A key allocated by t.
//
// Outputs:
//
//	Key - The equivalent key in dst.
//	error - ErrUnknownKey if key does not belong to t.
func (t *Table) SwapInto(dst *Table, cache *RemapCache, key Key) (Key, error) {
	if mapped, ok := cache.mapping[key]; ok {
		cache.hits++
		return mapped, nil
	}
	text, err := t.Lookup(key)
	if err != nil {
		return EmptyKey, err
	}
	mapped := dst.Intern(text)
	cache.mapping[key] = mapped
	cache.misses++
	return mapped, nil
}
