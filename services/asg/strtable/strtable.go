// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strtable provides the deduplicated string storage shared by every
// node of an ASG arena.
//
// Strings are interned once and referred to by a small integer Key. Key 0 is
// reserved for the empty string and is always present, so a zero-initialized
// string attribute reads back as "".
//
// # Merging
//
// When two arenas are merged, the keys held by the source arena are only
// meaningful in the source table. SwapInto maps a source key into a
// destination table and remembers the mapping in a RemapCache so that a key
// referenced by many fields is interned into the destination only once.
//
// # Thread Safety
//
// Table is NOT safe for concurrent use. Like the arena that owns it, it is
// written by a single builder and read afterwards.
package strtable

import (
	"errors"
	"fmt"
	"sort"
)

// Key identifies an interned string within one Table.
type Key uint32

// EmptyKey is the key of the empty string in every table.
const EmptyKey Key = 0

// ErrUnknownKey is returned when a key is not present in the table.
var ErrUnknownKey = errors.New("unknown string key")

// ErrKeyConflict is returned by Restore when a key or text is already bound
// to a different value.
var ErrKeyConflict = errors.New("string key conflict")

// Table maps keys to unique strings and back.
type Table struct {
	byKey  map[Key]string
	byText map[string]Key
	next   Key

	// persist marks keys that must be included when the table is serialized.
	persist map[Key]struct{}
}

// New creates an empty table containing only the empty string.
func New() *Table {
	return &Table{
		byKey:   map[Key]string{EmptyKey: ""},
		byText:  map[string]Key{"": EmptyKey},
		next:    EmptyKey + 1,
		persist: make(map[Key]struct{}),
	}
}

// Intern returns the key for text, allocating the next key on first use.
//
// Complexity: O(1) amortized.
func (t *Table) Intern(text string) Key {
	if key, ok := t.byText[text]; ok {
		return key
	}
	key := t.next
	t.next++
	t.byKey[key] = text
	t.byText[text] = key
	return key
}

// Find returns the key for text without interning it.
func (t *Table) Find(text string) (Key, bool) {
	key, ok := t.byText[text]
	return key, ok
}

// Lookup returns the text bound to key.
//
// Errors:
//
//	ErrUnknownKey - key was never allocated by this table
func (t *Table) Lookup(key Key) (string, error) {
	text, ok := t.byKey[key]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownKey, key)
	}
	return text, nil
}

// Len returns the number of entries, including the empty string.
func (t *Table) Len() int {
	return len(t.byKey)
}

// NextKey returns the key the next Intern of a new string will allocate.
func (t *Table) NextKey() Key {
	return t.next
}

// MarkPersist flags key to be written when the table is serialized.
// The empty string is implicit and never needs to be marked.
func (t *Table) MarkPersist(key Key) {
	if key == EmptyKey {
		return
	}
	t.persist[key] = struct{}{}
}

// PersistedKeys returns the keys marked with MarkPersist, in ascending order.
func (t *Table) PersistedKeys() []Key {
	keys := make([]Key, 0, len(t.persist))
	for k := range t.persist {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ResetPersist clears every persistence mark.
func (t *Table) ResetPersist() {
	t.persist = make(map[Key]struct{})
}

// Restore binds text to an explicit key. Used when a table is read back from
// a snapshot and keys must keep their saved values.
//
// Errors:
//
//	ErrKeyConflict - key or text is already bound to something else
func (t *Table) Restore(key Key, text string) error {
	if existing, ok := t.byKey[key]; ok {
		if existing == text {
			return nil
		}
		return fmt.Errorf("%w: key %d already holds %q", ErrKeyConflict, key, existing)
	}
	if existing, ok := t.byText[text]; ok {
		return fmt.Errorf("%w: %q already bound to key %d", ErrKeyConflict, text, existing)
	}
	t.byKey[key] = text
	t.byText[text] = key
	if key >= t.next {
		t.next = key + 1
	}
	return nil
}
