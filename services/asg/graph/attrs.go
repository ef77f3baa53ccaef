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

	"github.com/AleutianAI/AleutianASG/services/asg/schema"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

// Scalar attributes are stored as one uint32 per slot: int32 values
// bit-cast, bools as 0/1 and strings as their strtable.Key.

// SetInt assigns an int attribute.
func (f *Factory) SetInt(id NodeID, a *schema.Attr, v int32) error {
	n, err := f.attrSlot(id, a, schema.AttrInt, true)
	if err != nil {
		return err
	}
	f.store(n, a, uint32(v))
	return nil
}

// Int reads an int attribute.
func (f *Factory) Int(id NodeID, a *schema.Attr) (int32, error) {
	n, err := f.attrSlot(id, a, schema.AttrInt, false)
	if err != nil {
		return 0, err
	}
	return int32(n.attrs[a.Slot]), nil
}

// SetBool assigns a bool attribute.
func (f *Factory) SetBool(id NodeID, a *schema.Attr, v bool) error {
	n, err := f.attrSlot(id, a, schema.AttrBool, true)
	if err != nil {
		return err
	}
	var raw uint32
	if v {
		raw = 1
	}
	f.store(n, a, raw)
	return nil
}

// Bool reads a bool attribute.
func (f *Factory) Bool(id NodeID, a *schema.Attr) (bool, error) {
	n, err := f.attrSlot(id, a, schema.AttrBool, false)
	if err != nil {
		return false, err
	}
	return n.attrs[a.Slot] != 0, nil
}

// SetString interns text in the factory's string table and stores its key.
func (f *Factory) SetString(id NodeID, a *schema.Attr, text string) error {
	n, err := f.attrSlot(id, a, schema.AttrString, true)
	if err != nil {
		return err
	}
	f.store(n, a, uint32(f.strings.Intern(text)))
	return nil
}

// String reads a string attribute. An unset attribute reads as "".
func (f *Factory) String(id NodeID, a *schema.Attr) (string, error) {
	key, err := f.StringKey(id, a)
	if err != nil {
		return "", err
	}
	return f.strings.Lookup(key)
}

// StringKey reads the interned key of a string attribute.
func (f *Factory) StringKey(id NodeID, a *schema.Attr) (strtable.Key, error) {
	n, err := f.attrSlot(id, a, schema.AttrString, false)
	if err != nil {
		return strtable.EmptyKey, err
	}
	return strtable.Key(n.attrs[a.Slot]), nil
}

func (f *Factory) store(n *Node, a *schema.Attr, raw uint32) {
	if n.attrs[a.Slot] == raw {
		return
	}
	n.attrs[a.Slot] = raw
	f.touch()
}

func (f *Factory) attrSlot(id NodeID, a *schema.Attr, typ schema.AttrType, write bool) (*Node, error) {
	if write {
		if err := f.checkMutable(); err != nil {
			return nil, err
		}
	}
	n, err := f.Get(id)
	if err != nil {
		return nil, err
	}
	if a == nil || !n.kind.HasAttr(a) {
		return nil, fmt.Errorf("%w: attribute %v on %s", ErrInvalidSlot, attrName(a), n.kind.Name)
	}
	if a.Type != typ {
		return nil, fmt.Errorf("%w: %s is %s, accessed as %s", ErrAttrType, a.QualifiedName(), a.Type, typ)
	}
	return n, nil
}

func attrName(a *schema.Attr) string {
	if a == nil {
		return "<nil>"
	}
	return a.QualifiedName()
}
