// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
	"github.com/AleutianAI/AleutianASG/services/asg/strtable"
)

// EncodeNode writes the fields of node id to w.
//
// Description:
//
//	Writes the node format described in the package documentation. String
//	keys are marked for persistence in the factory's string table, so the
//	table must be written after every node that uses it. Filtered targets
//	are written like any other.
func EncodeNode(w io.Writer, f *graph.Factory, id graph.NodeID) error {
	n, err := f.Get(id)
	if err != nil {
		return err
	}
	enc := &encoder{w: w}
	encodeNode(enc, f.Strings(), n)
	return enc.err
}

func encodeNode(enc *encoder, strs *strtable.Table, n *graph.Node) {
	for _, level := range n.Kind().Chain() {
		for _, a := range level.OwnAttrs {
			raw := n.Attr(a)
			if a.Type == schema.AttrString {
				strs.MarkPersist(strtable.Key(raw))
			}
			enc.u32(raw)
		}
		for _, e := range level.OwnEdges {
			targets := n.Targets(e)
			if !e.List {
				if len(targets) == 0 {
					enc.u32(uint32(graph.NoNode))
				} else {
					enc.u32(uint32(targets[0]))
				}
				continue
			}
			for _, t := range targets {
				enc.u32(uint32(t))
			}
			enc.u32(uint32(graph.NoNode))
		}
	}
}

// DecodeNode reads the fields of node id from r.
//
// Description:
//
//	The node must already exist (see graph.Factory.Restore) and so must
//	every node its edges name. Each non-zero target is linked with
//	graph.Factory.LinkRaw, which restores owner back-pointers and reverse
//	index entries. String keys must already be in the factory's table.
//
// Errors:
//
//	ErrCorruptStream - truncated input, or a field the arena rejects
func DecodeNode(r io.Reader, f *graph.Factory, id graph.NodeID) error {
	return decodeNode(&decoder{r: r}, f, id)
}

func decodeNode(dec *decoder, f *graph.Factory, id graph.NodeID) error {
	n, err := f.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptStream, err)
	}
	for _, level := range n.Kind().Chain() {
		for _, a := range level.OwnAttrs {
			raw, err := dec.u32()
			if err != nil {
				return err
			}
			if err := f.SetAttrRaw(id, a, raw); err != nil {
				return fmt.Errorf("%w: node %d %s: %w", ErrCorruptStream, id, a.QualifiedName(), err)
			}
		}
		for _, e := range level.OwnEdges {
			if err := decodeEdge(dec, f, id, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeEdge(dec *decoder, f *graph.Factory, id graph.NodeID, e *schema.Edge) error {
	for {
		v, err := dec.u32()
		if err != nil {
			return err
		}
		target := graph.NodeID(v)
		if target == graph.NoNode {
			return nil
		}
		if err := f.LinkRaw(id, e, target); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptStream, err)
		}
		if !e.List {
			return nil
		}
	}
}
