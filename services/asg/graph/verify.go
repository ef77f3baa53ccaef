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
)

// Verify checks the structural invariants of the arena.
//
// Description:
//
//	Re-scans every edge slot and checks that:
//	  - every target is live and of the declared kind
//	  - every node is the target of at most one owning edge
//	  - each owned node's back-pointer names that owning edge
//	  - no node has a back-pointer without a matching owning edge
//	  - the owning edges are acyclic
//	  - the reverse index equals one rebuilt from scratch (when built)
//
// Outputs:
//
//	error - nil, or ErrCorruptGraph describing the first violation found.
//
// Complexity: O(V + E)
func (f *Factory) Verify() error {
	owners := make(map[NodeID]int, f.live)

	for _, n := range f.Nodes() {
		for _, e := range n.kind.Edges() {
			for _, t := range n.targets(e) {
				tn := f.lookup(t)
				if tn == nil {
					return fmt.Errorf("%w: %s of node %d -> %d: dangling", ErrCorruptGraph, e, n.id, t)
				}
				if !tn.kind.IsA(e.Target) {
					return fmt.Errorf("%w: %s of node %d -> %s", ErrCorruptGraph, e, n.id, tn)
				}
				if !e.Owning {
					continue
				}
				owners[t]++
				if owners[t] > 1 {
					return fmt.Errorf("%w: node %d has more than one owning edge", ErrCorruptGraph, t)
				}
				if tn.owner != n.id || tn.ownerEdge != e {
					return fmt.Errorf("%w: node %d back-pointer is %d, owned through %s of %d",
						ErrCorruptGraph, t, tn.owner, e, n.id)
				}
			}
		}
	}

	for id, n := range f.Nodes() {
		if n.owner != NoNode && owners[id] == 0 {
			return fmt.Errorf("%w: node %d claims owner %d without an owning edge", ErrCorruptGraph, id, n.owner)
		}
		steps := 0
		for cur := n; cur != nil && cur.owner != NoNode; cur = f.lookup(cur.owner) {
			steps++
			if steps > f.live {
				return fmt.Errorf("%w: owning cycle through node %d", ErrCorruptGraph, id)
			}
		}
	}

	if f.reverse.built {
		if d := f.reverse.diff(replay(f)); d != "" {
			return fmt.Errorf("%w: reverse index: %s", ErrCorruptGraph, d)
		}
	}
	return nil
}
