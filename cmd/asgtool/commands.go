// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianASG/services/asg/analysis"
	"github.com/AleutianAI/AleutianASG/services/asg/graph"
)

// statsView is the JSON form of graph.Stats.
type statsView struct {
	ArenaID     string         `json:"arena_id"`
	Catalogue   string         `json:"catalogue"`
	State       string         `json:"state"`
	Nodes       int            `json:"nodes"`
	Filtered    int            `json:"filtered"`
	NextID      graph.NodeID   `json:"next_id"`
	Strings     int            `json:"strings"`
	NodesByKind map[string]int `json:"nodes_by_kind"`
	EdgesBySlot map[string]int `json:"edges_by_slot"`
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats SOURCE",
		Short: "Print node, edge and string counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st := f.Stats()
			view := statsView{
				ArenaID:     f.ArenaID().String(),
				Catalogue:   f.Catalogue().Name(),
				State:       st.State.String(),
				Nodes:       st.NodeCount,
				Filtered:    st.FilteredCount,
				NextID:      st.NextID,
				Strings:     st.Strings,
				NodesByKind: st.NodesByKind,
				EdgesBySlot: st.EdgesBySlot,
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return a.writeJSON(out, view)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "arena\t%s\n", view.ArenaID)
			fmt.Fprintf(tw, "catalogue\t%s\n", view.Catalogue)
			fmt.Fprintf(tw, "state\t%s\n", view.State)
			fmt.Fprintf(tw, "nodes\t%d\n", view.Nodes)
			fmt.Fprintf(tw, "filtered\t%d\n", view.Filtered)
			fmt.Fprintf(tw, "next id\t%d\n", view.NextID)
			fmt.Fprintf(tw, "strings\t%d\n", view.Strings)
			fmt.Fprintln(tw, "\nKIND\tNODES")
			for _, k := range slices.Sorted(maps.Keys(view.NodesByKind)) {
				fmt.Fprintf(tw, "%s\t%d\n", k, view.NodesByKind[k])
			}
			fmt.Fprintln(tw, "\nEDGE\tVALUES")
			for _, e := range slices.Sorted(maps.Keys(view.EdgesBySlot)) {
				fmt.Fprintf(tw, "%s\t%d\n", e, view.EdgesBySlot[e])
			}
			return tw.Flush()
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify SOURCE",
		Short: "Check the structural invariants of an arena",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := f.Verify(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d nodes\n", f.NodeCount())
			return nil
		},
	}
}

// cloneView is the JSON form of analysis.CloneGroup.
type cloneView struct {
	Hash  string         `json:"hash"`
	Kind  string         `json:"kind"`
	Size  int            `json:"size"`
	Nodes []graph.NodeID `json:"nodes"`
}

func (a *app) clonesCmd() *cobra.Command {
	var (
		minSize int
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "clones SOURCE",
		Short: "List groups of structurally identical subtrees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("min-size") {
				minSize = a.cfg.Similarity.CloneMinSize
			}
			groups, err := analysis.CloneGroups(cmd.Context(), f, minSize)
			if err != nil {
				return err
			}
			if limit > 0 && len(groups) > limit {
				groups = groups[:limit]
			}

			views := make([]cloneView, len(groups))
			for i, g := range groups {
				views[i] = cloneView{Hash: fmt.Sprintf("%08x", g.Hash), Kind: g.Kind, Size: g.Size, Nodes: g.Nodes}
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return a.writeJSON(out, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(out, "no clone groups")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HASH\tKIND\tSIZE\tCOUNT\tNODES")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", v.Hash, v.Kind, v.Size, len(v.Nodes), joinIDs(v.Nodes, 8))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&minSize, "min-size", 3, "minimum subtree size (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many groups")
	return cmd
}

func (a *app) similarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similar SOURCE A B",
		Short: "Score the similarity of two nodes",
		Long: `Score the similarity of two nodes in [0, 1].

Nodes of different kinds score 0. Thresholds come from the similarity
section of the config.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]graph.NodeID, 2)
			for i, s := range args[1:] {
				v, err := strconv.ParseUint(s, 10, 32)
				if err != nil {
					return fmt.Errorf("invalid node id %q", s)
				}
				ids[i] = graph.NodeID(v)
			}
			f, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			na, err := f.Get(ids[0])
			if err != nil {
				return err
			}
			nb, err := f.Get(ids[1])
			if err != nil {
				return err
			}
			score, err := a.cfg.Scorer().Similarity(na, nb)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return a.writeJSON(out, map[string]any{"a": na.String(), "b": nb.String(), "similarity": score})
			}
			fmt.Fprintf(out, "%s %s %.4f\n", na, nb, score)
			return nil
		},
	}
}

// joinIDs formats up to n ids as a comma list.
func joinIDs(ids []graph.NodeID, n int) string {
	var b []byte
	for i, id := range ids {
		if i == n {
			b = fmt.Appendf(b, ",+%d", len(ids)-n)
			break
		}
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendUint(b, uint64(id), 10)
	}
	return string(b)
}
