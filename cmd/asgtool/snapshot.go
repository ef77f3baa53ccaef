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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage snapshots in the store",
		Long: `Manage named arena snapshots in the configured Badger store.

The store location comes from storage.path in the config, or
ASG_STORAGE_PATH.`,
	}
	cmd.AddCommand(
		a.snapshotListCmd(),
		a.snapshotPutCmd(),
		a.snapshotGetCmd(),
		a.snapshotDeleteCmd(),
	)
	return cmd
}

func (a *app) snapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored snapshots",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			metas, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return a.writeJSON(out, metas)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tNODES\tSTORED\tRAW\tCREATED")
			for _, m := range metas {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n",
					m.Name, m.Nodes, m.StoredBytes, m.RawBytes, m.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func (a *app) snapshotPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put SOURCE NAME",
		Short: "Store an arena under NAME, replacing any previous snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			meta, err := store.Put(cmd.Context(), args[1], f)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.writeJSON(cmd.OutOrStdout(), meta)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s: %d nodes, %d bytes (%d raw)\n",
				meta.Name, meta.Nodes, meta.StoredBytes, meta.RawBytes)
			return nil
		},
	}
}

func (a *app) snapshotGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME FILE",
		Short: "Write a stored snapshot to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			f, _, err := store.Get(cmd.Context(), args[0], a.cat, a.factoryOptions()...)
			if err != nil {
				return err
			}
			n, err := a.saveFile(cmd.Context(), args[1], f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d nodes, %d bytes\n", args[1], f.NodeCount(), n)
			return nil
		},
	}
}

func (a *app) snapshotDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a stored snapshot",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
