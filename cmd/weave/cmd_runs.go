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

	"github.com/spf13/cobra"
)

func newRunsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect saved run reports",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs")
				return nil
			}
			for _, r := range runs {
				status := "ok"
				if r.Fatal {
					status = "fatal"
				} else if n := r.ErrorCount(); n > 0 {
					status = fmt.Sprintf("%d error(s)", n)
				}
				fmt.Fprintf(out, "%s  %s  %-10s  %s\n", r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), status, r.Program)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list, 0 for all")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), r)
			}
			printReport(cmd.OutOrStdout(), r, true)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			n := keep
			if !cmd.Flags().Changed("keep") {
				n = c.cfg.Store.Retain
			}
			deleted, err := s.Prune(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d run(s)\n", deleted)
			return nil
		},
	}
	prune.Flags().IntVar(&keep, "keep", 0, "runs to keep (default store.retain)")

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete one saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.DeleteRun(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(list, show, prune, del)
	return cmd
}
