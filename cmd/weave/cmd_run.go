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
	"github.com/spf13/cobra"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		aspects  string
		noInline bool
		noStore  bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "run <program.yaml>",
		Short: "Weave a program once and print the linked members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := weaveInputs{
				program: args[0],
				aspects: aspects,
				inline:  c.cfg.Pipeline.EnableInlining && !noInline,
			}
			_, report, err := c.weaveOnce(cmd.Context(), in)
			if err != nil {
				return err
			}
			if !noStore {
				c.saveReport(cmd.Context(), report)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				printReport(out, report, true)
			}
			if report.Fatal || report.ErrorCount() > 0 {
				return errWeaveFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&aspects, "aspects", "a", "", "declarative aspects file")
	cmd.Flags().BoolVar(&noInline, "no-inline", false, "keep every version as a separate member")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not save the run report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
