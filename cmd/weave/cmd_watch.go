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
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newWatchCmd(c *cli) *cobra.Command {
	var (
		aspects  string
		debounce time.Duration
		noStore  bool
	)
	cmd := &cobra.Command{
		Use:   "watch <program.yaml>",
		Short: "Re-weave whenever the program or aspects file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			in := weaveInputs{program: args[0], aspects: aspects, inline: c.cfg.Pipeline.EnableInlining}

			files := []string{in.program}
			if in.aspects != "" {
				files = append(files, in.aspects)
			}
			w, err := newFileWatcher(files, debounce, c.logger.Slog())
			if err != nil {
				return err
			}

			weave := func() {
				_, report, err := c.weaveOnce(ctx, in)
				if err != nil {
					fmt.Fprintf(out, "weave failed: %v\n", err)
					return
				}
				if !noStore {
					c.saveReport(ctx, report)
				}
				printReport(out, report, true)
			}

			weave()
			fmt.Fprintf(out, "\nwatching %s (Ctrl-C to stop)\n", strings.Join(files, ", "))
			return w.Run(ctx, func(changed []string) {
				c.logger.Slog().Info("inputs changed", slog.Any("files", changed))
				fmt.Fprintf(out, "\nchanged: %s\n", strings.Join(changed, ", "))
				weave()
			})
		},
	}
	cmd.Flags().StringVarP(&aspects, "aspects", "a", "", "declarative aspects file")
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "quiet period before re-weaving")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not save run reports")
	return cmd
}
