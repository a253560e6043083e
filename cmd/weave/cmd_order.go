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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianWeave/services/weave/dag"
	"github.com/AleutianAI/AleutianWeave/services/weave/pipeline"
)

func newOrderCmd(c *cli) *cobra.Command {
	var aspects string
	cmd := &cobra.Command{
		Use:   "order <program.yaml>",
		Short: "Print the stage order a weave would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, _, err := c.loadPipeline(weaveInputs{program: args[0], aspects: aspects})
			if err != nil {
				return err
			}
			plan, err := p.Plan()
			if err != nil {
				var cycle *dag.CycleError
				if errors.As(err, &cycle) {
					return fmt.Errorf("ordering cycle: %s", cycle.Error())
				}
				return err
			}

			out := cmd.OutOrStdout()
			for i, s := range plan.Stages {
				line := s.Name
				if s.Kind == pipeline.StageCollaborator {
					line = fmt.Sprintf("%s %v", s.Name, s.LayerIDs())
				}
				fmt.Fprintf(out, "%3d  %s\n", i+1, line)
			}
			for _, d := range plan.Diagnostics {
				fmt.Fprintf(out, "%s\n", d)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&aspects, "aspects", "a", "", "declarative aspects file")
	return cmd
}
