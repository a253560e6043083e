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
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianWeave/pkg/logging"
	"github.com/AleutianAI/AleutianWeave/services/weave/config"
	"github.com/AleutianAI/AleutianWeave/services/weave/store"
	"github.com/AleutianAI/AleutianWeave/services/weave/telemetry"
)

// cli holds the state shared by every subcommand of one invocation.
type cli struct {
	configPath string
	logLevel   string
	jsonLogs   bool

	cfg      config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
}

// execute runs one invocation. Logging and telemetry are torn down even
// when the command fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.teardown(context.WithoutCancel(ctx)))
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "weave",
		Short: "Apply aspects to a declaration program and link the result",
		Long: `weave expands aspect instances into advice, applies the advice layer
by layer, and links the versions stacked on each member into one body.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default ./weave.yaml when present)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&c.jsonLogs, "json-logs", false, "write logs as JSON")

	root.AddCommand(
		newRunCmd(c),
		newOrderCmd(c),
		newRunsCmd(c),
		newWatchCmd(c),
		newConfigCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	path := c.configPath
	if path == "" {
		if _, err := os.Stat(config.FileName); err == nil {
			path = config.FileName
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.jsonLogs {
		cfg.Logging.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	opts := cfg.LoggingOptions()
	opts.Output = cmd.ErrOrStderr()
	c.logger = logging.New(opts)

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	c.shutdown = shutdown
	return nil
}

func (c *cli) teardown(ctx context.Context) error {
	var errs []error
	if c.shutdown != nil {
		errs = append(errs, c.shutdown(ctx))
		c.shutdown = nil
	}
	if c.logger != nil {
		errs = append(errs, c.logger.Close())
	}
	return errors.Join(errs...)
}

// openStore opens the run store. The CLI is short-lived, so value log GC
// is left to Prune and Badger's own compaction.
func (c *cli) openStore() (*store.Store, error) {
	return store.Open(store.Options{
		Path:       c.cfg.Store.Path,
		InMemory:   c.cfg.Store.InMemory,
		SyncWrites: c.cfg.Store.SyncWrites,
		Logger:     c.logger.Slog(),
	})
}
