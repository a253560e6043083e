// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads weave.yaml, the configuration of the weave CLI.
//
// A file overrides the defaults field by field and WEAVE_* environment
// variables override the file:
//
//	pipeline:
//	  max_parallelism: 8
//	  enable_inlining: true
//	  stage_timeout: 30s
//	ordering:
//	  - [Trace, Audit]
//	  - [Audit:late, Cache]
//	logging:
//	  level: debug
//	store:
//	  path: ~/.aleutian/weave/runs
//	  retain: 50
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianWeave/pkg/logging"
	"github.com/AleutianAI/AleutianWeave/services/weave/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// FileName is the config file the CLI looks for in the working directory.
const FileName = "weave.yaml"

// Config is the full weave configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Ordering lists ordered groups of aspect layers, e.g.
	// [[Trace, Audit]] runs Trace before Audit. Layers are "Aspect" or
	// "Aspect:layer".
	Ordering [][]string `yaml:"ordering" validate:"dive,min=1,dive,layerref"`

	Logging   LoggingConfig    `yaml:"logging"`
	Store     StoreConfig      `yaml:"store"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// PipelineConfig tunes a weave run.
type PipelineConfig struct {
	// MaxParallelism bounds concurrent aspect evaluation. 0 means GOMAXPROCS.
	MaxParallelism int `yaml:"max_parallelism" validate:"gte=0,lte=1024"`

	// EnableInlining lets the linker inline single-use versions.
	EnableInlining bool `yaml:"enable_inlining"`

	// StageTimeout bounds each stage. 0 disables the timeout.
	StageTimeout time.Duration `yaml:"stage_timeout" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// StoreConfig configures the run-report store.
type StoreConfig struct {
	Path       string `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`

	// Retain is the number of run reports kept by Prune. 0 keeps all.
	Retain int `yaml:"retain" validate:"gte=0"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("layerref", validateLayerRef)
}

// validateLayerRef accepts "Aspect" and "Aspect:layer" with no blanks.
func validateLayerRef(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	aspectName, layer, found := strings.Cut(s, ":")
	if aspectName == "" {
		return false
	}
	return !found || (layer != "" && !strings.Contains(layer, ":"))
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			MaxParallelism: 0,
			EnableInlining: true,
			StageTimeout:   0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Path:   filepath.Join("~", ".aleutian", "weave", "runs"),
			Retain: 100,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a configuration file over the defaults.
//
// Description:
//
//	An empty path yields the defaults. Environment overrides are applied
//	after the file and the result is validated.
//
// Inputs:
//
//	path - Path to a YAML file, or "".
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Read, parse or validation failure. Validation failures wrap
//	        ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoggingOptions converts the logging section for logging.New. An
// unknown level falls back to Info; Validate rejects it earlier.
func (c Config) LoggingOptions() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: "weave",
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WEAVE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("WEAVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("WEAVE_MAX_PARALLELISM"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxParallelism = i
		}
	}
	if v := os.Getenv("WEAVE_STAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.StageTimeout = d
		}
	}
}
