// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads ASG engine configuration.
//
// Configuration is YAML. The embedded default.yaml supplies every value; a
// file passed to Load is decoded over it, then environment overrides are
// applied and the result is validated.
//
// Thread Safety:
//
//	A loaded Config is read-only and safe for concurrent use.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianASG/services/asg/analysis"
	"github.com/AleutianAI/AleutianASG/services/asg/filter"
	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

const (
	// MaxFileSize is the largest config file Load accepts (1MB).
	MaxFileSize = 1 << 20

	// EnvStoragePath overrides storage.path when set.
	EnvStoragePath = "ASG_STORAGE_PATH"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the root of the YAML document.
type Config struct {
	Arena      ArenaConfig      `yaml:"arena"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Filter     FilterConfig     `yaml:"filter"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ArenaConfig configures factories.
type ArenaConfig struct {
	// Catalogue is a catalogue YAML file. Empty selects schema.Default.
	Catalogue        string `yaml:"catalogue"`
	MaxNodes         int    `yaml:"max_nodes" validate:"gt=0"`
	LazyReverseIndex bool   `yaml:"lazy_reverse_index"`
	// Workers bounds parallel builders. 0 means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0,lte=1024"`
}

// SimilarityConfig configures the similarity scorer and clone detection.
type SimilarityConfig struct {
	Minimum       float64 `yaml:"minimum" validate:"gte=0,lt=1"`
	MinForStrings float64 `yaml:"min_for_strings" validate:"gte=0,lte=1"`
	CloneMinSize  int     `yaml:"clone_min_size" validate:"gte=2"`
}

// FilterConfig selects nodes to flag after loading.
type FilterConfig struct {
	Kinds []string `yaml:"kinds" validate:"dive,required"`
	Mode  string   `yaml:"mode" validate:"oneof=subtree node"`
}

// StorageConfig configures the snapshot store.
type StorageConfig struct {
	Path           string        `yaml:"path" validate:"required_unless=InMemory true"`
	InMemory       bool          `yaml:"in_memory"`
	SyncWrites     bool          `yaml:"sync_writes"`
	Compression    string        `yaml:"compression" validate:"oneof=fastest default better best"`
	CacheEntries   int           `yaml:"cache_entries" validate:"gte=0"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// TelemetryConfig selects OpenTelemetry exporters for pkg/telemetry.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// Default returns the embedded defaults.
//
// The embedded document is checked by the package tests, so a failure here
// is a build defect and panics.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Parse decodes data over the defaults and validates the result. Empty data
// yields the defaults. Environment overrides are not applied.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data, "config")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, source string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", source, err)
		}
	}
	return &cfg, nil
}

// Load reads the config file at path, applies environment overrides and
// validates.
//
// Description:
//
//	An empty path loads the embedded defaults. ASG_STORAGE_PATH, when
//	set, replaces storage.path.
//
// Errors:
//
//	Returns an error if the file is missing, larger than MaxFileSize,
//	not valid YAML, or fails validation (wrapping ErrInvalidConfig).
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = readFile(path); err != nil {
			return nil, err
		}
	}

	cfg, err := decode(data, path)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		cfg.Storage.Path = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	source := "embedded"
	if path != "" {
		source = path
	}
	slog.Debug("configuration loaded",
		slog.String("source", source),
		slog.String("storage_path", cfg.Storage.Path),
	)
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return data, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("%w: %s fails %q (%d problems)",
				ErrInvalidConfig, first.Namespace(), first.Tag(), len(verrs))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Scorer().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Catalogue loads the configured catalogue.
func (c *Config) Catalogue() (*schema.Catalogue, error) {
	if c.Arena.Catalogue == "" {
		return schema.Default(), nil
	}
	return schema.LoadFile(c.Arena.Catalogue)
}

// FactoryOptions returns the graph options the arena section describes.
func (c *Config) FactoryOptions(logger *slog.Logger) []graph.Option {
	opts := []graph.Option{graph.WithMaxNodes(c.Arena.MaxNodes)}
	if c.Arena.LazyReverseIndex {
		opts = append(opts, graph.WithLazyReverseIndex())
	}
	if logger != nil {
		opts = append(opts, graph.WithLogger(logger))
	}
	return opts
}

// Workers returns the parallel builder limit.
func (c *Config) Workers() int {
	if c.Arena.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Arena.Workers
}

// Scorer returns the configured similarity scorer.
func (c *Config) Scorer() analysis.Scorer {
	return analysis.Scorer{
		Minimum:       c.Similarity.Minimum,
		MinForStrings: c.Similarity.MinForStrings,
	}
}

// FilterPredicate returns the configured filter, or a nil predicate when no
// kinds are listed.
func (c *Config) FilterPredicate(cat *schema.Catalogue) (filter.Predicate, filter.Mode, error) {
	mode, err := filter.ParseMode(c.Filter.Mode)
	if err != nil {
		return nil, 0, err
	}
	if len(c.Filter.Kinds) == 0 {
		return nil, mode, nil
	}
	pred, err := filter.ByKinds(cat, c.Filter.Kinds...)
	if err != nil {
		return nil, 0, err
	}
	return pred, mode, nil
}
