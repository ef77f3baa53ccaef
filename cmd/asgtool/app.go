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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianASG/pkg/logging"
	"github.com/AleutianAI/AleutianASG/pkg/telemetry"
	"github.com/AleutianAI/AleutianASG/services/asg/codec"
	"github.com/AleutianAI/AleutianASG/services/asg/config"
	"github.com/AleutianAI/AleutianASG/services/asg/filter"
	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
	"github.com/AleutianAI/AleutianASG/services/asg/storage/badger"
)

// storePrefix marks a source that names a stored snapshot.
const storePrefix = "store:"

var tracer = otel.Tracer("aleutian.asg.cli")

// app holds state shared by every command of one invocation.
type app struct {
	configPath string
	verbose    bool
	jsonOut    bool
	noFilter   bool
	metricsOut string

	cfg      *config.Config
	logger   *logging.Logger
	cat      *schema.Catalogue
	metrics  *telemetry.Metrics
	registry *prometheus.Registry
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "asgtool",
		Short: "Build, inspect and store ASG arenas",
		Long: `asgtool works with arenas of the ASG graph storage engine.

Sources:
  FILE        a snapshot file written by 'asgtool sample --out' or 'snapshot get'
  store:NAME  a snapshot in the configured snapshot store

Configuration:
  Built-in defaults, overridden by --config FILE, then by ASG_STORAGE_PATH.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (YAML)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&a.jsonOut, "json", false, "JSON output")
	flags.BoolVar(&a.noFilter, "no-filter", false, "ignore the configured filter when loading")
	flags.StringVar(&a.metricsOut, "metrics-out", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		a.sampleCmd(),
		a.statsCmd(),
		a.verifyCmd(),
		a.clonesCmd(),
		a.similarCmd(),
		a.snapshotCmd(),
	)
	a.instrumentAll(root)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	if a.verbose {
		level = logging.LevelDebug
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		JSON:    cfg.Logging.JSON,
		File:    cfg.Logging.File,
		Service: "asgtool",
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	cat, err := cfg.Catalogue()
	if err != nil {
		_ = logger.Close()
		return fmt.Errorf("loading catalogue: %w", err)
	}

	registry := prometheus.NewRegistry()
	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    "asgtool",
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Output:         cmd.ErrOrStderr(),
		Registerer:     registry,
	})
	if err != nil {
		_ = logger.Close()
		return err
	}
	metrics, err := telemetry.NewMetrics(otel.Meter("asgtool"))
	if err != nil {
		_ = shutdown(cmd.Context())
		_ = logger.Close()
		return err
	}

	a.cfg, a.logger, a.cat = cfg, logger, cat
	a.registry, a.shutdown, a.metrics = registry, shutdown, metrics
	logger.Slog().Debug("asgtool starting",
		slog.String("command", cmd.CommandPath()),
		slog.String("catalogue", cat.Name()),
	)
	return nil
}

// instrumentAll wraps every runnable command below c with instrument.
func (a *app) instrumentAll(c *cobra.Command) {
	if c.RunE != nil {
		c.RunE = a.instrument(c.RunE)
	}
	for _, sub := range c.Commands() {
		a.instrumentAll(sub)
	}
}

// instrument runs a command inside a span, records its metrics and tears
// the app down afterwards, on success and failure alike.
func (a *app) instrument(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			err = errors.Join(err, a.teardown())
		}()

		ctx, span := tracer.Start(cmd.Context(), cmd.CommandPath(),
			trace.WithAttributes(attribute.StringSlice("asg.args", args)),
		)
		cmd.SetContext(ctx)
		start := time.Now()

		err = run(cmd, args)

		elapsed := time.Since(start)
		a.metrics.Record(ctx, cmd.Name(), elapsed, err)
		logger := telemetry.LoggerWithTrace(ctx, a.log())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "command failed")
			logger.Debug("command failed", slog.String("command", cmd.CommandPath()), slog.String("error", err.Error()))
		} else {
			logger.Debug("command finished", slog.String("command", cmd.CommandPath()), slog.Duration("elapsed", elapsed))
		}
		span.End()
		return err
	}
}

// teardown writes --metrics-out, flushes telemetry and closes the logger.
func (a *app) teardown() error {
	var errs []error
	if a.metricsOut != "" {
		errs = append(errs, a.writeMetrics())
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdown(ctx))
		cancel()
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// writeMetrics dumps the engine collectors and the OTel command metrics.
func (a *app) writeMetrics() error {
	file, err := os.Create(a.metricsOut)
	if err != nil {
		return err
	}
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, a.registry}
	if err := telemetry.WritePrometheus(file, gatherers); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

func (a *app) factoryOptions() []graph.Option {
	return a.cfg.FactoryOptions(a.log())
}

func (a *app) openStore() (*badger.Store, error) {
	s := a.cfg.Storage
	return badger.Open(badger.Config{
		Path:           s.Path,
		InMemory:       s.InMemory,
		SyncWrites:     s.SyncWrites,
		Compression:    s.Compression,
		CacheEntries:   s.CacheEntries,
		GCInterval:     s.GCInterval,
		GCDiscardRatio: s.GCDiscardRatio,
		Logger:         a.log(),
	})
}

// load reads an arena from a file or the store and applies the configured
// filter.
func (a *app) load(ctx context.Context, source string) (*graph.Factory, error) {
	var (
		f   *graph.Factory
		err error
	)
	if name, ok := strings.CutPrefix(source, storePrefix); ok {
		f, err = a.loadStored(ctx, name)
	} else {
		f, err = a.loadFile(ctx, source)
	}
	if err != nil {
		return nil, err
	}
	if a.noFilter {
		return f, nil
	}

	pred, mode, err := a.cfg.FilterPredicate(a.cat)
	if err != nil {
		return nil, err
	}
	if pred != nil {
		if _, err := filter.Apply(f, pred, mode); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (a *app) loadStored(ctx context.Context, name string) (*graph.Factory, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	f, _, err := store.Get(ctx, name, a.cat, a.factoryOptions()...)
	return f, err
}

func (a *app) loadFile(ctx context.Context, path string) (*graph.Factory, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	f, err := codec.New(codec.WithLogger(a.log())).Load(ctx, file, a.cat, a.factoryOptions()...)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return f, nil
}

// saveFile writes a snapshot of f to path, replacing it.
func (a *app) saveFile(ctx context.Context, path string, f *graph.Factory) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := codec.New(codec.WithLogger(a.log())).Save(ctx, file, f)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Join(err, os.Remove(path))
	}
	return n, nil
}

func (a *app) writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
