// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianASG/services/asg/analysis"
	"github.com/AleutianAI/AleutianASG/services/asg/filter"
	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, graph.DefaultMaxNodes, cfg.Arena.MaxNodes)
	assert.Equal(t, analysis.DefaultSimilarityMinimum, cfg.Similarity.Minimum)
	assert.Equal(t, analysis.DefaultSimilarityMinForStrings, cfg.Similarity.MinForStrings)
	assert.Equal(t, "subtree", cfg.Filter.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Storage.GCInterval)
	assert.Equal(t, "default", cfg.Storage.Compression)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "none", cfg.Telemetry.MetricExporter)
	assert.Positive(t, cfg.Workers())

	cat, err := cfg.Catalogue()
	require.NoError(t, err)
	assert.Same(t, schema.Default(), cat)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
similarity:
  minimum: 0.8
filter:
  kinds: [Comment, Literal]
  mode: node
storage:
  in_memory: true
  path: ""
`))
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Similarity.Minimum)
	assert.Equal(t, analysis.DefaultSimilarityMinForStrings, cfg.Similarity.MinForStrings)
	assert.Equal(t, []string{"Comment", "Literal"}, cfg.Filter.Kinds)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "info", cfg.Logging.Level)

	scorer := cfg.Scorer()
	assert.Equal(t, 0.8, scorer.Minimum)
	require.NoError(t, scorer.Validate())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"minimum above one", "similarity: {minimum: 1.5}", "Minimum"},
		{"minimum of one", "similarity: {minimum: 1}", "Minimum"},
		{"clone size", "similarity: {clone_min_size: 1}", "CloneMinSize"},
		{"filter mode", "filter: {mode: tree}", "Mode"},
		{"empty kind", "filter: {kinds: [\"\"]}", "Kinds"},
		{"storage path", "storage: {path: \"\"}", "Path"},
		{"compression", "storage: {compression: max}", "Compression"},
		{"log level", "logging: {level: trace}", "Level"},
		{"max nodes", "arena: {max_nodes: 0}", "MaxNodes"},
		{"trace exporter", "telemetry: {trace_exporter: zipkin}", "TraceExporter"},
		{"otlp endpoint", "telemetry: {trace_exporter: otlp, otlp_endpoint: \"\"}", "OTLPEndpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("arena: [unclosed"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	t.Setenv(EnvStoragePath, filepath.Join(dir, "store"))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(dir, "store"), cfg.Storage.Path)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	big := filepath.Join(dir, "big.yaml")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("#", MaxFileSize+1)), 0o600))
	_, err = Load(big)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestFactoryOptions(t *testing.T) {
	cfg, err := Parse([]byte("arena: {max_nodes: 2, lazy_reverse_index: true}"))
	require.NoError(t, err)

	f := graph.NewFactory(schema.Default(), cfg.FactoryOptions(nil)...)
	cat := f.Catalogue()
	_, err = f.Create(cat.MustKind("Comment"))
	require.NoError(t, err)
	_, err = f.Create(cat.MustKind("Comment"))
	require.NoError(t, err)
	_, err = f.Create(cat.MustKind("Comment"))
	assert.ErrorIs(t, err, graph.ErrMaxNodesExceeded)
	assert.False(t, f.ReverseIndexBuilt())
}

func TestFilterPredicate(t *testing.T) {
	cat := schema.Default()

	pred, mode, err := Default().FilterPredicate(cat)
	require.NoError(t, err)
	assert.Nil(t, pred)
	assert.Equal(t, filter.Subtree, mode)

	cfg, err := Parse([]byte("filter: {kinds: [Literal], mode: node}"))
	require.NoError(t, err)
	pred, mode, err = cfg.FilterPredicate(cat)
	require.NoError(t, err)
	assert.Equal(t, filter.NodeOnly, mode)

	f := graph.NewFactory(cat)
	lit, err := f.Create(cat.MustKind("IntegerLiteral"))
	require.NoError(t, err)
	ident, err := f.Create(cat.MustKind("Identifier"))
	require.NoError(t, err)
	nl, _ := f.Get(lit)
	ni, _ := f.Get(ident)
	assert.True(t, pred(nl))
	assert.False(t, pred(ni))

	cfg, err = Parse([]byte("filter: {kinds: [Lambda]}"))
	require.NoError(t, err)
	_, _, err = cfg.FilterPredicate(cat)
	assert.ErrorIs(t, err, graph.ErrUnknownKind)
}
