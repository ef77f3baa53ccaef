// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianASG/services/asg/codec"
	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

const (
	metaPrefix = "asg/meta/"
	dataPrefix = "asg/data/"

	// MaxNameLen is the longest snapshot name accepted.
	MaxNameLen = 200
)

var (
	// ErrSnapshotNotFound is returned for a name with no stored snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidName is returned for an empty, overlong or non-printable
	// snapshot name.
	ErrInvalidName = errors.New("invalid snapshot name")

	// ErrChecksumMismatch is returned when stored bytes do not match the
	// checksum recorded at write time.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("snapshot store is closed")
)

var tracer = otel.Tracer("aleutian.asg.storage")

var (
	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asg_store_operations_total",
		Help: "Snapshot store operations by outcome",
	}, []string{"op", "status"})

	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asg_store_operation_duration_seconds",
		Help:    "Snapshot store operation latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"op"})

	compressionRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asg_store_compression_ratio",
		Help:    "Raw snapshot size divided by stored size",
		Buckets: []float64{1, 2, 4, 8, 16, 32},
	})
)

// Meta describes a stored snapshot.
type Meta struct {
	Name        string    `json:"name"`
	ArenaID     string    `json:"arena_id"`
	Catalogue   string    `json:"catalogue"`
	Fingerprint uint64    `json:"fingerprint"`
	Nodes       int       `json:"nodes"`
	RawBytes    int64     `json:"raw_bytes"`
	StoredBytes int64     `json:"stored_bytes"`
	Checksum    uint64    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps named arena snapshots.
//
// Thread Safety: Safe for concurrent use. Arenas passed to Put must not be
// mutated while Put runs.
type Store struct {
	db     *db
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	cache  *snapshotCache
	logger *slog.Logger
	now    func() time.Time

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates a store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is set.
//
// Outputs:
//
//	*Store - The store. Call Close when done.
//	error - Non-nil if the level name is unknown or the database cannot be
//	        opened.
func Open(cfg Config) (*Store, error) {
	levelName := cfg.Compression
	if levelName == "" {
		levelName = "default"
	}
	ok, level := zstd.EncoderLevelFromString(levelName)
	if !ok {
		return nil, fmt.Errorf("unknown compression level %q", cfg.Compression)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	d, err := openDB(cfg)
	if err != nil {
		enc.Close()
		dec.Close()
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     d,
		enc:    enc,
		dec:    dec,
		cache:  newSnapshotCache(cfg.CacheEntries),
		logger: logger,
		now:    time.Now,
		closed: make(chan struct{}),
	}, nil
}

// OpenInMemory opens a store that never touches disk.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close releases the database and codecs. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.db.close()
		s.enc.Close()
		s.dec.Close()
	})
	return s.closeErr
}

func (s *Store) checkOpen() error {
	select {
	case <-s.closed:
		return ErrStoreClosed
	default:
		return nil
	}
}

// CacheStats returns snapshot cache counters.
func (s *Store) CacheStats() CacheStats {
	return s.cache.stats()
}

// InMemory reports whether the store keeps nothing on disk.
func (s *Store) InMemory() bool {
	return s.db.inMemory
}

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("%w: length %d", ErrInvalidName, len(name))
	}
	for _, r := range name {
		if r < 0x21 || r == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Put stores a snapshot of f under name, replacing any previous one.
//
// Description:
//
//	Encodes f with the codec, compresses it with zstd and writes data and
//	metadata in one transaction.
//
// Outputs:
//
//	Meta - The stored metadata.
//	error - ErrInvalidName, ErrStoreClosed, or an encoding or database error.
func (s *Store) Put(ctx context.Context, name string, f *graph.Factory) (Meta, error) {
	if err := validateName(name); err != nil {
		return Meta{}, err
	}
	if err := s.checkOpen(); err != nil {
		return Meta{}, err
	}

	ctx, span := tracer.Start(ctx, "store.Put",
		trace.WithAttributes(
			attribute.String("asg.snapshot", name),
			attribute.Int("asg.node_count", f.NodeCount()),
		),
	)
	defer span.End()
	start := time.Now()

	meta, err := s.put(ctx, name, f)
	storeLatency.WithLabelValues("put").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		storeOps.WithLabelValues("put", "error").Inc()
		return Meta{}, err
	}

	storeOps.WithLabelValues("put", "ok").Inc()
	if meta.StoredBytes > 0 {
		compressionRatio.Observe(float64(meta.RawBytes) / float64(meta.StoredBytes))
	}
	span.SetAttributes(
		attribute.Int64("asg.raw_bytes", meta.RawBytes),
		attribute.Int64("asg.stored_bytes", meta.StoredBytes),
	)
	s.logger.Info("snapshot stored",
		slog.String("name", name),
		slog.Int("nodes", meta.Nodes),
		slog.Int64("raw_bytes", meta.RawBytes),
		slog.Int64("stored_bytes", meta.StoredBytes),
		slog.Duration("duration", time.Since(start)),
	)
	return meta, nil
}

func (s *Store) put(ctx context.Context, name string, f *graph.Factory) (Meta, error) {
	var raw bytes.Buffer
	if _, err := codec.Save(ctx, &raw, f); err != nil {
		return Meta{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	compressed := s.enc.EncodeAll(raw.Bytes(), make([]byte, 0, raw.Len()/2))

	cat := f.Catalogue()
	meta := Meta{
		Name:        name,
		ArenaID:     f.ArenaID().String(),
		Catalogue:   cat.Name(),
		Fingerprint: cat.Fingerprint(),
		Nodes:       f.NodeCount(),
		RawBytes:    int64(raw.Len()),
		StoredBytes: int64(len(compressed)),
		Checksum:    xxhash.Sum64(raw.Bytes()),
		CreatedAt:   s.now().UTC(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, fmt.Errorf("encoding metadata: %w", err)
	}

	err = s.db.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataPrefix+name), compressed); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+name), metaJSON)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("writing snapshot %q: %w", name, err)
	}
	s.cache.put(name, meta.Checksum, raw.Bytes())
	return meta, nil
}

// Get loads the snapshot stored under name.
//
// Description:
//
//	Reads and decompresses the snapshot (or takes it from the cache),
//	checks its checksum and decodes it into a new factory. The factory is
//	in the building state.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	name - Snapshot name.
//	cat - The catalogue the snapshot was written with.
//	opts - Options for the new factory.
//
// Errors:
//
//	ErrSnapshotNotFound - Nothing stored under name
//	ErrChecksumMismatch - Stored bytes are damaged
//	codec errors - The snapshot does not decode against cat
func (s *Store) Get(ctx context.Context, name string, cat *schema.Catalogue, opts ...graph.Option) (*graph.Factory, Meta, error) {
	if err := validateName(name); err != nil {
		return nil, Meta{}, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, Meta{}, err
	}

	ctx, span := tracer.Start(ctx, "store.Get",
		trace.WithAttributes(attribute.String("asg.snapshot", name)),
	)
	defer span.End()
	start := time.Now()

	f, meta, err := s.get(ctx, name, cat, opts)
	storeLatency.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get failed")
		storeOps.WithLabelValues("get", "error").Inc()
		return nil, Meta{}, err
	}

	storeOps.WithLabelValues("get", "ok").Inc()
	s.logger.Debug("snapshot loaded",
		slog.String("name", name),
		slog.Int("nodes", f.NodeCount()),
		slog.Duration("duration", time.Since(start)),
	)
	return f, meta, nil
}

func (s *Store) get(ctx context.Context, name string, cat *schema.Catalogue, opts []graph.Option) (*graph.Factory, Meta, error) {
	meta, err := s.Stat(ctx, name)
	if err != nil {
		return nil, Meta{}, err
	}

	raw, ok := s.cache.get(name, meta.Checksum)
	if !ok {
		var compressed []byte
		err := s.db.view(ctx, func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(dataPrefix + name))
			if err != nil {
				return err
			}
			compressed, err = item.ValueCopy(nil)
			return err
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, Meta{}, fmt.Errorf("%w: %q has metadata but no data", ErrSnapshotNotFound, name)
		}
		if err != nil {
			return nil, Meta{}, fmt.Errorf("reading snapshot %q: %w", name, err)
		}

		raw, err = s.dec.DecodeAll(compressed, make([]byte, 0, meta.RawBytes))
		if err != nil {
			return nil, Meta{}, fmt.Errorf("%w: %q: %w", ErrChecksumMismatch, name, err)
		}
		if sum := xxhash.Sum64(raw); sum != meta.Checksum {
			return nil, Meta{}, fmt.Errorf("%w: %q is %016x, recorded %016x",
				ErrChecksumMismatch, name, sum, meta.Checksum)
		}
		s.cache.put(name, meta.Checksum, raw)
	}

	f, err := codec.Load(ctx, bytes.NewReader(raw), cat, opts...)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("decoding snapshot %q: %w", name, err)
	}
	return f, meta, nil
}

// Stat returns the metadata of name without reading the snapshot.
func (s *Store) Stat(ctx context.Context, name string) (Meta, error) {
	if err := validateName(name); err != nil {
		return Meta{}, err
	}
	if err := s.checkOpen(); err != nil {
		return Meta{}, err
	}

	var meta Meta
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Meta{}, fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return Meta{}, fmt.Errorf("reading metadata of %q: %w", name, err)
	}
	return meta, nil
}

// List returns the metadata of every snapshot, ordered by name.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	_, span := tracer.Start(ctx, "store.List")
	defer span.End()

	var out []Meta
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var meta Meta
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("decoding metadata %s: %w", item.Key(), err)
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		storeOps.WithLabelValues("list", "error").Inc()
		return nil, err
	}
	storeOps.WithLabelValues("list", "ok").Inc()
	span.SetAttributes(attribute.Int("asg.snapshots", len(out)))
	return out, nil
}

// Delete removes the snapshot stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "store.Delete",
		trace.WithAttributes(attribute.String("asg.snapshot", name)),
	)
	defer span.End()

	err := s.db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + name)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(metaPrefix + name)); err != nil {
			return err
		}
		return txn.Delete([]byte(dataPrefix + name))
	})
	s.cache.remove(name)
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		storeOps.WithLabelValues("delete", "error").Inc()
		return err
	}

	storeOps.WithLabelValues("delete", "ok").Inc()
	s.logger.Info("snapshot deleted", slog.String("name", name))
	return nil
}
