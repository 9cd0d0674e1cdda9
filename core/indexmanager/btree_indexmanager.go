package indexmanager

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/storage_engine/common"
	bufferpool "github.com/sushant-115/pagedb/core/write_engine/buffer_pool"
	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	internaltelemetry "github.com/sushant-115/pagedb/internal/telemetry"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config configures a BTreeIndexManager.
type Config struct {
	DataDir                 string
	SlotsPerPage            int
	SnapshotDir             string
	SnapshotRateBytesPerSec int64
	SnapshotVerify          bool
}

// SnapshotInfo describes a finished snapshot of one index file.
type SnapshotInfo struct {
	ID        string
	Index     string
	Path      string
	Bytes     int64
	Checksum  string
	CreatedAt time.Time
}

// BTreeIndexManager keeps every open index over one shared buffer pool. One
// mutex serializes all operations, since neither the pool's pin protocol nor
// the trees tolerate interleaved callers.
type BTreeIndexManager struct {
	mu      sync.Mutex
	pool    *bufferpool.BufferPoolManager
	config  Config
	indexes map[string]*btree.Index

	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *internaltelemetry.IndexMetrics
	serviceName string
}

// NewBTreeIndexManager creates the data directory if needed. tel may be nil.
func NewBTreeIndexManager(pool *bufferpool.BufferPoolManager, config Config, logger *zap.Logger, tel *telemetry.Telemetry) (*BTreeIndexManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	if config.DataDir == "" {
		return nil, fmt.Errorf("%w: empty data directory", flushmanager.ErrInvalidConfig)
	}
	if config.SnapshotDir == "" {
		config.SnapshotDir = filepath.Join(config.DataDir, "snapshots")
	}
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %v", flushmanager.ErrIO, err)
	}
	metrics, err := internaltelemetry.NewIndexMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create index metrics: %w", err)
	}
	return &BTreeIndexManager{
		pool:        pool,
		config:      config,
		indexes:     make(map[string]*btree.Index),
		logger:      logger.Named("indexmanager"),
		tracer:      tel.Tracer,
		metrics:     metrics,
		serviceName: "btree_indexmanager",
	}, nil
}

func (m *BTreeIndexManager) CreateIndex(ctx context.Context, table, column string, columnType btree.ColumnType, length int) (err error) {
	name := btree.IndexFileName(table, column)
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "CreateIndex", name)
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "CreateIndex", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; ok {
		return fmt.Errorf("%w: %s", flushmanager.ErrIndexAlreadyOpen, name)
	}
	ix, err := btree.Create(m.pool, m.config.DataDir, columnType, table, column, length, btree.Options{
		SlotsPerPage: m.config.SlotsPerPage,
		Logger:       m.logger,
	})
	if err != nil {
		return err
	}
	m.indexes[name] = ix
	return nil
}

func (m *BTreeIndexManager) OpenIndex(ctx context.Context, table, column string) (err error) {
	name := btree.IndexFileName(table, column)
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "OpenIndex", name)
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "OpenIndex", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; ok {
		return fmt.Errorf("%w: %s", flushmanager.ErrIndexAlreadyOpen, name)
	}
	ix, err := btree.Open(m.pool, m.config.DataDir, table, column, btree.Options{Logger: m.logger})
	if err != nil {
		return err
	}
	m.indexes[name] = ix
	return nil
}

func (m *BTreeIndexManager) CloseIndex(ctx context.Context, table, column string) (err error) {
	name := btree.IndexFileName(table, column)
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "CloseIndex", name)
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "CloseIndex", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	ix, err := m.lookupLocked(name)
	if err != nil {
		return err
	}
	delete(m.indexes, name)
	return ix.Close()
}

func (m *BTreeIndexManager) Put(ctx context.Context, table, column string, key []byte, rid btree.RecordID) (err error) {
	name := btree.IndexFileName(table, column)
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Put", name)
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Put", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	ix, err := m.lookupLocked(name)
	if err != nil {
		return err
	}
	before := ix.Splits()
	err = ix.Insert(key, rid)
	if splits := ix.Splits() - before; splits > 0 {
		m.metrics.SplitsCounter.Add(ctx, int64(splits), metric.WithAttributes(attribute.String("pagedb.index", name)))
		span.SetAttributes(attribute.Int64("pagedb.splits", int64(splits)))
	}
	return err
}

func (m *BTreeIndexManager) Get(ctx context.Context, table, column string, key []byte) (rid btree.RecordID, err error) {
	name := btree.IndexFileName(table, column)
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Get", name)
	defer func() {
		// A missing key is a normal outcome, not a failed operation.
		spanErr := err
		if errors.Is(err, flushmanager.ErrKeyNotFound) {
			spanErr = nil
		}
		m.EndMetricsAndTrace(ctx, span, startTime, "Get", name, spanErr)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	ix, err := m.lookupLocked(name)
	if err != nil {
		return btree.NotFound, err
	}
	rid, found, err := ix.Search(key)
	if err != nil {
		return btree.NotFound, err
	}
	if !found {
		span.SetAttributes(attribute.Bool("pagedb.found", false))
		return btree.NotFound, fmt.Errorf("%w: in %s", flushmanager.ErrKeyNotFound, name)
	}
	return rid, nil
}

// ColumnType reports the column type and key length of an open index.
func (m *BTreeIndexManager) ColumnType(table, column string) (btree.ColumnType, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix, err := m.lookupLocked(btree.IndexFileName(table, column))
	if err != nil {
		return 0, 0, err
	}
	return ix.ColumnType(), ix.KeyLength(), nil
}

func (m *BTreeIndexManager) IndexStats(ctx context.Context, table, column string) (stats btree.Stats, err error) {
	name := btree.IndexFileName(table, column)
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "IndexStats", name)
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "IndexStats", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	ix, err := m.lookupLocked(name)
	if err != nil {
		return btree.Stats{}, err
	}
	return ix.Stats()
}

func (m *BTreeIndexManager) Dump(ctx context.Context, table, column string, w io.Writer) (err error) {
	name := btree.IndexFileName(table, column)
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Dump", name)
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Dump", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	ix, err := m.lookupLocked(name)
	if err != nil {
		return err
	}
	return ix.Dump(w)
}

// Snapshot flushes the index and copies its file into the snapshot
// directory. Other operations wait until the copy is done.
func (m *BTreeIndexManager) Snapshot(ctx context.Context, table, column string) (info SnapshotInfo, err error) {
	name := btree.IndexFileName(table, column)
	ctx, span, startTime := m.StartMetricsAndTrace(ctx, "Snapshot", name)
	defer func() { m.EndMetricsAndTrace(ctx, span, startTime, "Snapshot", name, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	ix, err := m.lookupLocked(name)
	if err != nil {
		return SnapshotInfo{}, err
	}
	if err := ix.Flush(); err != nil {
		return SnapshotInfo{}, err
	}
	if err := os.MkdirAll(m.config.SnapshotDir, 0755); err != nil {
		return SnapshotInfo{}, fmt.Errorf("%w: creating snapshot directory: %v", flushmanager.ErrIO, err)
	}

	id := uuid.New().String()
	dst := filepath.Join(m.config.SnapshotDir, fmt.Sprintf("%s.%s.snap", name, id))
	res, err := common.CopyThrottled(ctx, ix.Path(), dst, m.config.SnapshotRateBytesPerSec, m.config.SnapshotVerify)
	if err != nil {
		_ = os.Remove(dst)
		return SnapshotInfo{}, fmt.Errorf("snapshot of %s failed: %w", name, err)
	}
	m.metrics.SnapshotBytesCounter.Add(ctx, res.Bytes, metric.WithAttributes(attribute.String("pagedb.index", name)))
	span.SetAttributes(attribute.String("pagedb.snapshot_id", id), attribute.Int64("pagedb.snapshot_bytes", res.Bytes))

	info = SnapshotInfo{
		ID:        id,
		Index:     name,
		Path:      dst,
		Bytes:     res.Bytes,
		Checksum:  hex.EncodeToString(res.Checksum),
		CreatedAt: time.Now(),
	}
	m.logger.Info("snapshot written", zap.String("index", name), zap.String("snapshot_id", id),
		zap.String("path", dst), zap.Int64("bytes", res.Bytes), zap.String("sha256", info.Checksum))
	return info, nil
}

// OpenIndexes lists the file names of the open indexes, sorted.
func (m *BTreeIndexManager) OpenIndexes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every open index.
func (m *BTreeIndexManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, ix := range m.indexes {
		if err := ix.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		delete(m.indexes, name)
	}
	return errors.Join(errs...)
}

func (m *BTreeIndexManager) lookupLocked(name string) (*btree.Index, error) {
	ix, ok := m.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", flushmanager.ErrIndexNotOpen, name)
	}
	return ix, nil
}

// StartMetricsAndTrace begins the telemetry recording for an index operation.
// It returns a new context, the trace span, and the start time.
func (m *BTreeIndexManager) StartMetricsAndTrace(ctx context.Context, operation, index string) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("pagedb.service", m.serviceName),
		attribute.String("pagedb.operation", operation),
		attribute.String("pagedb.index", index),
	}
	m.metrics.ActiveOperationsUpDownCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	ctx, span := m.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	return ctx, span, startTime
}

// EndMetricsAndTrace completes the telemetry recording for an index operation.
func (m *BTreeIndexManager) EndMetricsAndTrace(ctx context.Context, span trace.Span, startTime time.Time, operation, index string, err error) {
	latency := time.Since(startTime).Milliseconds()

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	} else {
		span.SetStatus(otelcodes.Ok, "Success")
	}
	span.End()

	m.metrics.ActiveOperationsUpDownCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("pagedb.service", m.serviceName),
		attribute.String("pagedb.operation", operation),
		attribute.String("pagedb.index", index),
	))

	metricAttributes := attribute.NewSet(
		attribute.String("pagedb.service", m.serviceName),
		attribute.String("pagedb.operation", operation),
		attribute.String("pagedb.index", index),
		attribute.String("pagedb.status", status),
	)
	m.metrics.DurationHistogram.Record(ctx, latency, metric.WithAttributeSet(metricAttributes))
	m.metrics.OperationsCounter.Add(ctx, 1, metric.WithAttributeSet(metricAttributes))

	if err != nil {
		m.logger.Debug("index operation failed", zap.String("operation", operation), zap.String("index", index), zap.Error(err))
	}
}
