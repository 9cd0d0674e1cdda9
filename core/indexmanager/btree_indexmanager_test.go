package indexmanager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/pagedb/core/indexing/btree"
	bufferpool "github.com/sushant-115/pagedb/core/write_engine/buffer_pool"
	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

type testTelemetry struct {
	tel      *telemetry.Telemetry
	reader   *sdkmetric.ManualReader
	recorder *tracetest.SpanRecorder
}

func newTestTelemetry() testTelemetry {
	reader := sdkmetric.NewManualReader()
	recorder := tracetest.NewSpanRecorder()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return testTelemetry{
		tel: &telemetry.Telemetry{
			TracerProvider: tracerProvider,
			MeterProvider:  meterProvider,
			Tracer:         tracerProvider.Tracer("indexmanager_test"),
			Meter:          meterProvider.Meter("indexmanager_test"),
		},
		reader:   reader,
		recorder: recorder,
	}
}

func (tt testTelemetry) counterTotal(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tt.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func setupManager(t *testing.T, config Config) (*BTreeIndexManager, testTelemetry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	pool, err := bufferpool.NewBufferPoolManager(32, logger, nil)
	require.NoError(t, err)
	if config.DataDir == "" {
		config.DataDir = filepath.Join(t.TempDir(), "data")
	}
	tt := newTestTelemetry()
	m, err := NewBTreeIndexManager(pool, config, logger, tt.tel)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, tt
}

func TestManager_CreatePutGet(t *testing.T) {
	m, tt := setupManager(t, Config{SlotsPerPage: 2})
	ctx := context.Background()

	require.NoError(t, m.CreateIndex(ctx, "users", "name", btree.ColumnTypeString, 4))
	require.Equal(t, []string{"users:name"}, m.OpenIndexes())

	for i, k := range []string{"aaaa", "bbbb", "cccc", "dddd"} {
		require.NoError(t, m.Put(ctx, "users", "name", []byte(k), btree.RecordID{PageNo: 1, SlotNo: int64(i)}))
	}
	rid, err := m.Get(ctx, "users", "name", []byte("bbbb"))
	require.NoError(t, err)
	require.Equal(t, btree.RecordID{PageNo: 1, SlotNo: 1}, rid)

	_, err = m.Get(ctx, "users", "name", []byte("zzzz"))
	require.ErrorIs(t, err, flushmanager.ErrKeyNotFound)

	err = m.Put(ctx, "users", "name", []byte("aaaa"), btree.RecordID{})
	require.ErrorIs(t, err, flushmanager.ErrKeyAlreadyExists)

	ct, length, err := m.ColumnType("users", "name")
	require.NoError(t, err)
	require.Equal(t, btree.ColumnTypeString, ct)
	require.Equal(t, 4, length)

	require.Equal(t, int64(2), tt.counterTotal(t, "pagedb.index.splits"))
	require.Equal(t, int64(8), tt.counterTotal(t, "pagedb.index.operations"))
	require.Equal(t, int64(0), tt.counterTotal(t, "pagedb.index.active_operations"))

	var failed int
	for _, span := range tt.recorder.Ended() {
		if span.Status().Code == otelcodes.Error {
			failed++
			require.Equal(t, "Put", span.Name())
		}
	}
	require.Equal(t, 1, failed, "only the duplicate insert is a failed span")
}

func TestManager_OpenCloseLifecycle(t *testing.T) {
	m, _ := setupManager(t, Config{})
	ctx := context.Background()

	require.ErrorIs(t, m.OpenIndex(ctx, "orders", "id"), flushmanager.ErrDBFileNotFound)
	require.NoError(t, m.CreateIndex(ctx, "orders", "id", btree.ColumnTypeInt64, 8))
	require.ErrorIs(t, m.CreateIndex(ctx, "orders", "id", btree.ColumnTypeInt64, 8), flushmanager.ErrIndexAlreadyOpen)
	require.ErrorIs(t, m.OpenIndex(ctx, "orders", "id"), flushmanager.ErrIndexAlreadyOpen)

	for v := int64(-50); v < 50; v++ {
		require.NoError(t, m.Put(ctx, "orders", "id", btree.EncodeInt64(v), btree.RecordID{PageNo: v, SlotNo: 0}))
	}
	require.NoError(t, m.CloseIndex(ctx, "orders", "id"))
	require.ErrorIs(t, m.CloseIndex(ctx, "orders", "id"), flushmanager.ErrIndexNotOpen)
	_, err := m.Get(ctx, "orders", "id", btree.EncodeInt64(1))
	require.ErrorIs(t, err, flushmanager.ErrIndexNotOpen)

	require.NoError(t, m.OpenIndex(ctx, "orders", "id"))
	rid, err := m.Get(ctx, "orders", "id", btree.EncodeInt64(-17))
	require.NoError(t, err)
	require.Equal(t, int64(-17), rid.PageNo)

	stats, err := m.IndexStats(ctx, "orders", "id")
	require.NoError(t, err)
	require.Equal(t, 100, stats.Keys)
	require.Equal(t, btree.ColumnTypeInt64, stats.ColumnType)

	var dump bytes.Buffer
	require.NoError(t, m.Dump(ctx, "orders", "id", &dump))
	require.Contains(t, dump.String(), "-17->(-17,0)")
}

func TestManager_Snapshot(t *testing.T) {
	snapDir := filepath.Join(t.TempDir(), "snaps")
	m, tt := setupManager(t, Config{SnapshotDir: snapDir, SnapshotVerify: true, SnapshotRateBytesPerSec: 1 << 30})
	ctx := context.Background()

	require.NoError(t, m.CreateIndex(ctx, "t", "c", btree.ColumnTypeString, 16))
	for _, k := range []string{"one", "two", "three"} {
		require.NoError(t, m.Put(ctx, "t", "c", []byte(k), btree.RecordID{PageNo: 5, SlotNo: 5}))
	}

	info, err := m.Snapshot(ctx, "t", "c")
	require.NoError(t, err)
	require.Equal(t, "t:c", info.Index)
	require.NotEmpty(t, info.ID)
	require.Equal(t, snapDir, filepath.Dir(info.Path))

	raw, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	require.Equal(t, int64(len(raw)), info.Bytes)
	sum := sha256.Sum256(raw)
	require.Equal(t, hex.EncodeToString(sum[:]), info.Checksum)
	require.Equal(t, info.Bytes, tt.counterTotal(t, "pagedb.index.snapshot_bytes"))

	// The snapshot is itself a valid index once it carries the right name.
	restoreDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(restoreDir, "t:c"), raw, 0644))
	pool, err := bufferpool.NewBufferPoolManager(8, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	restored, err := btree.Open(pool, restoreDir, "t", "c", btree.Options{})
	require.NoError(t, err)
	defer restored.Close()
	rid, found, err := restored.Search([]byte("two"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, btree.RecordID{PageNo: 5, SlotNo: 5}, rid)

	second, err := m.Snapshot(ctx, "t", "c")
	require.NoError(t, err)
	require.NotEqual(t, info.ID, second.ID)
}

func TestManager_RequiresDataDir(t *testing.T) {
	pool, err := bufferpool.NewBufferPoolManager(4, nil, nil)
	require.NoError(t, err)
	_, err = NewBTreeIndexManager(pool, Config{}, nil, nil)
	require.ErrorIs(t, err, flushmanager.ErrInvalidConfig)
}

func TestManager_WithoutTelemetry(t *testing.T) {
	pool, err := bufferpool.NewBufferPoolManager(8, nil, nil)
	require.NoError(t, err)
	m, err := NewBTreeIndexManager(pool, Config{DataDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Close()) }()

	ctx := context.Background()
	require.NoError(t, m.CreateIndex(ctx, "t", "c", btree.ColumnTypeInt64, 8))
	require.NoError(t, m.Put(ctx, "t", "c", btree.EncodeInt64(5), btree.RecordID{PageNo: 5}))
	rid, err := m.Get(ctx, "t", "c", btree.EncodeInt64(5))
	require.NoError(t, err)
	require.Equal(t, int64(5), rid.PageNo)
}
