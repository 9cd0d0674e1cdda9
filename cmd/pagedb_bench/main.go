package main

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/indexmanager"
	bufferpool "github.com/sushant-115/pagedb/core/write_engine/buffer_pool"
	internaltelemetry "github.com/sushant-115/pagedb/internal/telemetry"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	"go.uber.org/zap"
)

const (
	benchTable  = "bench"
	benchColumn = "id"
)

func main() {
	dataDir := flag.String("dir", "/tmp/pagedb_bench", "directory for the index file")
	keys := flag.Int("keys", 20000, "number of keys to insert")
	workers := flag.Int("workers", 20, "concurrent writers and readers")
	poolSize := flag.Int("pool", 128, "buffer pool frames")
	slots := flag.Int("slots", 0, "slots per page, 0 derives it from the page size")
	metricsPort := flag.Int("metrics-port", 0, "serve /metrics on this port while running")
	flag.Parse()

	zlogger, err := logger.New(logger.Config{Level: "error"})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlogger.Sync()

	tel, shutdown, err := telemetry.New(telemetry.Config{
		Enabled:        *metricsPort > 0,
		ServiceName:    "pagedb_bench",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer shutdown(context.Background())

	poolMetrics, err := internaltelemetry.NewBufferPoolMetrics(tel.Meter)
	if err != nil {
		log.Fatalf("failed to create buffer pool metrics: %v", err)
	}
	pool, err := bufferpool.NewBufferPoolManager(*poolSize, zlogger, poolMetrics)
	if err != nil {
		log.Fatalf("failed to create buffer pool: %v", err)
	}
	if err := os.RemoveAll(*dataDir); err != nil {
		log.Fatalf("failed to clear %s: %v", *dataDir, err)
	}
	manager, err := indexmanager.NewBTreeIndexManager(pool, indexmanager.Config{
		DataDir:      *dataDir,
		SlotsPerPage: *slots,
	}, zlogger, tel)
	if err != nil {
		log.Fatalf("failed to create index manager: %v", err)
	}
	defer manager.Close()

	ctx := context.Background()
	if err := manager.CreateIndex(ctx, benchTable, benchColumn, btree.ColumnTypeInt64, 8); err != nil {
		log.Fatalf("failed to create index: %v", err)
	}

	write(ctx, manager, *keys, *workers)
	read(ctx, manager, *keys, *workers)

	stats, err := manager.IndexStats(ctx, benchTable, benchColumn)
	if err != nil {
		log.Fatalf("failed to read stats: %v", err)
	}
	zlogger.Info("tree shape",
		zap.Int("height", stats.Height),
		zap.Int("leaf_pages", stats.LeafPages),
		zap.Int("internal_pages", stats.InternalPages),
		zap.Uint64("splits", stats.Splits))
	log.Printf("height=%d leaves=%d internal=%d keys=%d splits=%d",
		stats.Height, stats.LeafPages, stats.InternalPages, stats.Keys, stats.Splits)
}

// runWorkers calls fn for every i in [0, n) with at most workers in flight.
func runWorkers(n, workers int, fn func(i int) error) (failures int64) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(i); err != nil {
				atomic.AddInt64(&failures, 1)
				log.Printf("key %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	return failures
}

// key spreads consecutive integers so inserts do not arrive in key order.
func key(i int) int64 {
	return int64(i) * 7919 % 1000003
}

func write(ctx context.Context, manager indexmanager.IndexManager, n, workers int) {
	start := time.Now()
	failures := runWorkers(n, workers, func(i int) error {
		return manager.Put(ctx, benchTable, benchColumn, btree.EncodeInt64(key(i)), btree.RecordID{PageNo: int64(i), SlotNo: 0})
	})
	elapsed := time.Since(start)
	log.Printf("insert: %d keys in %v (%.0f ops/s), %d failures", n, elapsed, float64(n)/elapsed.Seconds(), failures)
}

func read(ctx context.Context, manager indexmanager.IndexManager, n, workers int) {
	start := time.Now()
	failures := runWorkers(n, workers, func(i int) error {
		rid, err := manager.Get(ctx, benchTable, benchColumn, btree.EncodeInt64(key(i)))
		if err != nil {
			return err
		}
		if rid.PageNo != int64(i) {
			log.Printf("key %d: mismatch, got %s", i, rid)
		}
		return nil
	})
	elapsed := time.Since(start)
	log.Printf("search: %d keys in %v (%.0f ops/s), %d failures", n, elapsed, float64(n)/elapsed.Seconds(), failures)
}
