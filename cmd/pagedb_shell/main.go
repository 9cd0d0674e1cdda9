package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sushant-115/pagedb/core/indexmanager"
	bufferpool "github.com/sushant-115/pagedb/core/write_engine/buffer_pool"
	internaltelemetry "github.com/sushant-115/pagedb/internal/telemetry"
	"github.com/sushant-115/pagedb/pkg/config"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlogger.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		zlogger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	if tel.MetricsAddr != "" {
		zlogger.Info("Serving metrics", zap.String("addr", tel.MetricsAddr))
	}

	poolMetrics, err := internaltelemetry.NewBufferPoolMetrics(tel.Meter)
	if err != nil {
		zlogger.Fatal("Failed to create buffer pool metrics", zap.Error(err))
	}
	pool, err := bufferpool.NewBufferPoolManager(cfg.Storage.PoolSize, zlogger, poolMetrics)
	if err != nil {
		zlogger.Fatal("Failed to create buffer pool", zap.Error(err))
	}
	manager, err := indexmanager.NewBTreeIndexManager(pool, indexmanager.Config{
		DataDir:                 cfg.Storage.DataDir,
		SlotsPerPage:            cfg.Index.SlotsPerPage,
		SnapshotDir:             cfg.SnapshotDir(),
		SnapshotRateBytesPerSec: cfg.Snapshot.RateBytesPerSec,
		SnapshotVerify:          cfg.Snapshot.Verify,
	}, zlogger, tel)
	if err != nil {
		zlogger.Fatal("Failed to create index manager", zap.Error(err))
	}
	defer func() {
		if err := manager.Close(); err != nil {
			zlogger.Error("Failed to close indexes", zap.Error(err))
		}
	}()

	sh := &shell{manager: manager, pool: pool, out: os.Stdout}
	ctx := context.Background()

	// Non-interactive mode: run the command given on the command line.
	if flag.NArg() > 0 {
		if err := sh.processCommand(ctx, flag.Args()); err != nil && !errors.Is(err, errExit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runInteractive(ctx, sh, filepath.Join(cfg.Storage.DataDir, ".pagedb_history")); err != nil {
		zlogger.Error("Shell terminated", zap.Error(err))
	}
}

func runInteractive(ctx context.Context, sh *shell, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pagedb> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(sh.out, "pagedb shell. Type 'help' for commands, 'exit' to quit.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		err = sh.processCommand(ctx, strings.Fields(line))
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
	}
}
