package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/pagedb/core/indexmanager"
	bufferpool "github.com/sushant-115/pagedb/core/write_engine/buffer_pool"
	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	"go.uber.org/zap/zaptest"
)

func setupShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	pool, err := bufferpool.NewBufferPoolManager(16, logger, nil)
	require.NoError(t, err)
	manager, err := indexmanager.NewBTreeIndexManager(pool, indexmanager.Config{
		DataDir:      filepath.Join(t.TempDir(), "data"),
		SlotsPerPage: 2,
	}, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, manager.Close()) })
	out := &bytes.Buffer{}
	return &shell{manager: manager, pool: pool, out: out}, out
}

func run(t *testing.T, sh *shell, out *bytes.Buffer, args ...string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, sh.processCommand(context.Background(), args))
	return out.String()
}

func TestShell_IntegerIndex(t *testing.T) {
	sh, out := setupShell(t)

	require.Contains(t, run(t, sh, out, "create", "orders", "id", "int64"), "Created orders:id")
	for _, v := range []string{"10", "-3", "7", "250", "0"} {
		require.Equal(t, "OK\n", run(t, sh, out, "insert", "orders", "id", v, v, "1"))
	}
	require.Equal(t, "Found (-3,1)\n", run(t, sh, out, "search", "orders", "id", "-3"))
	require.Equal(t, "Not found\n", run(t, sh, out, "search", "orders", "id", "11"))

	stats := run(t, sh, out, "stats", "orders", "id")
	require.Contains(t, stats, "type=LONG_LONG")
	require.Contains(t, stats, "keys=5")

	require.Contains(t, run(t, sh, out, "dump", "orders", "id"), "250->(250,1)")
	require.Equal(t, "orders:id\n", run(t, sh, out, "list"))
	require.Contains(t, run(t, sh, out, "pool"), "capacity=16")

	err := sh.processCommand(context.Background(), []string{"insert", "orders", "id", "7", "1", "1"})
	require.ErrorIs(t, err, flushmanager.ErrKeyAlreadyExists)
	err = sh.processCommand(context.Background(), []string{"insert", "orders", "id", "seven", "1", "1"})
	require.Error(t, err)
}

func TestShell_StringIndexLifecycle(t *testing.T) {
	sh, out := setupShell(t)

	require.Contains(t, run(t, sh, out, "create", "users", "name"), "Error: create requires")
	require.Contains(t, run(t, sh, out, "create", "users", "name", "string"), "require a length")
	run(t, sh, out, "create", "users", "name", "string", "8")
	run(t, sh, out, "insert", "users", "name", "alice", "3", "4")
	require.Contains(t, run(t, sh, out, "close", "users", "name"), "Closed users:name")

	err := sh.processCommand(context.Background(), []string{"search", "users", "name", "alice"})
	require.ErrorIs(t, err, flushmanager.ErrIndexNotOpen)

	run(t, sh, out, "open", "users", "name")
	require.Equal(t, "Found (3,4)\n", run(t, sh, out, "search", "users", "name", "alice"))
}

func TestShell_MiscCommands(t *testing.T) {
	sh, out := setupShell(t)

	require.Contains(t, run(t, sh, out, "help"), "insert <table> <column> <key> <pageNo> <slotNo>")
	require.Contains(t, run(t, sh, out, "bogus"), "Unknown command: bogus")
	require.Empty(t, run(t, sh, out))
	require.ErrorIs(t, sh.processCommand(context.Background(), []string{"EXIT"}), errExit)
}
