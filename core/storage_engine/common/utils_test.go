package common

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 31)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))
	return data
}

func TestCopyThrottled_CopiesAndVerifies(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	data := writeTestFile(t, src, 3*chunkSize+123)

	res, err := CopyThrottled(context.Background(), src, dst, 0, true)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), res.Bytes)
	want := sha256.Sum256(data)
	require.Equal(t, want[:], res.Checksum)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestCopyThrottled_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTestFile(t, src, 0)

	res, err := CopyThrottled(context.Background(), src, dst, 1024, true)
	require.NoError(t, err)
	require.Zero(t, res.Bytes)
}

func TestCopyThrottled_RespectsRate(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTestFile(t, src, 2*chunkSize)

	// The first chunk uses the burst, the second waits for a refill.
	start := time.Now()
	_, err := CopyThrottled(context.Background(), src, dst, 4*chunkSize, false)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestCopyThrottled_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeTestFile(t, src, 2*chunkSize)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CopyThrottled(ctx, src, dst, chunkSize, false)
	require.Error(t, err)
}

func TestCopyThrottled_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := CopyThrottled(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"), 0, false)
	require.ErrorIs(t, err, os.ErrNotExist)
}
