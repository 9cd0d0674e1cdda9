package flushmanager

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"go.uber.org/zap/zaptest"
)

func TestDiskManager_OpenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")
	_, err := OpenDiskManager(path, false, false, zaptest.NewLogger(t))
	require.ErrorIs(t, err, ErrDBFileNotFound)
}

func TestDiskManager_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages")
	dm, err := OpenDiskManager(path, true, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()
	require.Equal(t, path, dm.Path())

	page := bytes.Repeat([]byte{0xAB}, pagemanager.PageSize)
	require.NoError(t, dm.WritePage(2, page))
	require.NoError(t, dm.Sync())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(3*pagemanager.PageSize), info.Size())

	buf := make([]byte, pagemanager.PageSize)
	require.NoError(t, dm.ReadPage(2, buf))
	require.Equal(t, page, buf)

	// Page 0 is a hole and page 7 is past the end; both read as zeros.
	for _, id := range []pagemanager.PageID{0, 7} {
		copy(buf, page)
		require.NoError(t, dm.ReadPage(id, buf))
		require.Equal(t, make([]byte, pagemanager.PageSize), buf)
	}

	require.ErrorIs(t, dm.ReadPage(-1, buf), ErrIO)
	require.ErrorIs(t, dm.ReadPage(0, buf[:10]), ErrInternalInvariant)
	require.ErrorIs(t, dm.WritePage(0, buf[:10]), ErrInternalInvariant)
}

func TestDiskManager_Truncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, pagemanager.PageSize), 0644))

	dm, err := OpenDiskManager(path, true, true, nil)
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestDiskManager_TruncateToPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages")
	dm, err := OpenDiskManager(path, true, false, nil)
	require.NoError(t, err)
	defer dm.Close()

	page := bytes.Repeat([]byte{7}, pagemanager.PageSize)
	require.NoError(t, dm.WritePage(4, page))
	require.NoError(t, dm.Truncate(1))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(pagemanager.PageSize), info.Size())
	require.ErrorIs(t, dm.Truncate(-1), ErrIO)
}

func TestDiskManager_Close(t *testing.T) {
	dm, err := OpenDiskManager(filepath.Join(t.TempDir(), "pages"), true, false, nil)
	require.NoError(t, err)
	require.NoError(t, dm.Close())
	require.NoError(t, dm.Close())

	buf := make([]byte, pagemanager.PageSize)
	require.ErrorIs(t, dm.ReadPage(0, buf), ErrFileClosed)
	require.ErrorIs(t, dm.WritePage(0, buf), ErrFileClosed)
	require.ErrorIs(t, dm.Sync(), ErrFileClosed)
	require.ErrorIs(t, dm.Truncate(0), ErrFileClosed)
}

func TestDiskManager_ExclusiveLock(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" {
		t.Skip("advisory locks are unix only")
	}
	path := filepath.Join(t.TempDir(), "pages")
	first, err := OpenDiskManager(path, true, false, nil)
	require.NoError(t, err)

	_, err = OpenDiskManager(path, false, false, nil)
	require.ErrorIs(t, err, ErrIO)

	require.NoError(t, first.Close())
	second, err := OpenDiskManager(path, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
