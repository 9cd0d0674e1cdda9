package flushmanager

import (
	"errors"
	"fmt"
	"io"
	"os"

	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/internal/sys"
	"go.uber.org/zap"
)

// --- DiskManager ---

// DiskManager owns one OS file and performs whole-page positional I/O on it.
// It knows nothing about caching; the buffer pool decides when pages move.
type DiskManager struct {
	filePath string
	file     *os.File
	logger   *zap.Logger
}

// OpenDiskManager opens the file at filePath for reading and writing. With
// create set, a missing file is created; otherwise a missing file yields
// ErrDBFileNotFound. With truncate set, existing contents are discarded.
func OpenDiskManager(filePath string, create, truncate bool, logger *zap.Logger) (*DiskManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	if truncate {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(filePath, flags, 0644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, filePath)
		}
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, filePath, err)
	}
	if err := sys.LockFile(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: locking file %s: %v", ErrIO, filePath, err)
	}
	logger.Debug("disk file opened", zap.String("path", filePath), zap.Bool("create", create))
	return &DiskManager{
		filePath: filePath,
		file:     file,
		logger:   logger,
	}, nil
}

func (dm *DiskManager) Path() string { return dm.filePath }

// ReadPage fills pageData with the page's bytes. Bytes beyond the end of the
// file read as zero, so pages that were never written come back empty.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	if dm.file == nil {
		return ErrFileClosed
	}
	if len(pageData) != pagemanager.PageSize {
		return fmt.Errorf("%w: page buffer size %d != page size %d", ErrInternalInvariant, len(pageData), pagemanager.PageSize)
	}
	if pageID < 0 {
		return fmt.Errorf("%w: negative page number %d", ErrIO, pageID)
	}
	n, err := dm.file.ReadAt(pageData, pageID.Offset())
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, pageID.Offset(), err)
	}
	clear(pageData[n:])
	return nil
}

// WritePage writes a whole page at the page's offset. It does not sync.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	if dm.file == nil {
		return ErrFileClosed
	}
	if len(pageData) != pagemanager.PageSize {
		return fmt.Errorf("%w: page buffer size %d != page size %d", ErrInternalInvariant, len(pageData), pagemanager.PageSize)
	}
	if _, err := dm.file.WriteAt(pageData, pageID.Offset()); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, pageID.Offset(), err)
	}
	return nil
}

// Sync flushes the OS buffers of the file to stable storage.
func (dm *DiskManager) Sync() error {
	if dm.file == nil {
		return ErrFileClosed
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, dm.filePath, err)
	}
	return nil
}

// Truncate cuts the file to pages whole pages and syncs it.
func (dm *DiskManager) Truncate(pages pagemanager.PageID) error {
	if dm.file == nil {
		return ErrFileClosed
	}
	if pages < 0 {
		return fmt.Errorf("%w: negative page count %d", ErrIO, pages)
	}
	if err := dm.file.Truncate(pages.Offset()); err != nil {
		return fmt.Errorf("%w: truncating %s to %d pages: %v", ErrIO, dm.filePath, pages, err)
	}
	return dm.Sync()
}

// Close releases the lock and closes the file handle. Closing twice is a no-op.
func (dm *DiskManager) Close() error {
	if dm.file == nil {
		return nil
	}
	if err := sys.UnlockFile(dm.file); err != nil {
		dm.logger.Warn("failed to unlock file", zap.String("path", dm.filePath), zap.Error(err))
	}
	err := dm.file.Close()
	dm.file = nil
	if err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, dm.filePath, err)
	}
	dm.logger.Debug("disk file closed", zap.String("path", dm.filePath))
	return nil
}
