package bufferpool

import (
	"errors"
	"fmt"

	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// OpenFlag selects how OpenPagedFile treats the backing file.
type OpenFlag int

const (
	// OpenExisting fails with ErrDBFileNotFound if the file is missing.
	OpenExisting OpenFlag = iota
	// OpenOrCreate creates the file if it is missing and keeps existing contents.
	OpenOrCreate
	// CreateTruncate creates the file or discards its existing contents.
	CreateTruncate
)

// PagedFile is a session over one open file. All page access goes through the
// shared buffer pool; the session only remembers which frames it owns so that
// Close can flush and hand them back.
type PagedFile struct {
	pool   *BufferPoolManager
	disk   *flushmanager.DiskManager
	fileID pagemanager.FileID
	pages  frameList
	logger *zap.Logger
	closed bool
}

// OpenPagedFile opens path and registers it with the pool.
func (bpm *BufferPoolManager) OpenPagedFile(path string, flag OpenFlag) (*PagedFile, error) {
	disk, err := flushmanager.OpenDiskManager(path, flag != OpenExisting, flag == CreateTruncate, bpm.logger)
	if err != nil {
		return nil, err
	}

	bpm.mu.Lock()
	fileID := bpm.registerFileLocked(disk)
	bpm.mu.Unlock()

	pf := &PagedFile{
		pool:   bpm,
		disk:   disk,
		fileID: fileID,
		pages:  newFrameList(),
		logger: bpm.logger.Named("pagedfile").With(zap.String("path", path), zap.Uint32("file_id", uint32(fileID))),
	}
	pf.logger.Info("paged file opened")
	return pf, nil
}

func (pf *PagedFile) FileID() pagemanager.FileID { return pf.fileID }
func (pf *PagedFile) Path() string               { return pf.disk.Path() }

// GetPage pins the page and returns its frame buffer. The buffer is valid
// until the page is released.
func (pf *PagedFile) GetPage(pageID pagemanager.PageID) ([]byte, error) {
	if pf.closed {
		return nil, flushmanager.ErrFileClosed
	}
	page, err := pf.pool.FetchPage(pf.fileID, pageID, pf)
	if err != nil {
		return nil, err
	}
	return page.GetData(), nil
}

func (pf *PagedFile) MarkDirty(pageID pagemanager.PageID) error {
	if pf.closed {
		return flushmanager.ErrFileClosed
	}
	return pf.pool.MarkDirty(pf.fileID, pageID)
}

// UnpinPage releases the page back to the pool's free list.
func (pf *PagedFile) UnpinPage(pageID pagemanager.PageID) error {
	if pf.closed {
		return flushmanager.ErrFileClosed
	}
	return pf.pool.UnpinPage(pf.fileID, pageID)
}

// CommitPage writes the page to disk if it is dirty and then releases it,
// whether or not it was pinned.
func (pf *PagedFile) CommitPage(pageID pagemanager.PageID) error {
	if pf.closed {
		return flushmanager.ErrFileClosed
	}
	bpm := pf.pool
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	i := bpm.lookupLocked(pf.fileID, pageID)
	if i == noFrame {
		return fmt.Errorf("%w: page %d not found to commit", flushmanager.ErrPageNotFound, pageID)
	}
	if bpm.frames[i].IsDirty() {
		if err := bpm.writeBackLocked(i); err != nil {
			return err
		}
	}
	bpm.releaseLocked(i)
	return nil
}

// Flush writes every dirty page of this file and syncs it. Pins are kept.
func (pf *PagedFile) Flush() error {
	if pf.closed {
		return flushmanager.ErrFileClosed
	}
	bpm := pf.pool
	bpm.mu.Lock()
	flushed := 0
	for i := pf.pages.head; i != noFrame; i = bpm.fileLinks[i].next {
		if !bpm.frames[i].IsDirty() {
			continue
		}
		if err := bpm.writeBackLocked(i); err != nil {
			bpm.mu.Unlock()
			return err
		}
		flushed++
	}
	bpm.mu.Unlock()

	if err := pf.disk.Sync(); err != nil {
		return err
	}
	pf.logger.Debug("paged file flushed", zap.Int("pages", flushed))
	return nil
}

// Truncate shortens the file to pages pages. Resident pages at or beyond the
// new end must be unpinned; they are dropped without being written.
func (pf *PagedFile) Truncate(pages pagemanager.PageID) error {
	if pf.closed {
		return flushmanager.ErrFileClosed
	}
	bpm := pf.pool
	bpm.mu.Lock()
	for i, page := range bpm.frames {
		if !bpm.hashLinks[i].linked || page.GetFileID() != pf.fileID || page.GetPageID() < pages {
			continue
		}
		if page.IsPinned() {
			bpm.mu.Unlock()
			return fmt.Errorf("%w: page %d is pinned past the truncation point %d", flushmanager.ErrInternalInvariant, page.GetPageID(), pages)
		}
		page.SetDirty(false)
		if err := bpm.dropFrameLocked(i); err != nil {
			bpm.mu.Unlock()
			return err
		}
	}
	bpm.mu.Unlock()

	if err := pf.disk.Truncate(pages); err != nil {
		return err
	}
	pf.logger.Debug("paged file truncated", zap.Int64("pages", int64(pages)))
	return nil
}

// Close flushes dirty pages, drops every page of the session from the hash
// directory, releases their frames and closes the file. Calling Close on a
// closed session is a no-op.
func (pf *PagedFile) Close() error {
	if pf.closed {
		return nil
	}
	bpm := pf.pool
	var errs []error

	bpm.mu.Lock()
	released := 0
	for i := pf.pages.head; i != noFrame; {
		next := bpm.fileLinks[i].next
		if err := bpm.dropFrameLocked(i); err != nil {
			errs = append(errs, err)
		}
		released++
		i = next
	}
	// Frames fetched through the pool without an owner are not on the
	// session's list but still carry this file's id.
	for i, page := range bpm.frames {
		if !bpm.hashLinks[i].linked || page.GetFileID() != pf.fileID {
			continue
		}
		if err := bpm.dropFrameLocked(i); err != nil {
			errs = append(errs, err)
		}
		released++
	}
	bpm.unregisterFileLocked(pf.fileID)
	bpm.mu.Unlock()

	if err := pf.disk.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := pf.disk.Close(); err != nil {
		errs = append(errs, err)
	}
	pf.closed = true
	pf.logger.Info("paged file closed", zap.Int("released_frames", released))
	return errors.Join(errs...)
}
