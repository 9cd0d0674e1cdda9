package bufferpool

import (
	"context"
	"fmt"
	"sync"

	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/pagedb/internal/telemetry"
	"go.uber.org/zap"
)

const (
	// bucketFactor is the number of frames per hash bucket.
	bucketFactor = 10
	// hashMultiplier mixes the file id into the bucket index.
	hashMultiplier = 147
)

// BufferPoolManager multiplexes a fixed set of page frames across every open
// paged file. Frames are found through a hash directory keyed by (file, page)
// and recycled from a FIFO free list of unpinned frames.
//
// The pool assumes one logical caller; the mutex only keeps its own
// bookkeeping consistent if a host calls it from several goroutines.
type BufferPoolManager struct {
	mu sync.Mutex

	frames    []*pagemanager.Page
	hashLinks []frameLink
	freeLinks []frameLink
	fileLinks []frameLink
	owners    []*PagedFile // owning session of each frame, nil if none

	buckets  []frameList
	freeList frameList

	files      map[pagemanager.FileID]*flushmanager.DiskManager
	nextFileID pagemanager.FileID

	logger  *zap.Logger
	metrics *internaltelemetry.BufferPoolMetrics
}

// BufferPoolStats is a point-in-time view of frame usage.
type BufferPoolStats struct {
	Capacity  int
	Pinned    int
	Free      int
	Resident  int
	Dirty     int
	OpenFiles int
}

// NewBufferPoolManager creates a pool with poolSize frames. A nil logger or
// nil metrics disables the corresponding output.
func NewBufferPoolManager(poolSize int, logger *zap.Logger, metrics *internaltelemetry.BufferPoolMetrics) (*BufferPoolManager, error) {
	if poolSize < 1 {
		return nil, fmt.Errorf("%w: pool size must be at least 1, got %d", flushmanager.ErrInvalidConfig, poolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		var err error
		if metrics, err = internaltelemetry.NewBufferPoolMetrics(nil); err != nil {
			return nil, err
		}
	}
	bucketCount := max(poolSize/bucketFactor, 1)

	bpm := &BufferPoolManager{
		frames:     make([]*pagemanager.Page, poolSize),
		hashLinks:  make([]frameLink, poolSize),
		freeLinks:  make([]frameLink, poolSize),
		fileLinks:  make([]frameLink, poolSize),
		owners:     make([]*PagedFile, poolSize),
		buckets:    make([]frameList, bucketCount),
		freeList:   newFrameList(),
		files:      make(map[pagemanager.FileID]*flushmanager.DiskManager),
		nextFileID: pagemanager.InvalidFileID + 1,
		logger:     logger.Named("bufferpool"),
		metrics:    metrics,
	}
	for b := range bpm.buckets {
		bpm.buckets[b] = newFrameList()
	}
	for i := range bpm.frames {
		bpm.frames[i] = pagemanager.NewPage()
		bpm.freeList.pushBack(bpm.freeLinks, i)
	}
	bpm.logger.Info("buffer pool initialized", zap.Int("pool_size", poolSize), zap.Int("buckets", bucketCount))
	return bpm, nil
}

func (bpm *BufferPoolManager) Capacity() int { return len(bpm.frames) }

// FetchPage returns the frame holding the page, pinning it. On a miss the
// head of the free list is recycled: written back if dirty, detached from its
// old bucket and owner, zero-filled and loaded from disk. owner may be nil.
func (bpm *BufferPoolManager) FetchPage(fileID pagemanager.FileID, pageID pagemanager.PageID, owner *PagedFile) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.fetchLocked(fileID, pageID, owner)
}

func (bpm *BufferPoolManager) fetchLocked(fileID pagemanager.FileID, pageID pagemanager.PageID, owner *PagedFile) (*pagemanager.Page, error) {
	ctx := context.Background()

	if i := bpm.lookupLocked(fileID, pageID); i != noFrame {
		page := bpm.frames[i]
		bpm.pinLocked(i)
		if owner != nil && bpm.owners[i] == nil {
			owner.pages.pushFront(bpm.fileLinks, i)
			bpm.owners[i] = owner
		}
		bpm.metrics.HitsCounter.Add(ctx, 1)
		bpm.logger.Debug("page hit", zap.Uint32("file_id", uint32(fileID)), zap.Int64("page_no", int64(pageID)), zap.Int("frame", i))
		return page, nil
	}

	disk, ok := bpm.files[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: file %d is not registered", flushmanager.ErrFileClosed, fileID)
	}
	if bpm.freeList.empty() {
		bpm.metrics.ExhaustedCounter.Add(ctx, 1)
		bpm.logger.Warn("buffer pool depleted", zap.Uint32("file_id", uint32(fileID)), zap.Int64("page_no", int64(pageID)))
		return nil, fmt.Errorf("%w: cannot load page %d of file %d", flushmanager.ErrBufferPoolFull, pageID, fileID)
	}
	bpm.metrics.MissesCounter.Add(ctx, 1)

	i := bpm.freeList.head
	victim := bpm.frames[i]
	if _, ok := bpm.files[victim.GetFileID()]; victim.IsDirty() && !ok {
		bpm.logger.Warn("discarding dirty page of a closed file", zap.Int("frame", i),
			zap.Uint32("old_file_id", uint32(victim.GetFileID())), zap.Int64("old_page_no", int64(victim.GetPageID())))
		victim.SetDirty(false)
	}
	if victim.IsDirty() {
		if err := bpm.writeBackLocked(i); err != nil {
			return nil, fmt.Errorf("failed to flush dirty victim page %d: %w", victim.GetPageID(), err)
		}
	}
	if bpm.hashLinks[i].linked {
		bpm.removeFromDirectoryLocked(i)
		bpm.metrics.EvictionsCounter.Add(ctx, 1)
		bpm.logger.Debug("evicting frame", zap.Int("frame", i),
			zap.Uint32("old_file_id", uint32(victim.GetFileID())), zap.Int64("old_page_no", int64(victim.GetPageID())))
	}
	bpm.detachOwnerLocked(i)
	bpm.freeList.remove(bpm.freeLinks, i)

	victim.Reset(fileID, pageID)
	if err := disk.ReadPage(pageID, victim.GetData()); err != nil {
		victim.Reset(pagemanager.InvalidFileID, pagemanager.InvalidPageID)
		bpm.freeList.pushBack(bpm.freeLinks, i)
		bpm.logger.Error("failed to load page", zap.String("path", disk.Path()), zap.Int64("page_no", int64(pageID)), zap.Error(err))
		return nil, err
	}
	victim.Pin()
	bpm.metrics.PinnedFramesUpDownCounter.Add(ctx, 1)

	bpm.buckets[bpm.hash(fileID, pageID)].pushFront(bpm.hashLinks, i)
	if owner != nil {
		owner.pages.pushFront(bpm.fileLinks, i)
		bpm.owners[i] = owner
	}
	bpm.logger.Debug("page loaded", zap.Uint32("file_id", uint32(fileID)), zap.Int64("page_no", int64(pageID)), zap.Int("frame", i))
	return victim, nil
}

// MarkDirty flags a resident page as modified.
func (bpm *BufferPoolManager) MarkDirty(fileID pagemanager.FileID, pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	i := bpm.lookupLocked(fileID, pageID)
	if i == noFrame {
		return fmt.Errorf("%w: page %d of file %d", flushmanager.ErrPageNotFound, pageID, fileID)
	}
	bpm.frames[i].SetDirty(true)
	return nil
}

// UnpinPage releases a resident page to the tail of the free list. The page
// stays in the hash directory until its frame is recycled.
func (bpm *BufferPoolManager) UnpinPage(fileID pagemanager.FileID, pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	i := bpm.lookupLocked(fileID, pageID)
	if i == noFrame {
		return fmt.Errorf("%w: page %d of file %d not found to unpin", flushmanager.ErrPageNotFound, pageID, fileID)
	}
	bpm.releaseLocked(i)
	return nil
}

// GetStats counts frames by state.
func (bpm *BufferPoolManager) GetStats() BufferPoolStats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	stats := BufferPoolStats{
		Capacity:  len(bpm.frames),
		Free:      bpm.freeList.size,
		OpenFiles: len(bpm.files),
	}
	for i, page := range bpm.frames {
		if page.IsPinned() {
			stats.Pinned++
		}
		if page.IsDirty() {
			stats.Dirty++
		}
		if bpm.hashLinks[i].linked {
			stats.Resident++
		}
	}
	return stats
}

func (bpm *BufferPoolManager) hash(fileID pagemanager.FileID, pageID pagemanager.PageID) int {
	n := int64(len(bpm.buckets))
	h := (int64(fileID)*hashMultiplier + int64(pageID)) % n
	if h < 0 {
		h += n
	}
	return int(h)
}

// lookupLocked scans the page's bucket and returns its frame or noFrame.
func (bpm *BufferPoolManager) lookupLocked(fileID pagemanager.FileID, pageID pagemanager.PageID) int {
	bucket := bpm.buckets[bpm.hash(fileID, pageID)]
	for i := bucket.head; i != noFrame; i = bpm.hashLinks[i].next {
		if bpm.frames[i].Matches(fileID, pageID) {
			return i
		}
	}
	return noFrame
}

func (bpm *BufferPoolManager) pinLocked(i int) {
	page := bpm.frames[i]
	if page.IsPinned() {
		return
	}
	page.Pin()
	bpm.freeList.remove(bpm.freeLinks, i)
	bpm.metrics.PinnedFramesUpDownCounter.Add(context.Background(), 1)
}

// releaseLocked unpins frame i and appends it to the free list. Releasing an
// unpinned frame is a no-op.
func (bpm *BufferPoolManager) releaseLocked(i int) {
	page := bpm.frames[i]
	if !page.IsPinned() {
		return
	}
	page.Unpin()
	bpm.freeList.pushBack(bpm.freeLinks, i)
	bpm.metrics.PinnedFramesUpDownCounter.Add(context.Background(), -1)
}

// removeFromDirectoryLocked detaches frame i from its hash bucket.
func (bpm *BufferPoolManager) removeFromDirectoryLocked(i int) {
	page := bpm.frames[i]
	bpm.buckets[bpm.hash(page.GetFileID(), page.GetPageID())].remove(bpm.hashLinks, i)
}

// dropFrameLocked writes frame i back if dirty, then takes it out of the
// directory, releases it and detaches its owner. A frame that cannot be
// written is dropped anyway and the write error returned.
func (bpm *BufferPoolManager) dropFrameLocked(i int) error {
	var err error
	if bpm.frames[i].IsDirty() {
		if err = bpm.writeBackLocked(i); err != nil {
			bpm.frames[i].SetDirty(false)
		}
	}
	bpm.removeFromDirectoryLocked(i)
	bpm.releaseLocked(i)
	bpm.detachOwnerLocked(i)
	return err
}

func (bpm *BufferPoolManager) detachOwnerLocked(i int) {
	if owner := bpm.owners[i]; owner != nil {
		owner.pages.remove(bpm.fileLinks, i)
		bpm.owners[i] = nil
	}
}

// writeBackLocked writes frame i to its file and clears the dirty flag.
func (bpm *BufferPoolManager) writeBackLocked(i int) error {
	page := bpm.frames[i]
	disk, ok := bpm.files[page.GetFileID()]
	if !ok {
		return fmt.Errorf("%w: dirty page %d belongs to unregistered file %d", flushmanager.ErrInternalInvariant, page.GetPageID(), page.GetFileID())
	}
	if err := disk.WritePage(page.GetPageID(), page.GetData()); err != nil {
		bpm.logger.Error("failed to write back page", zap.String("path", disk.Path()), zap.Int64("page_no", int64(page.GetPageID())), zap.Error(err))
		return err
	}
	page.SetDirty(false)
	bpm.metrics.WritebacksCounter.Add(context.Background(), 1)
	return nil
}

func (bpm *BufferPoolManager) registerFileLocked(disk *flushmanager.DiskManager) pagemanager.FileID {
	fileID := bpm.nextFileID
	bpm.nextFileID++
	bpm.files[fileID] = disk
	return fileID
}

func (bpm *BufferPoolManager) unregisterFileLocked(fileID pagemanager.FileID) {
	delete(bpm.files, fileID)
}
