package btree

import (
	"errors"
	"fmt"
	"path/filepath"

	bufferpool "github.com/sushant-115/pagedb/core/write_engine/buffer_pool"
	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

const (
	// FileNameSeparator joins table and column names into an index file name.
	FileNameSeparator = ":"

	minSlotsPerPage = 2

	initialRootPage      pagemanager.PageID = 1
	initialNextEmptyPage pagemanager.PageID = 2

	// maxTreeHeight bounds descents so a corrupt file cannot loop forever.
	maxTreeHeight = 64
)

// RecordID locates a row in the heap file: the payload of a leaf slot.
type RecordID struct {
	PageNo int64
	SlotNo int64
}

// NotFound is returned by Search for absent keys.
var NotFound = RecordID{PageNo: -1, SlotNo: -1}

func (r RecordID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageNo, r.SlotNo)
}

type entry struct {
	key []byte
	rid RecordID
}

// Options tune a single index. The zero value is usable.
type Options struct {
	// SlotsPerPage overrides the per-node capacity derived from the key
	// length. It is only honored by Create, must be at least 2 and is capped
	// by what fits in a page.
	SlotsPerPage int
	Logger       *zap.Logger
}

// Index is a B+ tree over one fixed-length column, stored in its own paged
// file. The header page stays pinned while the index is open.
//
// An Index is not safe for concurrent use.
type Index struct {
	file   *bufferpool.PagedFile
	header headerPage
	logger *zap.Logger

	columnType   ColumnType
	keyLen       int
	slotWidth    int
	slotsPerPage int

	splits uint64
	open   bool
	// damaged holds the error that interrupted a split after the split node
	// had already been rewritten. Keys moved to the new page may be
	// unreachable, so reads and writes are refused until the index is rebuilt.
	damaged error
}

// IndexFileName returns the file name of the index on tableName.columnName.
func IndexFileName(tableName, columnName string) string {
	return tableName + FileNameSeparator + columnName
}

// Create creates the index file for tableName.columnName in dir and
// initializes an empty leaf as the root. An existing file of that name is
// replaced, but only once the new header and root are on disk.
func Create(pool *bufferpool.BufferPoolManager, dir string, columnType ColumnType, tableName, columnName string, columnLength int, opts Options) (*Index, error) {
	if err := validateColumn(columnType, columnName, columnLength); err != nil {
		return nil, err
	}
	slots := maxSlotsPerPage(columnLength)
	if opts.SlotsPerPage != 0 {
		if opts.SlotsPerPage < minSlotsPerPage {
			return nil, fmt.Errorf("%w: slots per page %d is below %d", flushmanager.ErrInvalidConfig, opts.SlotsPerPage, minSlotsPerPage)
		}
		slots = min(slots, opts.SlotsPerPage)
	}

	path := filepath.Join(dir, IndexFileName(tableName, columnName))
	file, err := pool.OpenPagedFile(path, bufferpool.OpenOrCreate)
	if err != nil {
		return nil, err
	}
	// Pin the header and root pages before writing either, so that a full
	// pool leaves an existing file as it was.
	buf, err := file.GetPage(headerPageNo)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}
	if _, err := file.GetPage(initialRootPage); err != nil {
		return nil, errors.Join(err, file.Close())
	}

	header := headerPage(buf)
	clear(header)
	header.setColumnName(columnName)
	header.setColumnType(columnType)
	header.setColumnLength(columnLength)
	header.setSlotsPerPage(slots)
	header.setNextEmptyPage(initialNextEmptyPage)
	header.setRootPage(initialRootPage)
	if err := file.MarkDirty(headerPageNo); err != nil {
		return nil, errors.Join(err, file.Close())
	}

	ix := newIndex(file, header, opts.Logger)
	root, err := ix.createEmptyNode(leafNode, initialRootPage)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}
	if err := root.release(); err != nil {
		return nil, errors.Join(err, file.Close())
	}
	if err := file.Flush(); err != nil {
		return nil, errors.Join(err, file.Close())
	}
	// Drop whatever an earlier index of the same name left past the root.
	if err := file.Truncate(initialNextEmptyPage); err != nil {
		return nil, errors.Join(err, file.Close())
	}
	ix.logger.Info("index created", zap.Stringer("column_type", columnType),
		zap.Int("column_length", columnLength), zap.Int("slots_per_page", slots))
	return ix, nil
}

// Open opens an existing index file and validates its header.
func Open(pool *bufferpool.BufferPoolManager, dir, tableName, columnName string, opts Options) (*Index, error) {
	path := filepath.Join(dir, IndexFileName(tableName, columnName))
	file, err := pool.OpenPagedFile(path, bufferpool.OpenExisting)
	if err != nil {
		return nil, err
	}
	buf, err := file.GetPage(headerPageNo)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}
	header := headerPage(buf)
	if err := header.validate(); err != nil {
		return nil, errors.Join(fmt.Errorf("%s: %w", path, err), file.Close())
	}
	if name := header.columnName(); name != columnName {
		return nil, errors.Join(fmt.Errorf("%w: %s indexes column %q, not %q", flushmanager.ErrCorrupt, path, name, columnName), file.Close())
	}

	ix := newIndex(file, header, opts.Logger)
	ix.logger.Info("index opened", zap.Stringer("column_type", ix.columnType),
		zap.Int64("root_page", int64(header.rootPage())), zap.Int64("next_empty_page", int64(header.nextEmptyPage())))
	return ix, nil
}

func newIndex(file *bufferpool.PagedFile, header headerPage, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyLen := header.columnLength()
	return &Index{
		file:         file,
		header:       header,
		logger:       logger.Named("btree").With(zap.String("path", file.Path())),
		columnType:   header.columnType(),
		keyLen:       keyLen,
		slotWidth:    keyLen + slotPointerSize,
		slotsPerPage: header.slotsPerPage(),
		open:         true,
	}
}

func validateColumn(columnType ColumnType, columnName string, columnLength int) error {
	switch {
	case !columnType.valid():
		return fmt.Errorf("%w: unknown column type %#x", flushmanager.ErrInvalidColumn, uint32(columnType))
	case columnName == "" || len(columnName) > maxColumnNameLen:
		return fmt.Errorf("%w: column name must be 1 to %d bytes", flushmanager.ErrInvalidColumn, maxColumnNameLen)
	case columnLength <= 0:
		return fmt.Errorf("%w: column length %d", flushmanager.ErrInvalidColumn, columnLength)
	case columnType != ColumnTypeString && columnLength != 8:
		return fmt.Errorf("%w: %s columns are 8 bytes, got %d", flushmanager.ErrInvalidColumn, columnType, columnLength)
	case maxSlotsPerPage(columnLength) < minSlotsPerPage:
		return fmt.Errorf("%w: %d byte keys leave fewer than %d slots per page", flushmanager.ErrInvalidColumn, columnLength, minSlotsPerPage)
	}
	return nil
}

func (ix *Index) ColumnType() ColumnType { return ix.columnType }
func (ix *Index) ColumnName() string     { return ix.header.columnName() }
func (ix *Index) KeyLength() int         { return ix.keyLen }
func (ix *Index) SlotsPerPage() int      { return ix.slotsPerPage }
func (ix *Index) Path() string           { return ix.file.Path() }
func (ix *Index) IsOpen() bool           { return ix.open }

// Splits returns the number of node splits performed since the index was opened.
func (ix *Index) Splits() uint64 { return ix.splits }

// Close flushes every page of the index and closes its file.
func (ix *Index) Close() error {
	if !ix.open {
		return flushmanager.ErrIndexNotOpen
	}
	ix.open = false
	ix.header = nil
	if err := ix.file.Close(); err != nil {
		return err
	}
	ix.logger.Info("index closed")
	return nil
}

// Flush writes dirty index pages to disk without closing the index.
func (ix *Index) Flush() error {
	if err := ix.usable(); err != nil {
		return err
	}
	return ix.file.Flush()
}

// Search looks key up and returns the record it maps to. A missing key yields
// NotFound and found == false with a nil error.
func (ix *Index) Search(key []byte) (RecordID, bool, error) {
	if err := ix.usable(); err != nil {
		return NotFound, false, err
	}
	k := normalizeKey(ix.columnType, key, ix.keyLen)

	leaf, err := ix.findLeaf(k)
	if err != nil {
		return NotFound, false, err
	}
	rid, found := NotFound, false
	if pos, ok := leaf.findPosition(k); ok {
		rid, found = leaf.record(pos), true
	}
	if err := leaf.release(); err != nil {
		return NotFound, false, err
	}
	return rid, found, nil
}

// findLeaf descends from the root to the leaf that covers key and returns it
// pinned. Only one node is pinned at a time.
func (ix *Index) findLeaf(key []byte) (*node, error) {
	n, err := ix.openNode(ix.header.rootPage())
	if err != nil {
		return nil, err
	}
	for depth := 0; !n.isLeaf(); depth++ {
		if depth >= maxTreeHeight {
			n.release()
			return nil, fmt.Errorf("%w: tree deeper than %d levels", flushmanager.ErrCorrupt, maxTreeHeight)
		}
		next := n.childFor(key)
		if err := n.release(); err != nil {
			return nil, err
		}
		if n, err = ix.openNode(next); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Insert adds key -> rid. Inserting a key that is already present fails with
// ErrKeyAlreadyExists and leaves the tree untouched.
func (ix *Index) Insert(key []byte, rid RecordID) error {
	if err := ix.usable(); err != nil {
		return err
	}
	k := normalizeKey(ix.columnType, key, ix.keyLen)

	leaf, err := ix.findLeaf(k)
	if err != nil {
		return err
	}
	pos, exists := leaf.findPosition(k)
	if exists {
		leaf.release()
		return fmt.Errorf("%w: %s", flushmanager.ErrKeyAlreadyExists, formatKey(ix.columnType, k))
	}
	if leaf.keyCount() < ix.slotsPerPage {
		leaf.insertAt(pos, entry{key: k, rid: rid})
		return errors.Join(leaf.markDirty(), leaf.release())
	}
	return ix.splitLeaf(leaf, pos, entry{key: k, rid: rid})
}

func (ix *Index) usable() error {
	if !ix.open {
		return flushmanager.ErrIndexNotOpen
	}
	if ix.damaged != nil {
		return fmt.Errorf("%w: interrupted split: %v", flushmanager.ErrCorrupt, ix.damaged)
	}
	return nil
}

// markDamaged records err as the reason the index can no longer be trusted
// and returns it.
func (ix *Index) markDamaged(err error) error {
	ix.damaged = err
	ix.logger.Error("split interrupted, index refuses further operations", zap.Error(err))
	return err
}

// allocatePage hands out the next unused page number.
func (ix *Index) allocatePage() (pagemanager.PageID, error) {
	pageNo := ix.header.nextEmptyPage()
	ix.header.setNextEmptyPage(pageNo + 1)
	if err := ix.file.MarkDirty(headerPageNo); err != nil {
		return pagemanager.InvalidPageID, err
	}
	return pageNo, nil
}
