package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// Index file header, page 0. All integers are little endian.
const (
	headerPageNo pagemanager.PageID = 0

	maxColumnNameLen = 255 // NUL terminated in a 256 byte field

	offColumnName    = 0
	offColumnType    = 256
	offColumnLength  = 264
	offSlotsPerPage  = 272
	offNextEmptyPage = 280
	offRootPage      = 288
	headerSize       = 296
)

// headerPage is a view over the pinned header frame.
type headerPage []byte

func (h headerPage) columnName() string {
	name := h[offColumnName : offColumnName+maxColumnNameLen+1]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

func (h headerPage) setColumnName(name string) {
	field := h[offColumnName : offColumnName+maxColumnNameLen+1]
	clear(field)
	copy(field[:maxColumnNameLen], name)
}

func (h headerPage) columnType() ColumnType {
	return ColumnType(binary.LittleEndian.Uint32(h[offColumnType:]))
}

func (h headerPage) setColumnType(t ColumnType) {
	binary.LittleEndian.PutUint32(h[offColumnType:], uint32(t))
}

func (h headerPage) columnLength() int {
	return int(int64(binary.LittleEndian.Uint64(h[offColumnLength:])))
}

func (h headerPage) setColumnLength(n int) {
	binary.LittleEndian.PutUint64(h[offColumnLength:], uint64(int64(n)))
}

func (h headerPage) slotsPerPage() int {
	return int(int64(binary.LittleEndian.Uint64(h[offSlotsPerPage:])))
}

func (h headerPage) setSlotsPerPage(n int) {
	binary.LittleEndian.PutUint64(h[offSlotsPerPage:], uint64(int64(n)))
}

func (h headerPage) nextEmptyPage() pagemanager.PageID {
	return pagemanager.PageID(binary.LittleEndian.Uint64(h[offNextEmptyPage:]))
}

func (h headerPage) setNextEmptyPage(id pagemanager.PageID) {
	binary.LittleEndian.PutUint64(h[offNextEmptyPage:], uint64(id))
}

func (h headerPage) rootPage() pagemanager.PageID {
	return pagemanager.PageID(binary.LittleEndian.Uint64(h[offRootPage:]))
}

func (h headerPage) setRootPage(id pagemanager.PageID) {
	binary.LittleEndian.PutUint64(h[offRootPage:], uint64(id))
}

// maxSlotsPerPage is the number of slots of keyLen bytes that fit in a node.
func maxSlotsPerPage(keyLen int) int {
	return (pagemanager.PageSize - nodeHeaderSize) / (keyLen + slotPointerSize)
}

// validate checks that a header read from disk describes a usable index.
func (h headerPage) validate() error {
	if !h.columnType().valid() {
		return fmt.Errorf("%w: unknown column type %#x", flushmanager.ErrCorrupt, uint32(h.columnType()))
	}
	keyLen := h.columnLength()
	if keyLen <= 0 || keyLen > pagemanager.PageSize {
		return fmt.Errorf("%w: column length %d", flushmanager.ErrCorrupt, keyLen)
	}
	if slots := h.slotsPerPage(); slots < minSlotsPerPage || slots > maxSlotsPerPage(keyLen) {
		return fmt.Errorf("%w: %d slots per page for %d byte keys", flushmanager.ErrCorrupt, slots, keyLen)
	}
	next, root := h.nextEmptyPage(), h.rootPage()
	if root <= headerPageNo || next <= root {
		return fmt.Errorf("%w: root page %d, next empty page %d", flushmanager.ErrCorrupt, root, next)
	}
	return nil
}
