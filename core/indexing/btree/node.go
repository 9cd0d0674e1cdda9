package btree

import (
	"encoding/binary"
	"fmt"

	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// Node page layout: flag (u32 + 4 bytes padding), rightmost child (i64),
// key count (i64), then the slot array. A slot is the key followed by a page
// number and a slot number, both i64.
const (
	nodeHeaderSize  = 24
	slotPointerSize = 16

	offNodeFlag      = 0
	offNodeRightmost = 8
	offNodeKeyCount  = 16
)

type nodeKind uint32

const (
	leafNode     nodeKind = 1
	internalNode nodeKind = 2
)

func (k nodeKind) String() string {
	switch k {
	case leafNode:
		return "leaf"
	case internalNode:
		return "internal"
	default:
		return fmt.Sprintf("nodeKind(%d)", uint32(k))
	}
}

// node is a view over one pinned node page. It must be released exactly once.
type node struct {
	ix     *Index
	pageNo pagemanager.PageID
	buf    []byte
}

// openNode pins pageNo and checks its header.
func (ix *Index) openNode(pageNo pagemanager.PageID) (*node, error) {
	if pageNo <= headerPageNo || pageNo >= ix.header.nextEmptyPage() {
		return nil, fmt.Errorf("%w: node page %d outside allocated range [1, %d)", flushmanager.ErrCorrupt, pageNo, ix.header.nextEmptyPage())
	}
	buf, err := ix.file.GetPage(pageNo)
	if err != nil {
		return nil, err
	}
	n := &node{ix: ix, pageNo: pageNo, buf: buf}
	if k := n.kind(); k != leafNode && k != internalNode {
		n.release()
		return nil, fmt.Errorf("%w: page %d has node flag %d", flushmanager.ErrCorrupt, pageNo, uint32(k))
	}
	if c := n.keyCount(); c < 0 || c > ix.slotsPerPage {
		n.release()
		return nil, fmt.Errorf("%w: page %d holds %d keys, capacity %d", flushmanager.ErrCorrupt, pageNo, c, ix.slotsPerPage)
	}
	return n, nil
}

// createEmptyNode pins pageNo, writes a zeroed header of the given kind and
// marks the page dirty. This is the only place node pages are initialized.
func (ix *Index) createEmptyNode(kind nodeKind, pageNo pagemanager.PageID) (*node, error) {
	buf, err := ix.file.GetPage(pageNo)
	if err != nil {
		return nil, err
	}
	n := &node{ix: ix, pageNo: pageNo, buf: buf}
	clear(buf[:nodeHeaderSize])
	n.setKind(kind)
	if err := n.markDirty(); err != nil {
		n.release()
		return nil, err
	}
	return n, nil
}

func (n *node) release() error {
	return n.ix.file.UnpinPage(n.pageNo)
}

func (n *node) markDirty() error {
	return n.ix.file.MarkDirty(n.pageNo)
}

func (n *node) kind() nodeKind {
	return nodeKind(binary.LittleEndian.Uint32(n.buf[offNodeFlag:]))
}

func (n *node) setKind(k nodeKind) {
	binary.LittleEndian.PutUint32(n.buf[offNodeFlag:], uint32(k))
}

func (n *node) isLeaf() bool { return n.kind() == leafNode }

func (n *node) rightmost() pagemanager.PageID {
	return pagemanager.PageID(binary.LittleEndian.Uint64(n.buf[offNodeRightmost:]))
}

func (n *node) setRightmost(id pagemanager.PageID) {
	binary.LittleEndian.PutUint64(n.buf[offNodeRightmost:], uint64(id))
}

func (n *node) keyCount() int {
	return int(int64(binary.LittleEndian.Uint64(n.buf[offNodeKeyCount:])))
}

func (n *node) setKeyCount(c int) {
	binary.LittleEndian.PutUint64(n.buf[offNodeKeyCount:], uint64(int64(c)))
}

func (n *node) slotOffset(i int) int {
	return nodeHeaderSize + i*n.ix.slotWidth
}

// key returns the key of slot i. The slice aliases the page.
func (n *node) key(i int) []byte {
	off := n.slotOffset(i)
	return n.buf[off : off+n.ix.keyLen]
}

// child returns the page number of slot i. For leaves it is the heap page.
func (n *node) child(i int) pagemanager.PageID {
	off := n.slotOffset(i) + n.ix.keyLen
	return pagemanager.PageID(binary.LittleEndian.Uint64(n.buf[off:]))
}

func (n *node) setChild(i int, id pagemanager.PageID) {
	off := n.slotOffset(i) + n.ix.keyLen
	binary.LittleEndian.PutUint64(n.buf[off:], uint64(id))
}

func (n *node) record(i int) RecordID {
	off := n.slotOffset(i) + n.ix.keyLen
	return RecordID{
		PageNo: int64(binary.LittleEndian.Uint64(n.buf[off:])),
		SlotNo: int64(binary.LittleEndian.Uint64(n.buf[off+8:])),
	}
}

// slot returns a copy of slot i.
func (n *node) slot(i int) entry {
	return entry{key: append([]byte(nil), n.key(i)...), rid: n.record(i)}
}

func (n *node) setSlot(i int, e entry) {
	off := n.slotOffset(i)
	copy(n.buf[off:off+n.ix.keyLen], e.key)
	off += n.ix.keyLen
	binary.LittleEndian.PutUint64(n.buf[off:], uint64(e.rid.PageNo))
	binary.LittleEndian.PutUint64(n.buf[off+8:], uint64(e.rid.SlotNo))
}

// findPosition returns the first slot whose key is >= key, and whether that
// slot holds key itself.
func (n *node) findPosition(key []byte) (int, bool) {
	count := n.keyCount()
	for i := 0; i < count; i++ {
		if c := compareKeys(key, n.key(i)); c <= 0 {
			return i, c == 0
		}
	}
	return count, false
}

// childFor returns the child to descend into for key. Ties route left.
func (n *node) childFor(key []byte) pagemanager.PageID {
	pos, _ := n.findPosition(key)
	if pos < n.keyCount() {
		return n.child(pos)
	}
	return n.rightmost()
}

// insertAt shifts slots [pos, count) right by one and writes e at pos. The
// caller guarantees spare capacity.
func (n *node) insertAt(pos int, e entry) {
	count := n.keyCount()
	start, end := n.slotOffset(pos), n.slotOffset(count)
	copy(n.buf[start+n.ix.slotWidth:end+n.ix.slotWidth], n.buf[start:end])
	n.setSlot(pos, e)
	n.setKeyCount(count + 1)
}

// entries copies every slot out of the node.
func (n *node) entries() []entry {
	out := make([]entry, n.keyCount())
	for i := range out {
		out[i] = n.slot(i)
	}
	return out
}

// setEntries overwrites the slot array with es.
func (n *node) setEntries(es []entry) {
	for i, e := range es {
		n.setSlot(i, e)
	}
	n.setKeyCount(len(es))
}
