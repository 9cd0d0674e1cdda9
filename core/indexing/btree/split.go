package btree

import (
	"errors"
	"fmt"

	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// insertEntry returns es with e inserted at pos.
func insertEntry(es []entry, pos int, e entry) []entry {
	es = append(es, entry{})
	copy(es[pos+1:], es[pos:])
	es[pos] = e
	return es
}

func childEntry(key []byte, child pagemanager.PageID) entry {
	return entry{key: key, rid: RecordID{PageNo: int64(child)}}
}

// splitLeaf splits a full, pinned leaf while inserting e at pos. The left
// half keeps total/2 entries; the rest moves to a newly allocated leaf. The
// leaf is released before the separator is pushed up.
func (ix *Index) splitLeaf(leaf *node, pos int, e entry) error {
	merged := insertEntry(leaf.entries(), pos, e)

	rightPage, err := ix.allocatePage()
	if err != nil {
		leaf.release()
		return err
	}
	right, err := ix.createEmptyNode(leafNode, rightPage)
	if err != nil {
		leaf.release()
		return err
	}

	leftCount := len(merged) / 2
	leaf.setEntries(merged[:leftCount])
	right.setEntries(merged[leftCount:])
	leftPage, separator := leaf.pageNo, merged[leftCount-1].key
	ix.splits++

	if err := errors.Join(leaf.markDirty(), right.markDirty(), leaf.release(), right.release()); err != nil {
		return ix.markDamaged(err)
	}
	ix.logger.Debug("leaf split", zap.Int64("left_page", int64(leftPage)), zap.Int64("right_page", int64(rightPage)),
		zap.Int("left_keys", leftCount), zap.Int("right_keys", len(merged)-leftCount))
	return ix.finishSplit(leftPage, rightPage, separator, e.key)
}

// finishSplit links a freshly split pair into the tree. The left page has
// already lost its upper half, so any failure here leaves the index damaged.
func (ix *Index) finishSplit(left, right pagemanager.PageID, separator, searchKey []byte) error {
	if err := ix.promote(left, right, separator, searchKey); err != nil {
		return ix.markDamaged(err)
	}
	return nil
}

// promote records that left (whose keys are all <= separator) was split off
// right. searchKey is the key being inserted; it routes to both pages.
func (ix *Index) promote(left, right pagemanager.PageID, separator, searchKey []byte) error {
	if left == ix.header.rootPage() {
		return ix.growRoot(left, right, separator)
	}
	parent, err := ix.findParent(left, searchKey)
	if err != nil {
		return err
	}
	return ix.insertIntoParent(parent, left, right, separator, searchKey)
}

// growRoot makes a new internal root over left and right.
func (ix *Index) growRoot(left, right pagemanager.PageID, separator []byte) error {
	rootPage, err := ix.allocatePage()
	if err != nil {
		return err
	}
	root, err := ix.createEmptyNode(internalNode, rootPage)
	if err != nil {
		return err
	}
	root.setSlot(0, childEntry(separator, left))
	root.setKeyCount(1)
	root.setRightmost(right)

	ix.header.setRootPage(rootPage)
	if err := errors.Join(ix.file.MarkDirty(headerPageNo), root.markDirty(), root.release()); err != nil {
		return err
	}
	ix.logger.Debug("new root", zap.Int64("root_page", int64(rootPage)), zap.String("separator", formatKey(ix.columnType, separator)))
	return nil
}

// findParent re-descends from the root along searchKey and returns the
// pinned internal node that points at child. There are no parent pointers,
// so this costs one walk of the tree height per split.
func (ix *Index) findParent(child pagemanager.PageID, searchKey []byte) (*node, error) {
	n, err := ix.openNode(ix.header.rootPage())
	if err != nil {
		return nil, err
	}
	for depth := 0; ; depth++ {
		if n.isLeaf() || depth >= maxTreeHeight {
			n.release()
			return nil, fmt.Errorf("%w: no parent of page %d on the path of the inserted key", flushmanager.ErrInternalInvariant, child)
		}
		next := n.childFor(searchKey)
		if next == child {
			return n, nil
		}
		if err := n.release(); err != nil {
			return nil, err
		}
		if n, err = ix.openNode(next); err != nil {
			return nil, err
		}
	}
}

// insertIntoParent adds separator -> left to the pinned parent and points the
// slot that used to lead to left at right instead. A full parent is split
// and its middle key promoted further up.
func (ix *Index) insertIntoParent(parent *node, left, right pagemanager.PageID, separator, searchKey []byte) error {
	pos, exists := parent.findPosition(separator)
	if exists {
		parent.release()
		return fmt.Errorf("%w: separator %s already present in page %d",
			flushmanager.ErrInternalInvariant, formatKey(ix.columnType, separator), parent.pageNo)
	}
	count := parent.keyCount()

	if count < ix.slotsPerPage {
		if pos == count {
			parent.setRightmost(right)
		}
		parent.insertAt(pos, childEntry(separator, left))
		if pos < count {
			parent.setChild(pos+1, right)
		}
		return errors.Join(parent.markDirty(), parent.release())
	}

	siblingPage, err := ix.allocatePage()
	if err != nil {
		parent.release()
		return err
	}
	sibling, err := ix.createEmptyNode(internalNode, siblingPage)
	if err != nil {
		parent.release()
		return err
	}
	if pos == count {
		sibling.setRightmost(right)
	} else {
		sibling.setRightmost(parent.rightmost())
	}

	merged := insertEntry(parent.entries(), pos, childEntry(separator, left))
	if pos < count {
		merged[pos+1].rid = RecordID{PageNo: int64(right)}
	}
	leftCount := len(merged) / 2
	parent.setEntries(merged[:leftCount])
	sibling.setEntries(merged[leftCount:])

	// The last key on the left moves up; its child becomes the rightmost pointer.
	promoted := merged[leftCount-1]
	parent.setRightmost(pagemanager.PageID(promoted.rid.PageNo))
	parent.setKeyCount(leftCount - 1)
	parentPage := parent.pageNo
	ix.splits++

	if err := errors.Join(parent.markDirty(), sibling.markDirty(), parent.release(), sibling.release()); err != nil {
		return err
	}
	ix.logger.Debug("internal split", zap.Int64("left_page", int64(parentPage)), zap.Int64("right_page", int64(siblingPage)),
		zap.String("promoted", formatKey(ix.columnType, promoted.key)))
	return ix.promote(parentPage, siblingPage, promoted.key, searchKey)
}
