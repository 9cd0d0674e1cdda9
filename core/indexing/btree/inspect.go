package btree

import (
	"fmt"
	"io"
	"strings"

	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// Stats describes the shape of an index.
type Stats struct {
	ColumnName    string
	ColumnType    ColumnType
	KeyLength     int
	SlotsPerPage  int
	RootPage      int64
	NextEmptyPage int64
	Height        int
	LeafPages     int
	InternalPages int
	Keys          int
	Splits        uint64
}

// nodeInfo is a detached copy of one node, so walks never hold more than one
// page pinned.
type nodeInfo struct {
	pageNo    pagemanager.PageID
	kind      nodeKind
	depth     int
	entries   []entry
	rightmost pagemanager.PageID
}

func (ni nodeInfo) children() []pagemanager.PageID {
	out := make([]pagemanager.PageID, 0, len(ni.entries)+1)
	for _, e := range ni.entries {
		out = append(out, pagemanager.PageID(e.rid.PageNo))
	}
	return append(out, ni.rightmost)
}

func (ix *Index) readNode(pageNo pagemanager.PageID, depth int) (nodeInfo, error) {
	if depth > maxTreeHeight {
		return nodeInfo{}, fmt.Errorf("%w: tree deeper than %d levels", flushmanager.ErrCorrupt, maxTreeHeight)
	}
	n, err := ix.openNode(pageNo)
	if err != nil {
		return nodeInfo{}, err
	}
	info := nodeInfo{
		pageNo:    pageNo,
		kind:      n.kind(),
		depth:     depth,
		entries:   n.entries(),
		rightmost: n.rightmost(),
	}
	return info, n.release()
}

// visit walks the subtree at pageNo depth first, children in key order.
func (ix *Index) visit(pageNo pagemanager.PageID, depth int, fn func(nodeInfo) error) error {
	info, err := ix.readNode(pageNo, depth)
	if err != nil {
		return err
	}
	if err := fn(info); err != nil {
		return err
	}
	if info.kind == leafNode {
		return nil
	}
	for _, child := range info.children() {
		if err := ix.visit(child, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Walk calls fn for every entry in ascending key order. The key passed to fn
// is a copy.
func (ix *Index) Walk(fn func(key []byte, rid RecordID) error) error {
	if !ix.open {
		return flushmanager.ErrIndexNotOpen
	}
	return ix.visit(ix.header.rootPage(), 1, func(info nodeInfo) error {
		if info.kind != leafNode {
			return nil
		}
		for _, e := range info.entries {
			if err := fn(e.key, e.rid); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ix *Index) Stats() (Stats, error) {
	if !ix.open {
		return Stats{}, flushmanager.ErrIndexNotOpen
	}
	stats := Stats{
		ColumnName:    ix.header.columnName(),
		ColumnType:    ix.columnType,
		KeyLength:     ix.keyLen,
		SlotsPerPage:  ix.slotsPerPage,
		RootPage:      int64(ix.header.rootPage()),
		NextEmptyPage: int64(ix.header.nextEmptyPage()),
		Splits:        ix.splits,
	}
	err := ix.visit(ix.header.rootPage(), 1, func(info nodeInfo) error {
		stats.Height = max(stats.Height, info.depth)
		if info.kind == leafNode {
			stats.LeafPages++
			stats.Keys += len(info.entries)
		} else {
			stats.InternalPages++
		}
		return nil
	})
	return stats, err
}

// CheckInvariants verifies key order inside every node, that every key below
// a slot's child is <= the slot key, that every key below the rightmost child
// is greater than all slot keys, and that all leaves sit at the same depth.
func (ix *Index) CheckInvariants() error {
	if !ix.open {
		return flushmanager.ErrIndexNotOpen
	}
	leafDepth := 0
	return ix.check(ix.header.rootPage(), 1, nil, nil, &leafDepth)
}

// check validates the subtree at pageNo whose keys must lie in (lo, hi]. A
// nil bound is open.
func (ix *Index) check(pageNo pagemanager.PageID, depth int, lo, hi []byte, leafDepth *int) error {
	info, err := ix.readNode(pageNo, depth)
	if err != nil {
		return err
	}
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: page %d: %s", flushmanager.ErrCorrupt, pageNo, fmt.Sprintf(format, args...))
	}
	for i, e := range info.entries {
		if i > 0 && compareKeys(info.entries[i-1].key, e.key) >= 0 {
			return corrupt("slot %d is not greater than slot %d", i, i-1)
		}
		if lo != nil && compareKeys(e.key, lo) <= 0 {
			return corrupt("key %s is not above the lower bound %s", formatKey(ix.columnType, e.key), formatKey(ix.columnType, lo))
		}
		if hi != nil && compareKeys(e.key, hi) > 0 {
			return corrupt("key %s exceeds the upper bound %s", formatKey(ix.columnType, e.key), formatKey(ix.columnType, hi))
		}
	}

	if info.kind == leafNode {
		if len(info.entries) == 0 && depth > 1 {
			return corrupt("empty non-root leaf")
		}
		if *leafDepth == 0 {
			*leafDepth = depth
		} else if *leafDepth != depth {
			return corrupt("leaf at depth %d, expected %d", depth, *leafDepth)
		}
		return nil
	}

	if depth == 1 && len(info.entries) == 0 {
		return corrupt("internal root without keys")
	}
	childLo := lo
	for _, e := range info.entries {
		if err := ix.check(pagemanager.PageID(e.rid.PageNo), depth+1, childLo, e.key, leafDepth); err != nil {
			return err
		}
		childLo = e.key
	}
	return ix.check(info.rightmost, depth+1, childLo, hi, leafDepth)
}

// Dump writes an indented rendering of the tree to w.
func (ix *Index) Dump(w io.Writer) error {
	if !ix.open {
		return flushmanager.ErrIndexNotOpen
	}
	return ix.visit(ix.header.rootPage(), 1, func(info nodeInfo) error {
		indent := strings.Repeat("  ", info.depth-1)
		keys := make([]string, len(info.entries))
		for i, e := range info.entries {
			if info.kind == leafNode {
				keys[i] = formatKey(ix.columnType, e.key) + "->" + e.rid.String()
			} else {
				keys[i] = fmt.Sprintf("%s->%d", formatKey(ix.columnType, e.key), e.rid.PageNo)
			}
		}
		line := fmt.Sprintf("%spage %d %s [%s]", indent, info.pageNo, info.kind, strings.Join(keys, " "))
		if info.kind == internalNode {
			line += fmt.Sprintf(" rightmost=%d", info.rightmost)
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
}
