package indexmanager

import (
	"context"
	"io"

	"github.com/sushant-115/pagedb/core/indexing/btree"
)

// IndexManager is the surface the shell and embedding hosts drive. Indexes are
// addressed by table and column name.
type IndexManager interface {
	CreateIndex(ctx context.Context, table, column string, columnType btree.ColumnType, length int) error
	OpenIndex(ctx context.Context, table, column string) error
	CloseIndex(ctx context.Context, table, column string) error

	// Put maps key to rid; it fails if the key is already present.
	Put(ctx context.Context, table, column string, key []byte, rid btree.RecordID) error
	// Get returns the record for key or an error wrapping ErrKeyNotFound.
	Get(ctx context.Context, table, column string, key []byte) (btree.RecordID, error)

	ColumnType(table, column string) (btree.ColumnType, int, error)
	IndexStats(ctx context.Context, table, column string) (btree.Stats, error)
	Dump(ctx context.Context, table, column string, w io.Writer) error
	Snapshot(ctx context.Context, table, column string) (SnapshotInfo, error)
	OpenIndexes() []string

	Close() error
}

var _ IndexManager = (*BTreeIndexManager)(nil)
