package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrIO                = errors.New("i/o error")
	ErrPageNotFound      = errors.New("page not found in buffer pool")
	ErrKeyNotFound       = errors.New("key not found")
	ErrBufferPoolFull    = errors.New("buffer pool is full and no pages can be evicted")
	ErrKeyAlreadyExists  = errors.New("key already exists")
	ErrCorrupt           = errors.New("stored metadata is corrupt or does not match")
	ErrInternalInvariant = errors.New("internal invariant violated")
	ErrDBFileNotFound    = errors.New("database file not found")
	ErrFileClosed        = errors.New("paged file is closed")
	ErrIndexNotOpen      = errors.New("index is not open")
	ErrIndexAlreadyOpen  = errors.New("index is already open")
	ErrInvalidColumn     = errors.New("invalid index column definition")
	ErrInvalidConfig     = errors.New("invalid configuration")
)
