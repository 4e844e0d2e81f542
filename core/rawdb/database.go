// Package rawdb persists simulation results: per-step reports, the final
// account set and run metadata, over a minimal key/value interface with an
// in-memory and a LevelDB backend.
package rawdb

import "errors"

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("not found")

// KeyValueReader wraps the Has and Get methods of a backing data store.
type KeyValueReader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put and Delete methods of a backing data store.
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// KeyValueStore combines read and write access to a backing data store.
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	Close() error
}

// Iterator walks key/value pairs in ascending key order. Key and Value are
// only valid until the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Batch is a write-only set of changes committed atomically by Write.
type Batch interface {
	KeyValueWriter
	ValueSize() int
	Write() error
	Reset()
}

// Database is the full store interface the report writer needs.
type Database interface {
	KeyValueStore
	NewBatch() Batch
	NewIterator(prefix []byte) Iterator
}
