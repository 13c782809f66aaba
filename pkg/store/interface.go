package store

import (
	"errors"
	"time"
)

// Record is one row of a collection: a stable key plus string-valued
// fields. Everything crosses this boundary as plain strings (dates as
// YYYY-MM-DD, amounts with two decimals) so no backend can silently
// coerce types.
type Record struct {
	Key    string
	Fields map[string]string
}

// Store is the tabular record store the ledger and netting engines run
// on. ListRecords returns rows in insertion order. EnsureCollection is
// additive: it may introduce missing fields but never drops or renames
// existing ones.
type Store interface {
	EnsureCollection(collection string, requiredFields []string) error
	ListRecords(collection string) ([]Record, error)
	UpsertRecord(collection, key string, fields map[string]string) error
	DeleteRecord(collection, key string) error

	// Flush is a read-after-write barrier: it must not return until
	// prior writes are visible to ListRecords. Backends that write
	// synchronously implement it as a no-op.
	Flush() error
	Close() error
}

// ErrLockTimeout is returned when an advisory lock cannot be acquired
// within its wait bound. Callers may retry.
var ErrLockTimeout = errors.New("lock wait timed out")

// Locker serializes mutations that target the same collection, guarding
// against lost updates between concurrent read-modify-write cycles.
type Locker interface {
	// Acquire blocks up to timeout for the collection's advisory lock
	// and returns its release function. Release must be called on every
	// exit path; calling it more than once is safe.
	Acquire(collection string, timeout time.Duration) (func(), error)
}
