package store

import "errors"

// ErrLocked is returned by Open when another process holds the database.
var ErrLocked = errors.New("database is in use by another process")

// Store is a bucketed key-value store. Keys within a bucket iterate in byte
// order, which Append relies on to keep entries in insertion order.
type Store interface {
	Get(bucket, key []byte) ([]byte, error)
	Set(bucket, key, value []byte) error
	Delete(bucket, key []byte) error
	ForEach(bucket []byte, fn func(key, value []byte) error) error

	// Append stores value under the bucket's next sequence number, encoded
	// as an 8-byte big-endian key, and returns that number.
	Append(bucket, value []byte) (uint64, error)
	// Count returns the number of keys in bucket.
	Count(bucket []byte) (int, error)
	// Prune deletes the oldest keys until at most keep remain and returns
	// how many were removed.
	Prune(bucket []byte, keep int) (int, error)
	// Clear drops every key in bucket.
	Clear(bucket []byte) error

	Close() error
}
