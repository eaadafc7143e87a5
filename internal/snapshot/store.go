// Package snapshot persists committed blocks as chain checkpoints so a
// restarted node can resume at its last checkpointed height instead of
// starting over from genesis. It is optional infrastructure: a node with no
// configured store starts from a fresh in-memory genesis chain and still
// satisfies every consensus invariant.
package snapshot

import "context"

// Store is the key-value interface a checkpoint backend must satisfy.
type Store interface {
	// Get retrieves a value by key. A missing key returns (nil, nil).
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set sets a value for a key.
	Set(ctx context.Context, key, value []byte) error

	// Has checks if a key exists.
	Has(ctx context.Context, key []byte) (bool, error)

	// Iterate iterates over all keys with the given prefix.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// Close closes the store and releases resources.
	Close() error
}
