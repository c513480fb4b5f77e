package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExists is returned by Create when the key already holds a record.
	// It signals contention, not a transport failure.
	ErrExists = errors.New("store: record already exists")
	// ErrNotFound is returned by Refresh when the record vanished, either
	// through TTL expiry or an out-of-band delete.
	ErrNotFound = errors.New("store: record not found")
	// ErrNotOwner is returned by Refresh when the record is no longer owned
	// by the given holder.
	ErrNotOwner = errors.New("store: record owned by another holder")
	// ErrUnavailable is returned by Connect when no discovered endpoint
	// accepts a connection.
	ErrUnavailable = errors.New("store: no reachable endpoint")
)

// Record is the persisted representation of a held lock. TTL is the
// remaining lifetime as reported by the store; it is read-only from the
// client's point of view.
type Record struct {
	Key    string
	Holder string
	TTL    time.Duration
}

// Store is the single-key protocol the lock manager speaks to the
// coordination store. Each call is one round trip.
type Store interface {
	// Read returns the record under key, or ok=false when absent.
	// Absence is not an error.
	Read(ctx context.Context, key string) (Record, bool, error)
	// Create atomically writes a record if and only if key is absent.
	// Returns ErrExists when another holder won the race.
	Create(ctx context.Context, key, holder string, ttl time.Duration) error
	// Refresh extends the TTL of an existing record in place. Returns
	// ErrNotFound if the record vanished and ErrNotOwner if it is no
	// longer owned by holder.
	Refresh(ctx context.Context, key, holder string, ttl time.Duration) error
	// Delete removes the record if it is still owned by holder. Deleting
	// an absent or foreign record is a no-op.
	Delete(ctx context.Context, key, holder string) error
}
