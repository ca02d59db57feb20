package session

import (
	"context"
	"time"
)

// Store is the persistence boundary for sessions: a key-value store with
// TTL-based reaping. Implementations must be safe for concurrent use and must
// return deep copies from Get so callers never share map state.
type Store interface {
	// Put inserts or replaces the session.
	Put(ctx context.Context, s *Session) error

	// Get returns the session with the given ID, or [ErrNotFound].
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error

	// Sweep deletes every session whose last activity is before olderThan and
	// returns the number of sessions removed.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
