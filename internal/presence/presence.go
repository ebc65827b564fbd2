// Package presence answers "is this identity connected to any gateway process".
//
// Each process vouches for its own identities: an entry is kept per
// (identity, node) and scored with the last time that node refreshed it. An
// identity is online while any of its node entries is younger than the TTL,
// so one process dropping a user never hides a connection held by another,
// and a process that dies without cleaning up leaves its users online for at
// most one TTL.
package presence

import (
	"context"
	"time"
)

// Tracker is the shared online/offline view. MarkOnline and MarkOffline act
// on the calling node's entry only.
type Tracker interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	QueryOnline(ctx context.Context, userIDs []string) (map[string]bool, error)
	// Sweep drops entries not refreshed within the TTL and returns how many
	// identities no longer have any entry.
	Sweep(ctx context.Context) (int64, error)
}

// DefaultTTL is used when a backend is built with a non-positive TTL.
const DefaultTTL = 90 * time.Second

func fresh(lastSeen, now time.Time, ttl time.Duration) bool {
	return !lastSeen.IsZero() && now.Sub(lastSeen) <= ttl
}
