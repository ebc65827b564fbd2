package gateway

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/ricirt/marketplace-realtime/internal/presence"
)

const sessionStripes = 64

// sessions counts live local connections per identity so this node's
// presence entry is only cleared when the last one closes.
//
// Tracker calls for one identity run under that identity's stripe lock, in
// the same order as the count changes they follow. A MarkOffline from the
// last close therefore always lands before the MarkOnline of a reconnect.
type sessions struct {
	mu      sync.Mutex
	counts  map[string]int
	stripes [sessionStripes]sync.Mutex
	tracker presence.Tracker
}

func newSessions(tracker presence.Tracker) *sessions {
	return &sessions{counts: make(map[string]int), tracker: tracker}
}

func (s *sessions) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.stripes[h.Sum32()%sessionStripes]
}

// acquire always refreshes the entry, so a reconnect after a sweep restores
// presence even when other local connections never dropped.
func (s *sessions) acquire(ctx context.Context, userID string) error {
	lock := s.stripe(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.counts[userID]++
	s.mu.Unlock()
	return s.tracker.MarkOnline(ctx, userID)
}

func (s *sessions) release(ctx context.Context, userID string) error {
	lock := s.stripe(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.counts[userID]--
	last := s.counts[userID] <= 0
	if last {
		delete(s.counts, userID)
	}
	s.mu.Unlock()

	if !last {
		return nil
	}
	return s.tracker.MarkOffline(ctx, userID)
}

// refresh re-marks userID only while it still has a local connection, so a
// heartbeat racing the last close cannot resurrect the entry.
func (s *sessions) refresh(ctx context.Context, userID string) error {
	lock := s.stripe(userID)
	lock.Lock()
	defer lock.Unlock()

	if s.count(userID) == 0 {
		return nil
	}
	return s.tracker.MarkOnline(ctx, userID)
}

func (s *sessions) identities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.counts))
	for id := range s.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *sessions) count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID]
}
