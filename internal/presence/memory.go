package presence

import (
	"context"
	"sync"
	"time"
)

type memoryState struct {
	mu       sync.Mutex
	lastSeen map[string]map[string]time.Time // user -> node -> last refresh
}

// MemoryTracker keeps presence in-process. It backs tests and single-process
// deployments; ForNode gives simulated processes their own view of one
// shared state.
type MemoryTracker struct {
	state *memoryState
	node  string
	ttl   time.Duration
	now   func() time.Time
}

var _ Tracker = (*MemoryTracker)(nil)

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryTracker{
		state: &memoryState{lastSeen: make(map[string]map[string]time.Time)},
		ttl:   ttl,
		now:   time.Now,
	}
}

// ForNode returns a tracker sharing t's state that marks entries for node.
func (t *MemoryTracker) ForNode(node string) *MemoryTracker {
	view := *t
	view.node = node
	return &view
}

// WithClock swaps the time source; used by tests to age entries.
func (t *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	t.now = now
	return t
}

func (t *MemoryTracker) MarkOnline(_ context.Context, userID string) error {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	nodes := t.state.lastSeen[userID]
	if nodes == nil {
		nodes = make(map[string]time.Time)
		t.state.lastSeen[userID] = nodes
	}
	nodes[t.node] = t.now()
	return nil
}

func (t *MemoryTracker) MarkOffline(_ context.Context, userID string) error {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	nodes := t.state.lastSeen[userID]
	delete(nodes, t.node)
	if len(nodes) == 0 {
		delete(t.state.lastSeen, userID)
	}
	return nil
}

func (t *MemoryTracker) QueryOnline(_ context.Context, userIDs []string) (map[string]bool, error) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	now := t.now()
	result := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		result[id] = false
		for _, seen := range t.state.lastSeen[id] {
			if fresh(seen, now, t.ttl) {
				result[id] = true
				break
			}
		}
	}
	return result, nil
}

func (t *MemoryTracker) Sweep(_ context.Context) (int64, error) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	now := t.now()
	var removed int64
	for id, nodes := range t.state.lastSeen {
		for node, seen := range nodes {
			if !fresh(seen, now, t.ttl) {
				delete(nodes, node)
			}
		}
		if len(nodes) == 0 {
			delete(t.state.lastSeen, id)
			removed++
		}
	}
	return removed, nil
}
