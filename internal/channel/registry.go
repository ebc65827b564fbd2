// Package channel keeps the process-local mapping between named channels and
// the live connections subscribed to them.
package channel

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Member is a connection that can receive broadcast frames.
// Send must not block: implementations queue the frame or fail fast.
type Member interface {
	ID() string
	Send(event string, payload any) error
}

// Canonical channel names.
func UserChannel(userID string) string         { return "user:" + userID }
func ConversationChannel(convID string) string { return "conv:" + convID }
func CRMChannel(sellerID string) string        { return "crm:" + sellerID }

// Registry is safe for concurrent use. Joins and leaves are indexed both ways
// so a disconnect can drop every membership without scanning all channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]Member // channel -> member id -> member
	byMember map[string]map[string]struct{}
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		channels: make(map[string]map[string]Member),
		byMember: make(map[string]map[string]struct{}),
		logger:   logger,
	}
}

// Join subscribes m to channel. Joining twice is a no-op.
func (r *Registry) Join(m Member, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]Member)
		r.channels[channel] = members
	}
	members[m.ID()] = m

	joined, ok := r.byMember[m.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.byMember[m.ID()] = joined
	}
	joined[channel] = struct{}{}
}

// Leave unsubscribes m from channel. Leaving a channel m is not in is a no-op.
func (r *Registry) Leave(m Member, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(m.ID(), channel)
}

// LeaveAll drops every membership of m and returns the channels it was in.
func (r *Registry) LeaveAll(m Member) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.byMember[m.ID()]
	left := make([]string, 0, len(joined))
	for ch := range joined {
		left = append(left, ch)
	}
	for _, ch := range left {
		r.leaveLocked(m.ID(), ch)
	}
	sort.Strings(left)
	return left
}

func (r *Registry) leaveLocked(memberID, channel string) {
	if members, ok := r.channels[channel]; ok {
		delete(members, memberID)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
	if joined, ok := r.byMember[memberID]; ok {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(r.byMember, memberID)
		}
	}
}

// Broadcast delivers event to every local member of channel and returns the
// number of members that accepted it. A member whose Send fails is logged and
// skipped; closing it is the owner's job.
func (r *Registry) Broadcast(channel, event string, payload any) int {
	r.mu.RLock()
	members := make([]Member, 0, len(r.channels[channel]))
	for _, m := range r.channels[channel] {
		members = append(members, m)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range members {
		if err := m.Send(event, payload); err != nil {
			r.logger.Warn("broadcast delivery failed",
				zap.String("channel", channel),
				zap.String("event", event),
				zap.String("member_id", m.ID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns the ids of the local members of channel, sorted.
func (r *Registry) Members(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels[channel]))
	for id := range r.channels[channel] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Channels returns the channels m is subscribed to, sorted.
func (r *Registry) Channels(m Member) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chans := make([]string, 0, len(r.byMember[m.ID()]))
	for ch := range r.byMember[m.ID()] {
		chans = append(chans, ch)
	}
	sort.Strings(chans)
	return chans
}

// Size returns the number of channels with at least one local member.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
