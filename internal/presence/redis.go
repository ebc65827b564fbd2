package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// OnlineKey indexes every identity with its latest refresh (unix ms). It
	// only drives Sweep; queries read the per-identity sets.
	OnlineKey = "presence:online"
	// userKeyPrefix + user id is a sorted set of member = node, score = last
	// refresh by that node (unix ms).
	userKeyPrefix = "presence:user:"
)

func userKey(userID string) string { return userKeyPrefix + userID }

// sweepScript drops stale node entries of every identity whose index score
// is stale and unindexes the identity once no entry is left. Running it as
// one script keeps a concurrent MarkOnline from being swept away.
var sweepScript = redis.NewScript(`
local removed = 0
local stale = '(' .. ARGV[1]
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', stale)) do
	local key = ARGV[2] .. id
	redis.call('ZREMRANGEBYSCORE', key, '-inf', stale)
	if redis.call('ZCARD', key) == 0 then
		redis.call('ZREM', KEYS[1], id)
		removed = removed + 1
	end
end
return removed
`)

// RedisTracker shares presence between processes through Redis sorted sets.
type RedisTracker struct {
	rdb  redis.UniversalClient
	node string
	ttl  time.Duration
	now  func() time.Time
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker builds the tracker for one gateway process. node must be
// unique across the fleet.
func NewRedisTracker(rdb redis.UniversalClient, node string, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{rdb: rdb, node: node, ttl: ttl, now: time.Now}
}

// MarkOnline adds or refreshes this node's entry. Repeating it only moves
// the score. The per-identity set expires on its own once nobody refreshes it.
func (t *RedisTracker) MarkOnline(ctx context.Context, userID string) error {
	score := float64(t.now().UnixMilli())
	key := userKey(userID)
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: t.node})
		pipe.PExpire(ctx, key, 2*t.ttl)
		pipe.ZAdd(ctx, OnlineKey, redis.Z{Score: score, Member: userID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence mark online %s: %w", userID, err)
	}
	return nil
}

// MarkOffline removes this node's entry; entries of other nodes stay.
func (t *RedisTracker) MarkOffline(ctx context.Context, userID string) error {
	if err := t.rdb.ZRem(ctx, userKey(userID), t.node).Err(); err != nil {
		return fmt.Errorf("presence mark offline %s: %w", userID, err)
	}
	return nil
}

// QueryOnline reports every requested id; an id is online when at least one
// node refreshed it within the TTL.
func (t *RedisTracker) QueryOnline(ctx context.Context, userIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	since := strconv.FormatInt(t.now().Add(-t.ttl).UnixMilli(), 10)

	counts := make([]*redis.IntCmd, len(userIDs))
	_, err := t.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range userIDs {
			counts[i] = pipe.ZCount(ctx, userKey(id), since, "+inf")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presence query: %w", err)
	}
	for i, id := range userIDs {
		result[id] = counts[i].Val() > 0
	}
	return result, nil
}

func (t *RedisTracker) Sweep(ctx context.Context) (int64, error) {
	cutoff := t.now().Add(-t.ttl).UnixMilli()
	n, err := sweepScript.Run(ctx, t.rdb, []string{OnlineKey}, cutoff, userKeyPrefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("presence sweep: %w", err)
	}
	return n, nil
}
