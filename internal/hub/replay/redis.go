package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tangramhq/gatewayhub/internal/logging"
)

// redisStore is a Store backed by a capped Redis list per session, suitable
// for HA hub deployments where a browser may attach to any hub instance.
// Writes are fire-and-forget (LPUSH + LTRIM + EXPIRE); reads perform LRANGE.
// Error handling is lenient: write errors are logged and swallowed, read
// errors return an empty slice so an attach never blocks on a flaky cache.
type redisStore struct {
	cli          *redis.Client
	key          string
	retentionDur time.Duration
	maxLen       int64
}

// NewRedis returns a Store backed by Redis for the given session id.
// writesPerSecond is an estimate of how often terminal output is flushed; it
// determines list trimming length.
func NewRedis(cli *redis.Client, sessionID string, retention time.Duration, writesPerSecond int) Store {
	if retention < time.Second {
		retention = time.Second
	}
	if writesPerSecond <= 0 {
		writesPerSecond = 20
	}
	maxLen := int64(retention.Seconds()*float64(writesPerSecond)) + 100
	return &redisStore{
		cli:          cli,
		key:          fmt.Sprintf("gatewayhub:replay:%s", sessionID),
		retentionDur: retention,
		maxLen:       maxLen,
	}
}

// Write appends a chunk to the Redis list with expiration.
func (r *redisStore) Write(b []byte) error {
	ctx := context.Background()
	pipe := r.cli.Pipeline()
	pipe.LPush(ctx, r.key, b)
	pipe.LTrim(ctx, r.key, 0, r.maxLen)
	pipe.Expire(ctx, r.key, r.retentionDur)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Sugar().Warnw("replay redis write", "err", err, "key", r.key)
	}
	return nil
}

// ReadAll fetches all chunks from Redis newest->oldest, reverses to
// oldest->newest order, and returns deep copies.
func (r *redisStore) ReadAll() [][]byte {
	ctx := context.Background()
	vals, err := r.cli.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		logging.Sugar().Warnw("replay redis read", "err", err, "key", r.key)
		return nil
	}
	n := len(vals)
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		raw := []byte(vals[n-1-i])
		out[i] = append([]byte(nil), raw...)
	}
	return out
}
