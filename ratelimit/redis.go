package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/net"
)

const (
	redisKeyFormat = "%s.%s"
	redisSpanName  = "redis_ratelimit"
)

// clusterLimit is the distributed backend: a sliding window counter over
// a redis sorted set keyed by prefix and scope, one member per accepted
// request timestamp. Requests within the trailing window are counted,
// older members are pruned on every check. Atomicity across gateway
// processes is delegated to redis executing each pipeline as a unit.
type clusterLimit struct {
	prefix  string
	maxHits int64
	window  time.Duration
	client  *net.RedisClient
	now     func() time.Time
}

func newClusterLimit(client *net.RedisClient, prefix string, maxHits int, window time.Duration, now func() time.Time) *clusterLimit {
	return &clusterLimit{
		prefix:  prefix,
		maxHits: int64(maxHits),
		window:  window,
		client:  client,
		now:     now,
	}
}

func (c *clusterLimit) key(scope string) string {
	return fmt.Sprintf(redisKeyFormat, c.prefix, scope)
}

// Allow checks the window cardinality and records the request when it
// passes.
//
// In case of deny it uses ZREMRANGEBYSCORE and ZCARD in one pipeline to
// prune old members and count the rest. In case of allow it additionally
// uses ZADD and EXPIRE in a second roundtrip.
func (c *clusterLimit) Allow(ctx context.Context, scope string) (bool, error) {
	span := c.startSpan(ctx, scope)
	defer span.Finish()

	key := c.key(scope)
	now := c.now()

	count, err := c.prunedCard(ctx, key, now)
	if err != nil {
		ext.Error.Set(span, true)
		return false, err
	}

	if count >= c.maxHits {
		log.Debugf("redis disallow %s: %d >= %d", key, count, c.maxHits)
		return false, nil
	}

	nowNanos := now.UnixNano()
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Member: nowNanos, Score: float64(nowNanos)})
	pipe.Expire(ctx, key, c.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		ext.Error.Set(span, true)
		return false, fmt.Errorf("failed to record hit for %s: %w", key, err)
	}

	return true, nil
}

// prunedCard drops all members older than one window and returns the
// cardinality of the rest.
func (c *clusterLimit) prunedCard(ctx context.Context, key string, now time.Time) (int64, error) {
	clearBefore := now.Add(-c.window).UnixNano()

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0.0", fmt.Sprint(float64(clearBefore)))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count hits for %s: %w", key, err)
	}

	return card.Val(), nil
}

func (c *clusterLimit) Remaining(ctx context.Context, scope string) (int, error) {
	count, err := c.prunedCard(ctx, c.key(scope), c.now())
	if err != nil {
		return 0, err
	}

	remaining := c.maxHits - count
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}

// RetryAfter reports the seconds until the oldest recorded request
// leaves the window: 0 for an empty window, otherwise at least 1 because
// cluster counts are not strongly consistent across checks and a zero
// wait would let clients hammer the boundary.
func (c *clusterLimit) RetryAfter(ctx context.Context, scope string) int {
	const minWait = 1

	oldest, err := c.oldest(ctx, c.key(scope))
	if err != nil {
		log.Errorf("Failed to get the duration until the next call is allowed: %v", err)
		return minWait
	}
	if oldest.IsZero() {
		return 0
	}

	wait := c.window - c.now().Sub(oldest)
	if secs := int(math.Ceil(wait.Seconds())); secs > minWait {
		return secs
	}
	return minWait
}

func (c *clusterLimit) oldest(ctx context.Context, key string) (time.Time, error) {
	res := c.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:    "0.0",
		Max:    fmt.Sprint(float64(c.now().UnixNano())),
		Offset: 0,
		Count:  1,
	})

	zs, err := res.Result()
	if err != nil {
		return time.Time{}, err
	}
	if len(zs) == 0 {
		return time.Time{}, nil
	}

	return time.Unix(0, int64(zs[0].Score)), nil
}

// Close does not tear down the redis client, the registry owns it.
func (*clusterLimit) Close() {}

func (c *clusterLimit) startSpan(ctx context.Context, scope string) opentracing.Span {
	spanOpts := []opentracing.StartSpanOption{opentracing.Tags{
		string(ext.Component): "edgegate",
		string(ext.DBType):    "redis",
		string(ext.SpanKind):  ext.SpanKindRPCClientEnum,
		"ratelimit_scope":     scope,
	}}
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		spanOpts = append(spanOpts, opentracing.ChildOf(parent.Context()))
	}
	return c.client.StartSpan(redisSpanName, spanOpts...)
}
