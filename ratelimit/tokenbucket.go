package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// tokenBucket is the single-process backend: a bucket refilled
// continuously at maxHits per window with a burst of maxHits. Checks are
// CPU only and never suspend.
type tokenBucket struct {
	limiter *rate.Limiter
	window  time.Duration
	now     func() time.Time
}

func newTokenBucket(maxHits int, window time.Duration, now func() time.Time) *tokenBucket {
	return &tokenBucket{
		limiter: rate.NewLimiter(rate.Limit(float64(maxHits)/window.Seconds()), maxHits),
		window:  window,
		now:     now,
	}
}

func (b *tokenBucket) Allow(context.Context, string) (bool, error) {
	return b.limiter.AllowN(b.now(), 1), nil
}

func (b *tokenBucket) Remaining(context.Context, string) (int, error) {
	tokens := b.limiter.TokensAt(b.now())
	if tokens < 0 {
		tokens = 0
	}
	return int(tokens), nil
}

func (b *tokenBucket) RetryAfter(context.Context, string) int {
	tokens := b.limiter.TokensAt(b.now())
	if tokens >= 1 {
		return 0
	}

	wait := (1 - tokens) / float64(b.limiter.Limit())
	if wait < 1 {
		return 1
	}
	return int(math.Ceil(wait))
}

func (*tokenBucket) Close() {}
