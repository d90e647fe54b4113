// Package net provides the shared redis ring client used by the
// distributed rate limiter.
package net

import (
	"context"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
	"github.com/opentracing/opentracing-go"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/metrics"
)

// RedisOptions is used to configure the redis.Ring
type RedisOptions struct {
	// Addrs are the list of redis shards
	Addrs []string

	// ReadTimeout for redis socket reads
	ReadTimeout time.Duration
	// WriteTimeout for redis socket writes
	WriteTimeout time.Duration
	// DialTimeout is the max time.Duration to dial a new connection
	DialTimeout time.Duration

	// PoolTimeout is the max time.Duration to get a connection from pool
	PoolTimeout time.Duration
	// MinIdleConns is the minimum number of socket connections to redis
	MinIdleConns int
	// MaxIdleConns is the maximum number of socket connections to redis
	MaxIdleConns int

	// ConnMetricsInterval defines the frequency of updating the redis
	// connection related metrics. Defaults to 60 seconds.
	ConnMetricsInterval time.Duration

	// Tracer provides OpenTracing for Redis queries.
	Tracer opentracing.Tracer
}

// RedisClient is a ring client to redis
type RedisClient struct {
	ring    *redis.Ring
	options *RedisOptions
	tracer  opentracing.Tracer
	quit    chan struct{}
}

const (
	DefaultReadTimeout  = 25 * time.Millisecond
	DefaultWriteTimeout = 25 * time.Millisecond
	DefaultPoolTimeout  = 25 * time.Millisecond
	DefaultDialTimeout  = 25 * time.Millisecond
	DefaultMinConns     = 100
	DefaultMaxConns     = 100

	defaultConnMetricsInterval = 60 * time.Second
)

// NewRedisClient creates a ring client over the configured shards.
func NewRedisClient(ro *RedisOptions) *RedisClient {
	r := &RedisClient{
		quit:   make(chan struct{}),
		tracer: &opentracing.NoopTracer{},
	}

	ringOptions := &redis.RingOptions{
		Addrs: map[string]string{},
	}

	if ro != nil {
		for idx, addr := range ro.Addrs {
			ringOptions.Addrs[fmt.Sprintf("redis%d", idx)] = addr
		}

		if ro.ReadTimeout <= 0 {
			ro.ReadTimeout = DefaultReadTimeout
		}
		if ro.WriteTimeout <= 0 {
			ro.WriteTimeout = DefaultWriteTimeout
		}
		if ro.PoolTimeout <= 0 {
			ro.PoolTimeout = DefaultPoolTimeout
		}
		if ro.DialTimeout <= 0 {
			ro.DialTimeout = DefaultDialTimeout
		}
		if ro.MinIdleConns <= 0 {
			ro.MinIdleConns = DefaultMinConns
		}
		if ro.MaxIdleConns <= 0 {
			ro.MaxIdleConns = DefaultMaxConns
		}
		if ro.ConnMetricsInterval <= 0 {
			ro.ConnMetricsInterval = defaultConnMetricsInterval
		}

		ringOptions.ReadTimeout = ro.ReadTimeout
		ringOptions.WriteTimeout = ro.WriteTimeout
		ringOptions.PoolTimeout = ro.PoolTimeout
		ringOptions.DialTimeout = ro.DialTimeout
		ringOptions.MinIdleConns = ro.MinIdleConns
		ringOptions.PoolSize = ro.MaxIdleConns

		if ro.Tracer != nil {
			r.tracer = ro.Tracer
		}

		r.options = ro
		r.ring = redis.NewRing(ringOptions)
	}

	return r
}

// Available pings the ring with exponential backoff and reports whether
// it answered within the retry budget.
func (r *RedisClient) Available() bool {
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		if err := r.ring.Ping(context.Background()).Err(); err != nil {
			log.Infof("Failed to ping redis, retry with backoff: %v", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(8))

	return err == nil
}

// StartMetricsCollection periodically exports the ring's pool statistics
// until the client is closed.
func (r *RedisClient) StartMetricsCollection() {
	go func() {
		for {
			select {
			case <-time.After(r.options.ConnMetricsInterval):
				stats := r.ring.PoolStats()
				metrics.UpdateRedisPool("hits", float64(stats.Hits))
				metrics.UpdateRedisPool("idleconns", float64(stats.IdleConns))
				metrics.UpdateRedisPool("misses", float64(stats.Misses))
				metrics.UpdateRedisPool("staleconns", float64(stats.StaleConns))
				metrics.UpdateRedisPool("timeouts", float64(stats.Timeouts))
				metrics.UpdateRedisPool("totalconns", float64(stats.TotalConns))
			case <-r.quit:
				return
			}
		}
	}()
}

// StartSpan starts an OpenTracing span with the client's tracer.
func (r *RedisClient) StartSpan(operationName string, opts ...opentracing.StartSpanOption) opentracing.Span {
	return r.tracer.StartSpan(operationName, opts...)
}

// Close stops metrics collection and closes the ring.
func (r *RedisClient) Close() {
	if r == nil {
		return
	}
	close(r.quit)
	if r.ring != nil {
		r.ring.Close()
	}
}

func (r *RedisClient) TxPipeline() redis.Pipeliner {
	return r.ring.TxPipeline()
}

func (r *RedisClient) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	return r.ring.ZAdd(ctx, key, members...)
}

func (r *RedisClient) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return r.ring.Expire(ctx, key, expiration)
}

func (r *RedisClient) ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd {
	return r.ring.ZRemRangeByScore(ctx, key, min, max)
}

func (r *RedisClient) ZCard(ctx context.Context, key string) *redis.IntCmd {
	return r.ring.ZCard(ctx, key)
}

func (r *RedisClient) ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd {
	return r.ring.ZRangeByScoreWithScores(ctx, key, opt)
}
