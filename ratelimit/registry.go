package ratelimit

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/net"
)

const (
	backendVoid   = "void"
	backendBucket = "bucket"
	backendRedis  = "redis"

	// DefaultKeyPrefix namespaces the limiter keys in a shared store.
	DefaultKeyPrefix = "ratelimit"
)

// Options configure the registry and with it the backend of every
// limiter it creates.
type Options struct {
	// Redis selects the distributed sliding window backend. When nil,
	// limits are enforced per process with token buckets.
	Redis *net.RedisClient

	// KeyPrefix for limiter keys in the shared store, DefaultKeyPrefix
	// when empty.
	KeyPrefix string

	// FailOpen lets requests pass when the shared store fails. The
	// default fails the request instead of silently bypassing limits.
	FailOpen bool
}

// Registry holds the active limiters, ensures synchronized access to
// them and creates them lazily per distinct settings. Settings are the
// lookup key: a snapshot delivering a different limit for a known scope
// yields a new limiter rather than a mutation of the existing one.
type Registry struct {
	sync.Mutex
	once    sync.Once
	options Options
	lookup  map[Settings]*Ratelimit
	now     func() time.Time
}

// NewRegistry creates a registry for the configured backend.
func NewRegistry(o Options) *Registry {
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}

	return &Registry{
		options: o,
		lookup:  make(map[Settings]*Ratelimit),
		now:     time.Now,
	}
}

// Get returns the limiter for the settings, creating it on first use.
// Empty settings yield nil, which always allows.
func (r *Registry) Get(s Settings) *Ratelimit {
	if s.Empty() {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	rl, ok := r.lookup[s]
	if !ok {
		rl = r.create(s)
		r.lookup[s] = rl
		log.Debugf("created limiter %v", s)
	}

	return rl
}

func (r *Registry) create(s Settings) *Ratelimit {
	rl := &Ratelimit{
		settings: s,
		backend:  backendVoid,
		impl:     voidRatelimit{},
		failOpen: r.options.FailOpen,
	}

	if s.Unlimited {
		return rl
	}

	if r.options.Redis != nil {
		rl.backend = backendRedis
		rl.impl = newClusterLimit(r.options.Redis, r.options.KeyPrefix, s.MaxHits, s.TimeWindow, r.now)
		return rl
	}

	rl.backend = backendBucket
	rl.impl = newTokenBucket(s.MaxHits, s.TimeWindow, r.now)
	return rl
}

// Close tears down the registry and all limiters it created.
func (r *Registry) Close() {
	r.once.Do(func() {
		r.Lock()
		defer r.Unlock()

		for s, rl := range r.lookup {
			rl.Close()
			delete(r.lookup, s)
		}

		if r.options.Redis != nil {
			r.options.Redis.Close()
		}
	})
}
