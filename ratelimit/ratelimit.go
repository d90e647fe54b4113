// Package ratelimit implements the per-scope throttles of resolved APIs.
//
// A scope, typically a plan or an operation of a plan, is governed by one
// limiter instance. Instances are created lazily on first use and kept
// for the life of the process, the scope space is bounded by the
// configured plans and operations. Two interchangeable backends exist: an
// in-process token bucket and a sliding window counter over a shared
// redis store for fleet-wide limits.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/catalog"
	"github.com/edgegate/edgegate/metrics"
)

const (
	// Header is the response header carrying the scope's limit.
	Header = "X-RateLimit-Limit"
	// RemainingHeader carries the calls left in the current window.
	RemainingHeader = "X-RateLimit-Remaining"
	// ResetHeader carries the seconds until the window frees a slot.
	ResetHeader = "X-RateLimit-Reset"
	// RetryAfterHeader tells a denied client how long to wait before
	// making a new request.
	RetryAfterHeader = "Retry-After"
)

// Settings configure the limiter of one scope. Settings are immutable
// once the limiter exists; they are the registry key, so a snapshot that
// changes a scope's limit creates a fresh limiter instead of mutating
// the old one.
type Settings struct {
	// Scope is the key namespace the limiter governs.
	Scope string

	// MaxHits allowed within TimeWindow.
	MaxHits    int
	TimeWindow time.Duration

	// HardLimit rejects over-limit requests with 429, a soft limit
	// only annotates response headers.
	HardLimit bool

	// Unlimited disables enforcement while keeping the scope
	// trackable.
	Unlimited bool
}

// SettingsFrom derives limiter settings from an observed catalog rate
// limit. When the descriptor names no scope, defaultScope is used.
func SettingsFrom(r catalog.RateLimit, defaultScope string) (Settings, error) {
	maxHits, window, unlimited, err := r.ParseValue()
	if err != nil {
		return Settings{}, err
	}

	scope := r.Scope
	if scope == "" {
		scope = defaultScope
	}

	return Settings{
		Scope:      scope,
		MaxHits:    maxHits,
		TimeWindow: window,
		HardLimit:  r.HardLimit,
		Unlimited:  unlimited,
	}, nil
}

func (s Settings) Empty() bool {
	return s == Settings{}
}

func (s Settings) String() string {
	if s.Unlimited {
		return fmt.Sprintf("ratelimit(scope=%s,unlimited)", s.Scope)
	}
	return fmt.Sprintf("ratelimit(scope=%s,max-hits=%d,time-window=%s,hard=%t)", s.Scope, s.MaxHits, s.TimeWindow, s.HardLimit)
}

// Status is the outcome of one limiter check, used both for the
// rejection decision and the response header annotation.
type Status struct {
	Scope     string
	Limit     int
	Remaining int

	// RetryAfter is the estimated number of seconds until the window
	// frees a slot, 0 while free capacity exists.
	RetryAfter int

	Allowed   bool
	HardLimit bool
	Unlimited bool
}

// SetHeaders annotates the response with the scope's limit state.
// Unlimited scopes are not annotated.
func (s Status) SetHeaders(h http.Header) {
	if s.Unlimited {
		return
	}

	h.Set(Header, strconv.Itoa(s.Limit))
	h.Set(RemainingHeader, strconv.Itoa(s.Remaining))
	h.Set(ResetHeader, strconv.Itoa(s.RetryAfter))
}

type implementation interface {
	// Allow reports whether one more call in the scope passes.
	Allow(ctx context.Context, key string) (bool, error)

	// Remaining reports the calls left in the current window.
	Remaining(ctx context.Context, key string) (int, error)

	// RetryAfter is the number of seconds until the scope frees a slot,
	// 0 while free capacity exists, at least 1 once the scope is
	// exhausted.
	RetryAfter(ctx context.Context, key string) int

	// Close frees backend resources of the limiter.
	Close()
}

// Ratelimit delegates to a backend implementation and applies the
// backend failure policy.
type Ratelimit struct {
	settings Settings
	impl     implementation
	backend  string
	failOpen bool
}

// Check reserves one call in the scope and reports the resulting state.
// A backend error either fails the request (default) or, with fail-open
// configured, lets the call pass so a degraded store does not take the
// gateway down with it.
func (l *Ratelimit) Check(ctx context.Context) (Status, error) {
	if l == nil {
		return Status{Allowed: true, Unlimited: true}, nil
	}

	status := Status{
		Scope:     l.settings.Scope,
		Limit:     l.settings.MaxHits,
		HardLimit: l.settings.HardLimit,
	}

	if l.settings.Unlimited {
		metrics.IncRatelimit(l.backend, "allow")
		status.Allowed = true
		status.Unlimited = true
		return status, nil
	}

	allowed, err := l.impl.Allow(ctx, l.settings.Scope)
	if err != nil {
		metrics.IncRatelimit(l.backend, "error")
		if !l.failOpen {
			return Status{}, fmt.Errorf("rate limiter backend for %s: %w", l.settings.Scope, err)
		}
		log.Errorf("Rate limiter backend failed for %s, failing open: %v", l.settings.Scope, err)
		allowed = true
	}

	status.Allowed = allowed
	if remaining, err := l.impl.Remaining(ctx, l.settings.Scope); err == nil {
		status.Remaining = remaining
	}
	status.RetryAfter = l.impl.RetryAfter(ctx, l.settings.Scope)

	if !allowed {
		metrics.IncRatelimit(l.backend, "deny")
		return status, nil
	}

	metrics.IncRatelimit(l.backend, "allow")
	return status, nil
}

// Settings returns the immutable settings of the limiter.
func (l *Ratelimit) Settings() Settings {
	return l.settings
}

// Close frees the backend resources.
func (l *Ratelimit) Close() {
	l.impl.Close()
}

type voidRatelimit struct{}

func (voidRatelimit) Allow(context.Context, string) (bool, error)    { return true, nil }
func (voidRatelimit) Remaining(context.Context, string) (int, error) { return 0, nil }
func (voidRatelimit) RetryAfter(context.Context, string) int         { return 0 }
func (voidRatelimit) Close()                                         {}
