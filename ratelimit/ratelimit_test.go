package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/catalog"
)

func TestSettingsFrom(t *testing.T) {
	t.Run("explicit scope", func(t *testing.T) {
		s, err := SettingsFrom(catalog.RateLimit{Value: "100/hour", Scope: "gold", HardLimit: true}, "fallback")
		require.NoError(t, err)
		assert.Equal(t, Settings{Scope: "gold", MaxHits: 100, TimeWindow: time.Hour, HardLimit: true}, s)
	})

	t.Run("derived scope", func(t *testing.T) {
		s, err := SettingsFrom(catalog.RateLimit{Value: "5/minute"}, "gold/getOrder")
		require.NoError(t, err)
		assert.Equal(t, "gold/getOrder", s.Scope)
	})

	t.Run("unlimited", func(t *testing.T) {
		s, err := SettingsFrom(catalog.RateLimit{Value: "unlimited", Scope: "gold"}, "")
		require.NoError(t, err)
		assert.True(t, s.Unlimited)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := SettingsFrom(catalog.RateLimit{Value: "lots"}, "")
		assert.Error(t, err)
	})
}

func TestStatusHeaders(t *testing.T) {
	h := http.Header{}
	Status{Scope: "gold", Limit: 100, Remaining: 41, RetryAfter: 7, Allowed: false}.SetHeaders(h)

	assert.Equal(t, "100", h.Get(Header))
	assert.Equal(t, "41", h.Get(RemainingHeader))
	assert.Equal(t, "7", h.Get(ResetHeader))
}

func TestStatusHeadersUnlimited(t *testing.T) {
	h := http.Header{}
	Status{Scope: "gold", Unlimited: true, Allowed: true}.SetHeaders(h)
	assert.Empty(t, h)
}

func TestCheckNilAllows(t *testing.T) {
	var rl *Ratelimit
	status, err := rl.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestCheckUnlimited(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	rl := r.Get(Settings{Scope: "gold", Unlimited: true})
	require.NotNil(t, rl)

	for i := 0; i < 100; i++ {
		status, err := rl.Check(context.Background())
		require.NoError(t, err)
		assert.True(t, status.Allowed)
		assert.True(t, status.Unlimited)
	}
}

func TestCheckHardLimit(t *testing.T) {
	current := time.Now()
	r := NewRegistry(Options{})
	defer r.Close()
	r.now = func() time.Time { return current }

	rl := r.Get(Settings{Scope: "gold", MaxHits: 2, TimeWindow: time.Second, HardLimit: true})

	for i := 0; i < 2; i++ {
		status, err := rl.Check(context.Background())
		require.NoError(t, err)
		assert.True(t, status.Allowed)
	}

	status, err := rl.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.True(t, status.HardLimit)
	assert.Zero(t, status.Remaining)
	assert.GreaterOrEqual(t, status.RetryAfter, 1)
}

func TestCheckAllowedCarriesReset(t *testing.T) {
	current := time.Now()
	r := NewRegistry(Options{})
	defer r.Close()
	r.now = func() time.Time { return current }

	rl := r.Get(Settings{Scope: "gold", MaxHits: 2, TimeWindow: time.Second})

	status, err := rl.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Zero(t, status.RetryAfter, "free capacity needs no reset wait")

	// the bucket is drained now, the allowed response still tells the
	// client when the next slot frees
	status, err = rl.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.GreaterOrEqual(t, status.RetryAfter, 1)
}

type failingBackend struct{}

func (failingBackend) Allow(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func (failingBackend) Remaining(context.Context, string) (int, error) {
	return 0, errors.New("backend down")
}

func (failingBackend) RetryAfter(context.Context, string) int { return 0 }
func (failingBackend) Close()                                 {}

func TestCheckBackendFailurePolicy(t *testing.T) {
	settings := Settings{Scope: "gold", MaxHits: 1, TimeWindow: time.Second, HardLimit: true}

	t.Run("fail closed by default", func(t *testing.T) {
		rl := &Ratelimit{settings: settings, impl: failingBackend{}, backend: backendRedis}

		_, err := rl.Check(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gold")
	})

	t.Run("fail open lets the call pass", func(t *testing.T) {
		rl := &Ratelimit{settings: settings, impl: failingBackend{}, backend: backendRedis, failOpen: true}

		status, err := rl.Check(context.Background())
		require.NoError(t, err)
		assert.True(t, status.Allowed)
	})
}
