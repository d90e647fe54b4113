package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/catalog"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/security"
	"github.com/edgegate/edgegate/snapshot"
)

type testStore struct {
	data        []byte
	failCurrent bool
	releases    int
}

func (s *testStore) Current(context.Context) (string, error) {
	if s.failCurrent {
		return "", errors.New("store down")
	}
	return "snap-1", nil
}

func (s *testStore) Fetch(context.Context, string) ([]byte, error) { return s.data, nil }
func (s *testStore) Release(string)                                { s.releases++ }

func keyScheme() ([]catalog.Requirement, map[string]catalog.SecurityDef) {
	return []catalog.Requirement{{"key": {}}},
		map[string]catalog.SecurityDef{
			"key": {Type: catalog.SchemeAPIKey, Name: "X-Api-Key", In: "header"},
		}
}

func fixtureStore(t *testing.T) *testStore {
	reqs, defs := keyScheme()

	planned := func(planID, planName string, limits []catalog.RateLimit) *catalog.Entry {
		return &catalog.Entry{
			PlanID:             planID,
			PlanName:           planName,
			ClientID:           "client-1",
			SubscriptionActive: true,
			AppState:           catalog.AppStateActive,
			API:                catalog.API{Name: "orders"},
			Paths: []catalog.PathEntry{{
				BasePath: "/orders",
				Path:     "/{id}",
				Methods: []catalog.MethodEntry{{
					Method:       http.MethodGet,
					OperationID:  "getOrder",
					SecurityReqs: reqs,
					SecurityDefs: defs,
					RateLimits:   limits,
				}},
			}},
		}
	}

	entries := []*catalog.Entry{
		planned("p1", "gold", []catalog.RateLimit{{Value: "2/minute", HardLimit: true}}),
		planned("p2", "silver", nil),
		{
			PlanID: "p3",
			API:    catalog.API{Name: "status"},
			Paths: []catalog.PathEntry{{
				Path: "/status",
				Methods: []catalog.MethodEntry{{
					Method:      http.MethodGet,
					OperationID: "getStatus",
				}},
			}},
		},
	}

	data, err := json.Marshal(entries)
	require.NoError(t, err)
	return &testStore{data: data}
}

func newTestResolver(store snapshot.Store) (*Resolver, *ratelimit.Registry) {
	handlers := security.NewRegistry()
	handlers.Register(catalog.SchemeAPIKey, security.NewAPIKey())

	limits := ratelimit.NewRegistry(ratelimit.Options{})
	return New(Options{
		Cache:    snapshot.NewCache(store, 0),
		Security: handlers,
		Limits:   limits,
	}), limits
}

func TestResolveSuccess(t *testing.T) {
	store := fixtureStore(t)
	r, limits := newTestResolver(store)
	defer limits.Close()

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("X-Api-Key", "client-1")

	result, release, err := r.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, result.API)

	assert.Equal(t, "getOrder", result.API.Method.OperationID)
	assert.Equal(t, map[string]string{"id": "42"}, result.API.Params)
	assert.Equal(t, "gold", result.API.Entry.PlanName)
	assert.False(t, result.API.Open)
	assert.NotEmpty(t, result.API.CorrelationID)
	require.Len(t, result.API.RateStatus, 1)
	assert.True(t, result.API.RateStatus[0].Allowed)
	assert.Equal(t, 2, result.API.RateStatus[0].Limit)

	assert.Zero(t, store.releases, "held until the response is sent")
	release()
	assert.Equal(t, 1, store.releases)
	release()
	assert.Equal(t, 1, store.releases, "duplicate release is suppressed")
}

func TestResolveNotFound(t *testing.T) {
	store := fixtureStore(t)
	r, limits := newTestResolver(store)
	defer limits.Close()

	req := httptest.NewRequest(http.MethodGet, "/nothing/here", nil)
	_, release, err := r.Resolve(req)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NameNotFound, re.Name)

	require.NotNil(t, release, "snapshot reference is returned also on error")
	release()
	assert.Equal(t, 1, store.releases)
}

func TestResolveUnauthorized(t *testing.T) {
	store := fixtureStore(t)
	r, limits := newTestResolver(store)
	defer limits.Close()

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("X-Api-Key", "wrong")

	_, release, err := r.Resolve(req)
	release()

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NameUnauthorized, re.Name)
	assert.Equal(t, http.StatusUnauthorized, re.Status)
	assert.Equal(t, 1, store.releases)
}

func TestResolvePreflight(t *testing.T) {
	store := fixtureStore(t)
	r, limits := newTestResolver(store)
	defer limits.Close()

	// no credentials at all, preflight bypasses security
	req := httptest.NewRequest(http.MethodOptions, "/orders/42", nil)

	result, release, err := r.Resolve(req)
	require.NoError(t, err)
	defer release()

	require.NotNil(t, result.Preflight)
	assert.Nil(t, result.API)
	assert.Equal(t, "GET, OPTIONS", result.Preflight.AllowMethods)
}

func TestResolvePlanHint(t *testing.T) {
	store := fixtureStore(t)
	r, limits := newTestResolver(store)
	defer limits.Close()

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("X-Api-Key", "client-1")
	req.Header.Set(DefaultPlanHeader, "silver")

	result, release, err := r.Resolve(req)
	require.NoError(t, err)
	defer release()

	assert.Equal(t, "p2", result.API.Entry.PlanID)
	assert.Empty(t, result.API.RateStatus, "the silver plan has no limits")
}

func TestResolveOpenOperation(t *testing.T) {
	store := fixtureStore(t)
	r, limits := newTestResolver(store)
	defer limits.Close()

	// no credentials and no active subscription on the status entry
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	result, release, err := r.Resolve(req)
	require.NoError(t, err)
	defer release()

	require.NotNil(t, result.API)
	assert.True(t, result.API.Open)
	assert.Equal(t, "getStatus", result.API.Method.OperationID)
}

func TestResolveHardLimit(t *testing.T) {
	store := fixtureStore(t)
	r, limits := newTestResolver(store)
	defer limits.Close()

	send := func() (*Result, error) {
		req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
		req.Header.Set("X-Api-Key", "client-1")
		result, release, err := r.Resolve(req)
		release()
		return result, err
	}

	for i := 0; i < 2; i++ {
		_, err := send()
		require.NoError(t, err)
	}

	_, err := send()
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NameRateLimitExceeded, re.Name)
	assert.Equal(t, http.StatusTooManyRequests, re.Status)
	assert.NotEmpty(t, re.Header.Get(ratelimit.RetryAfterHeader))
	assert.Equal(t, "2", re.Header.Get(ratelimit.Header))
}

func TestResolveStoreDown(t *testing.T) {
	store := fixtureStore(t)
	store.failCurrent = true
	r, limits := newTestResolver(store)
	defer limits.Close()

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	_, release, err := r.Resolve(req)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NameUpstreamUnavailable, re.Name)
	assert.Equal(t, http.StatusBadGateway, re.Status)

	require.NotNil(t, release)
	release()
	assert.Zero(t, store.releases, "nothing acquired, nothing to give back")
}

func TestResolveMissingDefinition(t *testing.T) {
	entry := &catalog.Entry{
		PlanID:             "p1",
		SubscriptionActive: true,
		API:                catalog.API{Name: "orders"},
		Paths: []catalog.PathEntry{{
			Path: "/orders",
			Methods: []catalog.MethodEntry{{
				Method:       http.MethodGet,
				OperationID:  "listOrders",
				SecurityReqs: []catalog.Requirement{{"ghost": {}}},
			}},
		}},
	}
	data, err := json.Marshal([]*catalog.Entry{entry})
	require.NoError(t, err)

	store := &testStore{data: data}
	r, limits := newTestResolver(store)
	defer limits.Close()

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	_, release, rerr := r.Resolve(req)
	release()

	var re *Error
	require.ErrorAs(t, rerr, &re)
	assert.Equal(t, NameMissingSecurityDefinition, re.Name)
	assert.Equal(t, http.StatusInternalServerError, re.Status)
	assert.Equal(t, 1, store.releases)
}
