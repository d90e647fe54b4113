package edgegate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/catalog"
	"github.com/edgegate/edgegate/resolve"
)

type storeCounts struct {
	releases int
}

func startTestStore(t *testing.T, entries []*catalog.Entry) (string, *storeCounts) {
	data, err := json.Marshal(entries)
	require.NoError(t, err)

	counts := &storeCounts{}
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshots/current", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id": "snap-1"}`))
	})
	mux.HandleFunc("/snapshots/snap-1/optimized", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(data)
	})
	mux.HandleFunc("/snapshots/snap-1/release", func(w http.ResponseWriter, _ *http.Request) {
		counts.releases++
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server.URL, counts
}

func testEntries() []*catalog.Entry {
	return []*catalog.Entry{{
		PlanID:             "p1",
		PlanName:           "gold",
		ClientID:           "client-1",
		SubscriptionActive: true,
		API:                catalog.API{Name: "orders"},
		Paths: []catalog.PathEntry{{
			BasePath: "/orders",
			Path:     "/{id}",
			Methods: []catalog.MethodEntry{{
				Method:      http.MethodGet,
				OperationID: "getOrder",
				SecurityReqs: []catalog.Requirement{{"key": {}}},
				SecurityDefs: map[string]catalog.SecurityDef{
					"key": {Type: catalog.SchemeAPIKey, Name: "X-Api-Key", In: "header"},
				},
				RateLimits: []catalog.RateLimit{{Value: "2/minute", HardLimit: true}},
			}},
		}},
	}}
}

func newTestGateway(t *testing.T, url string, d Dispatcher) *Gateway {
	g, err := NewGateway(Options{
		SnapshotURL: url,
		Dispatcher:  d,
	})
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestGatewayDispatchesResolved(t *testing.T) {
	url, counts := startTestStore(t, testEntries())

	var dispatched *resolve.API
	g := newTestGateway(t, url, DispatcherFunc(func(w http.ResponseWriter, _ *http.Request, api *resolve.API) {
		dispatched = api
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("X-Api-Key", "client-1")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, dispatched)
	assert.Equal(t, "getOrder", dispatched.Method.OperationID)
	assert.Equal(t, "42", dispatched.Params["id"])
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, 1, counts.releases, "snapshot reference given back after the response")
}

func TestGatewayNotFound(t *testing.T) {
	url, counts := startTestStore(t, testEntries())
	g := newTestGateway(t, url, nil)

	req := httptest.NewRequest(http.MethodGet, "/nothing", nil)
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, resolve.NameNotFound, body.Name)
	assert.Equal(t, 1, counts.releases)
}

func TestGatewayUnauthorized(t *testing.T) {
	url, _ := startTestStore(t, testEntries())
	g := newTestGateway(t, url, nil)

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGatewayPreflight(t *testing.T) {
	url, _ := startTestStore(t, testEntries())
	g := newTestGateway(t, url, nil)

	req := httptest.NewRequest(http.MethodOptions, "/orders/42", nil)
	req.Header.Set("Origin", "https://portal.example.org")
	req.Header.Set("Access-Control-Request-Headers", "X-Api-Key")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://portal.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "X-Api-Key", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestGatewayRateLimited(t *testing.T) {
	url, _ := startTestStore(t, testEntries())
	g := newTestGateway(t, url, DispatcherFunc(func(w http.ResponseWriter, _ *http.Request, _ *resolve.API) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
		req.Header.Set("X-Api-Key", "client-1")
		w := httptest.NewRecorder()
		g.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, send().Code)
	}

	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestGatewayDefaultDispatcher(t *testing.T) {
	url, _ := startTestStore(t, testEntries())
	g := newTestGateway(t, url, nil)

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("X-Api-Key", "client-1")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
