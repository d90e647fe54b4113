package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accessRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/orders/42?verbose=1", nil)
	r.RemoteAddr = "192.168.3.3:43123"
	r.Header.Set("User-Agent", "curl/8.0")
	return r
}

func TestAccessLogCombined(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &out}))

	LogAccess(&AccessEntry{
		Request:       accessRequest(),
		StatusCode:    http.StatusOK,
		ResponseSize:  118,
		Duration:      42 * time.Millisecond,
		CorrelationID: "cid-1",
	})

	line := out.String()
	assert.Contains(t, line, `192.168.3.3 - - [`)
	assert.Contains(t, line, `"GET /orders/42?verbose=1 HTTP/1.1" 200 118`)
	assert.Contains(t, line, `"curl/8.0"`)
	assert.Contains(t, line, "cid-1")
}

func TestAccessLogForwardedFor(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &out}))

	r := accessRequest()
	r.Header.Set("X-Forwarded-For", "10.0.0.9")
	LogAccess(&AccessEntry{Request: r, StatusCode: http.StatusNotFound})

	assert.Contains(t, out.String(), "10.0.0.9 - -")
}

func TestAccessLogJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &out, AccessLogJSONEnabled: true}))

	LogAccess(&AccessEntry{Request: accessRequest(), StatusCode: http.StatusOK})

	assert.Contains(t, out.String(), `"status":200`)
	assert.Contains(t, out.String(), `"method":"GET"`)
}

func TestAccessLogDisabled(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &out, AccessLogDisabled: true}))

	LogAccess(&AccessEntry{Request: accessRequest(), StatusCode: http.StatusOK})
	assert.Zero(t, out.Len())
}
