package edgegate

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/logging"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/resolve"
	"github.com/edgegate/edgegate/routing"
)

// Dispatcher executes the assembly of a resolved API and writes the
// response. The gateway has resolved, authorized and rate limited the
// request before dispatch, the snapshot reference is held until the
// dispatcher returns.
type Dispatcher interface {
	Dispatch(w http.ResponseWriter, r *http.Request, api *resolve.API)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(w http.ResponseWriter, r *http.Request, api *resolve.API)

func (f DispatcherFunc) Dispatch(w http.ResponseWriter, r *http.Request, api *resolve.API) {
	f(w, r, api)
}

type notImplementedDispatcher struct{}

func (notImplementedDispatcher) Dispatch(w http.ResponseWriter, _ *http.Request, api *resolve.API) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotImplemented)
	json.NewEncoder(w).Encode(struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}{"NotImplemented", "no dispatcher configured for operation " + api.Method.OperationID})
}

// Gateway is the traffic handler: it resolves every request to an API
// operation and hands it to the dispatcher, or answers the resolution
// failure itself.
type Gateway struct {
	resolver   *resolve.Resolver
	dispatcher Dispatcher
	limits     *ratelimit.Registry
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cw := &countingWriter{ResponseWriter: w}

	result, release, err := g.resolver.Resolve(r)

	// the snapshot reference is held until the response is fully
	// written
	defer release()

	var correlation string
	switch {
	case err != nil:
		serveError(cw, err)
	case result.Preflight != nil:
		servePreflight(cw, r, result.Preflight)
	default:
		correlation = result.API.CorrelationID
		for _, status := range result.API.RateStatus {
			status.SetHeaders(cw.Header())
		}
		g.dispatcher.Dispatch(cw, r, result.API)
	}

	logging.LogAccess(&logging.AccessEntry{
		Request:       r,
		StatusCode:    cw.status,
		ResponseSize:  cw.size,
		Duration:      time.Since(start),
		CorrelationID: correlation,
	})
}

// countingWriter captures the status code and body size for the access
// log.
type countingWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (w *countingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}

// Close frees the pipeline's resources, the rate limiters and through
// them the redis client.
func (g *Gateway) Close() {
	g.limits.Close()
}

func serveError(w http.ResponseWriter, err error) {
	var re *resolve.Error
	if errors.As(err, &re) {
		re.WriteResponse(w)
		return
	}

	log.Errorf("Unclassified resolution failure: %v", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}{"InternalError", "resolution failed"})
}

// servePreflight answers a CORS preflight directly, reflecting the
// requested headers and the origin. The allowed methods are the union
// of the methods published on the matched paths.
func servePreflight(w http.ResponseWriter, r *http.Request, p *routing.Preflight) {
	h := w.Header()

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", p.AllowMethods)
	if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		h.Set("Access-Control-Allow-Headers", requested)
	}

	w.WriteHeader(http.StatusNoContent)
}
