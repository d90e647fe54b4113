// Package resolve ties the snapshot cache, the path matcher, the
// security evaluator, the candidate selector and the rate limiters into
// the per-request resolution pipeline of the gateway.
package resolve

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/catalog"
	"github.com/edgegate/edgegate/metrics"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/routing"
	"github.com/edgegate/edgegate/security"
	"github.com/edgegate/edgegate/snapshot"
)

// Options configure a resolver. Cache and Security are required, a nil
// Limits registry disables rate limiting.
type Options struct {
	Cache    *snapshot.Cache
	Security *security.Registry
	Limits   *ratelimit.Registry

	// PlanHeader overrides the header used to disambiguate plan ties,
	// DefaultPlanHeader when empty.
	PlanHeader string
}

// Resolver resolves inbound requests to a single catalog entry, or to a
// protocol error describing why no entry applies.
type Resolver struct {
	cache     *snapshot.Cache
	evaluator *security.Evaluator
	limits    *ratelimit.Registry
	selector  Selector
}

// API is a successful resolution: the entry the request is served by,
// the captured path parameters and the rate limit state to annotate the
// response with.
type API struct {
	// CorrelationID ties the resolution's log lines to the request.
	CorrelationID string

	Entry  *catalog.Entry
	Path   *catalog.PathEntry
	Method *catalog.MethodEntry
	Params map[string]string

	// Open marks an operation without security requirements.
	Open bool

	// RateStatus holds one status per configured limit, in catalog
	// order, for response header annotation.
	RateStatus []ratelimit.Status
}

// Result is either a resolved API or a preflight short-circuit.
type Result struct {
	API       *API
	Preflight *routing.Preflight
}

// New creates a resolver over the given snapshot cache and security
// handler registry.
func New(o Options) *Resolver {
	return &Resolver{
		cache:     o.Cache,
		evaluator: security.NewEvaluator(o.Security),
		limits:    o.Limits,
		selector:  Selector{PlanHeader: o.PlanHeader},
	}
}

// Resolve runs the pipeline for one request: acquire the current routing
// table, match, evaluate security, select and rate limit. The returned
// release hook is never nil and must be called exactly once after the
// response has been fully sent, also on error, so the snapshot store
// never reclaims a snapshot a request still references.
func (r *Resolver) Resolve(req *http.Request) (*Result, func(), error) {
	start := time.Now()
	cid := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"correlation": cid,
		"method":      req.Method,
		"path":        req.URL.Path,
	})

	result, release, err := r.resolve(req, cid, logger)
	if release == nil {
		release = func() {}
	}

	metrics.MeasureResolution(start)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			metrics.IncResolution(re.Name)
		} else {
			metrics.IncResolution("error")
		}
		logger.Debugf("resolution failed: %v", err)
		return nil, release, err
	}

	if result.Preflight != nil {
		metrics.IncResolution("preflight")
	} else {
		metrics.IncResolution("resolved")
	}

	return result, release, nil
}

func (r *Resolver) resolve(req *http.Request, cid string, logger *log.Entry) (*Result, func(), error) {
	ctx := req.Context()

	table, release, err := r.cache.AcquireCurrent(ctx)
	if err != nil {
		return nil, nil, fromSnapshotError(err)
	}

	candidates, preflight := table.Match(req.URL.Path, req.Method)
	if preflight != nil {
		return &Result{Preflight: preflight}, release, nil
	}

	matches, challenge, err := r.authenticate(req, candidates)
	if err != nil {
		return nil, release, err
	}

	m, rerr := r.selector.Select(req, candidates, matches, challenge)
	if rerr != nil {
		return nil, release, rerr
	}

	statuses, rerr := r.checkLimits(req, m)
	if rerr != nil {
		return nil, release, rerr
	}

	logger.WithFields(log.Fields{
		"snapshot":  table.ID,
		"api":       m.Entry.API.Name,
		"plan":      m.Entry.PlanName,
		"operation": m.Method.OperationID,
	}).Debug("resolved")

	return &Result{API: &API{
		CorrelationID: cid,
		Entry:         m.Entry,
		Path:          m.Path,
		Method:        m.Method,
		Params:        m.Params,
		Open:          m.Open,
		RateStatus:    statuses,
	}}, release, nil
}

// authenticate evaluates every candidate's requirements and keeps the
// passing ones in catalog order. The last challenge a failing handler
// set is carried for the 401 rendering.
func (r *Resolver) authenticate(req *http.Request, candidates []*routing.Candidate) ([]*Match, security.Challenge, error) {
	var (
		matches   []*Match
		challenge security.Challenge
	)

	for _, c := range candidates {
		sreq := &security.Request{HTTP: req, Entry: c.Entry}
		ok, open, err := r.evaluator.Evaluate(req.Context(), sreq, c.Method)
		if err != nil {
			var missing *security.MissingDefinitionError
			if errors.As(err, &missing) {
				return nil, challenge, missingSecurityDefinition(missing)
			}
			return nil, challenge, malformedCatalog(err)
		}

		if ok {
			matches = append(matches, &Match{Candidate: c, Open: open})
			continue
		}
		if sreq.Challenge != (security.Challenge{}) {
			challenge = sreq.Challenge
		}
	}

	return matches, challenge, nil
}

// checkLimits reserves one call in every limit scope of the operation.
// The first exceeded hard limit short-circuits with a 429, soft limits
// only flow into the response headers.
func (r *Resolver) checkLimits(req *http.Request, m *Match) ([]ratelimit.Status, *Error) {
	if r.limits == nil || len(m.Method.RateLimits) == 0 {
		return nil, nil
	}

	defaultScope := OperationScope(m.Entry, m.Method)
	statuses := make([]ratelimit.Status, 0, len(m.Method.RateLimits))

	for _, rl := range m.Method.RateLimits {
		settings, err := ratelimit.SettingsFrom(rl, defaultScope)
		if err != nil {
			return nil, malformedCatalog(err)
		}

		status, err := r.limits.Get(settings).Check(req.Context())
		if err != nil {
			return nil, &Error{
				Name:    NameUpstreamUnavailable,
				Message: err.Error(),
				Status:  http.StatusBadGateway,
			}
		}

		statuses = append(statuses, status)
		if !status.Allowed && status.HardLimit {
			return nil, rateLimitExceeded(status)
		}
	}

	return statuses, nil
}

// OperationScope is the derived limiter scope of an operation when the
// catalog names none.
func OperationScope(e *catalog.Entry, m *catalog.MethodEntry) string {
	return e.PlanID + "/" + m.OperationID
}
