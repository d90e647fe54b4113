package resolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/security"
	"github.com/edgegate/edgegate/snapshot"
)

// Error names as they appear in the response body and the resolution
// metrics.
const (
	NameUpstreamUnavailable       = "UpstreamUnavailable"
	NameMalformedCatalogData      = "MalformedCatalogData"
	NameMissingSecurityDefinition = "MissingSecurityDefinition"
	NameNotFound                  = "NotFound"
	NameUnauthorized              = "Unauthorized"
	NameSuspended                 = "Suspended"
	NameRateLimitExceeded         = "RateLimitExceeded"
)

// Error is a resolution failure with a fixed protocol rendering. Name is
// machine readable and stable, Message is for humans and may change.
// Header carries response headers the failure mandates, for example the
// WWW-Authenticate challenge of a 401 or the Retry-After of a 429.
type Error struct {
	Name    string
	Message string
	Status  int
	Header  http.Header
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// WriteResponse renders the error as the JSON body the gateway answers
// failed resolutions with.
func (e *Error) WriteResponse(w http.ResponseWriter) {
	h := w.Header()
	for name, values := range e.Header {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}{e.Name, e.Message})
}

func notFound(method, path string) *Error {
	return &Error{
		Name:    NameNotFound,
		Message: fmt.Sprintf("no operation matches %s %s", method, path),
		Status:  http.StatusNotFound,
	}
}

func unauthorized(c security.Challenge) *Error {
	e := &Error{
		Name:    NameUnauthorized,
		Message: "no security requirement was satisfied",
		Status:  http.StatusUnauthorized,
	}
	if c.Status != 0 {
		e.Status = c.Status
	}
	if c.WWWAuthenticate != "" {
		e.Header = http.Header{"Www-Authenticate": []string{c.WWWAuthenticate}}
	}
	return e
}

func suspended(api string) *Error {
	return &Error{
		Name:    NameSuspended,
		Message: fmt.Sprintf("API %s is suspended", api),
		Status:  http.StatusServiceUnavailable,
	}
}

func subscriptionInactive(api string) *Error {
	return &Error{
		Name:    NameUnauthorized,
		Message: fmt.Sprintf("no active subscription for API %s", api),
		Status:  http.StatusUnauthorized,
	}
}

func missingSecurityDefinition(err *security.MissingDefinitionError) *Error {
	return &Error{
		Name:    NameMissingSecurityDefinition,
		Message: err.Error(),
		Status:  http.StatusInternalServerError,
	}
}

func rateLimitExceeded(status ratelimit.Status) *Error {
	h := http.Header{}
	status.SetHeaders(h)
	h.Set(ratelimit.RetryAfterHeader, strconv.Itoa(status.RetryAfter))
	return &Error{
		Name:    NameRateLimitExceeded,
		Message: fmt.Sprintf("rate limit exceeded for %s", status.Scope),
		Status:  http.StatusTooManyRequests,
		Header:  h,
	}
}

func malformedCatalog(err error) *Error {
	return &Error{
		Name:    NameMalformedCatalogData,
		Message: err.Error(),
		Status:  http.StatusInternalServerError,
	}
}

// fromSnapshotError maps a table acquisition failure to its protocol
// rendering: an unreachable snapshot store is a bad gateway, catalog data
// the gateway cannot parse is its own defect.
func fromSnapshotError(err error) *Error {
	switch {
	case errors.Is(err, snapshot.ErrMalformedCatalog):
		return malformedCatalog(err)
	default:
		return &Error{
			Name:    NameUpstreamUnavailable,
			Message: err.Error(),
			Status:  http.StatusBadGateway,
		}
	}
}
