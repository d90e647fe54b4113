package resolve

import (
	"net/http"

	"github.com/edgegate/edgegate/catalog"
	"github.com/edgegate/edgegate/routing"
	"github.com/edgegate/edgegate/security"
)

// DefaultPlanHeader is the request header a client may send to pick a
// plan when it is subscribed to the same operation under several.
const DefaultPlanHeader = "X-Plan-Id"

// Match is a candidate that passed security evaluation. Open marks an
// operation without security requirements, which is exempt from the
// subscription check.
type Match struct {
	*routing.Candidate
	Open bool
}

// Selector picks the single entry a request resolves to from the
// authenticated candidates.
type Selector struct {
	// PlanHeader overrides DefaultPlanHeader.
	PlanHeader string
}

func (s Selector) planHeader() string {
	if s.PlanHeader != "" {
		return s.PlanHeader
	}
	return DefaultPlanHeader
}

// Select reduces the match set to one entry and validates its state.
// The decision order is fixed: no route at all is a 404, a route no
// credential satisfied is a 401, then a plan hint disambiguates ties,
// and only the chosen entry's API state and subscription are checked.
// A suspended API wins over an inactive subscription so that operators
// see the suspension, not a misleading authorization failure.
//
// The plan hint is compared against both the plan id and the plan name,
// because portals commonly expose names rather than ids. A hint that
// matches several candidates selects the first match in catalog order,
// the same best-effort default as no hint at all; uniqueness of the
// match is not enforced.
func (s Selector) Select(r *http.Request, candidates []*routing.Candidate, matches []*Match, challenge security.Challenge) (*Match, *Error) {
	if len(candidates) == 0 {
		return nil, notFound(r.Method, r.URL.Path)
	}

	if len(matches) == 0 {
		return nil, unauthorized(challenge)
	}

	m := matches[0]
	if len(matches) > 1 {
		if hint := r.Header.Get(s.planHeader()); hint != "" {
			for _, c := range matches {
				if c.Entry.PlanID == hint || c.Entry.PlanName == hint {
					m = c
					break
				}
			}
		}
	}

	if m.Entry.API.State == catalog.StateSuspended {
		return nil, suspended(m.Entry.API.Name)
	}

	if !m.Open && !m.Entry.ActiveSubscription() {
		return nil, subscriptionInactive(m.Entry.API.Name)
	}

	return m, nil
}
