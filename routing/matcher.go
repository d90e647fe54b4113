package routing

import (
	"net/http"
	"strings"

	"github.com/edgegate/edgegate/catalog"
)

// Candidate is one path+method combination matching an inbound request.
// Candidates are per-request values, they are never stored.
type Candidate struct {
	Score  int
	Entry  *catalog.Entry
	Path   *catalog.PathEntry
	Method *catalog.MethodEntry

	// Params holds the values captured by the {name} template segments.
	Params map[string]string
}

// Preflight signals a CORS preflight short-circuit: an OPTIONS request hit
// a path that declares no OPTIONS operation but has CORS enabled. The
// caller must answer it directly with the allowed methods, no security
// evaluation takes place.
type Preflight struct {
	AllowMethods string
}

// Match evaluates every entry of the table against the inbound path and
// method and returns the set of maximally specific candidates: only
// candidates whose score equals the minimum observed score are kept, in
// catalog order. Multiple entries can tie at the same specificity, for
// example different plans of the same API, and all of them proceed to
// security evaluation.
//
// A preflight result takes precedence over candidates so that
// unauthenticated CORS discovery succeeds even when every real method is
// protected.
func (t *Table) Match(path, method string) ([]*Candidate, *Preflight) {
	var (
		best      []*Candidate
		bestScore int
		preflight bool
		allow     []string
	)

	for _, e := range t.Entries {
		for i := range e.Paths {
			p := &e.Paths[i]
			tmpl := t.template(p)
			if tmpl == nil {
				continue
			}

			groups := tmpl.rx.FindStringSubmatch(path)
			if groups == nil {
				continue
			}

			// collect the union of methods at this path for a
			// potential preflight answer
			for j := range p.Methods {
				allow = appendMethod(allow, p.Methods[j].Method)
			}

			m := methodEntry(p, method)
			if m == nil {
				if method == http.MethodOptions && e.CORSEnabled() {
					preflight = true
				}
				continue
			}

			score := m.Score
			if score == 0 {
				score = templateScore(fullPath(p))
			}

			if best != nil && score > bestScore {
				continue
			}
			if best == nil || score < bestScore {
				best, bestScore = nil, score
			}

			best = append(best, &Candidate{
				Score:  score,
				Entry:  e,
				Path:   p,
				Method: m,
				Params: captureParams(tmpl, groups),
			})
		}
	}

	if preflight {
		allow = appendMethod(allow, http.MethodOptions)
		return nil, &Preflight{AllowMethods: strings.Join(allow, ", ")}
	}

	return best, nil
}

func methodEntry(p *catalog.PathEntry, method string) *catalog.MethodEntry {
	for i := range p.Methods {
		if p.Methods[i].Method == method {
			return &p.Methods[i]
		}
	}
	return nil
}

func captureParams(tmpl *template, groups []string) map[string]string {
	if len(tmpl.params) == 0 {
		return nil
	}

	params := make(map[string]string, len(tmpl.params))
	for i, name := range tmpl.params {
		if i+1 < len(groups) {
			params[name] = groups[i+1]
		}
	}
	return params
}

func appendMethod(methods []string, m string) []string {
	for _, have := range methods {
		if have == m {
			return methods
		}
	}
	return append(methods, m)
}
