// Package security evaluates the declared security requirements of a
// matched operation against the inbound request.
//
// Requirements are OR'ed: the first requirement whose schemes all pass
// authenticates the request and stops evaluation. Within one requirement
// the schemes are AND'ed: the first failing scheme aborts that
// requirement and evaluation moves to the next OR branch. Scheme checks
// dispatch by definition type to handlers registered at startup, unknown
// types fail closed.
package security

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/catalog"
)

// Request carries the inbound request, the candidate entry under
// evaluation and the response side channel handlers may populate when
// they fail, so the final error path can render a protocol correct
// challenge.
type Request struct {
	HTTP  *http.Request
	Entry *catalog.Entry

	Challenge Challenge
}

// Challenge collects response-affecting state set by failing handlers.
type Challenge struct {
	// WWWAuthenticate is rendered on the final 401 response.
	WWWAuthenticate string

	// Status overrides the failure status code when non zero.
	Status int
}

// Handler authenticates one scheme of a requirement. A false result
// without error is a normal authentication failure. An error marks a
// transient handler fault, for example an unreachable backend; it counts
// as a failure for this scheme but does not abort the other OR branches.
type Handler interface {
	Authenticate(ctx context.Context, r *Request, name string, def catalog.SecurityDef, scopes []string) (bool, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, r *Request, name string, def catalog.SecurityDef, scopes []string) (bool, error)

func (f HandlerFunc) Authenticate(ctx context.Context, r *Request, name string, def catalog.SecurityDef, scopes []string) (bool, error) {
	return f(ctx, r, name, def, scopes)
}

// denyAll is the handler for unconfigured scheme types.
var denyAll Handler = HandlerFunc(func(context.Context, *Request, string, catalog.SecurityDef, []string) (bool, error) {
	return false, nil
})

// MissingDefinitionError reports a requirement referencing a security
// definition name the operation does not declare. This is a
// configuration defect, not an authentication failure, and aborts the
// whole evaluation.
type MissingDefinitionError struct {
	Name string
}

func (e *MissingDefinitionError) Error() string {
	return fmt.Sprintf("security definition %q not declared", e.Name)
}

// Registry holds the scheme handlers of a deployment, keyed by
// definition type. It is constructed once at startup and passed by
// reference, late binding of handler implementations replaces the need
// for mutable globals.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry. Every scheme type fails closed
// until a handler is registered for it.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs the handler for a definition type, replacing any
// previous one.
func (r *Registry) Register(typ string, h Handler) {
	r.handlers[typ] = h
}

func (r *Registry) handler(typ string) Handler {
	if h, ok := r.handlers[typ]; ok {
		return h
	}
	return denyAll
}

// Evaluator applies the OR-of-AND requirement logic of a matched
// operation.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator creates an evaluator over the given handler registry.
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{registry: registry}
}

// Evaluate reports whether the request satisfies any requirement of the
// operation. An operation that declares no requirements is open:
// authenticated with open true, which the selector uses to skip the
// subscription checks.
func (e *Evaluator) Evaluate(ctx context.Context, r *Request, m *catalog.MethodEntry) (authenticated, open bool, err error) {
	if len(m.SecurityReqs) == 0 {
		return true, true, nil
	}

	for _, req := range m.SecurityReqs {
		passed := true
		for name, scopes := range req {
			def, ok := m.SecurityDefs[name]
			if !ok {
				return false, false, &MissingDefinitionError{Name: name}
			}

			ok, err := e.registry.handler(def.Type).Authenticate(ctx, r, name, def, scopes)
			if err != nil {
				log.WithFields(log.Fields{"scheme": name, "type": def.Type}).
					Debugf("security handler failed: %v", err)
				ok = false
			}
			if !ok {
				passed = false
				break
			}
		}
		if passed {
			return true, false, nil
		}
	}

	return false, false, nil
}
