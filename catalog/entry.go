// Package catalog defines the denormalized routing rows a configuration
// snapshot is made of. One Entry combines the catalog, product, plan,
// subscription and API metadata needed to route and authorize a single
// published API for a single consumer. Entries are immutable once parsed
// for a given snapshot id; a new snapshot always produces a new list.
package catalog

// Entry is one denormalized routing row of a snapshot.
type Entry struct {
	CatalogID   string `json:"catalog-id"`
	CatalogName string `json:"catalog-name"`
	OrgID       string `json:"organization-id"`
	OrgName     string `json:"organization-name"`
	ProductID   string `json:"product-id"`
	ProductName string `json:"product-name"`
	PlanID      string `json:"plan-id"`
	PlanName    string `json:"plan-name"`

	ClientID     string `json:"client-id"`
	ClientSecret string `json:"client-secret"`
	ClientOrg    string `json:"client-organization"`

	SubscriptionID     string `json:"subscription-id"`
	SubscriptionActive bool   `json:"subscription-active"`
	AppState           string `json:"app-state"`

	API   API         `json:"api"`
	Paths []PathEntry `json:"paths"`
}

// API holds the published API's identity and state within an Entry.
type API struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	State    string `json:"state"`
	Type     string `json:"type"`
	Assembly string `json:"assembly"`

	// CORS enables preflight handling for the API's paths. A nil value
	// means enabled, matching the wire format where the field is only
	// present when it was explicitly configured.
	CORS *bool `json:"cors,omitempty"`
}

// StateSuspended marks an API that is administratively disabled.
const StateSuspended = "suspended"

// AppStateActive is the only application state that passes the
// subscription check for a protected API. An empty state is treated as
// active because older snapshots omit the field.
const AppStateActive = "active"

// CORSEnabled reports whether preflight handling applies to the entry.
func (e *Entry) CORSEnabled() bool {
	return e.API.CORS == nil || *e.API.CORS
}

// ActiveSubscription reports whether the subscriber may call a protected
// operation of this entry.
func (e *Entry) ActiveSubscription() bool {
	if !e.SubscriptionActive {
		return false
	}
	return e.AppState == "" || e.AppState == AppStateActive
}

// PathEntry is one templated path of an API together with the operations
// published under it. The compiled match pattern is not part of the wire
// format, it is memoized by the snapshot table that owns the entry.
type PathEntry struct {
	Path     string        `json:"path"`
	BasePath string        `json:"base-path"`
	Methods  []MethodEntry `json:"methods"`
}

// MethodEntry is one operation: an HTTP method published under a path.
type MethodEntry struct {
	// Method is matched against the request method by exact,
	// case sensitive comparison. No verb normalization happens.
	Method      string   `json:"method"`
	OperationID string   `json:"operation-id"`
	Consumes    []string `json:"consumes,omitempty"`
	Produces    []string `json:"produces,omitempty"`

	// Score ranks the operation's path specificity, lower is more
	// specific. Zero means unset, in which case the matcher derives a
	// score from the path template.
	Score int `json:"score,omitempty"`

	// SecurityReqs are OR'ed: any single requirement passing
	// authenticates the request. SecurityDefs configure the schemes the
	// requirements refer to by name.
	SecurityReqs []Requirement          `json:"security,omitempty"`
	SecurityDefs map[string]SecurityDef `json:"security-definitions,omitempty"`

	RateLimits []RateLimit `json:"rate-limits,omitempty"`
}

// Requirement maps scheme names to required scopes. All schemes of one
// requirement are AND'ed.
type Requirement map[string][]string

// SecurityDef configures a single named security scheme.
type SecurityDef struct {
	// Type selects the handler: apiKey, basic or oauth2.
	Type string `json:"type"`

	// Name and In locate the credential for apiKey schemes: the
	// parameter name and whether it travels as a header or query
	// parameter.
	Name string `json:"name,omitempty"`
	In   string `json:"in,omitempty"`

	// AuthURL points basic schemes at a remote user registry. When
	// empty, the locally configured registry is used.
	AuthURL string `json:"authorization-url,omitempty"`

	Flow     string            `json:"flow,omitempty"`
	TokenURL string            `json:"token-url,omitempty"`
	Scopes   map[string]string `json:"scopes,omitempty"`
}

// Security definition types dispatched by the evaluator.
const (
	SchemeAPIKey = "apiKey"
	SchemeBasic  = "basic"
	SchemeOAuth2 = "oauth2"
)

// RateLimit is one observed rate limit dimension of an operation.
type RateLimit struct {
	// Value is the configured limit, "100/minute" style, or
	// "unlimited" to disable enforcement for the scope.
	Value string `json:"value"`

	// Scope is the limiter key namespace. When empty, the resolver
	// derives it from the plan and operation ids.
	Scope string `json:"scope,omitempty"`

	// HardLimit rejects over-limit requests with 429. A soft limit only
	// annotates the response headers.
	HardLimit bool `json:"hard-limit,omitempty"`
}
