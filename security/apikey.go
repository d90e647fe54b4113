package security

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/edgegate/edgegate/catalog"
)

const (
	inHeader = "header"
	inQuery  = "query"
)

// APIKey checks an apiKey scheme against the subscriber credentials of
// the candidate entry. The definition names the parameter carrying the
// credential and whether it travels as a header or query parameter. A
// parameter name containing "secret" is compared against the client
// secret, any other against the client id, so an id+secret pair is
// expressed as two AND'ed apiKey schemes.
type APIKey struct{}

// NewAPIKey creates the apiKey scheme handler.
func NewAPIKey() APIKey {
	return APIKey{}
}

// Authenticate implements the Handler interface.
func (APIKey) Authenticate(_ context.Context, r *Request, _ string, def catalog.SecurityDef, _ []string) (bool, error) {
	var value string
	switch def.In {
	case inHeader, "":
		value = r.HTTP.Header.Get(def.Name)
	case inQuery:
		value = r.HTTP.URL.Query().Get(def.Name)
	default:
		return false, nil
	}

	if value == "" {
		return false, nil
	}

	expected := r.Entry.ClientID
	if strings.Contains(strings.ToLower(def.Name), "secret") {
		expected = r.Entry.ClientSecret
	}
	if expected == "" {
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(value), []byte(expected)) == 1, nil
}
