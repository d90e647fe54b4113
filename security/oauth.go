package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/edgegate/edgegate/catalog"
)

const (
	authHeaderName   = "Authorization"
	authHeaderPrefix = "Bearer "

	scopeClaim = "scope"
)

// OAuth checks an oauth2 scheme by validating the bearer token of the
// request as a signed JWT and matching its granted scopes against the
// scopes the requirement demands. Token issuance is a separate protocol
// implementation, this handler only verifies the outcome.
type OAuth struct {
	key []byte
}

// NewOAuth creates the oauth2 scheme handler verifying tokens with the
// given HMAC key.
func NewOAuth(key []byte) *OAuth {
	return &OAuth{key: key}
}

// Authenticate implements the Handler interface.
func (o *OAuth) Authenticate(_ context.Context, r *Request, _ string, _ catalog.SecurityDef, scopes []string) (bool, error) {
	header := r.HTTP.Header.Get(authHeaderName)
	if !strings.HasPrefix(header, authHeaderPrefix) {
		r.Challenge.WWWAuthenticate = "Bearer"
		return false, nil
	}

	token, err := jwt.Parse(strings.TrimPrefix(header, authHeaderPrefix), func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return o.key, nil
	})
	if err != nil || !token.Valid {
		r.Challenge.WWWAuthenticate = `Bearer error="invalid_token"`
		return false, nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		r.Challenge.WWWAuthenticate = `Bearer error="invalid_token"`
		return false, nil
	}

	if !grantedScopes(claims).containsAll(scopes) {
		r.Challenge.WWWAuthenticate = `Bearer error="insufficient_scope"`
		return false, nil
	}

	return true, nil
}

type scopeSet map[string]struct{}

func (s scopeSet) containsAll(scopes []string) bool {
	for _, scope := range scopes {
		if _, ok := s[scope]; !ok {
			return false
		}
	}
	return true
}

// grantedScopes reads the scope claim, either the RFC 8693 space
// separated string or an array of strings.
func grantedScopes(claims jwt.MapClaims) scopeSet {
	granted := scopeSet{}
	switch v := claims[scopeClaim].(type) {
	case string:
		for _, s := range strings.Fields(v) {
			granted[s] = struct{}{}
		}
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				granted[s] = struct{}{}
			}
		}
	}
	return granted
}
