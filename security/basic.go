package security

import (
	"context"
	"fmt"
	"net/http"
	"time"

	auth "github.com/abbot/go-http-auth"

	"github.com/edgegate/edgegate/catalog"
)

const (
	// DefaultRealm is used in the WWW-Authenticate challenge when no
	// realm is configured.
	DefaultRealm = "edgegate"

	defaultBackendTimeout = 5 * time.Second
)

// Basic checks a basic scheme either against a local htpasswd user
// registry or, when the definition carries an authorization URL, against
// a remote registry. Only the pass/fail contract of the remote registry
// is used: a 2xx answer to a request with the forwarded credentials
// passes, everything else fails. A transport error is a transient
// failure, it does not reject the remaining OR branches.
type Basic struct {
	realm         string
	authenticator *auth.BasicAuth
	client        *http.Client
}

// BasicOptions configure the basic scheme handler.
type BasicOptions struct {
	// Realm rendered in the challenge, DefaultRealm when empty.
	Realm string

	// HtpasswdFile is the local user registry. Optional, schemes
	// without an authorization URL fail when it is not set.
	HtpasswdFile string

	// Client used for remote registries, mainly for tests.
	Client *http.Client
}

// NewBasic creates the basic scheme handler.
func NewBasic(o BasicOptions) *Basic {
	b := &Basic{realm: o.Realm, client: o.Client}

	if b.realm == "" {
		b.realm = DefaultRealm
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: defaultBackendTimeout}
	}
	if o.HtpasswdFile != "" {
		b.authenticator = auth.NewBasicAuthenticator(b.realm, auth.HtpasswdFileProvider(o.HtpasswdFile))
	}

	return b
}

// Authenticate implements the Handler interface.
func (b *Basic) Authenticate(ctx context.Context, r *Request, _ string, def catalog.SecurityDef, _ []string) (bool, error) {
	ok, err := b.check(ctx, r, def)
	if !ok {
		r.Challenge.WWWAuthenticate = fmt.Sprintf("Basic realm=%q", b.realm)
	}
	return ok, err
}

func (b *Basic) check(ctx context.Context, r *Request, def catalog.SecurityDef) (bool, error) {
	if def.AuthURL != "" {
		return b.checkRemote(ctx, r, def.AuthURL)
	}

	if b.authenticator == nil {
		return false, nil
	}

	return b.authenticator.CheckAuth(r.HTTP) != "", nil
}

func (b *Basic) checkRemote(ctx context.Context, r *Request, url string) (bool, error) {
	user, pass, ok := r.HTTP.BasicAuth()
	if !ok {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(user, pass)

	rsp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("basic auth backend: %w", err)
	}
	rsp.Body.Close()

	return rsp.StatusCode >= 200 && rsp.StatusCode < 300, nil
}
