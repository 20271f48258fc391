// Package authctx models the auth collaborator described in §6: it is an
// external system (JWT/JWKS verification is out of scope), so this package
// only defines the shape the core consumes and a permissive development
// implementation so the module runs standalone.
package authctx

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Principal is the verified identity the auth collaborator attaches to a
// request. The ingestion orchestrator records Email as uploaded_by; no
// service-delegated end-user header is consulted.
type Principal struct {
	Email string
	Sub   string
}

// ErrUnauthorized is returned by a Verifier when no valid principal can be
// established.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier authenticates an inbound HTTP request and returns the caller's
// principal. A production verifier validates a bearer JWT against a JWKS
// endpoint; that is explicitly out of scope here (§1).
type Verifier interface {
	Verify(r *http.Request) (Principal, error)
}

// DevVerifier is a permissive stand-in: it trusts an X-Debug-User header,
// otherwise maps any request carrying an Authorization header (unchecked)
// to the fixed default principal, and rejects a request with neither, so
// the pipelines can be exercised without a real identity provider wired up.
type DevVerifier struct {
	DefaultEmail string
}

func NewDevVerifier(defaultEmail string) *DevVerifier {
	if defaultEmail == "" {
		defaultEmail = "dev@local"
	}
	return &DevVerifier{DefaultEmail: defaultEmail}
}

func (v *DevVerifier) Verify(r *http.Request) (Principal, error) {
	if email := strings.TrimSpace(r.Header.Get("X-Debug-User")); email != "" {
		return Principal{Email: email, Sub: email}, nil
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return Principal{}, ErrUnauthorized
	}
	return Principal{Email: v.DefaultEmail, Sub: v.DefaultEmail}, nil
}

type principalKey struct{}

// WithPrincipal attaches a Principal to ctx for downstream orchestrators.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the Principal attached by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
