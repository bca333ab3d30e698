// Package transport wraps an HTTP client with credential attachment and
// the single refresh-and-retry cycle the session layer guarantees.
package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/crewflow/crewflow/pkg/session"
)

// Session is the slice of the session manager the transport consumes.
type Session interface {
	IdleExceeded() bool
	ForceExpire(reason string)
	Credential() (*session.Credential, error)
	Refresh(ctx context.Context) (*session.Credential, error)
}

// Authenticated is an http.RoundTripper that attaches the live
// credential to every request. Before dispatch it enforces the
// inactivity timeout; after dispatch it performs exactly one
// refresh-and-retry on a 401, never more, so a permanently-invalid
// credential cannot cause a retry loop.
type Authenticated struct {
	base     http.RoundTripper
	sessions Session
}

// NewAuthenticated creates the transport. base may be nil, in which case
// http.DefaultTransport is used.
func NewAuthenticated(base http.RoundTripper, sessions Session) *Authenticated {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Authenticated{base: base, sessions: sessions}
}

// Client returns an http.Client dispatching through the transport.
func Client(sessions Session) *http.Client {
	return &http.Client{Transport: NewAuthenticated(nil, sessions)}
}

// RoundTrip implements http.RoundTripper.
func (t *Authenticated) RoundTrip(req *http.Request) (*http.Response, error) {
	// An idle session must not produce traffic: force the expiry the
	// watcher would have applied and abort before dispatch.
	if t.sessions.IdleExceeded() {
		t.sessions.ForceExpire("inactivity timeout")
		return nil, session.ErrExpired
	}

	cred, err := t.sessions.Credential()
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(t.withToken(req, cred.Token))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// A request body without GetBody cannot be replayed; hand the 401
	// back rather than retry with a drained body.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	cred, err = t.sessions.Refresh(req.Context())
	if err != nil {
		// The renewal failed; the session is gone and the caller
		// reacts by re-authenticating.
		return nil, err
	}

	retry := t.withToken(req, cred.Token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base.RoundTrip(retry)
}

func (t *Authenticated) withToken(req *http.Request, token string) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return clone
}
