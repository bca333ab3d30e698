// Package audit records security-relevant events (credential checks,
// authorization denials, rate limit rejections) as structured log lines
// so they can be shipped to the same sink as application logs.
package audit

import (
	"context"
	"net/http"

	"github.com/crewflow/crewflow/pkg/contextkeys"
	"github.com/crewflow/crewflow/pkg/credentials"
	"github.com/crewflow/crewflow/pkg/observability"
)

// Event names recorded by the trail.
const (
	EventAuthSuccess     = "auth.success"
	EventAuthFailure     = "auth.failure"
	EventSuspendedAccess = "auth.suspended"
	EventAccessDenied    = "authz.denied"
	EventRateLimited     = "ratelimit.rejected"
	EventTokenIssued     = "agent.token_issued"
)

// Event is a single security audit record.
type Event struct {
	Name           string
	PrincipalID    string
	CredentialType string
	TenantID       string
	Method         string
	Path           string
	SourceIP       string
	RequestID      string
	Detail         string
}

// Trail writes audit events through the structured logger. A nil Trail
// is valid and drops every event, so callers never need to guard.
type Trail struct {
	logger *observability.Logger
}

// NewTrail creates an audit trail backed by the given logger.
func NewTrail(logger *observability.Logger) *Trail {
	return &Trail{logger: logger}
}

// Record writes one audit event. Missing request IDs are filled from
// the context when available.
func (t *Trail) Record(ctx context.Context, ev Event) {
	if t == nil || t.logger == nil {
		return
	}
	if ev.RequestID == "" {
		ev.RequestID = contextkeys.GetRequestID(ctx)
	}

	entry := t.logger.WithFields(map[string]interface{}{
		"audit":           true,
		"event":           ev.Name,
		"principal_id":    ev.PrincipalID,
		"credential_type": ev.CredentialType,
		"tenant_id":       ev.TenantID,
		"method":          ev.Method,
		"path":            ev.Path,
		"source_ip":       ev.SourceIP,
		"request_id":      ev.RequestID,
	})

	switch ev.Name {
	case EventAuthSuccess, EventTokenIssued:
		entry.Info(ev.Detail)
	default:
		entry.Warn(ev.Detail)
	}
}

// FromRequest builds an event pre-populated from the request and any
// identity already attached to its context.
func FromRequest(r *http.Request, name, detail string) Event {
	ev := Event{
		Name:      name,
		Method:    r.Method,
		Path:      r.URL.Path,
		SourceIP:  clientIP(r),
		RequestID: contextkeys.GetRequestID(r.Context()),
		Detail:    detail,
	}
	if p, ok := r.Context().Value(contextkeys.PrincipalKey).(*credentials.Principal); ok && p != nil {
		ev.PrincipalID = p.ID
		ev.CredentialType = string(p.Type)
	}
	if tn, ok := r.Context().Value(contextkeys.TenantKey).(*credentials.Tenant); ok && tn != nil {
		ev.TenantID = tn.ID
	}
	return ev
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
