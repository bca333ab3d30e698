package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewflow/crewflow/pkg/contextkeys"
	"github.com/crewflow/crewflow/pkg/credentials"
	"github.com/crewflow/crewflow/pkg/observability"
)

func trailWithBuffer() (*Trail, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewTrail(observability.NewLogger(observability.InfoLevel, &buf)), &buf
}

func TestRecordEmitsStructuredEvent(t *testing.T) {
	trail, buf := trailWithBuffer()

	trail.Record(context.Background(), Event{
		Name:        EventAccessDenied,
		PrincipalID: "user-1",
		TenantID:    "c1",
		Path:        "/api/v1/projects/p1",
		Detail:      "missing project:edit",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, true, entry["audit"])
	assert.Equal(t, EventAccessDenied, entry["event"])
	assert.Equal(t, "user-1", entry["principal_id"])
	assert.Equal(t, "missing project:edit", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
}

func TestRecordSuccessEventsLogAtInfo(t *testing.T) {
	trail, buf := trailWithBuffer()

	trail.Record(context.Background(), Event{Name: EventTokenIssued, Detail: "issued"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
}

func TestRecordFillsRequestIDFromContext(t *testing.T) {
	trail, buf := trailWithBuffer()
	ctx := contextkeys.WithRequestID(context.Background(), "req-7")

	trail.Record(ctx, Event{Name: EventAuthFailure, Detail: "bad token"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-7", entry["request_id"])
}

func TestNilTrailDropsEvents(t *testing.T) {
	var trail *Trail
	trail.Record(context.Background(), Event{Name: EventAuthFailure})
}

func TestFromRequestPullsIdentity(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/projects/p1/agents/a1/token", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	ctx := contextkeys.WithPrincipal(req.Context(), &credentials.Principal{
		ID:   "admin-1",
		Type: credentials.CredentialTypeUser,
	})
	ctx = contextkeys.WithTenant(ctx, &credentials.Tenant{ID: "c1"})
	req = req.WithContext(ctx)

	ev := FromRequest(req, EventTokenIssued, "issued for a1")
	assert.Equal(t, "admin-1", ev.PrincipalID)
	assert.Equal(t, "user", ev.CredentialType)
	assert.Equal(t, "c1", ev.TenantID)
	assert.Equal(t, "203.0.113.9", ev.SourceIP)
	assert.Equal(t, "POST", ev.Method)
}
