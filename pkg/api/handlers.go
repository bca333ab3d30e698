package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/crewflow/crewflow/pkg/apierror"
	"github.com/crewflow/crewflow/pkg/audit"
	"github.com/crewflow/crewflow/pkg/authz"
	"github.com/crewflow/crewflow/pkg/credentials"
	"github.com/crewflow/crewflow/pkg/directory"
	"github.com/crewflow/crewflow/pkg/httputil"
	"github.com/crewflow/crewflow/pkg/middleware"
)

// getSessionPolicy returns the effective session-timeout policy for the
// calling user. The client's session manager polls this to pick up
// company enforcement changes without a re-login.
func (s *Server) getSessionPolicy(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFrom(r.Context())

	policy, err := s.deps.Directory.SessionPolicy(r.Context(), principal.ID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			httputil.WriteSuccess(w, directory.ResolvePolicy(0, false, 0))
			return
		}
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, policy)
}

// companyResponse is the tenant overview. Members is only populated for
// callers holding company:manage_members; everyone else gets the narrow
// shape.
type companyResponse struct {
	ID      string                       `json:"id"`
	Name    string                       `json:"name"`
	Tier    credentials.SubscriptionTier `json:"tier"`
	Members []directory.Member           `json:"members,omitempty"`
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	perms := middleware.PermissionsFrom(r.Context())

	resp := companyResponse{
		ID:   tenant.ID,
		Name: tenant.Name,
		Tier: tenant.Tier,
	}

	if perms.Has(authz.PermissionCompanyManageMembers) {
		members, err := s.deps.Directory.Members(r.Context(), tenant.ID)
		if err != nil {
			httputil.WriteAPIError(w, err)
			return
		}
		resp.Members = members
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.tenantProject(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, project)
}

// updateProjectRequest carries the project's mutable fields.
type updateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.tenantProject(w, r)
	if !ok {
		return
	}

	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteAPIError(w, apierror.Validation("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httputil.WriteAPIError(w, apierror.Validation("name is required"))
		return
	}

	project.Name = strings.TrimSpace(req.Name)
	project.Description = req.Description
	if err := s.deps.Directory.UpdateProject(r.Context(), project); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// tenantProject loads the route's project and enforces tenant isolation:
// a project belonging to another company is indistinguishable from a
// missing one.
func (s *Server) tenantProject(w http.ResponseWriter, r *http.Request) (*directory.Project, bool) {
	tenant := middleware.TenantFrom(r.Context())
	projectID := mux.Vars(r)["project_id"]

	project, err := s.deps.Directory.Project(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			httputil.WriteAPIError(w, apierror.Validation("project not found"))
			return nil, false
		}
		httputil.WriteAPIError(w, err)
		return nil, false
	}
	if project.CompanyID != tenant.ID {
		httputil.WriteAPIError(w, apierror.Validation("project not found"))
		return nil, false
	}
	return project, true
}

// agentTokenResponse is the issued machine credential.
type agentTokenResponse struct {
	Token     string    `json:"token"`
	AgentID   string    `json:"agentId"`
	ProjectID string    `json:"projectId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// issueAgentToken mints a project-bound credential for an agent. The
// route demands agent:manage and sits behind the strict limiter.
func (s *Server) issueAgentToken(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID := vars["project_id"]
	agentID := vars["agent_id"]

	if _, ok := s.tenantProject(w, r); !ok {
		return
	}

	agent, err := s.deps.Directory.Agent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			httputil.WriteAPIError(w, apierror.Validation("agent not found"))
			return
		}
		httputil.WriteAPIError(w, err)
		return
	}
	if agent.ProjectID != projectID {
		httputil.WriteAPIError(w, apierror.Validation("agent not found"))
		return
	}
	if !agent.Active {
		httputil.WriteAPIError(w, apierror.Validation("agent is not active"))
		return
	}

	token, expiresAt, err := s.deps.Agents.Issue(agentID, projectID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	s.deps.Trail.Record(r.Context(), audit.FromRequest(r, audit.EventTokenIssued, "agent token issued for "+agentID))

	httputil.WriteCreated(w, agentTokenResponse{
		Token:     token,
		AgentID:   agentID,
		ProjectID: projectID,
		ExpiresAt: expiresAt,
	})
}

// agentSelfResponse is the agent's own identity and binding, used by
// agents to introspect their credential.
type agentSelfResponse struct {
	Agent     directory.Agent `json:"agent"`
	ProjectID string          `json:"projectId"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func (s *Server) getAgentSelf(w http.ResponseWriter, r *http.Request) {
	identity := middleware.AgentFrom(r.Context())

	agent, err := s.deps.Directory.Agent(r.Context(), identity.AgentID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, agentSelfResponse{
		Agent:     *agent,
		ProjectID: identity.ProjectID,
		ExpiresAt: identity.ExpiresAt,
	})
}
