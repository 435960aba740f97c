package workflow

import (
	"context"
	"fmt"
	"strings"

	"ancla-aem/core/rbac"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

// Actor is the authenticated principal performing a workflow action.
type Actor struct {
	UserID   int64
	Username string
	Roles    []store.Role
}

func (a Actor) roleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, r := range a.Roles {
		names = append(names, r.Name)
	}
	return names
}

func (a Actor) hasRoleID(id int64) bool {
	for _, r := range a.Roles {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Service is the incident workflow engine. Every mutation goes through
// it: it checks authority, validates inputs against the catalogs, and
// delegates the state transition to a single store transaction.
type Service struct {
	incidents store.IncidentsStore
	ledger    store.LedgerStore
	catalog   store.CatalogStore
	resolver  *RoundResolver
	policy    *rbac.Policy
	logger    *utils.Logger
}

func NewService(incidents store.IncidentsStore, ledger store.LedgerStore, catalog store.CatalogStore, resolver *RoundResolver, policy *rbac.Policy, logger *utils.Logger) *Service {
	return &Service{
		incidents: incidents,
		ledger:    ledger,
		catalog:   catalog,
		resolver:  resolver,
		policy:    policy,
		logger:    logger,
	}
}

func (s *Service) canUpdate(actor Actor) bool {
	return s.policy.Allowed(actor.roleNames(), rbac.PermIncidentsUpdate)
}

// canOverride reports whether the actor may act in place of the
// assignee or a required role. This is an explicit grant, never
// inferred from a role's name.
func (s *Service) canOverride(actor Actor) bool {
	return s.policy.Allowed(actor.roleNames(), rbac.PermIncidentsOverride)
}

func (s *Service) Get(ctx context.Context, id int64) (*store.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	return inc, nil
}

func (s *Service) Assign(ctx context.Context, actor Actor, incidentID, assigneeID int64, comment string) (*store.Incident, error) {
	if !s.canUpdate(actor) {
		return nil, ErrForbidden
	}
	inc, err := s.incidents.AssignIncident(ctx, incidentID, assigneeID, actor.UserID, comment)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.logger.Printf("incident %d assigned to user %d by %s", incidentID, assigneeID, actor.Username)
	return inc, nil
}

// RequestAuthorization opens a co-signing round for the incident's
// criticality. Only the assignee (or an override holder) may start one.
func (s *Service) RequestAuthorization(ctx context.Context, actor Actor, incidentID int64, comment string) (*store.Incident, []store.AuthorizationRequest, error) {
	inc, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requireAssignee(actor, inc); err != nil {
		return nil, nil, err
	}
	roleIDs, err := s.resolver.RequiredRoles(ctx, inc.Criticality)
	if err != nil {
		return nil, nil, err
	}
	inc, batch, err := s.incidents.OpenAuthorizationRound(ctx, incidentID, roleIDs, actor.UserID, comment)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	s.logger.Printf("incident %d: authorization round opened with %d slot(s)", incidentID, len(batch))
	return inc, batch, nil
}

func (s *Service) CancelAuthorizationRequest(ctx context.Context, actor Actor, incidentID int64, comment string) (*store.Incident, error) {
	inc, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAssignee(actor, inc); err != nil {
		return nil, err
	}
	inc, err = s.incidents.CancelAuthorizationRound(ctx, incidentID, actor.UserID, comment)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return inc, nil
}

// Vote records one role's decision. The actor must hold the exact role
// the request slot names, or the override grant. An approving vote that
// closes the round carries the resolve effect with it.
func (s *Service) Vote(ctx context.Context, actor Actor, incidentID, requestID int64, approve bool, comment string) (*store.VoteOutcome, error) {
	req, err := s.incidents.GetAuthorizationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.IncidentID != incidentID {
		return nil, ErrNotFound
	}
	if !actor.hasRoleID(req.RoleID) && !s.canOverride(actor) {
		return nil, ErrForbidden
	}
	params := store.VoteParams{
		IncidentID: incidentID,
		RequestID:  requestID,
		ActorID:    actor.UserID,
		Approve:    approve,
		Comment:    comment,
	}
	if approve {
		res, err := s.resolutionFor(ctx, incidentID)
		if err != nil {
			return nil, err
		}
		params.Resolution = res
	}
	outcome, err := s.incidents.VoteAuthorization(ctx, params)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if outcome.RoundComplete {
		s.logger.Printf("incident %d resolved via completed authorization round (vote by %s)", incidentID, actor.Username)
	}
	return outcome, nil
}

// Resolve is the direct path for incidents that require no
// authorization. It validates the status code against the catalog
// before touching state.
func (s *Service) Resolve(ctx context.Context, actor Actor, incidentID int64, statusCode, comment string) (*store.Incident, error) {
	inc, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAssignee(actor, inc); err != nil {
		return nil, err
	}
	st, err := s.catalog.ResolveStatusByCode(ctx, statusCode)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, strings.TrimSpace(statusCode))
	}
	inc, err = s.incidents.ResolveIncident(ctx, store.ResolveParams{
		IncidentID: incidentID,
		ActorID:    actor.UserID,
		Comment:    comment,
		Resolution: store.LedgerResolution{
			EmployeeID: inc.EmployeeID,
			WorkDate:   inc.WorkDate,
			StatusCode: st.Code,
		},
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.logger.Printf("incident %d resolved directly by %s with status %s", incidentID, actor.Username, st.Code)
	return inc, nil
}

func (s *Service) List(ctx context.Context, filter store.IncidentFilter) ([]store.Incident, error) {
	return s.incidents.ListIncidents(ctx, filter)
}

func (s *Service) Audit(ctx context.Context, incidentID int64) ([]store.AuditEntry, error) {
	inc, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return s.incidents.ListAudit(ctx, inc.ID)
}

func (s *Service) Requests(ctx context.Context, incidentID int64) ([]store.AuthorizationRequest, error) {
	inc, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return s.incidents.ListAuthorizationRequests(ctx, inc.ID)
}

func (s *Service) requireAssignee(actor Actor, inc *store.Incident) error {
	if inc.AssigneeUserID != nil && *inc.AssigneeUserID == actor.UserID {
		return nil
	}
	if s.canOverride(actor) {
		return nil
	}
	return ErrForbidden
}

// resolutionFor rebuilds the ledger write for a potentially-closing
// vote from the incident's proposed status. The code is validated here
// so a missing or bad catalog entry surfaces as ErrInvalidStatus before
// the transaction starts; the engine never invents a correction.
func (s *Service) resolutionFor(ctx context.Context, incidentID int64) (*store.LedgerResolution, error) {
	inc, err := s.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(inc.ProposedStatusCode)
	if code == "" {
		return nil, fmt.Errorf("%w: incident %d has no proposed status", ErrInvalidStatus, incidentID)
	}
	st, err := s.catalog.ResolveStatusByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, code)
	}
	return &store.LedgerResolution{
		EmployeeID: inc.EmployeeID,
		WorkDate:   inc.WorkDate,
		StatusCode: st.Code,
	}, nil
}
