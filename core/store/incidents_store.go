package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrAlreadyDecided = errors.New("already decided")
)

type IncidentState string

const (
	StateNew                  IncidentState = "new"
	StateAssigned             IncidentState = "assigned"
	StatePendingAuthorization IncidentState = "pending_authorization"
	StateResolved             IncidentState = "resolved"
	StateCancelled            IncidentState = "cancelled"
)

func (s IncidentState) Terminal() bool {
	return s == StateResolved || s == StateCancelled
}

type AuditAction string

const (
	AuditAssign                AuditAction = "assign"
	AuditResolve               AuditAction = "resolve"
	AuditRequestAuthorization  AuditAction = "request_authorization"
	AuditCancelRequest         AuditAction = "cancel_request"
	AuditVoteApprove           AuditAction = "vote_approve"
	AuditVoteReject            AuditAction = "vote_reject"
	AuditAuthorizationComplete AuditAction = "authorization_complete"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Incident is the case record for one attendance discrepancy, scoped to
// exactly one employee-day. It is created by detection and mutated only
// through the compound operations below; terminal states are final.
type Incident struct {
	ID                    int64         `json:"id"`
	EmployeeID            int64         `json:"employee_id"`
	WorkDate              string        `json:"work_date"`
	IncidentType          string        `json:"incident_type,omitempty"`
	Criticality           int           `json:"criticality"`
	State                 IncidentState `json:"state"`
	AssigneeUserID        *int64        `json:"assignee_user_id,omitempty"`
	RequiresAuthorization bool          `json:"requires_authorization"`
	ProposedStatusCode    string        `json:"proposed_status_code,omitempty"`
	ClosedAt              *time.Time    `json:"closed_at,omitempty"`
	ResolvedBy            *int64        `json:"resolved_by,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	Version               int           `json:"version"`
}

type AuthorizationRequest struct {
	ID          int64         `json:"id"`
	IncidentID  int64         `json:"incident_id"`
	RoleID      int64         `json:"role_id"`
	Status      RequestStatus `json:"status"`
	RespondedBy *int64        `json:"responded_by,omitempty"`
	RespondedAt *time.Time    `json:"responded_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// AuditEntry is one line of the per-incident audit ledger. The table is
// insert-only; no update or delete path exists anywhere in the store.
type AuditEntry struct {
	ID          int64         `json:"id"`
	IncidentID  int64         `json:"incident_id"`
	ActorUserID int64         `json:"actor_user_id"`
	Action      AuditAction   `json:"action"`
	Comment     string        `json:"comment,omitempty"`
	ResultState IncidentState `json:"result_state"`
	CreatedAt   time.Time     `json:"created_at"`
}

type IncidentFilter struct {
	State      IncidentState
	EmployeeID int64
	Assignee   int64
	Limit      int
	Offset     int
}

// LedgerResolution carries the ledger write performed inside a resolve
// transaction: set the manual status and clear the incident lock.
type LedgerResolution struct {
	EmployeeID int64
	WorkDate   string
	StatusCode string
}

type VoteParams struct {
	IncidentID int64
	RequestID  int64
	ActorID    int64
	Approve    bool
	Comment    string
	// Resolution must be set for approving votes; it is applied only if
	// this vote turns out to be the one that completes the round.
	Resolution *LedgerResolution
}

type ResolveParams struct {
	IncidentID int64
	ActorID    int64
	Comment    string
	Resolution LedgerResolution
}

type VoteOutcome struct {
	Request          AuthorizationRequest `json:"request"`
	Incident         *Incident            `json:"incident"`
	RemainingPending int                  `json:"remaining_pending"`
	RoundComplete    bool                 `json:"round_complete"`
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, inc *Incident) (int64, error)
	CreateIncidentWithLock(ctx context.Context, inc *Incident) (int64, error)
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	ListAuthorizationRequests(ctx context.Context, incidentID int64) ([]AuthorizationRequest, error)
	GetAuthorizationRequest(ctx context.Context, id int64) (*AuthorizationRequest, error)
	ListAudit(ctx context.Context, incidentID int64) ([]AuditEntry, error)

	AssignIncident(ctx context.Context, incidentID, assigneeID, actorID int64, comment string) (*Incident, error)
	OpenAuthorizationRound(ctx context.Context, incidentID int64, roleIDs []int64, actorID int64, comment string) (*Incident, []AuthorizationRequest, error)
	CancelAuthorizationRound(ctx context.Context, incidentID, actorID int64, comment string) (*Incident, error)
	VoteAuthorization(ctx context.Context, p VoteParams) (*VoteOutcome, error)
	ResolveIncident(ctx context.Context, p ResolveParams) (*Incident, error)
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

func (s *incidentsStore) CreateIncident(ctx context.Context, inc *Incident) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := s.insertIncidentTx(ctx, tx, inc)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateIncidentWithLock inserts the incident and claims the ledger
// row's active-incident lock in one transaction. The lock claim is
// guarded on the lock being free, which also enforces the one open
// incident per employee-day rule.
func (s *incidentsStore) CreateIncidentWithLock(ctx context.Context, inc *Incident) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := s.insertIncidentTx(ctx, tx, inc)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE attendance_ledger SET active_incident_id=?, updated_at=?
		WHERE employee_id=? AND work_date=? AND active_incident_id IS NULL`,
		id, time.Now().UTC(), inc.EmployeeID, inc.WorkDate)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return 0, fmt.Errorf("ledger lock for employee %d on %s: %w", inc.EmployeeID, inc.WorkDate, ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *incidentsStore) insertIncidentTx(ctx context.Context, tx *sql.Tx, inc *Incident) (int64, error) {
	if inc.Criticality <= 0 {
		inc.Criticality = 1
	}
	if inc.Version <= 0 {
		inc.Version = 1
	}
	if strings.TrimSpace(string(inc.State)) == "" {
		inc.State = StateNew
	}
	now := time.Now().UTC()
	var id int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO incidents(employee_id, work_date, incident_type, criticality, state, assignee_user_id, requires_authorization, proposed_status_code, closed_at, resolved_by, created_at, updated_at, version)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		inc.EmployeeID, strings.TrimSpace(inc.WorkDate), strings.TrimSpace(inc.IncidentType), inc.Criticality,
		string(inc.State), nullableID(inc.AssigneeUserID), boolToInt(inc.RequiresAuthorization),
		strings.ToUpper(strings.TrimSpace(inc.ProposedStatusCode)), nullableTime(inc.ClosedAt),
		nullableID(inc.ResolvedBy), now, now, inc.Version).Scan(&id); err != nil {
		return 0, err
	}
	inc.ID = id
	inc.CreatedAt = now
	inc.UpdatedAt = now
	return id, nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, incidentSelect+` WHERE id=?`, id)
	return scanIncidentRow(row)
}

const incidentSelect = `
	SELECT id, employee_id, work_date, incident_type, criticality, state, assignee_user_id, requires_authorization, proposed_status_code, closed_at, resolved_by, created_at, updated_at, version
	FROM incidents`

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if filter.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, string(filter.State))
	}
	if filter.EmployeeID > 0 {
		clauses = append(clauses, "employee_id=?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Assignee > 0 {
		clauses = append(clauses, "assignee_user_id=?")
		args = append(args, filter.Assignee)
	}
	query := incidentSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncidentRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) ListAuthorizationRequests(ctx context.Context, incidentID int64) ([]AuthorizationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, role_id, status, responded_by, responded_at, created_at
		FROM authorization_requests WHERE incident_id=? ORDER BY id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuthorizationRequest
	for rows.Next() {
		var req AuthorizationRequest
		var by sql.NullInt64
		var at sql.NullTime
		if err := rows.Scan(&req.ID, &req.IncidentID, &req.RoleID, &req.Status, &by, &at, &req.CreatedAt); err != nil {
			return nil, err
		}
		if by.Valid {
			req.RespondedBy = &by.Int64
		}
		if at.Valid {
			req.RespondedAt = &at.Time
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (s *incidentsStore) GetAuthorizationRequest(ctx context.Context, id int64) (*AuthorizationRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, role_id, status, responded_by, responded_at, created_at
		FROM authorization_requests WHERE id=?`, id)
	var req AuthorizationRequest
	var by sql.NullInt64
	var at sql.NullTime
	if err := row.Scan(&req.ID, &req.IncidentID, &req.RoleID, &req.Status, &by, &at, &req.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if by.Valid {
		req.RespondedBy = &by.Int64
	}
	if at.Valid {
		req.RespondedAt = &at.Time
	}
	return &req, nil
}

// ListAudit returns the incident's trail in append order. Timestamp
// ascending is the only ordering consumers may rely on; id breaks ties
// for entries written in the same transaction.
func (s *incidentsStore) ListAudit(ctx context.Context, incidentID int64) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, actor_user_id, action, comment, result_state, created_at
		FROM incident_audit WHERE incident_id=? ORDER BY created_at ASC, id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.ActorUserID, &e.Action, &e.Comment, &e.ResultState, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// lockIncidentTx writes the incident row before anything else in the
// transaction. Under postgres this takes the row lock, serializing
// every transition on the same incident; under sqlite the single writer
// gives the same guarantee. Returns ErrNotFound for absent incidents.
func (s *incidentsStore) lockIncidentTx(ctx context.Context, tx *sql.Tx, id int64, now time.Time) (*Incident, error) {
	res, err := tx.ExecContext(ctx, `UPDATE incidents SET updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	row := tx.QueryRowContext(ctx, incidentSelect+` WHERE id=?`, id)
	inc, err := scanIncidentRow(row)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	return inc, nil
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, incidentID, actorID int64, action AuditAction, comment string, result IncidentState, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO incident_audit(incident_id, actor_user_id, action, comment, result_state, created_at)
		VALUES(?,?,?,?,?,?)`, incidentID, actorID, string(action), strings.TrimSpace(comment), string(result), now)
	return err
}

func (s *incidentsStore) AssignIncident(ctx context.Context, incidentID, assigneeID, actorID int64, comment string) (*Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	inc, err := s.lockIncidentTx(ctx, tx, incidentID, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if inc.State.Terminal() || inc.State == StatePendingAuthorization {
		tx.Rollback()
		return nil, fmt.Errorf("assign from %s: %w", inc.State, ErrInvalidState)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET assignee_user_id=?, state=?, updated_at=?, version=version+1
		WHERE id=? AND state IN (?,?)`,
		assigneeID, string(StateAssigned), now, incidentID, string(StateNew), string(StateAssigned))
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return nil, ErrConflict
	}
	if err := appendAuditTx(ctx, tx, incidentID, actorID, AuditAssign, comment, StateAssigned, now); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	inc.AssigneeUserID = &assigneeID
	inc.State = StateAssigned
	inc.UpdatedAt = now
	inc.Version++
	return inc, nil
}

// OpenAuthorizationRound flips the incident into pending_authorization
// and creates one pending request per required role, atomically. A
// round with zero roles is legal: the incident stays pending until it
// is cancelled.
func (s *incidentsStore) OpenAuthorizationRound(ctx context.Context, incidentID int64, roleIDs []int64, actorID int64, comment string) (*Incident, []AuthorizationRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	inc, err := s.lockIncidentTx(ctx, tx, incidentID, now)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if inc.State != StateAssigned {
		tx.Rollback()
		return nil, nil, fmt.Errorf("request authorization from %s: %w", inc.State, ErrInvalidState)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET state=?, requires_authorization=1, updated_at=?, version=version+1
		WHERE id=? AND state=?`,
		string(StatePendingAuthorization), now, incidentID, string(StateAssigned))
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return nil, nil, ErrConflict
	}
	// A new round always starts from a clean batch; slots left over
	// from a vetoed round must not count against this one.
	if _, err := tx.ExecContext(ctx, `DELETE FROM authorization_requests WHERE incident_id=?`, incidentID); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	var batch []AuthorizationRequest
	for _, roleID := range roleIDs {
		var reqID int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO authorization_requests(incident_id, role_id, status, created_at)
			VALUES(?,?,?,?) RETURNING id`,
			incidentID, roleID, string(RequestPending), now).Scan(&reqID); err != nil {
			tx.Rollback()
			return nil, nil, err
		}
		batch = append(batch, AuthorizationRequest{
			ID:         reqID,
			IncidentID: incidentID,
			RoleID:     roleID,
			Status:     RequestPending,
			CreatedAt:  now,
		})
	}
	if err := appendAuditTx(ctx, tx, incidentID, actorID, AuditRequestAuthorization, comment, StatePendingAuthorization, now); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	inc.State = StatePendingAuthorization
	inc.RequiresAuthorization = true
	inc.UpdatedAt = now
	inc.Version++
	return inc, batch, nil
}

// CancelAuthorizationRound deletes the whole request batch and returns
// the incident to assigned. A later request starts a fresh batch; no
// rows from the old round survive.
func (s *incidentsStore) CancelAuthorizationRound(ctx context.Context, incidentID, actorID int64, comment string) (*Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	inc, err := s.lockIncidentTx(ctx, tx, incidentID, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if inc.State != StatePendingAuthorization {
		tx.Rollback()
		return nil, fmt.Errorf("cancel from %s: %w", inc.State, ErrInvalidState)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM authorization_requests WHERE incident_id=?`, incidentID); err != nil {
		tx.Rollback()
		return nil, err
	}
	// requires_authorization stays set: it records that the incident
	// has been through an authorization round, not that one is open.
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET state=?, updated_at=?, version=version+1
		WHERE id=? AND state=?`,
		string(StateAssigned), now, incidentID, string(StatePendingAuthorization))
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return nil, ErrConflict
	}
	if err := appendAuditTx(ctx, tx, incidentID, actorID, AuditCancelRequest, comment, StateAssigned, now); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	inc.State = StateAssigned
	inc.UpdatedAt = now
	inc.Version++
	return inc, nil
}

// VoteAuthorization decides one request slot and, when the approving
// vote leaves no slot pending, cascades into the resolve effect in the
// same transaction. The slot update is guarded on status still being
// pending, so a raced second vote fails with ErrAlreadyDecided and
// writes nothing.
func (s *incidentsStore) VoteAuthorization(ctx context.Context, p VoteParams) (*VoteOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	inc, err := s.lockIncidentTx(ctx, tx, p.IncidentID, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if inc.State != StatePendingAuthorization {
		tx.Rollback()
		return nil, fmt.Errorf("vote from %s: %w", inc.State, ErrInvalidState)
	}
	status := RequestRejected
	if p.Approve {
		status = RequestApproved
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE authorization_requests SET status=?, responded_by=?, responded_at=?
		WHERE id=? AND incident_id=? AND status=?`,
		string(status), p.ActorID, now, p.RequestID, p.IncidentID, string(RequestPending))
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		var exists int
		scanErr := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM authorization_requests WHERE id=? AND incident_id=?`,
			p.RequestID, p.IncidentID).Scan(&exists)
		tx.Rollback()
		if scanErr != nil {
			return nil, scanErr
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyDecided
	}
	outcome := &VoteOutcome{
		Request: AuthorizationRequest{
			ID:          p.RequestID,
			IncidentID:  p.IncidentID,
			Status:      status,
			RespondedBy: &p.ActorID,
			RespondedAt: &now,
		},
	}
	if err := tx.QueryRowContext(ctx, `
		SELECT role_id, created_at FROM authorization_requests WHERE id=?`,
		p.RequestID).Scan(&outcome.Request.RoleID, &outcome.Request.CreatedAt); err != nil {
		tx.Rollback()
		return nil, err
	}
	var remaining int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM authorization_requests WHERE incident_id=? AND status=?`,
		p.IncidentID, string(RequestPending)).Scan(&remaining); err != nil {
		tx.Rollback()
		return nil, err
	}
	outcome.RemainingPending = remaining

	switch {
	case !p.Approve:
		// Veto: the incident drops back to assigned immediately; the
		// other slots keep whatever status they had.
		if err := s.reopenIncidentTx(ctx, tx, p.IncidentID, now); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := appendAuditTx(ctx, tx, p.IncidentID, p.ActorID, AuditVoteReject, p.Comment, StateAssigned, now); err != nil {
			tx.Rollback()
			return nil, err
		}
		inc.State = StateAssigned
	case remaining > 0:
		if err := appendAuditTx(ctx, tx, p.IncidentID, p.ActorID, AuditVoteApprove, p.Comment, StatePendingAuthorization, now); err != nil {
			tx.Rollback()
			return nil, err
		}
	default:
		// Last approval: the round is complete, resolve in this same
		// transaction using the incident's recorded manual status.
		if p.Resolution == nil {
			tx.Rollback()
			return nil, fmt.Errorf("closing vote without resolution: %w", ErrConflict)
		}
		if err := s.resolveTx(ctx, tx, p.IncidentID, p.ActorID, p.Comment, *p.Resolution, StatePendingAuthorization, now); err != nil {
			tx.Rollback()
			return nil, err
		}
		outcome.RoundComplete = true
		inc.State = StateResolved
		inc.ClosedAt = &now
		inc.ResolvedBy = &p.ActorID
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	inc.UpdatedAt = now
	outcome.Incident = inc
	return outcome, nil
}

// ResolveIncident is the direct (no authorization) resolve path. A
// pending_authorization incident cannot be resolved directly; the only
// route out of that state is a vote cascade or a cancel.
func (s *incidentsStore) ResolveIncident(ctx context.Context, p ResolveParams) (*Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	inc, err := s.lockIncidentTx(ctx, tx, p.IncidentID, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if inc.State != StateAssigned {
		tx.Rollback()
		return nil, fmt.Errorf("resolve from %s: %w", inc.State, ErrInvalidState)
	}
	if err := s.resolveTx(ctx, tx, p.IncidentID, p.ActorID, p.Comment, p.Resolution, StateAssigned, now); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	inc.State = StateResolved
	inc.ClosedAt = &now
	inc.ResolvedBy = &p.ActorID
	inc.UpdatedAt = now
	inc.Version++
	return inc, nil
}

func (s *incidentsStore) reopenIncidentTx(ctx context.Context, tx *sql.Tx, incidentID int64, now time.Time) error {
	// requires_authorization stays set on a veto exit, same as cancel.
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET state=?, updated_at=?, version=version+1
		WHERE id=? AND state=?`,
		string(StateAssigned), now, incidentID, string(StatePendingAuthorization))
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

// resolveTx applies the shared resolve effect: ledger manual status +
// lock clear, incident closure, and the audit line, all on the caller's
// transaction. The ledger update is guarded on the row being locked by
// this incident; if it touches nothing the transaction must roll back.
func (s *incidentsStore) resolveTx(ctx context.Context, tx *sql.Tx, incidentID, actorID int64, comment string, res LedgerResolution, fromState IncidentState, now time.Time) error {
	ledger, err := tx.ExecContext(ctx, `
		UPDATE attendance_ledger SET manual_status_code=?, active_incident_id=NULL, updated_at=?
		WHERE employee_id=? AND work_date=? AND active_incident_id=?`,
		strings.ToUpper(strings.TrimSpace(res.StatusCode)), now, res.EmployeeID, strings.TrimSpace(res.WorkDate), incidentID)
	if err != nil {
		return err
	}
	if affected, _ := ledger.RowsAffected(); affected == 0 {
		return fmt.Errorf("ledger row for employee %d on %s not locked by incident %d: %w", res.EmployeeID, res.WorkDate, incidentID, ErrConflict)
	}
	upd, err := tx.ExecContext(ctx, `
		UPDATE incidents SET state=?, closed_at=?, resolved_by=?, updated_at=?, version=version+1
		WHERE id=? AND state=?`,
		string(StateResolved), now, actorID, now, incidentID, string(fromState))
	if err != nil {
		return err
	}
	if affected, _ := upd.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return appendAuditTx(ctx, tx, incidentID, actorID, AuditResolve, comment, StateResolved, now)
}

func scanIncidentRow(row *sql.Row) (*Incident, error) {
	var inc Incident
	var assignee, resolvedBy sql.NullInt64
	var closedAt sql.NullTime
	var requires int
	if err := row.Scan(&inc.ID, &inc.EmployeeID, &inc.WorkDate, &inc.IncidentType, &inc.Criticality, &inc.State, &assignee, &requires, &inc.ProposedStatusCode, &closedAt, &resolvedBy, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	applyIncidentNulls(&inc, assignee, resolvedBy, closedAt, requires)
	return &inc, nil
}

func scanIncidentRows(rows *sql.Rows) (Incident, error) {
	var inc Incident
	var assignee, resolvedBy sql.NullInt64
	var closedAt sql.NullTime
	var requires int
	if err := rows.Scan(&inc.ID, &inc.EmployeeID, &inc.WorkDate, &inc.IncidentType, &inc.Criticality, &inc.State, &assignee, &requires, &inc.ProposedStatusCode, &closedAt, &resolvedBy, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
		return inc, err
	}
	applyIncidentNulls(&inc, assignee, resolvedBy, closedAt, requires)
	return inc, nil
}

func applyIncidentNulls(inc *Incident, assignee, resolvedBy sql.NullInt64, closedAt sql.NullTime, requires int) {
	if assignee.Valid {
		inc.AssigneeUserID = &assignee.Int64
	}
	if resolvedBy.Valid {
		inc.ResolvedBy = &resolvedBy.Int64
	}
	if closedAt.Valid {
		inc.ClosedAt = &closedAt.Time
	}
	inc.RequiresAuthorization = requires == 1
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
