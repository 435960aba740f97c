package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ancla-aem/config"
	"ancla-aem/core/auth"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
	"ancla-aem/core/workflow"
)

type IncidentsHandler struct {
	cfg    *config.AppConfig
	users  store.UsersStore
	svc    *workflow.Service
	audits store.AuditStore
	logger *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, users store.UsersStore, svc *workflow.Service, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, users: users, svc: svc, audits: audits, logger: logger}
}

func (h *IncidentsHandler) actor(r *http.Request) (workflow.Actor, bool) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		return workflow.Actor{}, false
	}
	roles, err := h.users.RolesOfUser(r.Context(), sess.UserID)
	if err != nil {
		return workflow.Actor{}, false
	}
	return workflow.Actor{UserID: sess.UserID, Username: sess.Username, Roles: roles}, true
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		http.Error(w, "incidents.notFound", http.StatusNotFound)
	case errors.Is(err, workflow.ErrForbidden):
		http.Error(w, "incidents.forbidden", http.StatusForbidden)
	case errors.Is(err, workflow.ErrInvalidTransition):
		http.Error(w, "incidents.invalidTransition", http.StatusConflict)
	case errors.Is(err, workflow.ErrAlreadyDecided):
		http.Error(w, "incidents.voteAlreadyDecided", http.StatusConflict)
	case errors.Is(err, workflow.ErrInvalidStatus):
		http.Error(w, "incidents.statusInvalid", http.StatusBadRequest)
	case errors.Is(err, workflow.ErrConflict):
		http.Error(w, "incidents.conflict", http.StatusConflict)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), h.cfg.Incidents.ListLimit)
	if limit <= 0 || limit > 500 {
		limit = h.cfg.Incidents.ListLimit
	}
	filter := store.IncidentFilter{
		State:      store.IncidentState(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("state")))),
		EmployeeID: int64(parseIntDefault(r.URL.Query().Get("employee_id"), 0)),
		Limit:      limit,
		Offset:     parseIntDefault(r.URL.Query().Get("offset"), 0),
	}
	if r.URL.Query().Get("assigned_to_me") == "1" || strings.ToLower(r.URL.Query().Get("assigned_to_me")) == "true" {
		if sess := auth.SessionFromContext(r.Context()); sess != nil {
			filter.Assignee = sess.UserID
		}
	}
	items, err := h.svc.List(r.Context(), filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	inc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	requests, err := h.svc.Requests(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident": inc,
		"requests": requests,
	})
}

func (h *IncidentsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	entries, err := h.svc.Audit(r.Context(), id)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *IncidentsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		AssigneeUserID int64  `json:"assignee_user_id"`
		Comment        string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.AssigneeUserID <= 0 {
		http.Error(w, "incidents.assigneeRequired", http.StatusBadRequest)
		return
	}
	assignee, err := h.users.Get(r.Context(), payload.AssigneeUserID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if assignee == nil || !assignee.Active {
		http.Error(w, "incidents.userNotFound", http.StatusBadRequest)
		return
	}
	inc, err := h.svc.Assign(r.Context(), actor, id, assignee.ID, payload.Comment)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	_ = h.audits.Append(r.Context(), actor.Username, "incident.assign", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) RequestAuthorization(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		Comment string `json:"comment"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	inc, requests, err := h.svc.RequestAuthorization(r.Context(), actor, id, payload.Comment)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	_ = h.audits.Append(r.Context(), actor.Username, "incident.request_authorization", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]any{
		"incident": inc,
		"requests": requests,
	})
}

func (h *IncidentsHandler) CancelAuthorization(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		Comment string `json:"comment"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	inc, err := h.svc.CancelAuthorizationRequest(r.Context(), actor, id, payload.Comment)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	_ = h.audits.Append(r.Context(), actor.Username, "incident.cancel_authorization", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) Vote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	params := pathParams(r)
	id, _ := strconv.ParseInt(params["id"], 10, 64)
	requestID, _ := strconv.ParseInt(params["request_id"], 10, 64)
	var payload struct {
		Approve *bool  `json:"approve"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Approve == nil {
		http.Error(w, "incidents.voteRequired", http.StatusBadRequest)
		return
	}
	outcome, err := h.svc.Vote(r.Context(), actor, id, requestID, *payload.Approve, payload.Comment)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	action := "incident.vote_reject"
	if *payload.Approve {
		action = "incident.vote_approve"
	}
	_ = h.audits.Append(r.Context(), actor.Username, action, strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, outcome)
}

func (h *IncidentsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		StatusCode string `json:"status_code"`
		Comment    string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.StatusCode) == "" {
		http.Error(w, "incidents.statusRequired", http.StatusBadRequest)
		return
	}
	inc, err := h.svc.Resolve(r.Context(), actor, id, payload.StatusCode, payload.Comment)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	_ = h.audits.Append(r.Context(), actor.Username, "incident.resolve", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}
