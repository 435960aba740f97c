package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ancla-aem/core/auth"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

type PoliciesHandler struct {
	policies store.PolicyStore
	roles    store.RolesStore
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewPoliciesHandler(policies store.PolicyStore, roles store.RolesStore, audits store.AuditStore, logger *utils.Logger) *PoliciesHandler {
	return &PoliciesHandler{policies: policies, roles: roles, audits: audits, logger: logger}
}

func (h *PoliciesHandler) List(w http.ResponseWriter, r *http.Request) {
	levels, err := h.policies.ListLevels(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": levels})
}

func (h *PoliciesHandler) SetLevel(w http.ResponseWriter, r *http.Request) {
	level := parseIntDefault(pathParams(r)["level"], 0)
	if level <= 0 {
		http.Error(w, "policies.levelInvalid", http.StatusBadRequest)
		return
	}
	var payload struct {
		RoleIDs []int64 `json:"role_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	for _, roleID := range payload.RoleIDs {
		role, err := h.roles.Get(r.Context(), roleID)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if role == nil {
			http.Error(w, "policies.roleNotFound", http.StatusBadRequest)
			return
		}
	}
	if err := h.policies.SetRolesForLevel(r.Context(), level, payload.RoleIDs); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if sess := auth.SessionFromContext(r.Context()); sess != nil {
		_ = h.audits.Append(r.Context(), sess.Username, "policies.update", strconv.Itoa(level))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *PoliciesHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.List(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}
