package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ancla-aem/config"
	"ancla-aem/core/auth"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

const sessionCookie = "ancla_session"

type AuthHandler struct {
	cfg      *config.AppConfig
	users    store.UsersStore
	sessions *auth.SessionManager
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, sessions *auth.SessionManager, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, sessions: sessions, audits: audits, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	username := strings.ToLower(strings.TrimSpace(payload.Username))
	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil || !user.Active || !auth.VerifyPassword(payload.Password, h.cfg.Pepper, user.Salt, user.PasswordHash) {
		h.logger.Printf("AUTH login fail user=%s", username)
		http.Error(w, "auth.invalidCredentials", http.StatusUnauthorized)
		return
	}
	roles, err := h.users.RolesOfUser(r.Context(), user.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	sess, err := h.sessions.Create(r.Context(), user, names)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	_ = h.audits.Append(r.Context(), user.Username, "auth.login", "")
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":        user.ID,
			"username":  user.Username,
			"full_name": user.FullName,
			"roles":     names,
		},
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		_ = h.sessions.Delete(r.Context(), cookie.Value)
	}
	if sess := auth.SessionFromContext(r.Context()); sess != nil {
		_ = h.audits.Append(r.Context(), sess.Username, "auth.logout", "")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":       sess.UserID,
			"username": sess.Username,
			"roles":    sess.Roles,
		},
	})
}
