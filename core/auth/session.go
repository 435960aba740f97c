package auth

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"ancla-aem/config"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

type contextKey string

// SessionContextKey carries the *store.SessionRecord resolved by the
// session middleware.
const SessionContextKey contextKey = "session"

func SessionFromContext(ctx context.Context) *store.SessionRecord {
	sess, _ := ctx.Value(SessionContextKey).(*store.SessionRecord)
	return sess
}

type SessionManager struct {
	store  store.SessionsStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(sessions store.SessionsStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{store: sessions, cfg: cfg, logger: logger}
}

func (m *SessionManager) Create(ctx context.Context, user *store.User, roles []string) (*store.SessionRecord, error) {
	now := utils.NowUTC()
	rec := &store.SessionRecord{
		ID:         uuid.Must(uuid.NewV4()).String(),
		UserID:     user.ID,
		Username:   user.Username,
		Roles:      roles,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if err := m.store.SaveSession(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	return m.store.UpdateActivity(ctx, sessID, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

func (m *SessionManager) Delete(ctx context.Context, sessID string) error {
	return m.store.DeleteSession(ctx, sessID)
}
