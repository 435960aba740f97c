package appbootstrap

import (
	"database/sql"

	"ancla-aem/api"
	"ancla-aem/config"
	"ancla-aem/core/auth"
	"ancla-aem/core/detection"
	"ancla-aem/core/rbac"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
	"ancla-aem/core/workflow"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	scheduler  *detection.Scheduler
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	roles := store.NewRolesStore(db)
	audits := store.NewAuditStore(db)
	ledger := store.NewLedgerStore(db)
	catalog := store.NewCatalogStore(db)
	policies := store.NewPolicyStore(db)
	incidents := store.NewIncidentsStore(db)

	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	resolver := workflow.NewRoundResolver(policies, roles, cfg.Authorization.FallbackRoles, logger)
	workflowSvc := workflow.NewService(incidents, ledger, catalog, resolver, policy, logger)
	scanner := detection.NewScanner(ledger, incidents, *cfg, logger)

	var scheduler *detection.Scheduler
	if cfg.Detection.Enabled {
		var err error
		scheduler, err = detection.NewScheduler(scanner, cfg.Detection.CronSpec, logger)
		if err != nil {
			return nil, err
		}
	}

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Cfg:            cfg,
			Users:          users,
			Roles:          roles,
			Sessions:       sessions,
			Audits:         audits,
			Ledger:         ledger,
			Catalog:        catalog,
			Policies:       policies,
			SessionManager: sessionManager,
			Policy:         policy,
			Workflow:       workflowSvc,
			Scanner:        scanner,
			Logger:         logger,
		},
		scheduler: scheduler,
	}, nil
}
