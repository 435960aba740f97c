package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ancla-aem/api/handlers"
	"ancla-aem/config"
	"ancla-aem/core/auth"
	"ancla-aem/core/detection"
	"ancla-aem/core/rbac"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
	"ancla-aem/core/workflow"
)

type ServerDeps struct {
	Cfg            *config.AppConfig
	Users          store.UsersStore
	Roles          store.RolesStore
	Sessions       store.SessionsStore
	Audits         store.AuditStore
	Ledger         store.LedgerStore
	Catalog        store.CatalogStore
	Policies       store.PolicyStore
	SessionManager *auth.SessionManager
	Policy         *rbac.Policy
	Workflow       *workflow.Service
	Scanner        *detection.Scanner
	Logger         *utils.Logger
}

type Server struct {
	cfg             *config.AppConfig
	users           store.UsersStore
	roles           store.RolesStore
	sessions        store.SessionsStore
	audits          store.AuditStore
	ledger          store.LedgerStore
	catalog         store.CatalogStore
	policies        store.PolicyStore
	sessionManager  *auth.SessionManager
	policy          *rbac.Policy
	workflowSvc     *workflow.Service
	scanner         *detection.Scanner
	logger          *utils.Logger
	activityTracker *sessionActivity
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		cfg:             deps.Cfg,
		users:           deps.Users,
		roles:           deps.Roles,
		sessions:        deps.Sessions,
		audits:          deps.Audits,
		ledger:          deps.Ledger,
		catalog:         deps.Catalog,
		policies:        deps.Policies,
		sessionManager:  deps.SessionManager,
		policy:          deps.Policy,
		workflowSvc:     deps.Workflow,
		scanner:         deps.Scanner,
		logger:          deps.Logger,
		activityTracker: newSessionActivity(),
	}
}

func (s *Server) Handler() http.Handler {
	authHandler := handlers.NewAuthHandler(s.cfg, s.users, s.sessionManager, s.audits, s.logger)
	incidents := handlers.NewIncidentsHandler(s.cfg, s.users, s.workflowSvc, s.audits, s.logger)
	detectionHandler := handlers.NewDetectionHandler(s.scanner, s.audits, s.logger)
	policiesHandler := handlers.NewPoliciesHandler(s.policies, s.roles, s.audits, s.logger)
	ledgerHandler := handlers.NewLedgerHandler(s.ledger, s.catalog, s.logger)
	logs := handlers.NewLogsHandler(s.audits)

	view := s.requirePermission(rbac.PermIncidentsView)
	update := s.requirePermission(rbac.PermIncidentsUpdate)
	manage := s.requirePermission(rbac.PermPoliciesManage)
	runDetection := s.requirePermission(rbac.PermDetectionRun)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware, s.jsonMiddleware, s.loggingMiddleware)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.MethodFunc("POST", "/auth/login", authHandler.Login)
		apiRouter.MethodFunc("POST", "/auth/logout", s.withSession(authHandler.Logout))
		apiRouter.MethodFunc("GET", "/auth/me", s.withSession(authHandler.Me))

		apiRouter.Route("/incidents", func(incidentsRouter chi.Router) {
			incidentsRouter.MethodFunc("GET", "/", s.withSession(view(incidents.List)))
			incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}", s.withSession(view(incidents.Get)))
			incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/audit", s.withSession(view(incidents.Audit)))
			incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/assign", s.withSession(update(incidents.Assign)))
			incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/request-authorization", s.withSession(update(incidents.RequestAuthorization)))
			incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/cancel-authorization", s.withSession(update(incidents.CancelAuthorization)))
			// Voting is not an update-permission action: the slot's exact
			// role (or the override grant) is what authorizes it, and the
			// workflow service checks that itself.
			incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/requests/{request_id:[0-9]+}/vote", s.withSession(view(incidents.Vote)))
			incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/resolve", s.withSession(update(incidents.Resolve)))
		})

		apiRouter.MethodFunc("POST", "/detection/run", s.withSession(runDetection(detectionHandler.Run)))

		apiRouter.Route("/policies", func(policiesRouter chi.Router) {
			policiesRouter.MethodFunc("GET", "/", s.withSession(manage(policiesHandler.List)))
			policiesRouter.MethodFunc("PUT", "/{level:[0-9]+}", s.withSession(manage(policiesHandler.SetLevel)))
			policiesRouter.MethodFunc("GET", "/roles", s.withSession(manage(policiesHandler.ListRoles)))
		})

		apiRouter.MethodFunc("GET", "/ledger", s.withSession(view(ledgerHandler.Get)))
		apiRouter.MethodFunc("GET", "/statuses", s.withSession(view(ledgerHandler.ListStatuses)))
		apiRouter.MethodFunc("GET", "/logs", s.withSession(manage(logs.List)))
	})

	return r
}
