package appbootstrap

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ancla-aem/api"
	"ancla-aem/config"
	"ancla-aem/core/auth"
	"ancla-aem/core/rbac"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

// Run boots the whole service: config, database, seed data, HTTP
// server, and the detection scheduler. It blocks until SIGINT/SIGTERM.
func Run(configPath string) error {
	logger := utils.NewLogger()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		return err
	}
	if err := seed(ctx, db, cfg, logger); err != nil {
		return err
	}

	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}
	server := api.NewServer(comp.serverDeps)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if comp.scheduler != nil {
		comp.scheduler.Start()
		defer comp.scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-stop.Done():
		logger.Printf("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return nil
}

// seed ensures the role directory exists and creates the bootstrap
// admin account when the user table is empty.
func seed(ctx context.Context, db *sql.DB, cfg *config.AppConfig, logger *utils.Logger) error {
	roles := store.NewRolesStore(db)
	for _, role := range rbac.DefaultRoles() {
		if _, err := roles.Ensure(ctx, role.Name, ""); err != nil {
			return err
		}
	}
	users := store.NewUsersStore(db)
	admin, err := users.GetByUsername(ctx, "admin")
	if err != nil {
		return err
	}
	if admin != nil {
		return nil
	}
	password := os.Getenv("ANCLA_ADMIN_PASSWORD")
	if password == "" {
		generated, err := utils.RandString(12)
		if err != nil {
			return err
		}
		password = generated
		logger.Printf("generated admin password: %s (set ANCLA_ADMIN_PASSWORD to override)", password)
	}
	hp, err := auth.HashPassword(password, cfg.Pepper)
	if err != nil {
		return err
	}
	user := &store.User{
		Username:     "admin",
		FullName:     "Administrator",
		PasswordHash: hp.Hash,
		Salt:         hp.Salt,
		Active:       true,
	}
	if _, err := users.Create(ctx, user, []string{"admin"}); err != nil {
		return err
	}
	logger.Printf("seeded admin account")
	return nil
}
