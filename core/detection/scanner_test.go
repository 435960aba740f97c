package detection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ancla-aem/config"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

func setupScanner(t *testing.T) (*Scanner, store.LedgerStore, store.IncidentsStore) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		DBPath: filepath.Join(dir, "detection.db"),
		Detection: config.DetectionConfig{
			Enabled:    true,
			CronSpec:   "0 2 * * *",
			WindowDays: 14,
		},
		Incidents: config.IncidentsConfig{DefaultCriticality: 2, ListLimit: 100},
	}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	ledger := store.NewLedgerStore(db)
	incidents := store.NewIncidentsStore(db)
	return NewScanner(ledger, incidents, *cfg, logger), ledger, incidents
}

func TestAnalyzeOpensIncidentsAndLocksRows(t *testing.T) {
	scanner, ledger, incidents := setupScanner(t)
	ctx := context.Background()

	seed := []store.LedgerRecord{
		{EmployeeID: 1, WorkDate: "2026-04-01", ClockStatusCode: "F", ManualStatusCode: "J"},
		{EmployeeID: 2, WorkDate: "2026-04-01", ClockStatusCode: "A", ManualStatusCode: "A"},
		{EmployeeID: 3, WorkDate: "2026-04-02", ClockStatusCode: "F", ManualStatusCode: "V"},
		{EmployeeID: 4, WorkDate: "2026-04-02", ClockStatusCode: "F", ManualStatusCode: ""},
	}
	for i := range seed {
		if err := ledger.Upsert(ctx, &seed[i]); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	created, err := scanner.Analyze(ctx, "2026-04-01", "2026-04-30")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want 2 (only real discrepancies)", created)
	}

	items, err := incidents.ListIncidents(ctx, store.IncidentFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("incident count = %d", len(items))
	}
	for _, inc := range items {
		if inc.State != store.StateNew {
			t.Fatalf("incident %d state = %s", inc.ID, inc.State)
		}
		if inc.Criticality != 2 {
			t.Fatalf("incident %d criticality = %d, want configured default", inc.ID, inc.Criticality)
		}
		rec, err := ledger.Get(ctx, inc.EmployeeID, inc.WorkDate)
		if err != nil {
			t.Fatalf("ledger get: %v", err)
		}
		if rec.ActiveIncidentID == nil || *rec.ActiveIncidentID != inc.ID {
			t.Fatalf("ledger row %d/%s not locked by its incident", inc.EmployeeID, inc.WorkDate)
		}
	}
}

func TestAnalyzeIsIdempotentOverLockedRows(t *testing.T) {
	scanner, ledger, incidents := setupScanner(t)
	ctx := context.Background()

	if err := ledger.Upsert(ctx, &store.LedgerRecord{
		EmployeeID: 5, WorkDate: "2026-04-03", ClockStatusCode: "F", ManualStatusCode: "J",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := scanner.Analyze(ctx, "2026-04-01", "2026-04-30"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	created, err := scanner.Analyze(ctx, "2026-04-01", "2026-04-30")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if created != 0 {
		t.Fatalf("second pass created %d incidents, want 0", created)
	}
	items, _ := incidents.ListIncidents(ctx, store.IncidentFilter{})
	if len(items) != 1 {
		t.Fatalf("incident count after two passes = %d", len(items))
	}
}

func TestRunWindowUsesConfiguredWindow(t *testing.T) {
	scanner, ledger, _ := setupScanner(t)
	ctx := context.Background()

	recent := time.Now().UTC().AddDate(0, 0, -2).Format("2006-01-02")
	old := time.Now().UTC().AddDate(0, 0, -60).Format("2006-01-02")
	for _, rec := range []store.LedgerRecord{
		{EmployeeID: 6, WorkDate: recent, ClockStatusCode: "F", ManualStatusCode: "J"},
		{EmployeeID: 7, WorkDate: old, ClockStatusCode: "F", ManualStatusCode: "J"},
	} {
		r := rec
		if err := ledger.Upsert(ctx, &r); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	created, err := scanner.RunWindow(ctx)
	if err != nil {
		t.Fatalf("run window: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want only the in-window row", created)
	}
}
