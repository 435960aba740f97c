package detection

import (
	"context"
	"errors"
	"time"

	"ancla-aem/config"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

const dateLayout = "2006-01-02"

// Scanner walks the attendance ledger for employee-days whose manual
// correction disagrees with the clock status and opens an incident for
// each, claiming the ledger lock in the same transaction. Rows already
// locked by an open incident are skipped, so repeated runs over the
// same window are safe.
type Scanner struct {
	ledger    store.LedgerStore
	incidents store.IncidentsStore
	cfg       config.AppConfig
	logger    *utils.Logger
}

func NewScanner(ledger store.LedgerStore, incidents store.IncidentsStore, cfg config.AppConfig, logger *utils.Logger) *Scanner {
	return &Scanner{ledger: ledger, incidents: incidents, cfg: cfg, logger: logger}
}

// Analyze opens incidents for every unlocked discrepancy in [from, to]
// and returns how many it created.
func (s *Scanner) Analyze(ctx context.Context, from, to string) (int, error) {
	records, err := s.ledger.ListDiscrepancies(ctx, from, to)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, rec := range records {
		inc := &store.Incident{
			EmployeeID:         rec.EmployeeID,
			WorkDate:           rec.WorkDate,
			IncidentType:       "status_mismatch",
			Criticality:        s.cfg.Incidents.DefaultCriticality,
			State:              store.StateNew,
			ProposedStatusCode: rec.ManualStatusCode,
		}
		if _, err := s.incidents.CreateIncidentWithLock(ctx, inc); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Lost the race with a concurrent run; that run owns the day.
				continue
			}
			return created, err
		}
		created++
	}
	s.logger.Printf("detection: scanned %s..%s, %d discrepancy(ies), %d incident(s) opened", from, to, len(records), created)
	return created, nil
}

// RunWindow analyzes the configured trailing window ending today.
func (s *Scanner) RunWindow(ctx context.Context) (int, error) {
	days := s.cfg.Detection.WindowDays
	if days <= 0 {
		days = 14
	}
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -days).Format(dateLayout)
	to := now.Format(dateLayout)
	return s.Analyze(ctx, from, to)
}
