package detection

import (
	"context"

	"github.com/robfig/cron/v3"

	"ancla-aem/core/utils"
)

// Scheduler runs the scanner on a cron spec. Manual runs through the
// API stay available whether or not the scheduler is enabled.
type Scheduler struct {
	cron    *cron.Cron
	scanner *Scanner
	logger  *utils.Logger
}

func NewScheduler(scanner *Scanner, spec string, logger *utils.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		scanner: scanner,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) run() {
	if _, err := s.scanner.RunWindow(context.Background()); err != nil {
		s.logger.Errorf("detection: scheduled run failed: %v", err)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
