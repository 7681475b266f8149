package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const refreshTimeout = 5 * time.Minute

// IdentityRefresher re-fetches cached session identities and returns how
// many refreshes failed.
type IdentityRefresher interface {
	RefreshIdentities(ctx context.Context) int
	Len() int
}

// MaintenanceScheduler runs periodic pool maintenance.
type MaintenanceScheduler struct {
	cronEngine  *cron.Cron
	refresher   IdentityRefresher
	logger      *logrus.Entry
	cronRefresh string
}

func NewMaintenanceScheduler(
	refresher IdentityRefresher,
	logger *logrus.Entry,
	cronRefresh string, // e.g., "*/30 * * * *" (every 30 minutes)
) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cronEngine:  cron.New(cron.WithLocation(time.Local)),
		refresher:   refresher,
		logger:      logger.WithField("component", "scheduler"),
		cronRefresh: cronRefresh,
	}
}

func (s *MaintenanceScheduler) Start() error {
	s.logger.Info("Starting maintenance scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronRefresh, s.refreshIdentities)
	if err != nil {
		return fmt.Errorf("could not add identity refresh cron job: %w", err)
	}

	s.cronEngine.Start()
	s.logger.WithField("spec", s.cronRefresh).Info("Maintenance scheduler started with jobs.")
	return nil
}

func (s *MaintenanceScheduler) refreshIdentities() {
	s.logger.Debug("Cron job triggered for identity refresh.")
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	failed := s.refresher.RefreshIdentities(ctx)
	fields := logrus.Fields{"sessions": s.refresher.Len(), "failed": failed}
	if failed > 0 {
		s.logger.WithFields(fields).Warn("Identity refresh finished with failures")
		return
	}
	s.logger.WithFields(fields).Info("Identity refresh finished")
}

func (s *MaintenanceScheduler) Stop() {
	s.logger.Info("Stopping maintenance scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler gracefully stopped.")
}
