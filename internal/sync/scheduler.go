package sync

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/logger"
)

type Scheduler struct {
	cfg     config.SchedulerConfig
	manager Triggerer
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, manager Triggerer) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() error {
	if s.cfg.InitialSync {
		logger.Log.Info("Triggering initial sync")
		s.manager.Trigger(SyncIncremental)
	}

	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}

	s.entryID = id
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	logger.Log.Info("Triggering scheduled sync")

	if !s.manager.Trigger(SyncIncremental) {
		logger.Log.Info("Sync already running, skipping scheduled run")
	}
}
