package scheduler

import (
	"context"
	"time"

	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const StatusJobName = "status-report"

// Scheduler runs the periodic jobs of the service.
type Scheduler struct {
	sched  quartz.Scheduler
	logger *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sched:  quartz.NewStdScheduler(),
		logger: logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.sched.Start(ctx)
}

// ScheduleStatus runs job every interval. A zero interval disables it.
func (s *Scheduler) ScheduleStatus(job *StatusJob, interval time.Duration) error {
	if interval <= 0 {
		s.logger.Info("status reports disabled")
		return nil
	}
	detail := quartz.NewJobDetail(job, quartz.NewJobKey(StatusJobName))
	if err := s.sched.ScheduleJob(detail, quartz.NewSimpleTrigger(interval)); err != nil {
		return err
	}
	s.logger.Info("status reports scheduled", zap.Duration("interval", interval))
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.sched.Stop()
	s.sched.Wait(ctx)
}
