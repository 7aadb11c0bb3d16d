// internal/services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	expirySweepBatch     = 500
	generationRetryBatch = 100
)

// Scheduler runs the background sweeps: expiring licenses past their date
// and retrying failed artifact generation.
type Scheduler struct {
	cron      *cron.Cron
	lifecycle *LifecycleService
	generator *GenerationService
}

func NewScheduler(lifecycle *LifecycleService, generator *GenerationService) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		lifecycle: lifecycle,
		generator: generator,
	}
}

// Start registers the jobs and begins running them. The expiry sweep runs
// hourly; generation retries every ten minutes.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 * * * *", s.sweepExpired); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("*/10 * * * *", s.retryGeneration); err != nil {
		return err
	}
	s.cron.Start()
	logrus.Info("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logrus.Info("Scheduler stopped")
}

func (s *Scheduler) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	expired, err := s.lifecycle.ExpireDue(ctx, expirySweepBatch)
	if err != nil {
		logrus.WithError(err).Error("Expiry sweep failed")
		return
	}
	if expired > 0 {
		logrus.WithField("count", expired).Info("Expired licenses past their date")
	}
}

func (s *Scheduler) retryGeneration() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	retried, err := s.generator.RetryPending(ctx, generationRetryBatch)
	if err != nil {
		logrus.WithError(err).Error("Generation retry sweep failed")
		return
	}
	if retried > 0 {
		logrus.WithField("count", retried).Info("Recovered pending license artifacts")
	}
}
