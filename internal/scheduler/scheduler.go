package scheduler

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/DK-com2/GPV-gif/internal/update"
)

// Scheduler periodically triggers refresh cycles on the updater. On-demand
// requests go through the same updater, so an overlapping tick is simply
// rejected by its single-flight guard.
type Scheduler struct {
	scheduler *gocron.Scheduler
	updater   *update.Updater
	interval  time.Duration
}

// New creates a new Scheduler.
func New(updater *update.Updater, interval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		updater:   updater,
		interval:  interval,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	interval := s.interval
	if interval <= 0 {
		interval = time.Hour
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		log.Println("scheduler: triggering refresh cycle")
		if result := s.updater.Trigger(); result != update.TriggerAccepted {
			log.Printf("scheduler: refresh skipped: %s", result)
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
