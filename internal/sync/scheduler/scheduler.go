package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/orangeleaf/crmsync/internal/sync/usecase"
)

// SyncScheduler runs a periodic full sync pass as a fallback for missed push
// notifications. An interval of zero disables the loop entirely; deployments
// relying on an external cron hit the HTTP endpoint instead.
type SyncScheduler struct {
	orchestrator *usecase.Orchestrator
	interval     time.Duration
	stopChan     chan struct{}
}

// NewSyncScheduler creates a scheduler running at the given interval.
func NewSyncScheduler(orchestrator *usecase.Orchestrator, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{
		orchestrator: orchestrator,
		interval:     interval,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *SyncScheduler) Start() {
	if s.interval <= 0 {
		log.Println("[Scheduler] sync interval not set, internal scheduler disabled")
		return
	}

	log.Printf("[Scheduler] starting email sync scheduler (interval: %s)", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runPass()
			case <-s.stopChan:
				log.Println("[Scheduler] scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *SyncScheduler) Stop() {
	close(s.stopChan)
}

func (s *SyncScheduler) runPass() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	summary, err := s.orchestrator.SyncAllActive(ctx)
	if err != nil {
		log.Printf("[Scheduler] sync pass failed: %v", err)
		return
	}
	if summary.Failed > 0 {
		log.Printf("[Scheduler] sync pass done: %d succeeded, %d failed", summary.Succeeded, summary.Failed)
	}
}
