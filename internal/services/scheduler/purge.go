package scheduler

import (
	"context"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Purger drops expired entries from an in-process store.
type Purger interface {
	Purge() int
}

// PurgeScheduler sweeps in-memory cache entries and rate-limit windows that
// nobody reads again.
type PurgeScheduler struct {
	purgers  []Purger
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewPurgeScheduler(interval time.Duration, purgers ...Purger) *PurgeScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PurgeScheduler{
		purgers:  purgers,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start blocks until Stop is called or ctx is done.
func (s *PurgeScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *PurgeScheduler) RunOnce() int {
	removed := 0
	for _, p := range s.purgers {
		removed += p.Purge()
	}
	if removed > 0 {
		fiberlog.Debugf("PurgeScheduler: dropped %d expired entries", removed)
	}
	return removed
}

func (s *PurgeScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}
