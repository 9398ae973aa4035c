package scheduler

import (
	"context"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// AccountMigrator converts legacy accounts in batches.
type AccountMigrator interface {
	MigrateLegacyAccounts(ctx context.Context, batch int) (int, error)
}

// MigrationScheduler periodically drains legacy accounts into the metered
// model so lazy migration is not the only path.
type MigrationScheduler struct {
	migrator AccountMigrator
	interval time.Duration
	batch    int
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewMigrationScheduler(migrator AccountMigrator, interval time.Duration, batch int) *MigrationScheduler {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &MigrationScheduler{
		migrator: migrator,
		interval: interval,
		batch:    batch,
		stopChan: make(chan struct{}),
	}
}

// Start blocks until Stop is called or ctx is done.
func (s *MigrationScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	fiberlog.Infof("MigrationScheduler: started, running every %s", s.interval)

	for {
		select {
		case <-ticker.C:
			if n, err := s.RunOnce(ctx); err != nil {
				fiberlog.Errorf("MigrationScheduler: run failed after %d accounts: %v", n, err)
			}
		case <-s.stopChan:
			fiberlog.Info("MigrationScheduler: stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("MigrationScheduler: stopped due to context cancellation")
			return
		}
	}
}

// RunOnce migrates batches until one comes back short.
func (s *MigrationScheduler) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.migrator.MigrateLegacyAccounts(ctx, s.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batch {
			if total > 0 {
				fiberlog.Infof("MigrationScheduler: migrated %d legacy accounts", total)
			}
			return total, nil
		}
	}
}

func (s *MigrationScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}
