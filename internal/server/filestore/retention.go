package filestore

import (
	"context"
	"log/slog"
	"time"
)

// RetentionService periodically expires tracked files past the retention
// window. The first cycle runs immediately at startup, preceded by the
// one-time orphan scan of the upload directory.
type RetentionService struct {
	store    *Store
	interval time.Duration
	done     chan struct{}
}

// NewRetentionService creates a retention sweeper for the store.
func NewRetentionService(store *Store, interval time.Duration) *RetentionService {
	return &RetentionService{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the retention loop in a background goroutine.
func (rs *RetentionService) Start(ctx context.Context) {
	slog.Info("retention service started", "interval", rs.interval)

	go func() {
		ticker := time.NewTicker(rs.interval)
		defer ticker.Stop()

		if removed, err := rs.store.OrphanScan(); err != nil {
			slog.Error("orphan scan failed", "error", err)
		} else if removed > 0 {
			slog.Info("orphan scan complete", "removed", removed)
		}

		rs.runSweep()

		for {
			select {
			case <-ticker.C:
				rs.runSweep()
			case <-ctx.Done():
				slog.Info("retention service stopping")
				close(rs.done)
				return
			}
		}
	}()
}

// Wait blocks until the retention service has fully stopped.
func (rs *RetentionService) Wait() {
	<-rs.done
}

func (rs *RetentionService) runSweep() {
	if removed := rs.store.SweepExpired(); removed > 0 {
		slog.Info("retention sweep complete", "removed", removed)
	}
}
