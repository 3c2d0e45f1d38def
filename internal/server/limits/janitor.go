package limits

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is anything with expired entries to drop.
type Sweeper interface {
	Sweep()
}

// Janitor periodically sweeps a set of trackers so their maps stay bounded.
type Janitor struct {
	interval time.Duration
	sweepers []Sweeper
	done     chan struct{}
}

// NewJanitor creates a janitor sweeping the given trackers every interval.
func NewJanitor(interval time.Duration, sweepers ...Sweeper) *Janitor {
	return &Janitor{
		interval: interval,
		sweepers: sweepers,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				for _, s := range j.sweepers {
					s.Sweep()
				}
			case <-ctx.Done():
				slog.Info("limit janitor stopping")
				close(j.done)
				return
			}
		}
	}()
}

// Wait blocks until the janitor has fully stopped.
func (j *Janitor) Wait() {
	<-j.done
}
