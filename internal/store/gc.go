package store

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// GC periodically sweeps a store until its context is cancelled.
type GC struct {
	store    *Store
	interval time.Duration
}

// NewGC returns a sweeper for the given store.
func NewGC(store *Store, interval time.Duration) *GC {
	return &GC{store: store, interval: interval}
}

// Run blocks, sweeping the store once per interval, and returns when ctx is
// cancelled. A panicking sweep is logged and the loop keeps its schedule.
func (g *GC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	log.Infof("gc started, interval=%s", g.interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("gc stopped")
			return
		case now := <-ticker.C:
			g.sweepOnce(now)
		}
	}
}

func (g *GC) sweepOnce(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("gc sweep panicked: %v", r)
		}
	}()

	if removed := g.store.Sweep(now); removed > 0 {
		log.Infof("gc evicted %d idle conversations", removed)
	}
}
