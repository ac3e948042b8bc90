package server

import (
	"context"
	"log"
	"time"

	"github.com/frontdeskhq/frontdesk/internal/services/gateway/storage"
)

// janitor periodically removes channels that stopped refreshing
// last_seen_at. Lazy reaping on delivery is the primary cleanup path; the
// sweep only catches rows orphaned by crashed processes.
type janitor struct {
	store    storage.ChannelStore
	ttl      time.Duration
	interval time.Duration
}

func newJanitor(store storage.ChannelStore, ttl time.Duration, interval time.Duration) *janitor {
	return &janitor{
		store:    store,
		ttl:      ttl,
		interval: interval,
	}
}

func (j *janitor) run(ctx context.Context) {
	if j == nil || j.store == nil || j.ttl <= 0 || j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	removed, err := j.store.DeleteStale(sweepCtx, time.Now().Add(-j.ttl))
	if err != nil {
		log.Printf("gateway: stale channel sweep: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("gateway: swept %d stale channels", removed)
	}
}
