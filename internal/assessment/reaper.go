package assessment

import (
	"context"
	"log"
	"time"
)

// Reaper periodically sweeps stale active sessions into Expired so
// eligibility checks and dashboards don't lean on lazy expiry alone. It
// shares the expiry predicate with the read path (see SQLStore.expireOne).
type Reaper struct {
	store    Store
	interval time.Duration
}

func NewReaper(store Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{store: store, interval: interval}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.store.ExpireDue(ctx)
			if err != nil {
				log.Printf("reaper: expire sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("reaper: expired %d stale session(s)", n)
			}
		}
	}
}
