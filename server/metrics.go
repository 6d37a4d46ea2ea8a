package main

import (
	"context"
	"log/slog"
	"time"

	"sttmesh/server/internal/manager"
)

// runMetrics logs session counts and cumulative admission counters every
// interval in which at least one session is live (idle intervals log
// nothing), until ctx is canceled, adapted from the reference design's
// periodic stats logger. The same counters are available on demand via
// the /healthz route (manager.Manager.Healthz); this loop just echoes
// them to the log for operators tailing process output rather than
// scraping an endpoint.
func runMetrics(ctx context.Context, mgr *manager.Manager, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := mgr.Healthz()
			if h.Sessions > 0 {
				log.Info("metrics",
					"sessions", h.Sessions,
					"permits_in_use", h.PermitsInUse,
					"admitted_total", h.AdmittedTotal,
					"rejected_total", h.RejectedTotal,
				)
			}
		}
	}
}
