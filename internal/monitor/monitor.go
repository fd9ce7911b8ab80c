// Package monitor wires up the cron job that periodically scans for pricing
// jobs stuck in the processing state.
//
// The monitor only reports. A processing row with a stale updated_at usually
// means a worker died mid-run; the recovery action (re-invoking the worker or
// failing the job by hand) is an operator decision, so nothing here mutates
// job state.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/costwise/pricingjobs/internal/jobs"
)

// StaleLister is the slice of the store the monitor needs.
type StaleLister interface {
	ListStaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]jobs.Job, error)
}

// Monitor wraps robfig/cron and manages the stale-job scan loop.
type Monitor struct {
	cron       *cron.Cron
	store      StaleLister
	staleAfter time.Duration
	spec       string // cron spec, e.g. "@every 5m"
}

// New creates a Monitor that scans every checkInterval and flags jobs whose
// last update is older than staleAfter.
func New(store StaleLister, checkInterval, staleAfter time.Duration) *Monitor {
	return &Monitor{
		cron:       cron.New(),
		store:      store,
		staleAfter: staleAfter,
		spec:       fmt.Sprintf("@every %s", checkInterval),
	}
}

// Start registers the scan and starts the scheduler. Also runs one scan
// immediately so a restart surfaces stuck jobs without waiting for the
// first tick.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc(m.spec, func() {
		m.scan(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	m.cron.Start()
	slog.Info("stale-job monitor started", "spec", m.spec, "stale_after", m.staleAfter)

	go m.scan(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler.
func (m *Monitor) Stop() {
	m.cron.Stop()
	slog.Info("stale-job monitor stopped")
}

// scan logs a warning for every job stuck in processing beyond the threshold.
func (m *Monitor) scan(ctx context.Context) {
	cutoff := time.Now().Add(-m.staleAfter)

	stale, err := m.store.ListStaleProcessingJobs(ctx, cutoff)
	if err != nil {
		slog.Error("stale-job scan failed", "error", err)
		return
	}

	if len(stale) == 0 {
		return
	}

	for _, job := range stale {
		slog.Warn("job stuck in processing",
			"job_id", job.ID,
			"organization_id", job.OrganizationID,
			"processed_items", job.ProcessedItems,
			"total_items", job.TotalItems,
			"updated_at", job.UpdatedAt,
		)
	}
	slog.Warn("stale-job scan complete", "stuck_jobs", len(stale))
}
