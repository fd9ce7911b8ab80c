// Package worker implements the batch pricing processor: it consumes one job
// id, recalculates or deletes price overrides for the job's target item set
// in bounded batches, and reports incremental progress through the job store.
//
// One run is a single synchronous invocation. Batches are processed strictly
// sequentially; a batch failure is recorded and the run continues. There is
// no cancellation, internal timeout, retry or resumption checkpoint:
// re-invoking the worker on the same job id is the only retry mechanism, and
// it is safe because override upserts are idempotent per item.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/costwise/pricingjobs/internal/jobs"
	"github.com/costwise/pricingjobs/internal/pricing"
	"github.com/costwise/pricingjobs/internal/store"
)

// DefaultBatchSize bounds the blast radius of any single override write and
// sets the granularity of progress reporting.
const DefaultBatchSize = 50

// JobStore is the slice of the store the processor needs for job rows.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	MarkAsProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, p store.Progress) error
	MarkAsCompleted(ctx context.Context, id uuid.UUID, summary jobs.ResultSummary) error
	MarkAsFailed(ctx context.Context, id uuid.UUID, errorMessage string, summary *jobs.ResultSummary) error
}

// Catalog resolves pricing modes and the target item set.
type Catalog interface {
	GetMode(ctx context.Context, id uuid.UUID) (*pricing.Mode, error)
	ListVisibleItems(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]store.LineItem, error)
}

// Overrides persists computed prices.
type Overrides interface {
	UpsertOverrides(ctx context.Context, orgID uuid.UUID, writes []store.OverrideWrite) error
	DeleteOverrides(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (int64, error)
}

// Config tunes one processor instance.
type Config struct {
	// BatchSize is the number of items written per upsert operation
	// (default 50). Changing it does not alter any externally observed
	// contract; progress is still reported once per batch boundary.
	BatchSize int

	// MaxConcurrentRuns caps parallel runs per process (default 4).
	MaxConcurrentRuns int

	// MaxWaitTime is how long a trigger waits for a run slot (default 10s).
	MaxWaitTime time.Duration
}

// Outcome describes how one worker invocation ended.
type Outcome struct {
	// Applicable is false when the job was not claimable (already claimed,
	// already finished, or cancelled before claim). A benign no-op.
	Applicable bool

	JobID        uuid.UUID
	Status       jobs.Status
	Summary      *jobs.ResultSummary
	ErrorMessage string
}

// Processor executes bulk pricing jobs.
type Processor struct {
	jobStore  JobStore
	catalog   Catalog
	overrides Overrides
	batchSize int
	limiter   *RunLimiter
}

// New creates a Processor over the given store slices.
func New(jobStore JobStore, catalog Catalog, overrides Overrides, cfg Config) *Processor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Processor{
		jobStore:  jobStore,
		catalog:   catalog,
		overrides: overrides,
		batchSize: batchSize,
		limiter:   NewRunLimiter(cfg.MaxConcurrentRuns, cfg.MaxWaitTime),
	}
}

// Limiter exposes the run limiter for shutdown draining.
func (p *Processor) Limiter() *RunLimiter { return p.limiter }

// Run executes one job to a terminal state.
//
// A missing job is a caller-visible error that touches no job state. A job
// that cannot be claimed yields Applicable=false with a nil error. After a
// successful claim, every failure is pushed into the job record: resolution
// failures and panics mark the job failed, batch failures are folded into
// the result summary while the run continues.
func (p *Processor) Run(ctx context.Context, jobID uuid.UUID) (outcome Outcome, err error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return Outcome{}, err
	}
	defer p.limiter.Release()

	logger := slog.With("job_id", jobID)

	// One recovery point for the whole run. Best-effort terminal write so
	// observers are not left watching a phantom processing job.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in job run", "panic", r)
			msg := fmt.Sprintf("internal error: %v", r)
			if failErr := p.jobStore.MarkAsFailed(ctx, jobID, msg, nil); failErr != nil {
				logger.Error("could not mark panicked job as failed", "error", failErr)
			}
			outcome = Outcome{}
			err = fmt.Errorf("job %s: %s", jobID, msg)
		}
	}()

	job, err := p.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return Outcome{}, err
	}

	claimed, err := p.jobStore.MarkAsProcessing(ctx, jobID)
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		// Zero rows on the conditional claim: another invocation owns the
		// job or it already finished. Not an error.
		logger.Info("job not claimable, skipping", "status", job.Status)
		return Outcome{Applicable: false, JobID: jobID, Status: job.Status}, nil
	}

	logger.Info("job claimed",
		"operation", job.OperationType,
		"organization_id", job.OrganizationID,
	)

	mode, err := p.catalog.GetMode(ctx, job.JobData.ModeID)
	if err != nil {
		if errors.Is(err, store.ErrModeNotFound) {
			return p.failJob(ctx, logger, jobID, fmt.Sprintf("pricing mode %s not found", job.JobData.ModeID), nil)
		}
		return p.abortRun(ctx, logger, jobID, fmt.Errorf("resolve pricing mode: %w", err))
	}

	items, err := p.catalog.ListVisibleItems(ctx, job.OrganizationID, job.JobData.LineItemIDs)
	if err != nil {
		return p.abortRun(ctx, logger, jobID, fmt.Errorf("resolve target items: %w", err))
	}

	total := len(items)
	logger.Info("target set resolved", "mode", mode.Name, "total_items", total)

	if total == 0 {
		// A zero-item job is trivially completed.
		return p.completeJob(ctx, logger, jobID, jobs.ResultSummary{})
	}

	if mode.IsReset() {
		return p.runReset(ctx, logger, job, total)
	}
	return p.runApply(ctx, logger, job, mode, items)
}

// runReset deletes existing overrides in the target scope in one operation.
// This path has no partial-failure granularity: it fully succeeds or the
// whole job fails.
func (p *Processor) runReset(ctx context.Context, logger *slog.Logger, job *jobs.Job, total int) (Outcome, error) {
	deleted, err := p.overrides.DeleteOverrides(ctx, job.OrganizationID, job.JobData.LineItemIDs)
	if err != nil {
		logger.Error("reset to baseline failed", "error", err)
		failed := total
		p.reportProgress(ctx, logger, job.ID, store.Progress{Current: 0, Total: total, FailedCount: &failed})
		summary := jobs.ResultSummary{FailedCount: total}
		return p.failJob(ctx, logger, job.ID, fmt.Sprintf("reset to baseline failed: %v", err), &summary)
	}

	logger.Info("overrides deleted", "rows", deleted)
	zero := 0
	p.reportProgress(ctx, logger, job.ID, store.Progress{Current: total, Total: total, FailedCount: &zero})
	return p.completeJob(ctx, logger, job.ID, jobs.ResultSummary{SuccessCount: total})
}

// runApply computes and upserts overrides in fixed-size batches. A failed
// batch adds its items to the failure detail and the run continues.
func (p *Processor) runApply(ctx context.Context, logger *slog.Logger, job *jobs.Job, mode *pricing.Mode, items []store.LineItem) (Outcome, error) {
	total := len(items)
	processed, failed := 0, 0
	var failedDetails []jobs.FailedItem

	for start := 0; start < total; start += p.batchSize {
		end := min(start+p.batchSize, total)
		batch := items[start:end]

		writes := make([]store.OverrideWrite, 0, len(batch))
		for _, item := range batch {
			multiplier := mode.MultiplierFor(pricing.Categorize(item.CostCode))
			writes = append(writes, store.OverrideWrite{
				LineItemID:  item.ID,
				CustomPrice: item.BasePrice * multiplier,
				ModeID:      mode.ID,
				Multiplier:  multiplier,
			})
		}

		if err := p.overrides.UpsertOverrides(ctx, job.OrganizationID, writes); err != nil {
			failed += len(batch)
			for _, item := range batch {
				failedDetails = append(failedDetails, jobs.FailedItem{
					LineItemID: item.ID,
					Name:       item.Name,
					Error:      err.Error(),
				})
			}
			logger.Warn("batch failed",
				"batch_start", start,
				"batch_size", len(batch),
				"error", err,
			)
		} else {
			processed += len(batch)
		}

		failedCount := failed
		p.reportProgress(ctx, logger, job.ID, store.Progress{
			Current:     processed,
			Total:       total,
			FailedCount: &failedCount,
		})
	}

	summary := jobs.ResultSummary{
		SuccessCount: processed,
		FailedCount:  failed,
		FailedItems:  failedDetails,
	}

	// Complete wipeout fails the job; any partial success completes it with
	// a non-empty failure detail. Deliberate policy, not an accident.
	if failed == total {
		return p.failJob(ctx, logger, job.ID, fmt.Sprintf("all %d items failed", total), &summary)
	}
	return p.completeJob(ctx, logger, job.ID, summary)
}

// reportProgress persists counters after a batch boundary. A progress write
// failure is logged and swallowed: it only delays what observers see, the
// counters land again with the next batch or the terminal write.
func (p *Processor) reportProgress(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, progress store.Progress) {
	if err := p.jobStore.UpdateProgress(ctx, jobID, progress); err != nil {
		logger.Warn("progress update failed",
			"processed", progress.Current,
			"total", progress.Total,
			"error", err,
		)
	}
}

func (p *Processor) completeJob(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, summary jobs.ResultSummary) (Outcome, error) {
	if err := p.jobStore.MarkAsCompleted(ctx, jobID, summary); err != nil {
		return p.abortRun(ctx, logger, jobID, fmt.Errorf("finalize job: %w", err))
	}
	logger.Info("job completed",
		"success_count", summary.SuccessCount,
		"failed_count", summary.FailedCount,
	)
	return Outcome{Applicable: true, JobID: jobID, Status: jobs.StatusCompleted, Summary: &summary}, nil
}

// failJob records a terminal failure that is part of the job's own outcome
// (wipeout, missing mode). The invocation itself still succeeded.
func (p *Processor) failJob(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, message string, summary *jobs.ResultSummary) (Outcome, error) {
	if err := p.jobStore.MarkAsFailed(ctx, jobID, message, summary); err != nil {
		return p.abortRun(ctx, logger, jobID, fmt.Errorf("finalize failed job: %w", err))
	}
	logger.Warn("job failed", "reason", message)
	return Outcome{
		Applicable:   true,
		JobID:        jobID,
		Status:       jobs.StatusFailed,
		Summary:      summary,
		ErrorMessage: message,
	}, nil
}

// abortRun handles errors after a successful claim that prevent the run from
// reaching a clean terminal write on its own: best-effort failure write, then
// the error surfaces to the invoker.
func (p *Processor) abortRun(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, runErr error) (Outcome, error) {
	logger.Error("job run aborted", "error", runErr)
	if failErr := p.jobStore.MarkAsFailed(ctx, jobID, runErr.Error(), nil); failErr != nil {
		logger.Error("could not mark aborted job as failed", "error", failErr)
	}
	return Outcome{}, fmt.Errorf("job %s: %w", jobID, runErr)
}
