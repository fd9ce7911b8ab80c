package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/costwise/pricingjobs/internal/jobs"
	"github.com/costwise/pricingjobs/internal/notify"
)

// Progress carries one incremental counter update for a running job.
// FailedCount is optional; nil leaves failed_items untouched.
type Progress struct {
	Current     int
	Total       int
	FailedCount *int
}

const jobColumns = `
	id, organization_id, operation_type, status,
	total_items, processed_items, failed_items,
	job_data, result_summary, error_message, created_by,
	created_at, started_at, completed_at, updated_at`

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		j          jobs.Job
		opType     string
		status     string
		dataRaw    []byte
		summaryRaw []byte
		errMsg     *string
	)

	err := row.Scan(
		&j.ID, &j.OrganizationID, &opType, &status,
		&j.TotalItems, &j.ProcessedItems, &j.FailedItems,
		&dataRaw, &summaryRaw, &errMsg, &j.CreatedBy,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.OperationType = jobs.OperationType(opType)
	j.Status, err = jobs.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan job %s: %w", j.ID, err)
	}

	if len(dataRaw) > 0 {
		if err := json.Unmarshal(dataRaw, &j.JobData); err != nil {
			return nil, fmt.Errorf("unmarshal job_data for %s: %w", j.ID, err)
		}
	}
	if len(summaryRaw) > 0 {
		var summary jobs.ResultSummary
		if err := json.Unmarshal(summaryRaw, &summary); err != nil {
			return nil, fmt.Errorf("unmarshal result_summary for %s: %w", j.ID, err)
		}
		j.ResultSummary = &summary
	}
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}

	return &j, nil
}

// CreateJob inserts a new job in pending status with zeroed counters.
// The insert is atomic: either the full row exists afterwards or nothing does.
func (s *Store) CreateJob(ctx context.Context, op jobs.OperationType, orgID uuid.UUID, totalItems int, data jobs.JobData, createdBy *uuid.UUID) (uuid.UUID, error) {
	dataRaw, err := json.Marshal(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal job_data: %w", err)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO pricing_jobs (organization_id, operation_type, status, total_items, job_data, created_by)
		VALUES ($1, $2, 'pending', $3, $4, $5)
		RETURNING`+jobColumns,
		orgID, string(op), totalItems, dataRaw, createdBy,
	)

	j, err := scanJob(row)
	if err != nil {
		return uuid.Nil, unavailable("create job", err)
	}

	s.publish(notify.Event{JobID: j.ID, Kind: notify.EventCreated, Job: *j, At: time.Now()})
	return j.ID, nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT`+jobColumns+` FROM pricing_jobs WHERE id = $1`, id)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, unavailable("get job", err)
	}
	return j, nil
}

// MarkAsProcessing claims a pending job with a single conditional update.
// Zero rows affected means another invocation already claimed the job (or it
// already finished); that is reported as claimed=false with a nil error, not
// as a failure.
func (s *Store) MarkAsProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE pricing_jobs
		SET status = 'processing', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING`+jobColumns,
		id,
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, unavailable("claim job", err)
	}

	s.publish(notify.Event{JobID: j.ID, Kind: notify.EventClaimed, Job: *j, At: time.Now()})
	return true, nil
}

// UpdateProgress writes the counters for a running job. The store accepts
// counters in any order of magnitude; monotonicity is the processor's
// responsibility.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, p Progress) error {
	row := s.db.QueryRow(ctx, `
		UPDATE pricing_jobs
		SET processed_items = $2,
		    total_items     = $3,
		    failed_items    = COALESCE($4, failed_items),
		    updated_at      = now()
		WHERE id = $1
		RETURNING`+jobColumns,
		id, p.Current, p.Total, p.FailedCount,
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return unavailable("update progress", err)
	}

	s.publish(notify.Event{JobID: j.ID, Kind: notify.EventProgress, Job: *j, At: time.Now()})
	return nil
}

// MarkAsCompleted transitions processing → completed and stores the result
// summary. Terminal states are immutable: completing a job that is not in
// processing returns ErrInvalidTransition.
func (s *Store) MarkAsCompleted(ctx context.Context, id uuid.UUID, summary jobs.ResultSummary) error {
	summaryRaw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal result_summary: %w", err)
	}

	row := s.db.QueryRow(ctx, `
		UPDATE pricing_jobs
		SET status = 'completed', result_summary = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING`+jobColumns,
		id, summaryRaw,
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.terminalConflict(ctx, id)
		}
		return unavailable("complete job", err)
	}

	s.publish(notify.Event{JobID: j.ID, Kind: notify.EventCompleted, Job: *j, At: time.Now()})
	return nil
}

// MarkAsFailed transitions processing → failed with a descriptive message.
// summary may be nil when the run failed before any batch work happened.
func (s *Store) MarkAsFailed(ctx context.Context, id uuid.UUID, errorMessage string, summary *jobs.ResultSummary) error {
	var summaryRaw []byte
	if summary != nil {
		var err error
		summaryRaw, err = json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal result_summary: %w", err)
		}
	}

	row := s.db.QueryRow(ctx, `
		UPDATE pricing_jobs
		SET status = 'failed', error_message = $2, result_summary = $3,
		    completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING`+jobColumns,
		id, errorMessage, summaryRaw,
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.terminalConflict(ctx, id)
		}
		return unavailable("fail job", err)
	}

	s.publish(notify.Event{JobID: j.ID, Kind: notify.EventFailed, Job: *j, At: time.Now()})
	return nil
}

// terminalConflict distinguishes "job missing" from "job not in processing"
// after a guarded terminal update matched zero rows.
func (s *Store) terminalConflict(ctx context.Context, id uuid.UUID) error {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, j.Status)
}

// GetActiveJobsForOrganization lists pending and processing jobs for one
// organization, newest first.
func (s *Store) GetActiveJobsForOrganization(ctx context.Context, orgID uuid.UUID) ([]jobs.Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT`+jobColumns+`
		FROM pricing_jobs
		WHERE organization_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, unavailable("list active jobs", err)
	}
	defer rows.Close()

	var result []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, unavailable("scan active job", err)
		}
		result = append(result, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list active jobs", err)
	}
	return result, nil
}

// ListStaleProcessingJobs returns jobs that have been in processing since
// before cutoff. Used by the watchdog for reporting only; nothing in this
// service transitions a stale job automatically.
func (s *Store) ListStaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]jobs.Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT`+jobColumns+`
		FROM pricing_jobs
		WHERE status = 'processing' AND started_at < $1
		ORDER BY started_at`,
		cutoff,
	)
	if err != nil {
		return nil, unavailable("list stale jobs", err)
	}
	defer rows.Close()

	var result []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, unavailable("scan stale job", err)
		}
		result = append(result, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list stale jobs", err)
	}
	return result, nil
}
