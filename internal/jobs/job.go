package jobs

import (
	"time"

	"github.com/google/uuid"
)

// OperationType identifies what a bulk job does to the catalog.
type OperationType string

const (
	OpApplyPricingMode OperationType = "apply_pricing_mode"
	OpBulkUpdate       OperationType = "bulk_update"

	// OpUndoPricing is carried in the data shape for forward compatibility.
	// No processing path consumes it; see JobData.PreviousPrices.
	OpUndoPricing OperationType = "undo_pricing"
)

// PreviousPrice records a price captured before an override was applied.
// Reserved for a future undo operation; the worker never reads it.
type PreviousPrice struct {
	LineItemID uuid.UUID `json:"line_item_id"`
	Price      float64   `json:"price"`
}

// JobData is the operation payload stored alongside the job row.
type JobData struct {
	ModeID         uuid.UUID       `json:"mode_id"`
	ModeName       string          `json:"mode_name"`
	LineItemIDs    []uuid.UUID     `json:"line_item_ids,omitempty"`
	PreviousPrices []PreviousPrice `json:"previous_prices,omitempty"`
	ApplyToAll     bool            `json:"apply_to_all"`
}

// FailedItem describes one catalog item that could not be priced.
type FailedItem struct {
	LineItemID uuid.UUID `json:"line_item_id"`
	Name       string    `json:"name"`
	Error      string    `json:"error"`
}

// ResultSummary is written once, when the job reaches a terminal state.
type ResultSummary struct {
	SuccessCount int          `json:"success_count"`
	FailedCount  int          `json:"failed_count"`
	FailedItems  []FailedItem `json:"failed_items,omitempty"`
}

// Job is one row in the pricing_jobs table: the durable record of an
// asynchronous bulk pricing operation.
//
// Counter invariant: ProcessedItems + FailedItems <= TotalItems at every
// observed snapshot. The store does not enforce monotonicity of the counters;
// the worker is the only writer once the job is claimed.
type Job struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	OperationType  OperationType  `json:"operation_type"`
	Status         Status         `json:"status"`
	TotalItems     int            `json:"total_items"`
	ProcessedItems int            `json:"processed_items"`
	FailedItems    int            `json:"failed_items"`
	JobData        JobData        `json:"job_data"`
	ResultSummary  *ResultSummary `json:"result_summary,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedBy      *uuid.UUID     `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
