package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Override is one stored custom price superseding an item's base price
// within an organization.
type Override struct {
	OrganizationID uuid.UUID
	LineItemID     uuid.UUID
	CustomPrice    float64
	AppliedModeID  *uuid.UUID
	ModeMultiplier float64
	UpdatedAt      time.Time
}

// OverrideWrite stages one override upsert for a batch.
type OverrideWrite struct {
	LineItemID  uuid.UUID
	CustomPrice float64
	ModeID      uuid.UUID
	Multiplier  float64
}

const upsertOverrideSQL = `
	INSERT INTO item_price_overrides (organization_id, line_item_id, custom_price, applied_mode_id, mode_multiplier, updated_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (organization_id, line_item_id)
	DO UPDATE SET custom_price    = EXCLUDED.custom_price,
	              applied_mode_id = EXCLUDED.applied_mode_id,
	              mode_multiplier = EXCLUDED.mode_multiplier,
	              updated_at      = now()`

// UpsertOverrides writes one batch of overrides as a single operation: all
// rows land or none do. The on-conflict update keeps the
// (organization, item) uniqueness invariant without a read-then-write, so
// re-running a job overwrites rather than compounds.
func (s *Store) UpsertOverrides(ctx context.Context, orgID uuid.UUID, writes []OverrideWrite) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return unavailable("begin override batch", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, w := range writes {
		batch.Queue(upsertOverrideSQL, orgID, w.LineItemID, w.CustomPrice, w.ModeID, w.Multiplier)
	}

	br := tx.SendBatch(ctx, batch)
	for range writes {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return unavailable("upsert override", err)
		}
	}
	if err := br.Close(); err != nil {
		return unavailable("close override batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit override batch", err)
	}
	return nil
}

// DeleteOverrides removes overrides scoped to one organization, narrowed to
// ids when non-empty, in one statement. Returns the number of rows deleted.
// This is the Reset-to-Baseline path: it never touches base prices.
func (s *Store) DeleteOverrides(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (int64, error) {
	query := `DELETE FROM item_price_overrides WHERE organization_id = $1`
	args := []any{orgID}

	if len(ids) > 0 {
		query += ` AND line_item_id = ANY($2)`
		args = append(args, ids)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, unavailable("delete overrides", err)
	}
	return tag.RowsAffected(), nil
}

// GetOverride loads one override row, mainly for tests and support tooling.
func (s *Store) GetOverride(ctx context.Context, orgID, itemID uuid.UUID) (*Override, error) {
	var o Override
	err := s.db.QueryRow(ctx, `
		SELECT organization_id, line_item_id, custom_price, applied_mode_id, mode_multiplier, updated_at
		FROM item_price_overrides
		WHERE organization_id = $1 AND line_item_id = $2`,
		orgID, itemID,
	).Scan(&o.OrganizationID, &o.LineItemID, &o.CustomPrice, &o.AppliedModeID, &o.ModeMultiplier, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, unavailable("get override", err)
	}
	return &o, nil
}
