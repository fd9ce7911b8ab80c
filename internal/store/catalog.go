package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/costwise/pricingjobs/internal/pricing"
)

// LineItem is one catalog entry. OrganizationID is nil for shared/system
// items visible to every organization.
type LineItem struct {
	ID             uuid.UUID
	OrganizationID *uuid.UUID
	Name           string
	BasePrice      float64
	CostCode       string
}

// ListVisibleItems resolves the target item set for a job: items owned by the
// organization plus shared items, intersected with ids when ids is non-empty.
func (s *Store) ListVisibleItems(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]LineItem, error) {
	query := `
		SELECT id, organization_id, name, base_price, COALESCE(cost_code, '')
		FROM line_items
		WHERE (organization_id = $1 OR organization_id IS NULL)`
	args := []any{orgID}

	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list visible items", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.OrganizationID, &it.Name, &it.BasePrice, &it.CostCode); err != nil {
			return nil, unavailable("scan line item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list visible items", err)
	}
	return items, nil
}

// GetMode loads a pricing mode by id.
func (s *Store) GetMode(ctx context.Context, id uuid.UUID) (*pricing.Mode, error) {
	var (
		m   pricing.Mode
		raw []byte
	)

	err := s.db.QueryRow(ctx, `
		SELECT id, name, adjustments, created_at, updated_at
		FROM pricing_modes
		WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.Name, &raw, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrModeNotFound, id)
		}
		return nil, unavailable("get pricing mode", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m.Adjustments); err != nil {
			return nil, fmt.Errorf("unmarshal adjustments for mode %s: %w", id, err)
		}
	}
	return &m, nil
}
