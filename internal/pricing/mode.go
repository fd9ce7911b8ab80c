package pricing

import (
	"time"

	"github.com/google/uuid"
)

// ResetModeName is the sentinel mode name meaning "delete existing overrides"
// rather than "compute new prices". It is a distinct code path in the worker,
// not a multiplier of 1.
const ResetModeName = "Reset to Baseline"

// Mode is a named multiplier table keyed by category. The reserved key "all"
// acts as the default multiplier for categories without an explicit entry.
type Mode struct {
	ID          uuid.UUID
	Name        string
	Adjustments map[string]float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MultiplierFor resolves the effective multiplier for a category.
// Lookup order: exact category, then "all", then 1.0. Absent entries are
// never an error; the price simply stays unchanged.
func (m *Mode) MultiplierFor(cat Category) float64 {
	if mult, ok := m.Adjustments[string(cat)]; ok {
		return mult
	}
	if mult, ok := m.Adjustments[string(CategoryAll)]; ok {
		return mult
	}
	return 1.0
}

// IsReset reports whether this mode is the reset sentinel.
func (m *Mode) IsReset() bool {
	return m.Name == ResetModeName
}
