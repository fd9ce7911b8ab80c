// Package pricing implements catalog item categorization and pricing-mode
// multiplier resolution for bulk price-override jobs.
package pricing

import "strconv"

// Category groups catalog items by the numeric range of their cost code.
type Category string

const (
	CategoryLabor         Category = "labor"
	CategoryMaterials     Category = "materials"
	CategoryInstallation  Category = "installation"
	CategoryServices      Category = "services"
	CategoryEquipment     Category = "equipment"
	CategorySubcontractor Category = "subcontractor"

	// CategoryAll is the catch-all for items whose cost code is missing,
	// unparseable, or outside every known range. It doubles as the reserved
	// fallback key in a mode's adjustment table.
	CategoryAll Category = "all"
)

// Categorize maps a raw cost-code string to its pricing category.
// Non-digit characters are stripped before parsing, so "L-150" and "150"
// classify identically.
func Categorize(costCode string) Category {
	digits := make([]byte, 0, len(costCode))
	for i := 0; i < len(costCode); i++ {
		if c := costCode[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) == 0 {
		return CategoryAll
	}

	code, err := strconv.Atoi(string(digits))
	if err != nil {
		return CategoryAll
	}

	switch {
	case code >= 100 && code <= 199:
		return CategoryLabor
	case code >= 200 && code <= 299:
		return CategoryInstallation
	case code >= 300 && code <= 399:
		return CategoryServices
	case code >= 400 && code <= 499:
		return CategoryEquipment
	case code >= 500 && code <= 599:
		return CategoryMaterials
	case code >= 600 && code <= 699:
		return CategoryServices
	case code >= 700 && code <= 799:
		return CategorySubcontractor
	default:
		return CategoryAll
	}
}
