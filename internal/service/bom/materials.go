package bom

import (
	"fmt"
	"strings"

	"github.com/ceer-lab/ceer/internal/domain"
)

// normalizeMaterials validates a submitted material list and returns a trimmed copy
// with default units applied. The input slice is never modified.
func normalizeMaterials(materials []domain.Material) ([]domain.Material, error) {
	if len(materials) == 0 {
		return nil, &ValidationError{Field: "materials", Message: "at least one material is required"}
	}
	out := make([]domain.Material, 0, len(materials))
	for i, m := range materials {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("materials[%d].name", i), Message: "name is required"}
		}
		if m.Quantity < 1 {
			return nil, &ValidationError{Field: fmt.Sprintf("materials[%d].quantity", i), Message: "quantity must be at least 1"}
		}
		unit := strings.TrimSpace(m.Unit)
		if unit == "" {
			unit = domain.DefaultUnit
		}
		out = append(out, domain.Material{
			Name:           name,
			Quantity:       m.Quantity,
			Specifications: strings.TrimSpace(m.Specifications),
			Unit:           unit,
		})
	}
	return out, nil
}

// overrideMaterials returns the replacement list for an approval, or nil when the
// reviewer supplied nothing and the existing materials stand.
func overrideMaterials(materials []domain.Material) ([]domain.Material, error) {
	if len(materials) == 0 {
		return nil, nil
	}
	return normalizeMaterials(materials)
}
