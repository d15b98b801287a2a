package entity

import "fmt"

// Constraint names reported in FieldError.Constraint.
const (
	ConstraintRequired       = "required"
	ConstraintType           = "type"
	ConstraintMin            = "min"
	ConstraintMax            = "max"
	ConstraintMinLength      = "min_length"
	ConstraintMaxLength      = "max_length"
	ConstraintPattern        = "pattern"
	ConstraintEnum           = "enum"
	ConstraintMinItems       = "min_items"
	ConstraintMaxItems       = "max_items"
	ConstraintDate           = "date"
	ConstraintAdditional     = "additional_property"
	ConstraintUnknownVariant = "unknown_variant"
	ConstraintDateOrder      = "date_order"
	ConstraintJSON           = "json"
)

// FieldError describes one schema-validation failure.
type FieldError struct {
	Path       string `json:"path"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value"`
	Message    string `json:"message,omitempty"`
}

func (e FieldError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Path, e.Message, e.Constraint)
	}
	return fmt.Sprintf("%s: violates %s", e.Path, e.Constraint)
}
