package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// FieldType is the storage type of a scalar build column.
type FieldType string

const (
	FieldTypeString  FieldType = "STRING"
	FieldTypeInteger FieldType = "INTEGER"
	FieldTypeFloat   FieldType = "FLOAT"
)

// ColumnValidator checks scalar column values submitted in partial updates
type ColumnValidator struct{}

// NewColumnValidator creates a new column validator
func NewColumnValidator() *ColumnValidator {
	return &ColumnValidator{}
}

// FieldDefinition describes one scalar column for validation
type FieldDefinition struct {
	Type        FieldType      `json:"type"`
	Description string         `json:"description,omitempty"`
	Validation  map[string]any `json:"validation,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// Messages flattens the errors into "field: message" strings.
func (r ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return out
}

// ValidateProperties validates submitted column values against their definitions.
// A nil value clears the column and is always accepted.
func (cv *ColumnValidator) ValidateProperties(properties map[string]any, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	for fieldName, value := range properties {
		fieldDef, exists := fieldDefinitions[fieldName]
		if !exists {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("property '%s' is not a build column", fieldName),
				Value:   value,
			})
			continue
		}

		if value == nil {
			continue
		}

		if _, err := cv.Normalize(fieldName, value, fieldDef.Type); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: err.Error(),
				Value:   value,
			})
			continue
		}

		if fieldDef.Validation != nil {
			if err := cv.validateCustomRules(fieldName, value, fieldDef.Validation); err != nil {
				result.Warnings = append(result.Warnings, ValidationError{
					Field:   fieldName,
					Message: err.Error(),
					Value:   value,
				})
			}
		}
	}

	return result
}

// Normalize converts a decoded JSON value into the Go type stored for the column:
// string, int64 or float64. Integers must fit a 32-bit column. nil passes through.
func (cv *ColumnValidator) Normalize(fieldName string, value any, expectedType FieldType) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch FieldType(strings.ToUpper(string(expectedType))) {
	case FieldTypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
		return s, nil
	case FieldTypeInteger:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("field '%s' must be an integer, got %v", fieldName, value)
		}
		// Integer columns are stored as 32-bit INTEGER.
		if f < math.MinInt32 || f > math.MaxInt32 {
			return nil, fmt.Errorf("field '%s' value %v is out of range for an integer column", fieldName, value)
		}
		return int64(f), nil
	case FieldTypeFloat:
		f, ok := toFloat(value)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("field '%s' must be a number, got %T", fieldName, value)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown field type: %s", expectedType)
	}
}

// validateCustomRules validates optional column rules
func (cv *ColumnValidator) validateCustomRules(fieldName string, value any, rules map[string]any) error {
	if minVal, exists := rules["min"]; exists {
		if v, ok := toFloat(value); ok {
			if limit, ok := toFloat(minVal); ok && v < limit {
				return fmt.Errorf("field '%s' value %v is less than minimum %v", fieldName, value, minVal)
			}
		}
	}

	if maxVal, exists := rules["max"]; exists {
		if v, ok := toFloat(value); ok {
			if limit, ok := toFloat(maxVal); ok && v > limit {
				return fmt.Errorf("field '%s' value %v is greater than maximum %v", fieldName, value, maxVal)
			}
		}
	}

	if maxLen, exists := rules["max_length"]; exists {
		if strVal, ok := value.(string); ok {
			if limit, ok := toFloat(maxLen); ok && float64(len(strVal)) > limit {
				return fmt.Errorf("field '%s' length %d is greater than maximum %v", fieldName, len(strVal), maxLen)
			}
		}
	}

	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
