// =============================================================================
// Tabular Importer - Pre-flight Validation
// =============================================================================
//
// This module checks a parsed sheet before any remote call is made, so that
// problems the service would reject anyway are reported locally and early.
//
// CHECKS:
//   - empty_sheet:    the sheet has no records (error)
//   - mapping_source: a mapped source column is missing from the sheet (error)
//   - numeric:        a measure value could not be read as a number (warning)
//   - date:           a date value could not be normalized (warning)
//
// ERROR HANDLING:
//   - Errors are collected, not thrown immediately
//   - Each error includes the record number, field and value
//   - Errors stop the upload; warnings are reported and the upload continues
//     unless TreatWarningsAsErrors is set
//
// =============================================================================

package validation

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/ginjaninja78/tabular-import/internal/types"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation finding.
type ValidationError struct {
	// Severity indicates the severity of the error.
	// "error" = fatal, the upload must not start
	// "warning" = non-fatal, the upload can continue
	Severity string

	// Field is the name of the field that failed validation.
	Field string

	// Value is the actual value that failed validation.
	Value string

	// Rule is the validation rule that was violated.
	Rule string

	// Message is a human-readable error message.
	Message string

	// RecordNumber is the 1-based position of the record in the sheet, or 0
	// for sheet-level findings.
	RecordNumber int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.RecordNumber == 0 {
		return fmt.Sprintf("[%s] %s", strings.ToUpper(e.Severity), e.Message)
	}
	return fmt.Sprintf("[%s] Record %d, Field '%s': %s (value: '%s')",
		strings.ToUpper(e.Severity),
		e.RecordNumber,
		e.Field,
		e.Message,
		e.Value,
	)
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the results of validation.
type ValidationResult struct {
	// IsValid is true if there are no fatal errors.
	IsValid bool

	// Errors contains all validation errors (including warnings).
	Errors []*ValidationError

	// ErrorCount is the number of fatal errors.
	ErrorCount int

	// WarningCount is the number of warnings.
	WarningCount int

	// RecordsValidated is the number of records inspected.
	RecordsValidated int
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Rules describes what the sheet is expected to contain.
type Rules struct {
	// Mapping is canonical field name -> source column name.
	Mapping map[string]string

	// Measures and DateDimensions are canonical names; mapped source names
	// are recognised too.
	Measures       []string
	DateDimensions []string
}

// ValidationOptions contains options for validation.
type ValidationOptions struct {
	// StopOnFirstError stops validation after the first fatal error.
	// Default: false
	StopOnFirstError bool

	// TreatWarningsAsErrors treats warnings as fatal errors.
	// Default: false
	TreatWarningsAsErrors bool

	// MaxFindingsPerRule caps how many findings a single rule reports.
	// Zero means no cap. Default: 100
	MaxFindingsPerRule int
}

// Validator performs pre-flight validation of one sheet.
type Validator struct {
	rules    Rules
	options  ValidationOptions
	measures map[string]bool
	dates    map[string]bool
}

// DefaultValidationOptions returns the default validation options.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{MaxFindingsPerRule: 100}
}

// NewValidator creates a new Validator instance.
func NewValidator(rules Rules) *Validator {
	return NewValidatorWithOptions(rules, DefaultValidationOptions())
}

// NewValidatorWithOptions creates a new Validator with custom options.
func NewValidatorWithOptions(rules Rules, options ValidationOptions) *Validator {
	return &Validator{
		rules:    rules,
		options:  options,
		measures: names(rules.Measures, rules.Mapping),
		dates:    names(rules.DateDimensions, rules.Mapping),
	}
}

// names returns the canonical names plus their mapped source names.
func names(canonical []string, mapping map[string]string) map[string]bool {
	out := make(map[string]bool, len(canonical)*2)
	for _, n := range canonical {
		out[n] = true
		if mapped := mapping[n]; mapped != "" {
			out[mapped] = true
		}
	}
	return out
}

// =============================================================================
// MAIN VALIDATION FUNCTION
// =============================================================================

// Validate validates records with default options.
// This is the main entry point for validation.
//
// PARAMETERS:
//   - records: The normalized records of the selected sheet.
//   - rules: The mapping and field roles to check against.
//
// RETURNS:
//   - The validation result.
func Validate(records []types.Record, rules Rules) *ValidationResult {
	return NewValidator(rules).ValidateAll(records)
}

// ValidateAll validates all records and returns a detailed result.
func (v *Validator) ValidateAll(records []types.Record) *ValidationResult {
	result := &ValidationResult{
		IsValid:          true,
		Errors:           make([]*ValidationError, 0),
		RecordsValidated: len(records),
	}
	perRule := map[string]int{}

	add := func(err *ValidationError) bool {
		if v.options.MaxFindingsPerRule > 0 && perRule[err.Rule] >= v.options.MaxFindingsPerRule {
			return true
		}
		perRule[err.Rule]++
		result.Errors = append(result.Errors, err)

		if err.Severity == SeverityError {
			result.ErrorCount++
			result.IsValid = false
			return !v.options.StopOnFirstError
		}
		result.WarningCount++
		if v.options.TreatWarningsAsErrors {
			result.IsValid = false
		}
		return true
	}

	for _, err := range v.ValidateSheet(records) {
		if !add(err) {
			return result
		}
	}

	for i, rec := range records {
		for _, err := range v.ValidateRecord(i+1, rec) {
			if !add(err) {
				return result
			}
		}
	}

	return result
}

// ValidateSheet runs the sheet-level checks.
func (v *Validator) ValidateSheet(records []types.Record) []*ValidationError {
	if len(records) == 0 {
		return []*ValidationError{{
			Severity: SeverityError,
			Rule:     "empty_sheet",
			Message:  "The sheet contains no records",
		}}
	}

	// Records are homogeneous, so the first one carries the header.
	header := records[0].Keys()

	canonical := make([]string, 0, len(v.rules.Mapping))
	for name := range v.rules.Mapping {
		canonical = append(canonical, name)
	}
	sort.Strings(canonical)

	var errors []*ValidationError
	for _, name := range canonical {
		source := v.rules.Mapping[name]
		if source == "" || slices.Contains(header, source) {
			continue
		}
		errors = append(errors, &ValidationError{
			Severity: SeverityError,
			Field:    name,
			Value:    source,
			Rule:     "mapping_source",
			Message:  fmt.Sprintf("Column '%s' mapped to '%s' is not in the sheet", source, name),
		})
	}
	return errors
}

// ValidateRecord runs the field checks on one record.
func (v *Validator) ValidateRecord(number int, rec types.Record) []*ValidationError {
	var errors []*ValidationError

	for _, key := range rec.Keys() {
		value, _ := rec.Get(key)
		s, isString := value.(string)

		// =====================================================================
		// MEASURE VALIDATION
		// =====================================================================
		// Numeric measures were converted while parsing; a non-blank string
		// left in a measure column could not be read as a number.

		if v.measures[key] && isString && strings.TrimSpace(s) != "" {
			errors = append(errors, &ValidationError{
				Severity:     SeverityWarning,
				Field:        key,
				Value:        s,
				Rule:         "numeric",
				Message:      "Measure value is not numeric",
				RecordNumber: number,
			})
		}

		// =====================================================================
		// DATE VALIDATION
		// =====================================================================
		// Valid slash dates were normalized while parsing.

		if v.dates[key] && isString && strings.Contains(s, "/") {
			errors = append(errors, &ValidationError{
				Severity:     SeverityWarning,
				Field:        key,
				Value:        s,
				Rule:         "date",
				Message:      "Date is not a valid M/D/YYYY date",
				RecordNumber: number,
			})
		}
	}

	return errors
}

// =============================================================================
// ERROR FORMATTING
// =============================================================================

// FormatErrors formats validation errors for display or logging.
//
// PARAMETERS:
//   - errors: The validation errors to format.
//
// RETURNS:
//   - A formatted string containing all errors.
func FormatErrors(errors []*ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Validation completed with %d finding(s):\n\n", len(errors)))

	for i, err := range errors {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}

	return builder.String()
}

// WriteErrorLog writes validation errors to a log file.
//
// PARAMETERS:
//   - errors: The validation errors to write.
//   - filePath: The path to the output file.
//
// RETURNS:
//   - An error if writing fails.
func WriteErrorLog(errors []*ValidationError, filePath string) error {
	if err := os.WriteFile(filePath, []byte(FormatErrors(errors)), 0644); err != nil {
		return fmt.Errorf("failed to write validation log: %w", err)
	}
	return nil
}
