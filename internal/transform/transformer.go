// =============================================================================
// Tabular Importer - Field Transformer
// =============================================================================
//
// This module normalizes raw field values while a row is parsed:
//   - measures are coerced to numbers, sign-reversed for income accounts
//     and rounded to 7 decimal places
//   - date dimensions are normalized to YYYY-MM-DD, or resolved through the
//     fiscal calendar
//   - everything else is stored as a trimmed string
//
// A Transformer is immutable once built and safe for concurrent use.
//
// =============================================================================

package transform

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/tabular-import/internal/types"
)

// DateLayout is the canonical date representation sent to the service.
const DateLayout = "2006-01-02"

// MeasurePrecision is the number of decimal places kept for measures.
const MeasurePrecision = 7

// slashDate matches M/D/YYYY.
var slashDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)

// =============================================================================
// CONFIGURATION
// =============================================================================

// FiscalPeriod maps a fiscal period key (YYYYPP) to a calendar month key.
type FiscalPeriod struct {
	Period   string
	CalMonth string
}

// Config is the session configuration the transformer reads.
type Config struct {
	// Mapping is canonical field name -> source field name.
	Mapping map[string]string

	// Defaults is canonical field name -> default value.
	Defaults map[string]string

	Measures         []string
	DateDimensions   []string
	AccountDimension string
	IncomeAccounts   []string

	// FiscalCalendar is searched in order; the first match wins.
	FiscalCalendar []FiscalPeriod

	ReverseSignage bool
	UseFiscalDate  bool
}

// CurrencyConfig returns the fixed configuration used for currency rate
// uploads: a single rateValue measure, the validFrom date, no reversal and
// no fiscal dates.
func CurrencyConfig(mapping, defaults map[string]string) Config {
	dateField := "validFrom"
	if mapped := mapping["validFrom"]; mapped != "" {
		dateField = mapped
	}
	return Config{
		Mapping:        mapping,
		Defaults:       defaults,
		Measures:       []string{"rateValue"},
		DateDimensions: []string{dateField},
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// FiscalDateResolutionError is returned when a fiscal period value has the
// wrong shape or is absent from the fiscal calendar.
type FiscalDateResolutionError struct {
	Field string
	Value string
	// Malformed is true when the value is not a 6 or 7 character period.
	Malformed bool
}

func (e *FiscalDateResolutionError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("invalid fiscal date format in field %q: %q", e.Field, e.Value)
	}
	return fmt.Sprintf("no matching date found for fiscal date %q in field %q", e.Value, e.Field)
}

// =============================================================================
// TRANSFORMER
// =============================================================================

// Transformer applies the normalization rules to rows.
type Transformer struct {
	measures      map[string]struct{}
	dates         map[string]struct{}
	accountFields map[string]struct{}
	income        map[string]struct{}

	accountDefault string
	calendar       []FiscalPeriod
	reverseSignage bool
	useFiscalDate  bool
}

// New builds a Transformer. Fields are recognized by their canonical name
// or by the source name the mapping assigns to it.
func New(cfg Config) *Transformer {
	t := &Transformer{
		measures:       expand(cfg.Measures, cfg.Mapping),
		dates:          expand(cfg.DateDimensions, cfg.Mapping),
		accountFields:  map[string]struct{}{},
		income:         toSet(cfg.IncomeAccounts),
		calendar:       append([]FiscalPeriod(nil), cfg.FiscalCalendar...),
		reverseSignage: cfg.ReverseSignage,
		useFiscalDate:  cfg.UseFiscalDate,
	}
	if cfg.AccountDimension != "" {
		t.accountFields = expand([]string{cfg.AccountDimension}, cfg.Mapping)
		t.accountDefault = cfg.Defaults[cfg.AccountDimension]
	}
	return t
}

// Passthrough returns a transformer that only trims values and formats
// native dates.
func Passthrough() *Transformer {
	return New(Config{})
}

// expand returns names plus the source names mapped to them.
func expand(names []string, mapping map[string]string) map[string]struct{} {
	set := make(map[string]struct{}, len(names)*2)
	for _, n := range names {
		set[n] = struct{}{}
		if src := mapping[n]; src != "" {
			set[src] = struct{}{}
		}
	}
	return set
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// TransformRow normalizes one raw row. Raw values are strings or
// time.Time (native spreadsheet dates). The result keeps the raw key order.
//
// The row is handled in two passes: the first decides whether the row is
// sign-reversed, the second transforms each field. Column order therefore
// does not matter.
func (t *Transformer) TransformRow(raw types.Record) (types.Record, error) {
	reversed := t.rowReversed(raw)

	out := types.NewRecord(raw.Len())
	for _, key := range raw.Keys() {
		value, _ := raw.Get(key)
		v, err := t.transformField(key, value, reversed)
		if err != nil {
			return types.Record{}, err
		}
		out.Set(key, v)
	}
	return out, nil
}

// rowReversed reports whether the row's account field marks it as an
// income-type row.
func (t *Transformer) rowReversed(raw types.Record) bool {
	if !t.reverseSignage || len(t.accountFields) == 0 {
		return false
	}
	for _, key := range raw.Keys() {
		if _, ok := t.accountFields[key]; !ok {
			continue
		}
		value := strings.TrimSpace(raw.String(key))
		if _, ok := t.income[value]; ok {
			return true
		}
		if t.accountDefault != "" && value == t.accountDefault {
			return true
		}
	}
	return false
}

func (t *Transformer) transformField(key string, value any, reversed bool) (any, error) {
	if date, ok := value.(time.Time); ok {
		return date.Format(DateLayout), nil
	}

	s := strings.TrimSpace(types.FormatValue(value))

	if _, ok := t.measures[key]; ok {
		if f, ok := parseNumber(s); ok {
			if reversed {
				f = -f
			}
			return Round(f), nil
		}
	}

	if _, ok := t.dates[key]; ok {
		return t.normalizeDate(key, s)
	}

	return s, nil
}

// normalizeDate handles a date dimension value that is not a native date.
func (t *Transformer) normalizeDate(key, s string) (string, error) {
	if strings.Contains(s, "/") {
		if d, ok := parseSlashDate(s); ok {
			return d, nil
		}
		return s, nil
	}
	if t.useFiscalDate {
		return t.ResolveFiscal(key, s)
	}
	return s, nil
}

// ResolveFiscal looks a fiscal period up in the calendar. A 7 character
// value such as "2024-03" or "2024.03" has its separator dropped first.
func (t *Transformer) ResolveFiscal(field, value string) (string, error) {
	var period string
	switch len(value) {
	case 6:
		period = value
	case 7:
		period = value[:4] + value[5:]
	default:
		return "", &FiscalDateResolutionError{Field: field, Value: value, Malformed: true}
	}

	for _, p := range t.calendar {
		if p.Period == period {
			return p.CalMonth, nil
		}
	}
	return "", &FiscalDateResolutionError{Field: field, Value: value}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// parseNumber reports whether s is a finite number. Blank is not a number.
func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Round rounds f to MeasurePrecision decimal places. Negative zero becomes
// zero.
func Round(f float64) float64 {
	r, _ := decimal.NewFromFloat(f).Round(MeasurePrecision).Float64()
	if r == 0 {
		return 0
	}
	return r
}

// parseSlashDate converts M/D/YYYY to YYYY-MM-DD. Impossible dates such as
// 2/30/2024 are rejected.
func parseSlashDate(s string) (string, bool) {
	m := slashDate.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return "", false
	}
	return d.Format(DateLayout), true
}
