// =============================================================================
// Tabular Importer - Master Data Loader
// =============================================================================
//
// This module derives the transformer's session configuration from a
// model's metadata and master data:
//
//   - Measures:         FactData properties with a numeric EDM type
//   - Account dimension: the MasterData property typed ACCOUNT_TYPE
//   - Date dimensions:  MasterData properties of type Edm.Date
//   - Fiscal calendar:  FISCAL_CALPERIOD -> CALMONTH rows of each date
//                       dimension's master data
//   - Income accounts:  account members whose accType is INC or LEQ
//
// Dimension properties are named "<Dimension>___<Attribute>"; only the part
// before the separator is kept.
//
// =============================================================================

package masterdata

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ginjaninja78/tabular-import/internal/importapi"
	"github.com/ginjaninja78/tabular-import/internal/logger"
	"github.com/ginjaninja78/tabular-import/internal/transform"
	"github.com/ginjaninja78/tabular-import/internal/types"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	accountPropertyType = "ACCOUNT_TYPE"
	dateType            = "Edm.Date"
	dimensionSeparator  = "___"

	fiscalPeriodField = "FISCAL_CALPERIOD"
	calMonthField     = "CALMONTH"
	accountTypeField  = "accType"
	memberIDField     = "ID"
)

// numericTypes are the EDM types that mark a fact property as a measure.
var numericTypes = map[string]bool{
	"Edm.Decimal": true,
	"Edm.Integer": true,
	"Edm.Byte":    true,
	"Edm.SByte":   true,
	"Edm.Int16":   true,
	"Edm.Int32":   true,
	"Edm.Int64":   true,
	"Edm.Single":  true,
	"Edm.Double":  true,
}

// incomeAccountTypes are the account types whose measures are sign-reversed.
var incomeAccountTypes = map[string]bool{
	"INC": true,
	"LEQ": true,
}

// =============================================================================
// TYPES
// =============================================================================

// Source is the part of the import service the loader reads from.
type Source interface {
	GetMetadata(ctx context.Context, modelID string) (*importapi.ModelMetadata, error)
	GetMasterData(ctx context.Context, modelID, dimension string) ([]types.Record, error)
}

// Metadata is the session configuration derived from one model.
type Metadata struct {
	Measures         []string
	AccountDimension string
	DateDimensions   []string
	IncomeAccounts   []string
	FiscalCalendar   []transform.FiscalPeriod
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the metadata of modelID and the master data it depends on.
//
// PARAMETERS:
//   - ctx: carries the logger and cancels remote calls
//   - src: the import service
//   - modelID: the target model
//
// RETURNS:
//   - The derived metadata, or the first remote error
func Load(ctx context.Context, src Source, modelID string) (*Metadata, error) {
	log := logger.FromContext(ctx)

	doc, err := src.GetMetadata(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata for model %s: %w", modelID, err)
	}

	md := &Metadata{}
	for _, p := range doc.FactData {
		if numericTypes[p.Type] {
			md.Measures = append(md.Measures, p.Name)
		}
	}

	for _, p := range doc.MasterData {
		if p.PropertyType == accountPropertyType {
			md.AccountDimension = dimensionName(p.Name)
		}
		if p.Type == dateType {
			dim := dimensionName(p.Name)
			if slices.Contains(md.DateDimensions, dim) {
				continue
			}
			md.DateDimensions = append(md.DateDimensions, dim)

			members, err := src.GetMasterData(ctx, modelID, dim)
			if err != nil {
				return nil, fmt.Errorf("failed to load master data for %s: %w", dim, err)
			}
			md.FiscalCalendar = append(md.FiscalCalendar, fiscalPeriods(members)...)
		}
	}

	if md.AccountDimension != "" {
		members, err := src.GetMasterData(ctx, modelID, md.AccountDimension)
		if err != nil {
			return nil, fmt.Errorf("failed to load master data for %s: %w", md.AccountDimension, err)
		}
		md.IncomeAccounts = incomeAccounts(members)
	}

	log.Info().
		Str("model_id", modelID).
		Int("measures", len(md.Measures)).
		Str("account_dimension", md.AccountDimension).
		Strs("date_dimensions", md.DateDimensions).
		Int("income_accounts", len(md.IncomeAccounts)).
		Int("fiscal_periods", len(md.FiscalCalendar)).
		Msg("loaded model metadata")

	return md, nil
}

// dimensionName returns the part of a property name before "___".
func dimensionName(property string) string {
	name, _, _ := strings.Cut(property, dimensionSeparator)
	return name
}

// fiscalPeriods extracts the period lookup rows of a date dimension. Rows
// without a fiscal period are skipped.
func fiscalPeriods(members []types.Record) []transform.FiscalPeriod {
	var out []transform.FiscalPeriod
	for _, m := range members {
		period := m.String(fiscalPeriodField)
		if period == "" {
			continue
		}
		out = append(out, transform.FiscalPeriod{Period: period, CalMonth: m.String(calMonthField)})
	}
	return out
}

func incomeAccounts(members []types.Record) []string {
	var out []string
	for _, m := range members {
		if incomeAccountTypes[m.String(accountTypeField)] {
			out = append(out, m.String(memberIDField))
		}
	}
	return out
}

// =============================================================================
// MERGING
// =============================================================================

// Apply merges the metadata into cfg. Names already configured are kept,
// an explicitly configured account dimension wins, and configured fiscal
// periods are searched before loaded ones.
func (m *Metadata) Apply(cfg *transform.Config) {
	cfg.Measures = union(cfg.Measures, m.Measures)
	cfg.DateDimensions = union(cfg.DateDimensions, m.DateDimensions)
	cfg.IncomeAccounts = union(cfg.IncomeAccounts, m.IncomeAccounts)
	if cfg.AccountDimension == "" {
		cfg.AccountDimension = m.AccountDimension
	}
	cfg.FiscalCalendar = append(slices.Clone(cfg.FiscalCalendar), m.FiscalCalendar...)
}

// union appends the values of extra missing from base, keeping order.
func union(base, extra []string) []string {
	out := slices.Clone(base)
	for _, v := range extra {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
