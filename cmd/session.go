// =============================================================================
// Tabular Importer - Session Setup
// =============================================================================
//
// Helpers shared by the commands: loading the configuration, building the
// logger, the import service client and its credentials, the transformer
// configuration, and reading one sheet of an input file.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/tabular-import/internal/auth"
	"github.com/ginjaninja78/tabular-import/internal/config"
	"github.com/ginjaninja78/tabular-import/internal/importapi"
	"github.com/ginjaninja78/tabular-import/internal/logger"
	"github.com/ginjaninja78/tabular-import/internal/masterdata"
	"github.com/ginjaninja78/tabular-import/internal/tabular"
	"github.com/ginjaninja78/tabular-import/internal/transform"
	"github.com/ginjaninja78/tabular-import/internal/types"
	"github.com/ginjaninja78/tabular-import/internal/validation"
)

// loadConfig loads the configuration and returns it with a context carrying
// a logger at the configured level.
func loadConfig(ctx context.Context) (*config.Config, context.Context, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, ctx, err
	}
	return cfg, logger.WithContext(ctx, newLogger(cfg)), nil
}

// newLogger builds the console logger; --verbose wins over log_level.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logger.New(level)
}

// =============================================================================
// IMPORT SERVICE
// =============================================================================

// newCredential picks the credential for the configured auth mode.
//
// In csrf mode the session cookie and anti-forgery token are enough. In
// oauth mode every request carries a bearer token, and the anti-forgery
// token is fetched with that token too.
func newCredential(ctx context.Context, cfg *config.Config, client *http.Client) auth.Credential {
	if cfg.Service.AuthMode == config.AuthModeOAuth {
		sa := auth.NewServiceAccount(ctx, cfg.Service.TokenURL, cfg.Service.ClientID, cfg.Service.ClientSecret, client)
		return auth.Chain{sa, auth.NewCSRFToken(cfg.Service.BaseURL, client, sa)}
	}
	return auth.NewCSRFToken(cfg.Service.BaseURL, client, nil)
}

// newServiceClient builds the import service client.
func newServiceClient(ctx context.Context, cfg *config.Config) (*importapi.Client, error) {
	if err := cfg.RequireService(); err != nil {
		return nil, err
	}
	httpClient := importapi.NewHTTPClient(cfg.Service.Timeout)
	return importapi.New(cfg.Service.BaseURL, httpClient, newCredential(ctx, cfg, httpClient))
}

// =============================================================================
// TRANSFORMATION
// =============================================================================

// transformConfig converts the configured rules into transformer settings.
func transformConfig(cfg *config.Config) transform.Config {
	if cfg.Job.Type == config.JobTypeCurrency {
		return transform.CurrencyConfig(cfg.Mapping, cfg.DefaultValues)
	}

	t := cfg.Transform
	calendar := make([]transform.FiscalPeriod, 0, len(t.FiscalCalendar))
	for _, p := range t.FiscalCalendar {
		calendar = append(calendar, transform.FiscalPeriod{Period: p.Period, CalMonth: p.CalMonth})
	}
	return transform.Config{
		Mapping:          cfg.Mapping,
		Defaults:         cfg.DefaultValues,
		Measures:         t.Measures,
		DateDimensions:   t.DateDimensions,
		AccountDimension: t.AccountDimension,
		IncomeAccounts:   t.IncomeAccounts,
		FiscalCalendar:   calendar,
		ReverseSignage:   t.ReverseSignage,
		UseFiscalDate:    t.UseFiscalDate,
	}
}

// sessionTransform returns the transformer settings, enriched with model
// metadata when load_metadata is set.
func sessionTransform(ctx context.Context, cfg *config.Config, src masterdata.Source) (transform.Config, error) {
	tcfg := transformConfig(cfg)
	if cfg.Job.Type != config.JobTypeFact || !cfg.Transform.LoadMetadata {
		return tcfg, nil
	}

	md, err := masterdata.Load(ctx, src, cfg.Job.ModelID)
	if err != nil {
		return tcfg, err
	}
	md.Apply(&tcfg)
	return tcfg, nil
}

// =============================================================================
// INPUT
// =============================================================================

// readSheet parses the file at path and selects one sheet.
//
// RETURNS:
//   - The selected sheet name and its records
//   - A *tabular.ParseError, a *transform.FiscalDateResolutionError or a
//     *config.ConfigurationError (unknown sheet)
func readSheet(path, sheet string, cfg *config.Config, tcfg transform.Config) (string, []types.Record, error) {
	format, err := tabular.FormatFromFilename(path)
	if err != nil {
		return "", nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	set, err := tabular.Parse(f, format, transform.New(tcfg), cfg.CSVSettings)
	if err != nil {
		return "", nil, err
	}
	return tabular.Select(set, sheet)
}

// preflight runs the local checks on the selected sheet. With strict,
// warnings fail the sheet too; with failFast the checks stop at the first
// error.
func preflight(records []types.Record, cfg *config.Config, tcfg transform.Config, strict, failFast bool) *validation.ValidationResult {
	opts := validation.DefaultValidationOptions()
	opts.TreatWarningsAsErrors = strict
	opts.StopOnFirstError = failFast

	rules := validation.Rules{
		Mapping:        cfg.Mapping,
		Measures:       tcfg.Measures,
		DateDimensions: tcfg.DateDimensions,
	}
	return validation.NewValidatorWithOptions(rules, opts).ValidateAll(records)
}

// sheetOrDefault prefers the flag over the configured sheet.
func sheetOrDefault(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Job.Sheet
}
