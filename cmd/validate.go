// =============================================================================
// Tabular Importer - Validate Command
// =============================================================================
//
// This file defines the 'validate' command, which checks the configuration
// and, optionally, an input file without starting an import job.
//
// COMMAND USAGE:
//   importer validate [--file PATH] [--sheet NAME] [--log PATH] [--strict]
//                     [--fail-fast]
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/tabular-import/internal/config"
	"github.com/ginjaninja78/tabular-import/internal/validation"
)

var (
	validateFile  string
	validateSheet string
	validateLog   string
	validateOpts  checkOptions
)

// checkOptions tunes the pre-flight checks of the validate command.
type checkOptions struct {
	// Strict fails the sheet on warnings too.
	Strict bool

	// FailFast stops at the first error.
	FailFast bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and optionally an input file",
	Long: `The validate command loads the configuration file and reports any
configuration error. With --file it also parses the file and runs the
pre-flight checks an upload would run, without contacting the import service.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ctx, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		return runValidate(ctx, cfg, validateFile, sheetOrDefault(validateSheet, cfg), validateLog, validateOpts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFile, "file", "", "Input file to check")
	validateCmd.Flags().StringVar(&validateSheet, "sheet", "", "Workbook sheet to check")
	validateCmd.Flags().StringVar(&validateLog, "log", "", "Write the findings to this file")
	validateCmd.Flags().BoolVar(&validateOpts.Strict, "strict", false, "Treat warnings as errors")
	validateCmd.Flags().BoolVar(&validateOpts.FailFast, "fail-fast", false, "Stop at the first error")
}

// runValidate reports on the configuration and, when path is set, on the
// selected sheet of that file.
func runValidate(_ context.Context, cfg *config.Config, path, sheet, logPath string, opts checkOptions, out io.Writer) error {
	fmt.Fprintf(out, "Configuration OK (job type %s)\n", cfg.Job.Type)
	if err := cfg.RequireService(); err != nil {
		fmt.Fprintf(out, "Note: uploads are not possible yet: %v\n", err)
	}
	if path == "" {
		return nil
	}

	tcfg := transformConfig(cfg)
	name, records, err := readSheet(path, sheet, cfg, tcfg)
	if err != nil {
		return err
	}

	res := preflight(records, cfg, tcfg, opts.Strict, opts.FailFast)
	fmt.Fprintf(out, "Sheet %q: %d record(s)\n", name, res.RecordsValidated)
	fmt.Fprintln(out, strings.TrimRight(validation.FormatErrors(res.Errors), "\n"))

	if logPath != "" {
		if err := validation.WriteErrorLog(res.Errors, logPath); err != nil {
			return err
		}
	}
	if !res.IsValid {
		return fmt.Errorf("validation failed with %d error(s) and %d warning(s)", res.ErrorCount, res.WarningCount)
	}
	return nil
}
