// =============================================================================
// Tabular Importer - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands (like 'upload', 'validate') are
// attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (importer)
//   ├── uploadCmd   (importer upload <file>)
//   ├── parseCmd    (importer parse <file>)
//   ├── validateCmd (importer validate)
//   └── versionCmd  (importer version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Running commands under a context cancelled by Ctrl-C
//
// Each command loads the configuration and builds its logger itself, since
// the log level lives in the configuration file.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
// This can be overridden using the --config flag.
var cfgFile string

// verbose forces debug logging when set to true.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "importer",
	Short: "Tabular Importer - Bulk upload spreadsheets and CSV files into a planning model",

	Long: `Tabular Importer reads a spreadsheet or delimited text file, normalizes
its rows according to a field mapping and transformation rules, and drives a
remote bulk-import job: create, post chunks, validate, run and poll.

Key Features:
  - CSV and XLSX input, with sheet selection
  - Sign reversal for income accounts, fiscal period and date normalization
  - Fact data and currency rate jobs
  - Model metadata and master data loaded from the service
  - Failed records exported to XLSX, optionally stored in object storage

Example Usage:
  importer upload ledger.xlsx              # Upload the first sheet
  importer upload ledger.xlsx --sheet Q1   # Upload a specific sheet
  importer parse ledger.csv                # Show the normalized records
  importer validate --file ledger.csv      # Check config and file offline`,

	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	// ==========================================================================
	// PERSISTENT FLAGS
	// ==========================================================================

	// --config flag: Allows the user to specify a custom configuration file.
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	// --verbose flag: Enables debug logging regardless of log_level.
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}
