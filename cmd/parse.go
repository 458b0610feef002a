// =============================================================================
// Tabular Importer - Parse Command
// =============================================================================
//
// This file defines the 'parse' command, which shows what would be uploaded
// without contacting the import service.
//
// COMMAND USAGE:
//   importer parse <file> [--sheet NAME | --all] [--raw]
//
// OUTPUT:
//   JSON: an array of {"sheet": ..., "records": [...]} objects, with record
//   fields in header order.
//
// =============================================================================

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/tabular-import/internal/config"
	"github.com/ginjaninja78/tabular-import/internal/tabular"
	"github.com/ginjaninja78/tabular-import/internal/transform"
	"github.com/ginjaninja78/tabular-import/internal/types"
)

var (
	parseSheet string
	parseAll   bool
	parseRaw   bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Show the normalized records of a file",
	Long: `The parse command reads a CSV or XLSX file with the configured
transformation rules and prints the resulting records as JSON. No request is
made to the import service, so rules that depend on model metadata are not
applied.

Use --raw to skip the transformation rules and see the cells as read.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ctx, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		return runParse(ctx, cfg, args[0], parseOptions{
			Sheet: sheetOrDefault(parseSheet, cfg),
			All:   parseAll,
			Raw:   parseRaw,
		}, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVar(&parseSheet, "sheet", "", "Workbook sheet to show")
	parseCmd.Flags().BoolVar(&parseAll, "all", false, "Show every sheet")
	parseCmd.Flags().BoolVar(&parseRaw, "raw", false, "Skip the transformation rules")
}

type parseOptions struct {
	Sheet string
	All   bool
	Raw   bool
}

type parsedSheet struct {
	Sheet   string         `json:"sheet"`
	Records []types.Record `json:"records"`
}

// runParse prints the records of one sheet, or of every sheet with All.
func runParse(_ context.Context, cfg *config.Config, path string, opts parseOptions, out io.Writer) error {
	tr := transform.Passthrough()
	if !opts.Raw {
		tr = transform.New(transformConfig(cfg))
	}

	format, err := tabular.FormatFromFilename(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	set, err := tabular.Parse(f, format, tr, cfg.CSVSettings)
	if err != nil {
		return err
	}

	var sheets []parsedSheet
	if opts.All {
		for _, name := range set.Names() {
			records, _ := set.Sheet(name)
			sheets = append(sheets, parsedSheet{Sheet: name, Records: records})
		}
	} else {
		name, records, err := tabular.Select(set, opts.Sheet)
		if err != nil {
			return err
		}
		sheets = append(sheets, parsedSheet{Sheet: name, Records: records})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sheets)
}
