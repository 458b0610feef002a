// =============================================================================
// Tabular Importer - Main Entry Point
// =============================================================================
//
// This is the main entry point for the Tabular Importer CLI application.
// It delegates command execution to the cmd package.
//
// USAGE:
//   importer upload <file>   - Upload a spreadsheet or CSV file as an import job
//   importer parse <file>    - Show the normalized records of a file
//   importer validate        - Validate configuration (and optionally a file)
//   importer version         - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : Parsing, transformation, the import service client
//                      and the job orchestrator
//   - pkg/           : Shared file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/tabular-import/cmd"
)

func main() {
	cmd.Execute()
}
