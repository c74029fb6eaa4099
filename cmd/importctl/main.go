// importctl is the command-line companion to the import server: detect file
// formats, preview an import against the database, and run imports end to end
// without going through the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sitebooks/importer/internal/logging"
)

var (
	databaseURL string
	profilesDir string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "importctl",
	Short: "Batch import tool for construction accounting data",
	Long: `importctl imports vendor exports (CSV, TSV, JSON, IIF, fixed-width, XLSX)
into the record store. It runs the same detect / map / validate / preview /
commit pipeline as the import server.

Examples:
  importctl detect vendors.iif
  importctl run invoices.csv --collection ap_invoices --dry-run
  importctl run invoices.csv --collection ap_invoices --profile acme-ap`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		godotenv.Overload()
		logging.Setup(logLevel, "text")
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "",
		"PostgreSQL connection string (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&profilesDir, "profiles-dir", "profiles",
		"directory mapping profiles are stored in")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"minimum log level: debug, info, warn, error")
}
