package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sitebooks/importer/internal/engine"
	"github.com/sitebooks/importer/internal/profile"
	"github.com/sitebooks/importer/internal/store"
)

var (
	runCollection  string
	runProfile     string
	runMerge       string
	runKeys        []string
	runFormat      string
	runDelimiter   string
	runDryRun      bool
	runShowDetails bool
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Import a file end to end: detect, map, validate, preview, commit",
	Long: `Run imports one file through the full pipeline. With --dry-run the preview
diff is printed and nothing is written. Without it, rows are committed to the
database and the result summary is printed.

Field mappings come from a saved profile (--profile) or from auto-matching
against the target collection. Review dry-run output before a real run when
relying on auto-match.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runCollection, "collection", "", "target collection key (required)")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "mapping profile to apply instead of auto-match")
	runCmd.Flags().StringVar(&runMerge, "merge", "append", "merge strategy: append, skip, overwrite")
	runCmd.Flags().StringSliceVar(&runKeys, "keys", nil, "composite key fields (defaults to the collection's keys)")
	runCmd.Flags().StringVar(&runFormat, "format", "", "source format override (csv, tsv, json, iif, fixed, xlsx)")
	runCmd.Flags().StringVar(&runDelimiter, "delimiter", "", "field delimiter override for delimited formats")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "preview only, write nothing")
	runCmd.Flags().BoolVar(&runShowDetails, "details", false, "print per-row preview actions and validation findings")
	runCmd.MarkFlagRequired("collection")
}

func runImport(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	rs, history, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := engine.NewService(rs, history)

	format := engine.SourceFormat(runFormat)
	if runFormat == "" {
		det := engine.DetectFormat(string(data), path)
		format = det.Format
		fmt.Printf("Detected format: %s (%.0f%% confidence)\n", det.Format, det.Confidence*100)
	}

	b, err := svc.CreateBatch(engine.CreateBatchParams{
		Name:          filepath.Base(path),
		SourceFormat:  format,
		Collection:    runCollection,
		MergeStrategy: engine.MergeStrategy(runMerge),
		CompositeKeys: runKeys,
		Delimiter:     runDelimiter,
	})
	if err != nil {
		return err
	}

	if _, err := svc.UploadData(b.ID, string(data), filepath.Base(path)); err != nil {
		return err
	}
	fmt.Printf("Parsed %d rows, %d columns\n", b.RowCount, len(b.Headers))

	// Mappings: saved profile or auto-match
	var rules []engine.Rule
	if runProfile != "" {
		profiles, err := profile.NewStore(profilesDir)
		if err != nil {
			return err
		}
		p, err := profiles.Load(runProfile)
		if err != nil {
			return err
		}
		if p.Collection != runCollection {
			return fmt.Errorf("profile %q targets collection %q, not %q", runProfile, p.Collection, runCollection)
		}
		if _, err := svc.SaveFieldMappings(b.ID, p.Mappings); err != nil {
			return err
		}
		rules = p.Rules
		fmt.Printf("Applied profile %q (%d mappings)\n", runProfile, len(p.Mappings))
	} else {
		proposed, err := svc.AutoMatchFields(b.ID)
		if err != nil {
			return err
		}
		if len(proposed) == 0 {
			return fmt.Errorf("no columns could be matched to collection %q; save a profile with explicit mappings", runCollection)
		}
		if _, err := svc.SaveFieldMappings(b.ID, proposed); err != nil {
			return err
		}
		fmt.Printf("Auto-matched %d of %d columns\n", len(proposed), len(b.Headers))
		if runShowDetails {
			for _, m := range proposed {
				fmt.Printf("  %-30s -> %-24s (%.0f%%)\n", m.SourceField, m.TargetField, m.Confidence*100)
			}
		}
	}

	summary, err := svc.ValidateBatch(b.ID, rules)
	if err != nil {
		return err
	}
	fmt.Printf("Validation: %d errors, %d warnings\n", summary.ErrorCount, summary.WarningCount)
	if runShowDetails && summary.ErrorCount+summary.WarningCount > 0 {
		findings, _ := svc.GetImportErrors(b.ID)
		for _, f := range findings {
			fmt.Printf("  row %d [%s] %s: %s\n", f.RowNumber, f.Severity, f.Field, f.Message)
		}
	}

	preview, err := svc.Preview(ctx, b.ID, rules)
	if err != nil {
		return err
	}
	fmt.Printf("Preview: %d add, %d update, %d skip, %d conflicts, %d errors\n",
		preview.ToAdd, preview.ToUpdate, preview.ToSkip, preview.Conflicts, preview.Errors)
	if runShowDetails {
		for _, row := range preview.Rows {
			if row.Action == engine.ActionAdd {
				continue
			}
			fmt.Printf("  row %d: %s\n", row.RowNumber, row.Action)
		}
	}

	if runDryRun {
		fmt.Println("Dry run; nothing written.")
		return nil
	}
	if preview.Conflicts > 0 {
		fmt.Printf("Note: %d conflicting rows will be skipped; resolve them via the API to apply.\n", preview.Conflicts)
	}

	start := time.Now()
	if err := svc.StartCommit(b.ID, nil); err != nil {
		return err
	}
	result, err := svc.WaitCommit(b.ID)
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("commit produced no result")
	}

	fmt.Printf("\nCommit %s in %s\n", result.Status, time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Imported: %d\n", result.ImportedRows)
	fmt.Printf("  Skipped:  %d\n", result.SkippedRows)
	fmt.Printf("  Errors:   %d\n", result.ErrorRows)
	if result.ErrorRows > 0 {
		return fmt.Errorf("%d rows failed to import", result.ErrorRows)
	}
	return nil
}

// openStore connects to PostgreSQL, or falls back to an in-memory store for
// dry runs with no database configured.
func openStore(ctx context.Context) (store.RecordStore, store.HistoryStore, func(), error) {
	url := databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		if !runDryRun {
			return nil, nil, nil, fmt.Errorf("no database configured; set DATABASE_URL or pass --database-url")
		}
		fmt.Println("No database configured; previewing against an empty store.")
		return store.NewMemory(), nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	pg := store.NewPG(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return pg, pg, pool.Close, nil
}
