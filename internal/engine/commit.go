package engine

// commit.go applies a previewed diff to the record store, one row at a time
// in raw-data order. Each row's write is atomic; the batch as a whole is
// not. A failed row is recorded and processing continues. Cancellation is
// honored at row boundaries only, never mid-write.

import (
	"context"
	"fmt"
	"time"

	"github.com/sitebooks/importer/internal/store"
)

// Resolution is a caller's decision for a row preview classified conflict.
type Resolution string

const (
	ResolveAdd    Resolution = "add"
	ResolveUpdate Resolution = "update"
	ResolveSkip   Resolution = "skip"
)

// CommitResult is the outcome of one commit invocation.
type CommitResult struct {
	BatchID      string        `json:"batchId"`
	TotalRows    int           `json:"totalRows"`
	ImportedRows int           `json:"importedRows"`
	SkippedRows  int           `json:"skippedRows"`
	ErrorRows    int           `json:"errorRows"`
	Status       BatchStatus   `json:"status"`
	RowErrors    []ImportError `json:"rowErrors,omitempty"`
	Duration     time.Duration `json:"durationMs"`
}

// CommitProgress is one progress report. Percent is monotonically
// non-decreasing across a commit and the final report is always 100.
type CommitProgress struct {
	BatchID    string `json:"batchId"`
	TotalRows  int    `json:"totalRows"`
	CurrentRow int    `json:"currentRow"`
	Imported   int    `json:"imported"`
	Skipped    int    `json:"skipped"`
	Errored    int    `json:"errored"`
	Percent    int    `json:"percent"`
	Done       bool   `json:"done"`
}

// ProgressFunc receives commit progress. Called at least once per row and
// once more with Done=true and Percent=100 when the commit finishes.
type ProgressFunc func(CommitProgress)

// runCommit applies the preview snapshot row by row. The snapshot must have
// been produced against the batch's current mapping state; the Service
// enforces that before calling here.
//
// Unresolved conflict rows default to skip so nothing is overwritten without
// an explicit decision.
func runCommit(ctx context.Context, b *Batch, preview *PreviewResult, resolutions map[int]Resolution, rs store.RecordStore, progress ProgressFunc) CommitResult {
	start := time.Now()
	result := CommitResult{
		BatchID:   b.ID,
		TotalRows: len(preview.Rows),
	}

	report := func(current int, done bool) {
		if progress == nil {
			return
		}
		pct := 100
		if !done && result.TotalRows > 0 {
			pct = current * 100 / result.TotalRows
		}
		progress(CommitProgress{
			BatchID:    b.ID,
			TotalRows:  result.TotalRows,
			CurrentRow: current,
			Imported:   result.ImportedRows,
			Skipped:    result.SkippedRows,
			Errored:    result.ErrorRows,
			Percent:    pct,
			Done:       done,
		})
	}

	// The store being unreachable before the first row is the only
	// whole-batch failure.
	if err := rs.Ping(ctx); err != nil {
		result.Status = StatusFailed
		result.RowErrors = append(result.RowErrors, ImportError{
			Message:  fmt.Sprintf("record store unavailable: %v", err),
			Severity: SeverityError,
		})
		result.Duration = time.Since(start)
		report(0, true)
		return result
	}

	for i := range preview.Rows {
		row := &preview.Rows[i]

		// Cancellation takes effect between rows, never mid-write.
		if ctx.Err() != nil {
			remaining := result.TotalRows - i
			result.SkippedRows += remaining
			result.RowErrors = append(result.RowErrors, ImportError{
				RowNumber: row.RowNumber,
				Message:   fmt.Sprintf("commit cancelled; %d rows not attempted", remaining),
				Severity:  SeverityWarning,
			})
			break
		}

		action := resolveAction(row, resolutions)

		switch {
		case len(row.Errors) > 0:
			// Validation gating: error rows are never applied, whatever
			// their preview action says.
			result.ErrorRows++
			result.RowErrors = append(result.RowErrors, row.Errors...)

		case action == ActionSkip:
			result.SkippedRows++

		case action == ActionAdd:
			if _, err := rs.Insert(ctx, b.Collection, displayFields(row.fields), b.ID); err != nil {
				result.ErrorRows++
				result.RowErrors = append(result.RowErrors, ImportError{
					RowNumber: row.RowNumber,
					Message:   fmt.Sprintf("insert failed: %v", err),
					Severity:  SeverityError,
				})
			} else {
				result.ImportedRows++
			}

		case action == ActionUpdate:
			err := applyUpdate(ctx, b, row, rs)
			if err != nil {
				result.ErrorRows++
				result.RowErrors = append(result.RowErrors, ImportError{
					RowNumber: row.RowNumber,
					Message:   fmt.Sprintf("update failed: %v", err),
					Severity:  SeverityError,
				})
			} else {
				result.ImportedRows++
			}
		}

		report(i+1, false)
	}

	if result.ErrorRows == 0 {
		result.Status = StatusCompleted
	} else {
		result.Status = StatusPartial
	}
	result.Duration = time.Since(start)
	report(result.TotalRows, true)
	return result
}

// resolveAction maps a preview action plus any caller resolution to the
// action commit will take. Resolutions only apply to conflict rows.
func resolveAction(row *PreviewRow, resolutions map[int]Resolution) RowAction {
	if row.Action != ActionConflict {
		return row.Action
	}
	switch resolutions[row.RowNumber] {
	case ResolveAdd:
		return ActionAdd
	case ResolveUpdate:
		return ActionUpdate
	default:
		// Unresolved conflicts default to skip: no unintended overwrites.
		return ActionSkip
	}
}

// applyUpdate writes an update through the store, re-resolving the target
// record when the preview did not capture a match id (e.g. a conflict row
// resolved to update after the match was found).
func applyUpdate(ctx context.Context, b *Batch, row *PreviewRow, rs store.RecordStore) error {
	id := row.ExistingID
	if id == "" {
		keys, missing := compositeKeyValues(row.fields, b.CompositeKeys)
		if len(missing) > 0 || len(keys) == 0 {
			return fmt.Errorf("cannot update: composite key incomplete")
		}
		rec, err := rs.Lookup(ctx, b.Collection, keys)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("cannot update: existing record no longer found")
		}
		id = rec.ID
	}
	return rs.Update(ctx, b.Collection, id, displayFields(row.fields))
}
