package engine

// preview.go is the dry-run differ. It projects every raw row through the
// saved mappings, looks up potential existing records by composite key, and
// classifies each row as add/update/skip/conflict without writing anything.
// Running preview twice against unchanged store state yields identical
// results.

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sitebooks/importer/internal/store"
)

// RowAction is the classified intent for one previewed row.
type RowAction string

const (
	ActionAdd      RowAction = "add"
	ActionUpdate   RowAction = "update"
	ActionSkip     RowAction = "skip"
	ActionConflict RowAction = "conflict"
)

// FieldConflict is one field whose mapped value differs from the matched
// existing record.
type FieldConflict struct {
	Field         string `json:"field"`
	SourceValue   string `json:"sourceValue"`
	ExistingValue string `json:"existingValue"`
}

// PreviewRow is the dry-run projection of one source row.
type PreviewRow struct {
	RowNumber  int               `json:"rowNumber"`
	Action     RowAction         `json:"action"`
	SourceData map[string]string `json:"sourceData"`
	ExistingID string            `json:"-"` // matched record id, for commit
	Existing   map[string]string `json:"existingData,omitempty"`
	Conflicts  []FieldConflict   `json:"conflicts,omitempty"`
	Errors     []ImportError     `json:"errors,omitempty"`
	Warnings   []ImportError     `json:"warnings,omitempty"`

	// fields keeps the typed mapped values for commit-time writes.
	fields map[string]Value
}

// DuplicateGroup reports a composite key that appears on multiple rows
// within the batch itself.
type DuplicateGroup struct {
	Key        string `json:"key"`
	RowNumbers []int  `json:"rowNumbers"`
}

// PreviewResult is the ordered dry run plus aggregate counts.
type PreviewResult struct {
	Rows       []PreviewRow     `json:"rows"`
	TotalRows  int              `json:"totalRows"`
	ToAdd      int              `json:"toAdd"`
	ToUpdate   int              `json:"toUpdate"`
	ToSkip     int              `json:"toSkip"`
	Conflicts  int              `json:"conflicts"`
	Errors     int              `json:"errors"`
	Warnings   int              `json:"warnings"`
	Duplicates []DuplicateGroup `json:"duplicatesInFile,omitempty"`
}

// BuildPreview runs the dry-run diff for a batch against the record store.
// The batch is read, never written; the caller owns storing the result.
func BuildPreview(ctx context.Context, b *Batch, rs store.RecordStore, rules []Rule) (*PreviewResult, error) {
	mappings, mapWarnings, err := NormalizeMappings(b.Mappings)
	if err != nil {
		return nil, err
	}

	mapped := ApplyMappings(b.RawData, mappings)
	if len(mapped) > 0 {
		mapped[0].Warnings = append(mapped[0].Warnings, mapWarnings...)
	}

	_, findings, err := ValidateRows(mapped, rules)
	if err != nil {
		return nil, err
	}
	findingsByRow := make(map[int][]ImportError)
	for _, f := range findings {
		findingsByRow[f.RowNumber] = append(findingsByRow[f.RowNumber], f)
	}

	result := &PreviewResult{
		Rows:      make([]PreviewRow, 0, len(mapped)),
		TotalRows: len(mapped),
	}
	keyRows := make(map[string][]int) // in-file duplicate tracking

	for _, row := range mapped {
		pr := PreviewRow{
			RowNumber:  row.RowNumber,
			SourceData: displayFields(row.Fields),
			fields:     row.Fields,
		}
		for _, f := range findingsByRow[row.RowNumber] {
			if f.Severity == SeverityError {
				pr.Errors = append(pr.Errors, f)
			} else {
				pr.Warnings = append(pr.Warnings, f)
			}
		}

		var existing *store.Record
		if len(b.CompositeKeys) > 0 {
			keys, missing := compositeKeyValues(row.Fields, b.CompositeKeys)
			for _, field := range missing {
				pr.Warnings = append(pr.Warnings, ImportError{
					RowNumber: row.RowNumber,
					Field:     field,
					Message:   fmt.Sprintf("composite key field %q is empty; duplicate detection skipped this field", field),
					Severity:  SeverityWarning,
				})
			}
			if len(keys) > 0 {
				tuple := keyTuple(keys, b.CompositeKeys)
				keyRows[tuple] = append(keyRows[tuple], row.RowNumber)
			}
			if len(missing) == 0 {
				existing, err = rs.Lookup(ctx, b.Collection, keys)
				if err != nil {
					return nil, fmt.Errorf("lookup row %d: %w", row.RowNumber, err)
				}
			}
		}

		pr.Action = classify(b.MergeStrategy, existing, row.Fields)
		if existing != nil {
			pr.ExistingID = existing.ID
			pr.Existing = existing.Fields
			if pr.Action == ActionUpdate || pr.Action == ActionConflict {
				pr.Conflicts = fieldConflicts(row.Fields, existing.Fields)
			}
		}

		switch pr.Action {
		case ActionAdd:
			result.ToAdd++
		case ActionUpdate:
			result.ToUpdate++
		case ActionSkip:
			result.ToSkip++
		case ActionConflict:
			result.Conflicts++
		}
		result.Errors += len(pr.Errors)
		result.Warnings += len(pr.Warnings)
		result.Rows = append(result.Rows, pr)
	}

	result.Duplicates = duplicateGroups(keyRows)
	return result, nil
}

// classify derives the row action purely from the merge strategy, match
// presence, and whether any mapped field differs from the match.
func classify(strategy MergeStrategy, existing *store.Record, fields map[string]Value) RowAction {
	if existing == nil {
		return ActionAdd
	}
	switch strategy {
	case MergeSkip:
		return ActionSkip
	case MergeOverwrite:
		return ActionUpdate
	case MergeAppend:
		// Duplicate is intentional; flagging duplicates is the target
		// collection's concern.
		return ActionAdd
	case MergeManual:
		if len(fieldConflicts(fields, existing.Fields)) > 0 {
			return ActionConflict
		}
		return ActionSkip // identical rows are a no-op
	}
	return ActionAdd
}

// fieldConflicts lists every mapped field whose value differs from the
// existing record, sorted by field name for stable output.
func fieldConflicts(fields map[string]Value, existing map[string]string) []FieldConflict {
	var conflicts []FieldConflict
	for field, v := range fields {
		ex, present := existing[field]
		if !present && v.IsEmpty() {
			continue
		}
		if !v.EqualString(ex) {
			conflicts = append(conflicts, FieldConflict{
				Field:         field,
				SourceValue:   v.Display(),
				ExistingValue: ex,
			})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Field < conflicts[j].Field })
	return conflicts
}

// compositeKeyValues extracts key fields from a mapped row. Fields that are
// empty on the row come back in missing rather than in the key map.
func compositeKeyValues(fields map[string]Value, keys []string) (map[string]string, []string) {
	vals := make(map[string]string, len(keys))
	var missing []string
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v.IsEmpty() {
			missing = append(missing, k)
			continue
		}
		vals[k] = v.Display()
	}
	return vals, missing
}

func keyTuple(keys map[string]string, order []string) string {
	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, keys[k])
	}
	return strings.Join(parts, "\x1f")
}

func duplicateGroups(keyRows map[string][]int) []DuplicateGroup {
	var groups []DuplicateGroup
	for key, rows := range keyRows {
		if len(rows) > 1 {
			groups = append(groups, DuplicateGroup{
				Key:        strings.ReplaceAll(key, "\x1f", " / "),
				RowNumbers: rows,
			})
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].RowNumbers[0] < groups[j].RowNumbers[0] })
	return groups
}

func displayFields(fields map[string]Value) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v.Display()
	}
	return out
}
