// Package engine implements the import batch engine: format detection, field
// auto-matching, mapping, validation, dry-run preview and row-by-row commit
// of external accounting exports into the record store.
//
// The engine has no UI dependencies. Each stage is a re-runnable operation on
// a Batch; the Service in service.go owns batch lifecycle and concurrency.
package engine

import (
	"time"
)

// SourceFormat identifies the shape of an uploaded file.
type SourceFormat string

const (
	FormatCSV        SourceFormat = "csv"
	FormatTSV        SourceFormat = "tsv"
	FormatJSON       SourceFormat = "json"
	FormatIIF        SourceFormat = "iif"        // QuickBooks IIF (!TRNS/!SPL tab format)
	FormatQB         SourceFormat = "qb"         // QuickBooks report/list CSV export
	FormatSage       SourceFormat = "sage"       // Sage 50/100 CSV export
	FormatFoundation SourceFormat = "foundation" // Foundation Software export
	FormatFixed      SourceFormat = "fixed"      // Fixed-width columns
	FormatXLSX       SourceFormat = "xlsx"       // Excel workbook, first sheet
)

// MergeStrategy governs how a source row that matches an existing record is
// treated.
type MergeStrategy string

const (
	MergeAppend    MergeStrategy = "append"    // Always insert, duplicates intentional
	MergeSkip      MergeStrategy = "skip"      // Leave the existing record alone
	MergeOverwrite MergeStrategy = "overwrite" // Update without asking
	MergeManual    MergeStrategy = "manual"    // Surface field conflicts for resolution
)

// Valid reports whether the strategy is one of the defined values.
func (m MergeStrategy) Valid() bool {
	switch m {
	case MergeAppend, MergeSkip, MergeOverwrite, MergeManual:
		return true
	}
	return false
}

// BatchStatus is the batch state machine position. Transitions are advisory:
// a caller may re-run an earlier stage, which logically invalidates later
// results; commit enforces a fresh preview.
type BatchStatus string

const (
	StatusCreated    BatchStatus = "created"
	StatusUploaded   BatchStatus = "uploaded"
	StatusDetected   BatchStatus = "detected"
	StatusMapped     BatchStatus = "mapped"
	StatusValidated  BatchStatus = "validated"
	StatusPreviewed  BatchStatus = "previewed"
	StatusCommitting BatchStatus = "committing"
	StatusCompleted  BatchStatus = "completed"
	StatusPartial    BatchStatus = "partial"
	StatusFailed     BatchStatus = "failed"
)

// Terminal reports whether the status is a commit outcome.
func (s BatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// Row is one parsed source row: field name (source header) to cell value.
type Row map[string]Value

// Batch is one import job from upload through commit.
//
// RawData is immutable once set by UploadData; every later stage works on
// derived views. The revision counter ties validation and preview snapshots
// to the mapping state they were computed from.
type Batch struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	SourceFormat  SourceFormat  `json:"sourceFormat"`
	Collection    string        `json:"collection"`
	MergeStrategy MergeStrategy `json:"mergeStrategy"`
	CompositeKeys []string      `json:"compositeKeys"`
	Delimiter     string        `json:"delimiter,omitempty"` // optional override, single char
	FileName      string        `json:"fileName,omitempty"`
	Status        BatchStatus   `json:"status"`
	RowCount      int           `json:"rowCount"`
	CreatedAt     time.Time     `json:"createdAt"`
	UploadedAt    time.Time     `json:"uploadedAt,omitzero"`

	// Internal state, not serialized to API clients.
	RawText  string         `json:"-"` // original file content, kept for re-detection
	Headers  []string       `json:"-"` // source header order
	RawData  []Row          `json:"-"`
	Mappings []FieldMapping `json:"-"`
	Errors   []ImportError  `json:"-"` // latest validation results

	// revision increments on every mapping save; validation and preview
	// snapshots record the revision they saw.
	revision    int
	validatedAt int // revision at last validation, -1 if never
	preview     *PreviewResult
	previewRev  int
	previewUsed bool // set after a commit consumes the snapshot
}

// Revision returns the current mapping revision.
func (b *Batch) Revision() int { return b.revision }

// bumpRevision marks mapping state changed, invalidating preview freshness.
func (b *Batch) bumpRevision() {
	b.revision++
}

// MappedRow is the projection of one raw row through the saved mappings.
type MappedRow struct {
	RowNumber int // 1-based position in RawData
	Fields    map[string]Value
	Warnings  []ImportError // mapping-stage warnings (e.g. many-to-one collisions)
}
