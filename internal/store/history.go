package store

// history.go records one audit row per committed batch. Batches themselves
// stay in the engine for their lifetime; the history table is what survives
// restarts and feeds the import-history view.

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one committed batch in the audit trail.
type HistoryEntry struct {
	ID            string    `json:"id"`
	BatchID       string    `json:"batchId"`
	Name          string    `json:"name"`
	Collection    string    `json:"collection"`
	SourceFormat  string    `json:"sourceFormat"`
	MergeStrategy string    `json:"mergeStrategy"`
	TotalRows     int       `json:"totalRows"`
	ImportedRows  int       `json:"importedRows"`
	SkippedRows   int       `json:"skippedRows"`
	ErrorRows     int       `json:"errorRows"`
	Status        string    `json:"status"`
	CommittedAt   time.Time `json:"committedAt"`
}

// HistoryStore persists the per-batch audit trail.
type HistoryStore interface {
	Record(ctx context.Context, entry HistoryEntry) error
	List(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// Record writes one history row.
func (p *PG) Record(ctx context.Context, entry HistoryEntry) error {
	const q = `
INSERT INTO import_history
	(id, batch_id, name, collection, source_format, merge_strategy,
	 total_rows, imported_rows, skipped_rows, error_rows, status, committed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CommittedAt.IsZero() {
		entry.CommittedAt = time.Now()
	}

	_, err := p.pool.Exec(ctx, q,
		entry.ID, entry.BatchID, entry.Name, entry.Collection,
		entry.SourceFormat, entry.MergeStrategy,
		entry.TotalRows, entry.ImportedRows, entry.SkippedRows, entry.ErrorRows,
		entry.Status, entry.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("record import history: %w", err)
	}
	return nil
}

// List returns the most recent history entries, newest first.
func (p *PG) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
SELECT id, batch_id, name, collection, source_format, merge_strategy,
       total_rows, imported_rows, skipped_rows, error_rows, status, committed_at
FROM import_history
ORDER BY committed_at DESC
LIMIT $1`

	rows, err := p.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list import history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var id, batchID uuid.UUID
		if err := rows.Scan(&id, &batchID, &e.Name, &e.Collection,
			&e.SourceFormat, &e.MergeStrategy,
			&e.TotalRows, &e.ImportedRows, &e.SkippedRows, &e.ErrorRows,
			&e.Status, &e.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan import history: %w", err)
		}
		e.ID = id.String()
		e.BatchID = batchID.String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
