package store

// pg.go implements RecordStore on PostgreSQL. Records live in a single
// generic table keyed by collection with the field map held as JSONB, so new
// target collections need no migrations. Composite-key lookup uses JSONB
// containment, which the GIN index on fields serves.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is the PostgreSQL-backed RecordStore.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG creates a Postgres record store on the given pool.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// EnsureSchema creates the records and import_history tables if missing.
func (p *PG) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
	id         UUID PRIMARY KEY,
	collection TEXT NOT NULL,
	fields     JSONB NOT NULL,
	batch_id   UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS records_collection_idx ON records (collection);
CREATE INDEX IF NOT EXISTS records_fields_idx ON records USING GIN (fields);

CREATE TABLE IF NOT EXISTS import_history (
	id             UUID PRIMARY KEY,
	batch_id       UUID NOT NULL,
	name           TEXT NOT NULL,
	collection     TEXT NOT NULL,
	source_format  TEXT NOT NULL,
	merge_strategy TEXT NOT NULL,
	total_rows     INT NOT NULL,
	imported_rows  INT NOT NULL,
	skipped_rows   INT NOT NULL,
	error_rows     INT NOT NULL,
	status         TEXT NOT NULL,
	committed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS import_history_committed_idx ON import_history (committed_at DESC);
`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping verifies the store is reachable.
func (p *PG) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Lookup finds the first record in the collection containing all key fields.
func (p *PG) Lookup(ctx context.Context, collection string, keys map[string]string) (*Record, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("lookup requires at least one key field")
	}

	keyJSON, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("marshal lookup keys: %w", err)
	}

	const q = `
SELECT id, fields
FROM records
WHERE collection = $1 AND fields @> $2::jsonb
ORDER BY created_at
LIMIT 1`

	var id uuid.UUID
	var fieldsJSON []byte
	err = p.pool.QueryRow(ctx, q, collection, keyJSON).Scan(&id, &fieldsJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", collection, err)
	}

	var fields map[string]string
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, fmt.Errorf("decode record fields: %w", err)
	}
	return &Record{ID: id.String(), Fields: fields}, nil
}

// Insert writes a new record and returns its id.
func (p *PG) Insert(ctx context.Context, collection string, fields map[string]string, batchID string) (string, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal record fields: %w", err)
	}

	id := uuid.New()
	var batch any
	if batchID != "" {
		batch = batchID
	}

	const q = `INSERT INTO records (id, collection, fields, batch_id) VALUES ($1, $2, $3, $4)`
	if _, err := p.pool.Exec(ctx, q, id, collection, fieldsJSON, batch); err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	return id.String(), nil
}

// Update merges fields into an existing record.
func (p *PG) Update(ctx context.Context, collection string, id string, fields map[string]string) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}

	const q = `
UPDATE records
SET fields = fields || $3::jsonb, updated_at = now()
WHERE collection = $1 AND id = $2`

	tag, err := p.pool.Exec(ctx, q, collection, id, fieldsJSON)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s not found in %s", id, collection)
	}
	return nil
}
