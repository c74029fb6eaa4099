// Package store defines the record store the commit engine writes through,
// plus the two implementations: a Postgres-backed store for the server and an
// in-memory store for tests and dry runs.
//
// The engine only ever needs three operations (lookup by composite key,
// insert, update) plus a reachability check before a commit starts. Field
// values cross this boundary as strings; the engine owns typing.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the store's write path cannot be reached at all.
// A commit that sees this before its first row fails the whole batch.
var ErrUnavailable = errors.New("record store unavailable")

// Record is one persisted target record.
type Record struct {
	ID     string
	Fields map[string]string
}

// RecordStore is the persistence boundary for committed rows.
//
// Lookup returns the first record in the collection whose fields match every
// key/value pair exactly (case-sensitive), or nil when there is no match.
type RecordStore interface {
	Ping(ctx context.Context) error
	Lookup(ctx context.Context, collection string, keys map[string]string) (*Record, error)
	Insert(ctx context.Context, collection string, fields map[string]string, batchID string) (string, error)
	Update(ctx context.Context, collection string, id string, fields map[string]string) error
}
