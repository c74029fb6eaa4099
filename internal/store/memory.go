package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory RecordStore. It backs engine tests and importctl
// dry runs. Records are kept in insertion order per collection so lookups
// are deterministic.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]*Record

	// InsertHook, when set, runs before each insert and can veto it by
	// returning an error. Tests use it to simulate row-level write failures.
	InsertHook func(collection string, fields map[string]string) error

	// PingErr, when set, is returned by Ping. Simulates an unreachable store.
	PingErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]*Record)}
}

// Ping reports store reachability.
func (m *Memory) Ping(ctx context.Context) error {
	return m.PingErr
}

// Lookup returns the first record matching all key fields exactly.
func (m *Memory) Lookup(ctx context.Context, collection string, keys map[string]string) (*Record, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("lookup requires at least one key field")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records[collection] {
		if matches(rec.Fields, keys) {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

// Insert adds a record and returns its generated id.
func (m *Memory) Insert(ctx context.Context, collection string, fields map[string]string, batchID string) (string, error) {
	if m.InsertHook != nil {
		if err := m.InsertHook(collection, fields); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &Record{ID: uuid.New().String(), Fields: cloneFields(fields)}
	m.records[collection] = append(m.records[collection], rec)
	return rec.ID, nil
}

// Update merges fields into the record with the given id.
func (m *Memory) Update(ctx context.Context, collection string, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records[collection] {
		if rec.ID == id {
			for k, v := range fields {
				rec.Fields[k] = v
			}
			return nil
		}
	}
	return fmt.Errorf("record %s not found in %s", id, collection)
}

// Count returns the number of records in a collection.
func (m *Memory) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[collection])
}

// Seed inserts a record directly, bypassing hooks. Test setup helper.
func (m *Memory) Seed(collection string, fields map[string]string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &Record{ID: uuid.New().String(), Fields: cloneFields(fields)}
	m.records[collection] = append(m.records[collection], rec)
	return rec.ID
}

func matches(fields, keys map[string]string) bool {
	for k, want := range keys {
		if fields[k] != want {
			return false
		}
	}
	return true
}

func cloneFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneRecord(rec *Record) *Record {
	return &Record{ID: rec.ID, Fields: cloneFields(rec.Fields)}
}
