// Package schema defines the target collections an import batch can feed and
// a process-wide registry keyed by collection name. The registry is populated
// once at init by collections.go; the import engine reads it to infer the
// target collection during format detection, to offer auto-match targets, and
// to derive default validation rules.
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// FieldType is the expected data type for a target field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumber
	FieldDate
	FieldBool
)

// Field describes one field of a target collection.
type Field struct {
	Name     string    // Canonical field name ("invoiceNumber")
	Label    string    // Display name ("Invoice #")
	Type     FieldType // Expected data type
	Required bool      // Commit-blocking when empty
}

// Collection describes one target record schema.
type Collection struct {
	Key       string   // Unique identifier: "ap_invoices"
	Group     string   // Business area: "AP", "AR", "Payroll", "Job Costing", "GL"
	Label     string   // Display name: "Vendor Invoices"
	Fields    []Field  // All mappable fields
	Signature []string // Field names that strongly identify this collection in a header row
	// DefaultKeys is the composite key suggested for duplicate detection
	// when the caller does not supply one.
	DefaultKeys []string
}

// FieldNames returns the names of all fields in declaration order.
func (c Collection) FieldNames() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldByName returns the field with the given name.
func (c Collection) FieldByName(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var (
	registry   = make(map[string]Collection)
	registryMu sync.RWMutex
)

// Register adds a collection to the registry.
// Panics if a collection with the same key is already registered.
func Register(c Collection) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[c.Key]; exists {
		panic(fmt.Sprintf("collection already registered: %s", c.Key))
	}
	if len(c.Signature) == 0 {
		// Fall back to required fields as the signature set
		for _, f := range c.Fields {
			if f.Required {
				c.Signature = append(c.Signature, f.Name)
			}
		}
	}
	registry[c.Key] = c
}

// Get returns a collection by key.
func Get(key string) (Collection, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	c, ok := registry[key]
	return c, ok
}

// All returns every registered collection, sorted by group then key for
// consistent ordering.
func All() []Collection {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Collection, 0, len(registry))
	for _, c := range registry {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].Key < result[j].Key
	})
	return result
}

// Groups returns the distinct group names in sorted order.
func Groups() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	var groups []string
	for _, c := range registry {
		if !seen[c.Group] {
			seen[c.Group] = true
			groups = append(groups, c.Group)
		}
	}
	sort.Strings(groups)
	return groups
}
