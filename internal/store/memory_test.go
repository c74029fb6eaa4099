package store

import (
	"context"
	"fmt"
	"testing"
)

// ============================================================================
// Memory Store Tests
// ============================================================================

func TestMemory_InsertAndLookup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.Insert(ctx, "vendors", map[string]string{"vendorCode": "V1", "name": "ACME"}, "batch-1")
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if id == "" {
		t.Fatal("Insert returned empty id")
	}

	rec, err := m.Lookup(ctx, "vendors", map[string]string{"vendorCode": "V1"})
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if rec == nil {
		t.Fatal("Lookup returned nil for existing record")
	}
	if rec.ID != id || rec.Fields["name"] != "ACME" {
		t.Errorf("rec = %+v", rec)
	}
}

func TestMemory_LookupNoMatch(t *testing.T) {
	m := NewMemory()
	rec, err := m.Lookup(context.Background(), "vendors", map[string]string{"vendorCode": "nope"})
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %+v, want nil", rec)
	}
}

func TestMemory_LookupRequiresKeys(t *testing.T) {
	m := NewMemory()
	if _, err := m.Lookup(context.Background(), "vendors", nil); err == nil {
		t.Error("expected error for empty key set")
	}
}

func TestMemory_LookupAllKeysMustMatch(t *testing.T) {
	m := NewMemory()
	m.Seed("invoices", map[string]string{"invoiceNumber": "1001", "vendorCode": "ACME"})

	rec, _ := m.Lookup(context.Background(), "invoices",
		map[string]string{"invoiceNumber": "1001", "vendorCode": "BETA"})
	if rec != nil {
		t.Errorf("partial key match should not return a record, got %+v", rec)
	}
}

func TestMemory_Update(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := m.Seed("vendors", map[string]string{"vendorCode": "V1", "name": "ACME"})

	if err := m.Update(ctx, "vendors", id, map[string]string{"name": "ACME LLC"}); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	rec, _ := m.Lookup(ctx, "vendors", map[string]string{"vendorCode": "V1"})
	if rec.Fields["name"] != "ACME LLC" {
		t.Errorf("name = %q, want updated value", rec.Fields["name"])
	}
	// Untouched fields survive a partial update
	if rec.Fields["vendorCode"] != "V1" {
		t.Errorf("vendorCode = %q, want V1", rec.Fields["vendorCode"])
	}
}

func TestMemory_UpdateMissing(t *testing.T) {
	m := NewMemory()
	if err := m.Update(context.Background(), "vendors", "no-such-id", nil); err == nil {
		t.Error("expected error updating a missing record")
	}
}

func TestMemory_InsertHookVeto(t *testing.T) {
	m := NewMemory()
	m.InsertHook = func(collection string, fields map[string]string) error {
		return fmt.Errorf("vetoed")
	}

	if _, err := m.Insert(context.Background(), "vendors", map[string]string{"a": "b"}, ""); err == nil {
		t.Fatal("expected veto error")
	}
	if m.Count("vendors") != 0 {
		t.Error("vetoed insert must not store a record")
	}
}

func TestMemory_LookupReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed("vendors", map[string]string{"vendorCode": "V1"})

	rec, _ := m.Lookup(ctx, "vendors", map[string]string{"vendorCode": "V1"})
	rec.Fields["vendorCode"] = "tampered"

	again, _ := m.Lookup(ctx, "vendors", map[string]string{"vendorCode": "V1"})
	if again == nil || again.Fields["vendorCode"] != "V1" {
		t.Error("Lookup must return a copy, not the stored record")
	}
}

func TestMemory_Ping(t *testing.T) {
	m := NewMemory()
	if err := m.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}
	m.PingErr = ErrUnavailable
	if err := m.Ping(context.Background()); err == nil {
		t.Error("expected configured ping error")
	}
}
