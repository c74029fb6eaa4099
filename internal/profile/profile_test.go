package profile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sitebooks/importer/internal/engine"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	return s
}

func sampleProfile() Profile {
	return Profile{
		Name:       "quickbooks-ap",
		Collection: "ap_invoices",
		Mappings: []engine.FieldMapping{
			{SourceField: "Invoice No", TargetField: "invoiceNumber"},
			{SourceField: "Amount", TargetField: "amount", Transform: engine.TransformNumber},
		},
		Rules: []engine.Rule{
			{Field: "amount", Type: engine.RuleNumeric},
		},
	}
}

// ============================================================================
// Roundtrip Tests
// ============================================================================

func TestStore_SaveLoadRoundtrip(t *testing.T) {
	s := testStore(t)
	want := sampleProfile()

	if err := s.Save(want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := s.Load("quickbooks-ap")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := testStore(t)
	p := sampleProfile()
	if err := s.Save(p); err != nil {
		t.Fatal(err)
	}

	p.Mappings = p.Mappings[:1]
	if err := s.Save(p); err != nil {
		t.Fatalf("second Save error: %v", err)
	}

	got, err := s.Load(p.Name)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Mappings) != 1 {
		t.Errorf("Mappings = %d, want the replacement", len(got.Mappings))
	}
}

func TestStore_ListSorted(t *testing.T) {
	s := testStore(t)
	for _, name := range []string{"sage-vendors", "adp-payroll", "quickbooks-ap"} {
		p := sampleProfile()
		p.Name = name
		if err := s.Save(p); err != nil {
			t.Fatal(err)
		}
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	want := []string{"adp-payroll", "quickbooks-ap", "sage-vendors"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List = %v, want %v", names, want)
	}
}

func TestStore_ListIgnoresOtherFiles(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleProfile()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 {
		t.Errorf("List = %v, want only the yaml profile", names)
	}
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleProfile()); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("quickbooks-ap"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := s.Load("quickbooks-ap"); err == nil {
		t.Error("Load should fail after Delete")
	}
	if err := s.Delete("quickbooks-ap"); err == nil {
		t.Error("deleting twice should error")
	}
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestStore_SaveRejectsInvalidName(t *testing.T) {
	s := testStore(t)
	for _, name := range []string{"", "../escape", "has space", ".hidden"} {
		p := sampleProfile()
		p.Name = name
		if err := s.Save(p); err == nil {
			t.Errorf("Save(%q) should be rejected", name)
		}
	}
}

func TestStore_SaveRequiresCollection(t *testing.T) {
	s := testStore(t)
	p := sampleProfile()
	p.Collection = ""
	if err := s.Save(p); err == nil {
		t.Error("expected error for missing collection")
	}
}

func TestStore_SaveRejectsCustomRules(t *testing.T) {
	// Custom rules carry Go functions that cannot survive serialization.
	s := testStore(t)
	p := sampleProfile()
	p.Rules = append(p.Rules, engine.Rule{
		Field: "amount",
		Type:  engine.RuleCustom,
		Check: func(v engine.Value) bool { return true },
	})
	if err := s.Save(p); err == nil {
		t.Error("expected error saving a custom rule")
	}
}

func TestStore_LoadRejectsInvalidName(t *testing.T) {
	s := testStore(t)
	if _, err := s.Load("../../etc/passwd"); err == nil {
		t.Error("path traversal name should be rejected")
	}
}

func TestStore_LoadFillsName(t *testing.T) {
	s := testStore(t)
	data := []byte("collection: ap_vendors\nmappings:\n  - sourceField: Vendor\n    targetField: vendorCode\n")
	if err := os.WriteFile(filepath.Join(s.dir, "bare.yaml"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := s.Load("bare")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if p.Name != "bare" {
		t.Errorf("Name = %q, want filled from filename", p.Name)
	}
}
