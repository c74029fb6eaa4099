package engine

import (
	"context"
	"testing"

	"github.com/sitebooks/importer/internal/store"
)

// testBatch builds a batch directly for preview/commit tests, bypassing the
// service lifecycle.
func testBatch(strategy MergeStrategy, keys []string, rows []Row, mappings []FieldMapping) *Batch {
	return &Batch{
		ID:            "test-batch",
		Name:          "test",
		Collection:    "ap_invoices",
		MergeStrategy: strategy,
		CompositeKeys: keys,
		RawData:       rows,
		RowCount:      len(rows),
		Mappings:      mappings,
	}
}

var invoiceMappings = []FieldMapping{
	{SourceField: "Invoice", TargetField: "invoiceNumber"},
	{SourceField: "Vendor", TargetField: "vendorCode"},
	{SourceField: "Amount", TargetField: "amount", Transform: TransformNumber},
}

func invoiceRow(inv, vendor, amount string) Row {
	return Row{
		"Invoice": String(inv),
		"Vendor":  String(vendor),
		"Amount":  String(amount),
	}
}

func seedInvoice(m *store.Memory, inv, vendor, amount string) string {
	return m.Seed("ap_invoices", map[string]string{
		"invoiceNumber": inv,
		"vendorCode":    vendor,
		"amount":        amount,
	})
}

// ============================================================================
// Classification Tests
// ============================================================================

func TestBuildPreview_NewRowsAdd(t *testing.T) {
	mem := store.NewMemory()
	b := testBatch(MergeSkip, []string{"invoiceNumber", "vendorCode"},
		[]Row{invoiceRow("1001", "ACME", "500")}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	if result.ToAdd != 1 || result.ToSkip != 0 {
		t.Errorf("counts = %+v, want 1 add", result)
	}
	if result.Rows[0].Action != ActionAdd {
		t.Errorf("action = %s, want add", result.Rows[0].Action)
	}
}

func TestBuildPreview_SkipStrategy(t *testing.T) {
	mem := store.NewMemory()
	seedInvoice(mem, "1001", "ACME", "500")
	b := testBatch(MergeSkip, []string{"invoiceNumber", "vendorCode"},
		[]Row{invoiceRow("1001", "ACME", "999")}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	if result.Rows[0].Action != ActionSkip {
		t.Errorf("action = %s, want skip for matched row under skip strategy", result.Rows[0].Action)
	}
}

func TestBuildPreview_OverwriteStrategy(t *testing.T) {
	mem := store.NewMemory()
	id := seedInvoice(mem, "1001", "ACME", "500")
	b := testBatch(MergeOverwrite, []string{"invoiceNumber", "vendorCode"},
		[]Row{invoiceRow("1001", "ACME", "999")}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	row := result.Rows[0]
	if row.Action != ActionUpdate {
		t.Fatalf("action = %s, want update", row.Action)
	}
	if row.ExistingID != id {
		t.Errorf("ExistingID = %q, want seeded id", row.ExistingID)
	}
	if len(row.Conflicts) != 1 || row.Conflicts[0].Field != "amount" {
		t.Errorf("conflicts = %+v, want single amount diff", row.Conflicts)
	}
}

func TestBuildPreview_AppendStrategyAlwaysAdds(t *testing.T) {
	mem := store.NewMemory()
	seedInvoice(mem, "1001", "ACME", "500")
	b := testBatch(MergeAppend, []string{"invoiceNumber", "vendorCode"},
		[]Row{invoiceRow("1001", "ACME", "500")}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	if result.Rows[0].Action != ActionAdd {
		t.Errorf("action = %s, want add under append strategy", result.Rows[0].Action)
	}
}

func TestBuildPreview_ManualConflict(t *testing.T) {
	mem := store.NewMemory()
	seedInvoice(mem, "1001", "ACME", "500")
	b := testBatch(MergeManual, []string{"invoiceNumber", "vendorCode"}, []Row{
		invoiceRow("1001", "ACME", "999"), // differs: conflict
		invoiceRow("1002", "ACME", "750"), // no match: add
	}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	if result.Conflicts != 1 || result.ToAdd != 1 {
		t.Errorf("counts = %d conflicts %d adds, want 1/1", result.Conflicts, result.ToAdd)
	}
	if result.Rows[0].Action != ActionConflict {
		t.Errorf("row 1 action = %s, want conflict", result.Rows[0].Action)
	}
}

func TestBuildPreview_ManualEqualRowSkips(t *testing.T) {
	// A manual-merge row identical to the existing record is a no-op skip,
	// not a conflict. Stored "500" vs typed Number(500) must diff clean.
	mem := store.NewMemory()
	seedInvoice(mem, "1001", "ACME", "500")
	b := testBatch(MergeManual, []string{"invoiceNumber", "vendorCode"},
		[]Row{invoiceRow("1001", "ACME", "$500.00")}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	if result.Rows[0].Action != ActionSkip {
		t.Errorf("action = %s, want skip for identical row", result.Rows[0].Action)
	}
	if result.Conflicts != 0 {
		t.Errorf("Conflicts = %d, want 0", result.Conflicts)
	}
}

func TestBuildPreview_EveryRowClassified(t *testing.T) {
	mem := store.NewMemory()
	seedInvoice(mem, "1001", "ACME", "500")
	seedInvoice(mem, "1002", "ACME", "750")
	b := testBatch(MergeManual, []string{"invoiceNumber", "vendorCode"}, []Row{
		invoiceRow("1001", "ACME", "999"),
		invoiceRow("1002", "ACME", "750"),
		invoiceRow("1003", "ACME", "10"),
		invoiceRow("1004", "BETA", "20"),
	}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	classified := result.ToAdd + result.ToUpdate + result.ToSkip + result.Conflicts
	if classified != result.TotalRows {
		t.Errorf("classified %d of %d rows; every row needs exactly one action", classified, result.TotalRows)
	}
}

// ============================================================================
// Composite Key Edge Cases
// ============================================================================

func TestBuildPreview_MissingKeyFieldWarns(t *testing.T) {
	mem := store.NewMemory()
	b := testBatch(MergeSkip, []string{"invoiceNumber", "vendorCode"},
		[]Row{invoiceRow("1001", "", "500")}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	row := result.Rows[0]
	if len(row.Warnings) == 0 {
		t.Fatal("expected a warning for the empty key field")
	}
	// Lookup was skipped, so the row classifies as add
	if row.Action != ActionAdd {
		t.Errorf("action = %s, want add when lookup is skipped", row.Action)
	}
}

func TestBuildPreview_InFileDuplicates(t *testing.T) {
	mem := store.NewMemory()
	b := testBatch(MergeSkip, []string{"invoiceNumber", "vendorCode"}, []Row{
		invoiceRow("1001", "ACME", "500"),
		invoiceRow("1002", "ACME", "750"),
		invoiceRow("1001", "ACME", "500"),
	}, invoiceMappings)

	result, err := BuildPreview(context.Background(), b, mem, nil)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	if len(result.Duplicates) != 1 {
		t.Fatalf("Duplicates = %+v, want one group", result.Duplicates)
	}
	group := result.Duplicates[0]
	if len(group.RowNumbers) != 2 || group.RowNumbers[0] != 1 || group.RowNumbers[1] != 3 {
		t.Errorf("duplicate rows = %v, want [1 3]", group.RowNumbers)
	}
}

// ============================================================================
// Validation Findings in Preview
// ============================================================================

func TestBuildPreview_CarriesValidationFindings(t *testing.T) {
	mem := store.NewMemory()
	b := testBatch(MergeAppend, nil, []Row{
		invoiceRow("1001", "ACME", "500"),
		invoiceRow("", "ACME", "x"),
	}, invoiceMappings)
	rules := []Rule{
		{Field: "invoiceNumber", Type: RuleRequired},
		{Field: "amount", Type: RuleNumeric},
	}

	result, err := BuildPreview(context.Background(), b, mem, rules)
	if err != nil {
		t.Fatalf("BuildPreview error: %v", err)
	}
	if len(result.Rows[0].Errors) != 0 {
		t.Errorf("row 1 should be clean, got %+v", result.Rows[0].Errors)
	}
	if len(result.Rows[1].Errors) != 2 {
		t.Errorf("row 2 errors = %d, want 2", len(result.Rows[1].Errors))
	}
	if result.Errors != 2 {
		t.Errorf("result.Errors = %d, want 2", result.Errors)
	}
}
