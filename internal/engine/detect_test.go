package engine

import (
	"strings"
	"testing"
)

// ============================================================================
// Format Detection Tests
// ============================================================================

func TestDetectFormat_IIF(t *testing.T) {
	content := strings.Join([]string{
		"!TRNS\tDATE\tACCNT\tAMOUNT",
		"TRNS\t6/30/2025\tAP\t-500.00",
		"ENDTRNS",
	}, "\n")

	res := DetectFormat(content, "export.iif")
	if res.Format != FormatIIF {
		t.Fatalf("Format = %s, want iif", res.Format)
	}
	if res.Confidence < 0.8 {
		t.Errorf("Confidence = %.2f, want >= 0.8 for a marker match", res.Confidence)
	}
	if res.Delimiter != "\t" {
		t.Errorf("Delimiter = %q, want tab", res.Delimiter)
	}
}

func TestDetectFormat_JSON(t *testing.T) {
	res := DetectFormat(`[{"vendorCode": "V1", "name": "ACME"}]`, "")
	if res.Format != FormatJSON {
		t.Fatalf("Format = %s, want json", res.Format)
	}
	if res.Confidence != 0.9 {
		t.Errorf("Confidence = %.2f, want 0.9", res.Confidence)
	}
}

func TestDetectFormat_CSV(t *testing.T) {
	content := "Vendor,Invoice No,Amount\nACME,1001,500.00\nBETA,1002,750.25\n"

	res := DetectFormat(content, "invoices.csv")
	if res.Format != FormatCSV {
		t.Fatalf("Format = %s, want csv", res.Format)
	}
	if res.Confidence < 0.9 {
		t.Errorf("Confidence = %.2f, want high for perfectly consistent commas", res.Confidence)
	}
	if res.Delimiter != "," {
		t.Errorf("Delimiter = %q, want comma", res.Delimiter)
	}
	if len(res.Headers) != 3 {
		t.Errorf("Headers = %v", res.Headers)
	}
}

func TestDetectFormat_TSV(t *testing.T) {
	content := "Name\tAmount\nAlpha\t10\nBeta\t20\n"

	res := DetectFormat(content, "")
	if res.Format != FormatTSV {
		t.Fatalf("Format = %s, want tsv", res.Format)
	}
}

func TestDetectFormat_VendorHint(t *testing.T) {
	content := "Vendor,Amount\nACME,500\n"

	res := DetectFormat(content, "quickbooks_ap_export.csv")
	if res.Format != FormatQB {
		t.Errorf("Format = %s, want qb from filename hint", res.Format)
	}

	res = DetectFormat(content, "sage50_vendors.csv")
	if res.Format != FormatSage {
		t.Errorf("Format = %s, want sage from filename hint", res.Format)
	}
}

func TestDetectFormat_XLSX(t *testing.T) {
	// Zip magic alone is enough for high confidence
	res := DetectFormat("PK\x03\x04not-really-a-workbook", "book.xlsx")
	if res.Format != FormatXLSX {
		t.Fatalf("Format = %s, want xlsx", res.Format)
	}
	if res.Confidence != 0.95 {
		t.Errorf("Confidence = %.2f, want 0.95 for zip magic", res.Confidence)
	}

	// Extension alone scores lower
	res = DetectFormat("whatever content", "book.xlsx")
	if res.Format != FormatXLSX || res.Confidence != 0.7 {
		t.Errorf("got %s/%.2f, want xlsx/0.70 for extension only", res.Format, res.Confidence)
	}
}

func TestDetectFormat_Fixed(t *testing.T) {
	content := strings.Join([]string{
		"EMPID   NAME        RATE ",
		"E001    Pat Jones   42.50",
		"E002    Lee Smith   38.00",
		"E003    Ida Brown   51.25",
	}, "\n")

	res := DetectFormat(content, "payroll.txt")
	if res.Format != FormatFixed {
		t.Fatalf("Format = %s, want fixed", res.Format)
	}
	if res.Confidence < minDetectConfidence {
		t.Errorf("Confidence = %.2f, below floor", res.Confidence)
	}
}

func TestDetectFormat_Unrecognized(t *testing.T) {
	res := DetectFormat("completely unstructured prose with no delimiters", "notes.txt")
	if res.Confidence != 0 {
		t.Errorf("Confidence = %.2f, want 0 for unrecognized content", res.Confidence)
	}
	if res.Format != FormatCSV {
		t.Errorf("fallback Format = %s, want csv", res.Format)
	}
}

func TestDetectFormat_Deterministic(t *testing.T) {
	content := "Vendor,Invoice No,Amount\nACME,1001,500.00\n"
	first := DetectFormat(content, "x.csv")
	for i := 0; i < 5; i++ {
		again := DetectFormat(content, "x.csv")
		if again.Format != first.Format || again.Confidence != first.Confidence {
			t.Fatalf("detection not deterministic: %+v vs %+v", again, first)
		}
	}
}

// ============================================================================
// Collection Detection Tests
// ============================================================================

func TestDetectCollection(t *testing.T) {
	// Headers covering the ap_vendors signature (vendorCode, taxId, name)
	got := DetectCollection([]string{"Vendor Code", "Name", "Tax ID", "Phone"})
	if got != "ap_vendors" {
		t.Errorf("DetectCollection = %q, want ap_vendors", got)
	}

	// Invoice-shaped headers
	got = DetectCollection([]string{"Invoice Number", "Vendor Code", "Amount", "Due Date"})
	if got != "ap_invoices" {
		t.Errorf("DetectCollection = %q, want ap_invoices", got)
	}

	// Nothing recognizable: empty means manual selection
	got = DetectCollection([]string{"foo", "bar", "baz"})
	if got != "" {
		t.Errorf("DetectCollection = %q, want \"\"", got)
	}
}

func TestDetectFormat_ProposesCollection(t *testing.T) {
	content := "Vendor Code,Name,Tax ID\nV1,ACME,12-3456789\n"
	res := DetectFormat(content, "vendors.csv")
	if res.Collection != "ap_vendors" {
		t.Errorf("Collection = %q, want ap_vendors", res.Collection)
	}
}
