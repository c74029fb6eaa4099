package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sitebooks/importer/internal/store"
)

func invoiceCSV(n int) string {
	var sb strings.Builder
	sb.WriteString("Invoice No,Vendor Code,Invoice Date,Amount\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "10%03d,ACME,6/30/2025,%d.00\n", i, 100+i)
	}
	return sb.String()
}

func newTestService() (*Service, *store.Memory) {
	mem := store.NewMemory()
	return NewService(mem, nil), mem
}

// uploadBatch runs create + upload + automatch + save for a small invoice file.
func uploadBatch(t *testing.T, svc *Service, strategy MergeStrategy, rows int) *Batch {
	t.Helper()
	b, err := svc.CreateBatch(CreateBatchParams{
		Name:          "june invoices",
		SourceFormat:  FormatCSV,
		Collection:    "ap_invoices",
		MergeStrategy: strategy,
	})
	if err != nil {
		t.Fatalf("CreateBatch error: %v", err)
	}
	if _, err := svc.UploadData(b.ID, invoiceCSV(rows), "invoices.csv"); err != nil {
		t.Fatalf("UploadData error: %v", err)
	}
	mappings, err := svc.AutoMatchFields(b.ID)
	if err != nil {
		t.Fatalf("AutoMatchFields error: %v", err)
	}
	if _, err := svc.SaveFieldMappings(b.ID, mappings); err != nil {
		t.Fatalf("SaveFieldMappings error: %v", err)
	}
	return b
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestService_CreateBatch(t *testing.T) {
	svc, _ := newTestService()

	b, err := svc.CreateBatch(CreateBatchParams{
		Name:          "test",
		Collection:    "ap_invoices",
		MergeStrategy: MergeSkip,
	})
	if err != nil {
		t.Fatalf("CreateBatch error: %v", err)
	}
	if b.Status != StatusCreated {
		t.Errorf("Status = %s, want created", b.Status)
	}
	// Keys default from the collection for non-append strategies
	if len(b.CompositeKeys) != 2 {
		t.Errorf("CompositeKeys = %v, want the collection defaults", b.CompositeKeys)
	}
}

func TestService_CreateBatch_Invalid(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.CreateBatch(CreateBatchParams{Collection: "ap_invoices"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := svc.CreateBatch(CreateBatchParams{Name: "x", Collection: "nope"}); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("err = %v, want ErrUnknownCollection", err)
	}
	if _, err := svc.CreateBatch(CreateBatchParams{
		Name: "x", Collection: "ap_invoices", MergeStrategy: "blend",
	}); err == nil {
		t.Error("expected error for unknown merge strategy")
	}
	if _, err := svc.CreateBatch(CreateBatchParams{
		Name: "x", Collection: "ap_invoices", MergeStrategy: MergeSkip,
		CompositeKeys: []string{"noSuchField"},
	}); err == nil {
		t.Error("expected error for key field outside the collection")
	}
}

func TestService_UploadData_Twice(t *testing.T) {
	svc, _ := newTestService()
	b := uploadBatch(t, svc, MergeAppend, 2)

	if _, err := svc.UploadData(b.ID, invoiceCSV(1), "again.csv"); !errors.Is(err, ErrDataAlreadySet) {
		t.Errorf("err = %v, want ErrDataAlreadySet", err)
	}
}

func TestService_UnknownBatch(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.GetBatch("nope"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("err = %v, want ErrBatchNotFound", err)
	}
}

func TestService_DetectBatch_AdoptsFormat(t *testing.T) {
	svc, _ := newTestService()
	b, err := svc.CreateBatch(CreateBatchParams{
		Name:         "iif upload",
		SourceFormat: FormatCSV, // wrong on purpose
		Collection:   "ap_invoices",
	})
	if err != nil {
		t.Fatal(err)
	}

	iif := "!TRNS\tDATE\tACCNT\tAMOUNT\nTRNS\t6/30/2025\tAP\t-500.00\nENDTRNS\n"
	if _, err := svc.UploadData(b.ID, iif, "export.iif"); err != nil {
		t.Fatalf("UploadData error: %v", err)
	}

	res, err := svc.DetectBatch(b.ID)
	if err != nil {
		t.Fatalf("DetectBatch error: %v", err)
	}
	if res.Format != FormatIIF {
		t.Errorf("detected %s, want iif", res.Format)
	}
	if b.SourceFormat != FormatIIF {
		t.Errorf("batch format = %s, want iif adopted", b.SourceFormat)
	}
	if len(b.Headers) != 3 {
		t.Errorf("headers not reparsed: %v", b.Headers)
	}
}

// ============================================================================
// Commit Precondition Tests
// ============================================================================

func TestService_CommitRequiresPreview(t *testing.T) {
	svc, _ := newTestService()
	b := uploadBatch(t, svc, MergeAppend, 2)

	if err := svc.StartCommit(b.ID, nil); !errors.Is(err, ErrNotPreviewed) {
		t.Errorf("err = %v, want ErrNotPreviewed", err)
	}
}

func TestService_MappingChangeStalesPreview(t *testing.T) {
	svc, _ := newTestService()
	b := uploadBatch(t, svc, MergeAppend, 2)

	if _, err := svc.Preview(context.Background(), b.ID, nil); err != nil {
		t.Fatalf("Preview error: %v", err)
	}

	// Editing mappings after preview invalidates the snapshot
	mappings, _ := svc.GetFieldMappings(b.ID)
	if _, err := svc.SaveFieldMappings(b.ID, mappings); err != nil {
		t.Fatal(err)
	}

	if err := svc.StartCommit(b.ID, nil); !errors.Is(err, ErrPreviewStale) {
		t.Errorf("err = %v, want ErrPreviewStale", err)
	}
}

func TestService_RecommitRequiresFreshPreview(t *testing.T) {
	svc, _ := newTestService()
	b := uploadBatch(t, svc, MergeAppend, 2)

	if _, err := svc.Preview(context.Background(), b.ID, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartCommit(b.ID, nil); err != nil {
		t.Fatalf("StartCommit error: %v", err)
	}
	if _, err := svc.WaitCommit(b.ID); err != nil {
		t.Fatal(err)
	}

	// The consumed snapshot cannot drive a second commit
	if err := svc.StartCommit(b.ID, nil); !errors.Is(err, ErrPreviewStale) {
		t.Errorf("err = %v, want ErrPreviewStale on re-commit", err)
	}
}

// ============================================================================
// End-to-End Commit Tests
// ============================================================================

func TestService_FullImport(t *testing.T) {
	svc, mem := newTestService()
	b := uploadBatch(t, svc, MergeAppend, 5)

	summary, err := svc.ValidateBatch(b.ID, nil)
	if err != nil {
		t.Fatalf("ValidateBatch error: %v", err)
	}
	if !summary.Valid {
		findings, _ := svc.GetImportErrors(b.ID)
		t.Fatalf("validation failed: %+v", findings)
	}

	preview, err := svc.Preview(context.Background(), b.ID, nil)
	if err != nil {
		t.Fatalf("Preview error: %v", err)
	}
	if preview.ToAdd != 5 {
		t.Fatalf("ToAdd = %d, want 5", preview.ToAdd)
	}

	if err := svc.StartCommit(b.ID, nil); err != nil {
		t.Fatalf("StartCommit error: %v", err)
	}
	result, err := svc.WaitCommit(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || result.Status != StatusCompleted {
		t.Fatalf("result = %+v, want completed", result)
	}
	if result.ImportedRows != 5 {
		t.Errorf("ImportedRows = %d, want 5", result.ImportedRows)
	}
	if mem.Count("ap_invoices") != 5 {
		t.Errorf("store has %d records, want 5", mem.Count("ap_invoices"))
	}
	if b.Status != StatusCompleted {
		t.Errorf("batch status = %s, want completed", b.Status)
	}
}

func TestService_PartialImport(t *testing.T) {
	svc, mem := newTestService()
	failing := map[string]bool{"10007": true, "10042": true, "10099": true}
	mem.InsertHook = func(collection string, fields map[string]string) error {
		if failing[fields["invoiceNumber"]] {
			return fmt.Errorf("constraint violation")
		}
		return nil
	}

	b := uploadBatch(t, svc, MergeAppend, 100)
	if _, err := svc.Preview(context.Background(), b.ID, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartCommit(b.ID, nil); err != nil {
		t.Fatal(err)
	}
	result, err := svc.WaitCommit(b.ID)
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != StatusPartial {
		t.Errorf("Status = %s, want partial", result.Status)
	}
	if result.ImportedRows != 97 || result.ErrorRows != 3 {
		t.Errorf("imported/errors = %d/%d, want 97/3", result.ImportedRows, result.ErrorRows)
	}
	if len(result.RowErrors) != 3 {
		t.Errorf("RowErrors = %d, want 3", len(result.RowErrors))
	}
	if mem.Count("ap_invoices") != 97 {
		t.Errorf("store has %d records, want 97", mem.Count("ap_invoices"))
	}
}

func TestService_ProgressSubscription(t *testing.T) {
	svc, _ := newTestService()
	b := uploadBatch(t, svc, MergeAppend, 20)
	if _, err := svc.Preview(context.Background(), b.ID, nil); err != nil {
		t.Fatal(err)
	}

	if err := svc.StartCommit(b.ID, nil); err != nil {
		t.Fatal(err)
	}
	ch, err := svc.SubscribeProgress(b.ID)
	if err != nil {
		// Commit may already have finished for a small in-memory batch
		t.Skipf("commit finished before subscription: %v", err)
	}

	last := CommitProgress{Percent: -1}
	for p := range ch {
		if p.Percent < last.Percent {
			t.Fatalf("progress went backwards: %d%% after %d%%", p.Percent, last.Percent)
		}
		last = p
	}

	result, err := svc.WaitCommit(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.ImportedRows != 20 {
		t.Errorf("ImportedRows = %d, want 20", result.ImportedRows)
	}
}

func TestService_CancelWithoutCommit(t *testing.T) {
	svc, _ := newTestService()
	b := uploadBatch(t, svc, MergeAppend, 2)

	if err := svc.CancelCommit(b.ID); err == nil {
		t.Error("expected error cancelling with no commit in flight")
	}
}

func TestService_ListBatchesNewestFirst(t *testing.T) {
	svc, _ := newTestService()
	for i := 0; i < 3; i++ {
		if _, err := svc.CreateBatch(CreateBatchParams{
			Name:       fmt.Sprintf("batch %d", i),
			Collection: "ap_vendors",
		}); err != nil {
			t.Fatal(err)
		}
	}

	batches := svc.ListBatches()
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	for i := 1; i < len(batches); i++ {
		if batches[i].CreatedAt.After(batches[i-1].CreatedAt) {
			t.Error("batches not sorted newest first")
		}
	}
}

func TestService_SubscribeWhileCommitFinishes(t *testing.T) {
	svc, mem := newTestService()
	mem.InsertHook = func(string, map[string]string) error {
		time.Sleep(200 * time.Microsecond)
		return nil
	}
	b := uploadBatch(t, svc, MergeAppend, 50)
	if _, err := svc.Preview(context.Background(), b.ID, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartCommit(b.ID, nil); err != nil {
		t.Fatal(err)
	}

	// Hammer subscriptions while the commit runs to completion. Every channel
	// granted while the commit reported in-progress must eventually close;
	// a subscription that lands during teardown must not be left dangling.
	var subs []<-chan CommitProgress
	for i := 0; i < 100000; i++ {
		ch, err := svc.SubscribeProgress(b.ID)
		if err != nil {
			break
		}
		subs = append(subs, ch)
	}
	if _, err := svc.WaitCommit(b.ID); err != nil {
		t.Fatal(err)
	}

	for _, ch := range subs {
		deadline := time.After(2 * time.Second)
		for open := true; open; {
			select {
			case _, ok := <-ch:
				open = ok
			case <-deadline:
				t.Fatal("subscription channel never closed after commit finished")
			}
		}
	}
}
