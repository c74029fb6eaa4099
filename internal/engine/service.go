package engine

// service.go owns batch lifecycle and concurrency. Batches live in an
// in-memory map for their lifetime (they are retained after commit for
// audit); the committed rows and the import-history trail are what persist.
//
// Every stage operation is re-runnable. The service guards the one hard
// concurrency rule: a single in-flight commit per batch id, with a fresh
// preview required before each commit.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitebooks/importer/internal/schema"
	"github.com/sitebooks/importer/internal/store"
)

// CommitTimeout bounds a single commit operation.
var CommitTimeout = 10 * time.Minute

var (
	ErrBatchNotFound     = errors.New("batch not found")
	ErrAlreadyCommitting = errors.New("batch commit already in progress")
	ErrNoData            = errors.New("batch has no uploaded data")
	ErrDataAlreadySet    = errors.New("batch data already uploaded; create a new batch to re-upload")
	ErrNotPreviewed      = errors.New("batch has no preview; run preview before commit")
	ErrPreviewStale      = errors.New("preview is stale; re-run preview before commit")
	ErrUnknownCollection = errors.New("unknown target collection")
)

// Service provides the import batch engine to callers (HTTP layer, CLI).
type Service struct {
	store   store.RecordStore
	history store.HistoryStore // optional, nil disables the audit trail

	mu      sync.RWMutex
	batches map[string]*batchState
}

// batchState pairs a batch with its commit runtime.
type batchState struct {
	batch *Batch

	committing bool
	cancel     context.CancelFunc
	done       chan struct{}
	result     *CommitResult

	listenerMu sync.Mutex
	listeners  []chan CommitProgress
}

// NewService creates a Service on the given record store. history may be nil.
func NewService(rs store.RecordStore, history store.HistoryStore) *Service {
	return &Service{
		store:   rs,
		history: history,
		batches: make(map[string]*batchState),
	}
}

// CreateBatchParams are the caller-supplied batch creation parameters.
type CreateBatchParams struct {
	Name          string        `json:"name"`
	SourceFormat  SourceFormat  `json:"sourceFormat"`
	Collection    string        `json:"collection"`
	MergeStrategy MergeStrategy `json:"mergeStrategy"`
	CompositeKeys []string      `json:"compositeKeys"`
	Delimiter     string        `json:"delimiter"`
}

// CreateBatch registers a new batch. CompositeKeys defaults to the
// collection's suggested key set when empty.
func (s *Service) CreateBatch(params CreateBatchParams) (*Batch, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("batch name is required")
	}
	coll, ok := schema.Get(params.Collection)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, params.Collection)
	}
	if params.MergeStrategy == "" {
		params.MergeStrategy = MergeAppend
	}
	if !params.MergeStrategy.Valid() {
		return nil, fmt.Errorf("unknown merge strategy %q", params.MergeStrategy)
	}
	keys := params.CompositeKeys
	if len(keys) == 0 && params.MergeStrategy != MergeAppend {
		keys = coll.DefaultKeys
	}
	for _, k := range keys {
		if _, ok := coll.FieldByName(k); !ok {
			return nil, fmt.Errorf("composite key field %q not in collection %q", k, coll.Key)
		}
	}

	b := &Batch{
		ID:            uuid.New().String(),
		Name:          params.Name,
		SourceFormat:  params.SourceFormat,
		Collection:    params.Collection,
		MergeStrategy: params.MergeStrategy,
		CompositeKeys: keys,
		Delimiter:     params.Delimiter,
		Status:        StatusCreated,
		CreatedAt:     time.Now(),
		validatedAt:   -1,
	}

	s.mu.Lock()
	s.batches[b.ID] = &batchState{batch: b}
	s.mu.Unlock()

	slog.Info("batch created",
		"batch_id", b.ID,
		"collection", b.Collection,
		"merge_strategy", b.MergeStrategy,
	)
	return b, nil
}

// GetBatch returns a batch by id.
func (s *Service) GetBatch(id string) (*Batch, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	return st.batch, nil
}

// ListBatches returns all batches, newest first.
func (s *Service) ListBatches() []*Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Batch, 0, len(s.batches))
	for _, st := range s.batches {
		out = append(out, st.batch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UploadData parses raw content per the batch's format and stores it as the
// batch's immutable raw data. A second upload to the same batch is refused.
func (s *Service) UploadData(id, content, fileName string) (*Batch, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	b := st.batch
	if len(b.RawData) > 0 {
		return nil, ErrDataAlreadySet
	}
	if content == "" {
		return nil, fmt.Errorf("empty upload")
	}

	headers, rows, err := ParseRaw(content, b.SourceFormat, b.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("parse %s data: %w", b.SourceFormat, err)
	}

	b.RawText = content
	b.FileName = fileName
	b.Headers = headers
	b.RawData = rows
	b.RowCount = len(rows)
	b.UploadedAt = time.Now()
	b.Status = StatusUploaded

	slog.Info("batch data uploaded",
		"batch_id", b.ID,
		"file", fileName,
		"rows", len(rows),
		"columns", len(headers),
	)
	return b, nil
}

// DetectFormat runs stateless detection on arbitrary content. Exposed for
// the pre-create detection call in the upload wizard.
func (s *Service) DetectFormat(content, filename string) DetectionResult {
	return DetectFormat(content, filename)
}

// DetectBatch re-runs detection against a batch's stored raw text and, when
// confident, adopts the detected format and delimiter. Detection is advisory:
// below the floor the batch keeps its caller-specified format and the result
// reports confidence 0.
func (s *Service) DetectBatch(id string) (DetectionResult, error) {
	st, err := s.state(id)
	if err != nil {
		return DetectionResult{}, err
	}
	b := st.batch
	if b.RawText == "" {
		return DetectionResult{}, ErrNoData
	}

	res := DetectFormat(b.RawText, b.FileName)
	if res.Confidence < minDetectConfidence {
		res.Format = b.SourceFormat
		res.Confidence = 0
		return res, nil
	}

	if res.Format != b.SourceFormat || (res.Delimiter != "" && res.Delimiter != b.Delimiter) {
		headers, rows, perr := ParseRaw(b.RawText, res.Format, res.Delimiter)
		if perr == nil {
			b.SourceFormat = res.Format
			b.Delimiter = res.Delimiter
			b.Headers = headers
			b.RawData = rows
			b.RowCount = len(rows)
			b.bumpRevision()
		}
	}
	b.Status = StatusDetected

	slog.Info("batch format detected",
		"batch_id", b.ID,
		"format", res.Format,
		"confidence", res.Confidence,
		"collection", res.Collection,
	)
	return res, nil
}

// AutoMatchFields proposes a mapping from the batch's source headers to the
// target collection's fields. The proposal is not saved; callers review and
// save through SaveFieldMappings.
func (s *Service) AutoMatchFields(id string) ([]FieldMapping, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	b := st.batch
	if len(b.RawData) == 0 {
		return nil, ErrNoData
	}
	coll, ok := schema.Get(b.Collection)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, b.Collection)
	}

	return AutoMatch(b.Headers, coll.FieldNames(), sampleValues(b, 5)), nil
}

// SaveFieldMappings stores the (possibly user-edited) mapping set on the
// batch, invalidating any prior preview. Returns mapping-level warnings
// (duplicate sources, many-to-one targets).
func (s *Service) SaveFieldMappings(id string, mappings []FieldMapping) ([]ImportError, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	b := st.batch

	normalized, warnings, err := NormalizeMappings(mappings)
	if err != nil {
		return nil, err
	}
	b.Mappings = normalized
	b.bumpRevision()
	if !b.Status.Terminal() && b.Status != StatusCommitting {
		b.Status = StatusMapped
	}
	return warnings, nil
}

// GetFieldMappings returns the saved mapping set.
func (s *Service) GetFieldMappings(id string) ([]FieldMapping, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	return st.batch.Mappings, nil
}

// ValidateBatch runs rules against the mapped view and persists the findings
// on the batch. A nil rule list derives the default rules from the target
// collection schema.
func (s *Service) ValidateBatch(id string, rules []Rule) (ValidationSummary, error) {
	st, err := s.state(id)
	if err != nil {
		return ValidationSummary{}, err
	}
	b := st.batch
	if len(b.RawData) == 0 {
		return ValidationSummary{}, ErrNoData
	}

	if rules == nil {
		coll, ok := schema.Get(b.Collection)
		if !ok {
			return ValidationSummary{}, fmt.Errorf("%w: %q", ErrUnknownCollection, b.Collection)
		}
		rules = RulesForCollection(coll)
	}

	mappings, mapWarnings, err := NormalizeMappings(b.Mappings)
	if err != nil {
		return ValidationSummary{}, err
	}
	mapped := ApplyMappings(b.RawData, mappings)
	if len(mapped) > 0 {
		mapped[0].Warnings = append(mapped[0].Warnings, mapWarnings...)
	}

	summary, findings, err := ValidateRows(mapped, rules)
	if err != nil {
		return ValidationSummary{}, err
	}

	b.Errors = findings
	b.validatedAt = b.revision
	if !b.Status.Terminal() && b.Status != StatusCommitting {
		b.Status = StatusValidated
	}

	slog.Info("batch validated",
		"batch_id", b.ID,
		"errors", summary.ErrorCount,
		"warnings", summary.WarningCount,
	)
	return summary, nil
}

// GetImportErrors returns the findings from the latest validation run.
func (s *Service) GetImportErrors(id string) ([]ImportError, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	return st.batch.Errors, nil
}

// Preview runs the dry-run diff against the record store and stores the
// snapshot for the next commit. rules follows ValidateBatch semantics.
func (s *Service) Preview(ctx context.Context, id string, rules []Rule) (*PreviewResult, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	b := st.batch
	if len(b.RawData) == 0 {
		return nil, ErrNoData
	}
	if st.isCommitting() {
		return nil, ErrAlreadyCommitting
	}

	if rules == nil {
		coll, ok := schema.Get(b.Collection)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, b.Collection)
		}
		rules = RulesForCollection(coll)
	}

	result, err := BuildPreview(ctx, b, s.store, rules)
	if err != nil {
		return nil, err
	}

	b.preview = result
	b.previewRev = b.revision
	b.previewUsed = false
	if !b.Status.Terminal() {
		b.Status = StatusPreviewed
	}

	slog.Info("batch previewed",
		"batch_id", b.ID,
		"to_add", result.ToAdd,
		"to_update", result.ToUpdate,
		"to_skip", result.ToSkip,
		"conflicts", result.Conflicts,
	)
	return result, nil
}

// StartCommit begins an asynchronous commit of the current preview snapshot.
// Preconditions: a preview exists, it reflects the current mapping revision,
// and it has not already been committed. One commit per batch at a time.
func (s *Service) StartCommit(id string, resolutions map[int]Resolution) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}
	b := st.batch

	st.listenerMu.Lock()
	if st.committing {
		st.listenerMu.Unlock()
		return ErrAlreadyCommitting
	}
	switch {
	case b.preview == nil:
		st.listenerMu.Unlock()
		return ErrNotPreviewed
	case b.previewRev != b.revision, b.previewUsed:
		st.listenerMu.Unlock()
		return ErrPreviewStale
	}

	ctx, cancel := context.WithTimeout(context.Background(), CommitTimeout)
	st.committing = true
	st.cancel = cancel
	st.done = make(chan struct{})
	st.result = nil
	st.listenerMu.Unlock()

	b.Status = StatusCommitting
	b.previewUsed = true

	go s.processCommit(ctx, st, resolutions)
	return nil
}

// processCommit runs the commit and publishes progress and the result.
func (s *Service) processCommit(ctx context.Context, st *batchState, resolutions map[int]Resolution) {
	b := st.batch
	defer func() {
		st.cancel()
		st.finishCommit()
		close(st.done)
	}()

	result := runCommit(ctx, b, b.preview, resolutions, s.store, st.notifyProgress)
	st.result = &result
	b.Status = result.Status

	slog.Info("batch commit finished",
		"batch_id", b.ID,
		"status", result.Status,
		"imported", result.ImportedRows,
		"skipped", result.SkippedRows,
		"errored", result.ErrorRows,
		"duration", result.Duration,
	)

	if s.history != nil {
		entry := store.HistoryEntry{
			BatchID:       b.ID,
			Name:          b.Name,
			Collection:    b.Collection,
			SourceFormat:  string(b.SourceFormat),
			MergeStrategy: string(b.MergeStrategy),
			TotalRows:     result.TotalRows,
			ImportedRows:  result.ImportedRows,
			SkippedRows:   result.SkippedRows,
			ErrorRows:     result.ErrorRows,
			Status:        string(result.Status),
		}
		hctx, hcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer hcancel()
		if err := s.history.Record(hctx, entry); err != nil {
			slog.Error("record import history", "batch_id", b.ID, "error", err)
		}
	}
}

// SubscribeProgress returns a channel of progress updates for an in-flight
// commit. The channel closes when the commit finishes. Slow consumers miss
// intermediate updates rather than stalling the commit.
func (s *Service) SubscribeProgress(id string) (<-chan CommitProgress, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}

	st.listenerMu.Lock()
	defer st.listenerMu.Unlock()
	if !st.committing {
		return nil, fmt.Errorf("no commit in progress for batch %s", id)
	}
	ch := make(chan CommitProgress, 16)
	st.listeners = append(st.listeners, ch)
	return ch, nil
}

// CommitResult returns the result of the last finished commit, or nil if a
// commit is still running or never ran.
func (s *Service) CommitResult(id string) (*CommitResult, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	if st.isCommitting() {
		return nil, nil
	}
	return st.result, nil
}

// WaitCommit blocks until the in-flight commit (if any) finishes.
func (s *Service) WaitCommit(id string) (*CommitResult, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	st.listenerMu.Lock()
	done := st.done
	st.listenerMu.Unlock()
	if done != nil {
		<-done
	}
	return st.result, nil
}

// CancelCommit requests cancellation of an in-flight commit. Takes effect at
// the next row boundary.
func (s *Service) CancelCommit(id string) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}
	st.listenerMu.Lock()
	defer st.listenerMu.Unlock()
	if !st.committing || st.cancel == nil {
		return fmt.Errorf("no commit in progress for batch %s", id)
	}
	st.cancel()
	return nil
}

// PreviewSnapshot returns the stored preview, or nil.
func (s *Service) PreviewSnapshot(id string) (*PreviewResult, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	return st.batch.preview, nil
}

func (s *Service) state(id string) (*batchState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return st, nil
}

func (st *batchState) isCommitting() bool {
	st.listenerMu.Lock()
	defer st.listenerMu.Unlock()
	return st.committing
}

func (st *batchState) notifyProgress(p CommitProgress) {
	st.listenerMu.Lock()
	defer st.listenerMu.Unlock()
	for _, ch := range st.listeners {
		select {
		case ch <- p:
		default: // drop for slow consumers
		}
	}
}

// finishCommit clears the committing flag and closes all listener channels in
// one critical section. Any SubscribeProgress that saw committing==true has
// its channel in listeners and gets the close; any call after sees
// committing==false and is refused.
func (st *batchState) finishCommit() {
	st.listenerMu.Lock()
	defer st.listenerMu.Unlock()
	st.committing = false
	for _, ch := range st.listeners {
		close(ch)
	}
	st.listeners = nil
}

// sampleValues collects up to n raw string values per source header for
// transform inference.
func sampleValues(b *Batch, n int) map[string][]string {
	samples := make(map[string][]string, len(b.Headers))
	for _, row := range b.RawData {
		full := true
		for _, h := range b.Headers {
			if h == "" {
				continue
			}
			if len(samples[h]) >= n {
				continue
			}
			full = false
			if v, ok := row[h]; ok && !v.IsEmpty() {
				samples[h] = append(samples[h], v.Display())
			}
		}
		if full {
			break
		}
	}
	return samples
}
