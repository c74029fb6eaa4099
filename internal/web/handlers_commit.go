package web

// Commit endpoints. Commits run asynchronously in the engine; clients start
// one with POST /commit, follow it on the SSE progress stream, and fetch the
// final result once the stream closes.

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sitebooks/importer/internal/engine"
	"github.com/sitebooks/importer/internal/logging"
)

// handleCommit starts an asynchronous commit of the batch's current preview.
// The optional body carries conflict resolutions keyed by row number.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	var req struct {
		Resolutions map[string]engine.Resolution `json:"resolutions"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, 1<<20, &req); err != nil {
			return
		}
	}

	// JSON object keys are strings; resolutions are keyed by row number.
	var resolutions map[int]engine.Resolution
	if len(req.Resolutions) > 0 {
		resolutions = make(map[int]engine.Resolution, len(req.Resolutions))
		for k, v := range req.Resolutions {
			n, err := strconv.Atoi(k)
			if err != nil {
				writeError(w, http.StatusBadRequest, "resolution key must be a row number, got "+k)
				return
			}
			switch v {
			case engine.ResolveAdd, engine.ResolveUpdate, engine.ResolveSkip:
			default:
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown resolution %q for row %d", v, n))
				return
			}
			resolutions[n] = v
		}
	}

	if err := s.service.StartCommit(batchID, resolutions); err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("commit started",
		"batch_id", batchID,
		"resolutions", len(resolutions),
	)
	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"batchId": batchID,
		"status":  "committing",
	})
}

// handleCommitProgress streams commit progress as server-sent events. The
// stream ends with a "done" event carrying the final result once the commit
// finishes, or immediately if no commit is running.
func (s *Server) handleCommitProgress(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	// NewResponseController reaches the flusher through middleware wrappers.
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, err := s.service.SubscribeProgress(batchID)
	if err != nil {
		// No commit in flight: report the last known result and close.
		result, rerr := s.service.CommitResult(batchID)
		if rerr != nil {
			s.respondError(w, r, rerr)
			return
		}
		writeSSE(w, "done", result)
		rc.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case p, open := <-ch:
			if !open {
				result, _ := s.service.CommitResult(batchID)
				writeSSE(w, "done", result)
				rc.Flush()
				return
			}
			writeSSE(w, "progress", p)
			rc.Flush()
		}
	}
}

// writeSSE writes one server-sent event with a JSON payload.
func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *Server) handleCommitResult(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	result, err := s.service.CommitResult(batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if result == nil {
		b, berr := s.service.GetBatch(batchID)
		if berr != nil {
			s.respondError(w, r, berr)
			return
		}
		if b.Status == engine.StatusCommitting {
			writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "committing"})
			return
		}
		writeError(w, http.StatusNotFound, "batch has no commit result")
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleCancelCommit(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if err := s.service.CancelCommit(batchID); err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("commit cancel requested", "batch_id", batchID)
	writeJSON(w, map[string]string{"status": "cancelling"})
}

// handleExportErrors downloads the latest validation findings as CSV for
// fixing in a spreadsheet and re-uploading.
func (s *Server) handleExportErrors(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	findings, err := s.service.GetImportErrors(batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "errors-"+batchID+".csv"))

	cw := csv.NewWriter(w)
	cw.Write([]string{"row", "field", "value", "message", "severity"})
	for _, f := range findings {
		cw.Write([]string{
			strconv.Itoa(f.RowNumber),
			f.Field,
			f.Value,
			f.Message,
			string(f.Severity),
		})
	}
	cw.Flush()
}
