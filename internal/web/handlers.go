package web

// handlers.go implements the batch lifecycle endpoints. Expected conditions
// (low confidence, validation failures, conflicts) come back as structured
// results with 200; only malformed requests and unknown ids are errors.

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sitebooks/importer/internal/engine"
	"github.com/sitebooks/importer/internal/logging"
	"github.com/sitebooks/importer/internal/profile"
	"github.com/sitebooks/importer/internal/schema"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleDetect runs stateless format detection on posted content.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Filename string `json:"filename"`
	}
	if err := decodeBody(w, r, s.cfg.Import.MaxFileSize, &req); err != nil {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	writeJSON(w, s.service.DetectFormat(req.Content, req.Filename))
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	type fieldInfo struct {
		Name     string `json:"name"`
		Label    string `json:"label"`
		Type     string `json:"type"`
		Required bool   `json:"required"`
	}
	type collectionInfo struct {
		Key         string      `json:"key"`
		Group       string      `json:"group"`
		Label       string      `json:"label"`
		Fields      []fieldInfo `json:"fields"`
		DefaultKeys []string    `json:"defaultKeys"`
	}

	var out []collectionInfo
	for _, c := range schema.All() {
		ci := collectionInfo{Key: c.Key, Group: c.Group, Label: c.Label, DefaultKeys: c.DefaultKeys}
		for _, f := range c.Fields {
			ci.Fields = append(ci.Fields, fieldInfo{
				Name:     f.Name,
				Label:    f.Label,
				Type:     fieldTypeName(f.Type),
				Required: f.Required,
			})
		}
		out = append(out, ci)
	}
	writeJSON(w, out)
}

func fieldTypeName(t schema.FieldType) string {
	switch t {
	case schema.FieldNumber:
		return "number"
	case schema.FieldDate:
		return "date"
	case schema.FieldBool:
		return "bool"
	default:
		return "text"
	}
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var params engine.CreateBatchParams
	if err := decodeBody(w, r, 1<<20, &params); err != nil {
		return
	}
	b, err := s.service.CreateBatch(params)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, b)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.ListBatches())
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.GetBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, b)
}

// handleUploadData accepts raw file content, either as a multipart "file"
// part or as a plain request body.
func (s *Server) handleUploadData(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	var content, fileName string
	ct := r.Header.Get("Content-Type")
	if len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.cfg.Import.MaxFileSize); err != nil {
			writeError(w, http.StatusBadRequest, "file too large or invalid form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "no file provided")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read file: "+err.Error())
			return
		}
		content = string(data)
		fileName = header.Filename
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		content = string(data)
		fileName = r.URL.Query().Get("filename")
	}

	b, err := s.service.UploadData(batchID, content, fileName)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, b)
}

func (s *Server) handleDetectBatch(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.DetectBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleAutoMatch(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.service.AutoMatchFields(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, mappings)
}

func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.service.GetFieldMappings(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, mappings)
}

func (s *Server) handleSaveMappings(w http.ResponseWriter, r *http.Request) {
	var mappings []engine.FieldMapping
	if err := decodeBody(w, r, 1<<20, &mappings); err != nil {
		return
	}
	warnings, err := s.service.SaveFieldMappings(chi.URLParam(r, "batchID"), mappings)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"saved": len(mappings), "warnings": warnings})
}

// handleValidate runs validation with the posted rules, or the collection's
// default rules when the body is empty.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	rules, ok := decodeRules(w, r)
	if !ok {
		return
	}
	summary, err := s.service.ValidateBatch(chi.URLParam(r, "batchID"), rules)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleGetErrors(w http.ResponseWriter, r *http.Request) {
	findings, err := s.service.GetImportErrors(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if findings == nil {
		findings = []engine.ImportError{}
	}
	writeJSON(w, findings)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	rules, ok := decodeRules(w, r)
	if !ok {
		return
	}
	result, err := s.service.Preview(r.Context(), chi.URLParam(r, "batchID"), rules)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// Cap row detail; aggregate counts always cover the whole batch.
	if max := s.cfg.Import.MaxPreviewRows; len(result.Rows) > max {
		trimmed := *result
		trimmed.Rows = result.Rows[:max]
		writeJSON(w, trimmed)
		return
	}
	writeJSON(w, result)
}

// decodeRules reads an optional {"rules": [...]} body. A missing or empty
// body means "use the collection defaults" (nil).
func decodeRules(w http.ResponseWriter, r *http.Request) ([]engine.Rule, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return nil, false
	}
	if len(body) == 0 {
		return nil, true
	}
	var req struct {
		Rules []engine.Rule `json:"rules"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	return req.Rules, true
}

// Profile endpoints

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.profiles.List()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	if err := decodeBody(w, r, 1<<20, &p); err != nil {
		return
	}
	if err := s.profiles.Save(p); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, p)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Load(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.profiles.Delete(chi.URLParam(r, "name")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory returns the import audit trail, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "import history is not configured")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, entries)
}

// decodeBody reads and unmarshals a JSON request body with a size cap.
// Writes the error response itself; callers just return on error.
func decodeBody(w http.ResponseWriter, r *http.Request, maxSize int64, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return err
	}
	return nil
}

// respondError maps engine sentinel errors to status codes and logs the
// technical detail with the request id.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrBatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyCommitting):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrNoData),
		errors.Is(err, engine.ErrDataAlreadySet),
		errors.Is(err, engine.ErrNotPreviewed),
		errors.Is(err, engine.ErrPreviewStale),
		errors.Is(err, engine.ErrUnknownCollection):
		status = http.StatusBadRequest
	}

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
	)
	writeError(w, status, err.Error())
}
