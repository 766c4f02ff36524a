package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/straja-ai/piiscope/internal/classify"
	"github.com/straja-ai/piiscope/internal/dataset"
	"github.com/straja-ai/piiscope/internal/engine"
	"github.com/straja-ai/piiscope/internal/entity"
	"github.com/straja-ai/piiscope/internal/export"
	"github.com/straja-ai/piiscope/internal/index"
	"github.com/straja-ai/piiscope/internal/redact"
	"github.com/straja-ai/piiscope/internal/store"
	"github.com/straja-ai/piiscope/internal/summary"
	"github.com/straja-ai/piiscope/internal/taxonomy"
)

type healthResponse struct {
	Status  string   `json:"status"`
	Labeler string   `json:"labeler,omitempty"`
	Sinks   []string `json:"sinks,omitempty"`
	Search  bool     `json:"search"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Labeler: s.engine.Labeler(),
		Sinks:   s.emitter.Sinks(),
		Search:  s.search != nil,
	})
}

type classifyRequest struct {
	Columns []string `json:"columns"`
}

// classifyResponse reports Recommended=false when no mode could be inferred.
type classifyResponse struct {
	Columns     []string `json:"columns"`
	Mode        string   `json:"mode"`
	Recommended bool     `json:"recommended"`
}

// handleClassify accepts either {"columns": [...]} or a CSV upload.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var cols []string
	if isJSON(r) {
		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error")
			return
		}
		cols = req.Columns
	} else {
		ds, ok := s.readDataset(w, r)
		if !ok {
			return
		}
		cols = ds.Columns()
	}
	mode := classify.Recommend(cols)
	writeJSON(w, http.StatusOK, classifyResponse{
		Columns:     cols,
		Mode:        string(mode),
		Recommended: mode != classify.ModeNone,
	})
}

type runResponse struct {
	ID        string            `json:"id,omitempty"`
	Status    string            `json:"status"`
	Error     string            `json:"error,omitempty"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
	Mode      string            `json:"mode,omitempty"`
	Labeler   string            `json:"labeler,omitempty"`
	Title     string            `json:"title,omitempty"`
	Records   int               `json:"records"`
	PII       int               `json:"pii"`
	HII       int               `json:"hii"`
	Sources   []store.Selection `json:"sources"`
	PIITypes  []string          `json:"pii_types"`
	HIITypes  []string          `json:"hii_types"`
	IndexName string            `json:"index_name,omitempty"`
	Index     []indexResult     `json:"index,omitempty"`
	Warnings  []engine.Warning  `json:"warnings,omitempty"`
}

func describeRun(entry runEntry) runResponse {
	resp := runResponse{
		Status: string(entry.status),
		Error:  entry.lastError,
	}
	run := entry.run
	if run == nil {
		return resp
	}
	created := run.CreatedAt.UTC()
	resp.ID = run.ID
	resp.CreatedAt = &created
	resp.Mode = string(run.Mode)
	resp.Labeler = run.Labeler
	resp.Title = run.Title()
	resp.Records = run.Records()
	resp.PII = len(run.PII)
	resp.HII = len(run.HII)
	resp.Sources = entry.store.Sources()
	resp.PIITypes = entry.store.Types(taxonomy.GroupPII)
	resp.HIITypes = entry.store.Types(taxonomy.GroupHII)
	resp.IndexName = run.IndexName()
	resp.Index = entry.index
	resp.Warnings = run.Warnings
	return resp
}

// handleCreateRun runs detection over an uploaded CSV and makes the result
// the workspace's current run. Query: mode, text_field, parallelism.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	q := r.URL.Query()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	ds, ok := s.readDataset(w, r)
	if !ok {
		return
	}

	mode := classify.Recommend(ds.Columns())
	if raw := q.Get("mode"); raw != "" {
		parsed, ok := classify.ParseMode(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", raw), "invalid_request_error")
			return
		}
		mode = parsed
	}
	opts := engine.Options{
		Mode:      mode,
		TextField: q.Get("text_field"),
		Workspace: ws.ID,
	}
	if raw := q.Get("parallelism"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "parallelism must be a positive integer", "invalid_request_error")
			return
		}
		opts.Parallelism = n
	}

	s.runs.Start(ws.ID)
	run, err := s.engine.Run(r.Context(), ds, opts)
	if err != nil {
		s.runs.Fail(ws.ID, err)
		status, typ := runErrorStatus(err)
		writeError(w, status, err.Error(), typ)
		return
	}

	entry := s.runs.Complete(ws.ID, run, s.engine.Store(run), s.indexRun(r.Context(), run))
	writeJSON(w, http.StatusCreated, describeRun(entry))
}

func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrNoMode):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, engine.ErrMissingColumns), errors.Is(err, engine.ErrNoLabeler):
		return http.StatusUnprocessableEntity, "precondition_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "run_error"
	}
}

// indexRun pushes the unredacted entities to the configured sinks. Failures
// are reported, never fatal to the run.
func (s *Server) indexRun(ctx context.Context, run *engine.DetectionRun) []indexResult {
	if s.emitter == nil {
		return nil
	}
	b := index.NewBatch(run.ID, run.CreatedAt, run.PII, run.HII)
	if s.asyncIndex {
		if !s.emitter.Publish(b) {
			return []indexResult{{Sink: "queue", Error: "index queue full; batch dropped"}}
		}
		return []indexResult{{Sink: "queue", OK: true, Queued: true}}
	}
	results := s.emitter.Deliver(ctx, b)
	out := make([]indexResult, 0, len(results))
	for _, res := range results {
		ir := indexResult{Sink: res.Sink, OK: res.OK()}
		if res.Err != nil {
			ir.Error = redact.String(res.Err.Error())
		}
		out = append(out, ir)
	}
	return out
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.runs.Get(workspaceFrom(r.Context()).ID)
	if !ok {
		writeError(w, http.StatusNotFound, "no run for this workspace", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, describeRun(entry))
}

// currentView loads the workspace's run and derives the view requested by
// the query string. It writes the error response itself.
func (s *Server) currentView(w http.ResponseWriter, r *http.Request, q url.Values) (runEntry, store.View, bool) {
	entry, ok := s.runs.Get(workspaceFrom(r.Context()).ID)
	if !ok || entry.run == nil {
		writeError(w, http.StatusNotFound, "no completed run for this workspace", "not_found")
		return runEntry{}, store.View{}, false
	}
	f, p, err := parseView(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return runEntry{}, store.View{}, false
	}
	return entry, entry.store.View(f, p), true
}

func parseView(q url.Values) (store.Filter, redact.Policy, error) {
	sel, err := store.ParseSelection(q.Get("group"))
	if err != nil {
		return store.Filter{}, redact.Policy{}, err
	}
	f := store.Filter{
		Group:    sel,
		PIITypes: typeFilter(q, "pii_types"),
		HIITypes: typeFilter(q, "hii_types"),
		Keyword:  q.Get("keyword"),
	}
	p := redact.Policy{
		PII: redact.NewTypeSet(splitList(q.Get("redact_pii"))...),
		HII: redact.NewTypeSet(splitList(q.Get("redact_hii"))...),
	}
	return f, p, nil
}

// typeFilter returns nil when key is absent (every type) and a non-nil,
// possibly empty list when it is present, so "pii_types=" selects none.
func typeFilter(q url.Values, key string) []string {
	if !q.Has(key) {
		return nil
	}
	if list := splitList(q.Get(key)); list != nil {
		return list
	}
	return []string{}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type entitiesResponse struct {
	Group store.Selection `json:"group"`
	Total int             `json:"total"`
	PII   []entity.Entity `json:"pii"`
	HII   []entity.Entity `json:"hii"`
	Words string          `json:"words,omitempty"`
}

// handleEntities returns the filtered, redacted entity tables. format=csv
// streams one combined table.
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	_, view, ok := s.currentView(w, r, q)
	if !ok {
		return
	}
	if strings.EqualFold(q.Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		if err := export.WriteEntitiesCSV(w, view.All()); err != nil {
			redact.Warnf("write entities csv: %v", err)
		}
		return
	}
	resp := entitiesResponse{
		Group: view.Filter.Group,
		Total: view.Len(),
		PII:   nonNil(view.PII),
		HII:   nonNil(view.HII),
	}
	if q.Get("words") == "true" {
		resp.Words = export.WordText(view)
	}
	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	Title string `json:"title"`
	summary.Summary
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	entry, view, ok := s.currentView(w, r, r.URL.Query())
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Title:   entry.run.Title(),
		Summary: summary.Aggregate(view, entry.run.RecordScores),
	})
}

type recordsResponse struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// handleRecords returns the dataset augmented with per-record risk scores.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.runs.Get(workspaceFrom(r.Context()).ID)
	if !ok || entry.run == nil {
		writeError(w, http.StatusNotFound, "no completed run for this workspace", "not_found")
		return
	}
	scored := export.Scored{
		Dataset:      entry.run.Dataset,
		RecordIndex:  entry.run.RecordIndex,
		RecordScores: entry.run.RecordScores,
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		if err := export.WriteAugmentedCSV(w, scored); err != nil {
			redact.Warnf("write records csv: %v", err)
		}
		return
	}
	rows := export.AugmentedRows(scored)
	if rows == nil {
		rows = [][]string{}
	}
	writeJSON(w, http.StatusOK, recordsResponse{
		Header: export.AugmentedHeader(entry.run.Dataset),
		Rows:   rows,
	})
}

type exportRequest struct {
	Password  string   `json:"password"`
	Group     string   `json:"group"`
	PIITypes  []string `json:"pii_types"`
	HIITypes  []string `json:"hii_types"`
	Keyword   string   `json:"keyword"`
	RedactPII []string `json:"redact_pii"`
	RedactHII []string `json:"redact_hii"`
}

func (req exportRequest) values() url.Values {
	v := url.Values{}
	v.Set("group", req.Group)
	if req.PIITypes != nil {
		v.Set("pii_types", strings.Join(req.PIITypes, ","))
	}
	if req.HIITypes != nil {
		v.Set("hii_types", strings.Join(req.HIITypes, ","))
	}
	v.Set("keyword", req.Keyword)
	v.Set("redact_pii", strings.Join(req.RedactPII, ","))
	v.Set("redact_hii", strings.Join(req.RedactHII, ","))
	return v
}

// handleExport returns the current view as a password-sealed zip archive.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, export.ErrNoPassword.Error(), "invalid_request_error")
		return
	}
	entry, view, ok := s.currentView(w, r, req.values())
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.WriteArchive(&buf, view, req.Password, s.archive); err != nil {
		redact.Warnf("export run %s: %v", entry.run.ID, err)
		writeError(w, http.StatusInternalServerError, "export failed", "export_error")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": entry.run.IndexName() + ".psz",
	}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type searchResponse struct {
	Index string      `json:"index"`
	Query string      `json:"query"`
	Hits  []index.Hit `json:"hits"`
}

// handleSearch queries the local full-text index, scoped to the workspace's
// current run.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusNotImplemented, "search index is not configured", "not_configured")
		return
	}
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing q", "invalid_request_error")
		return
	}
	entry, ok := s.runs.Get(workspaceFrom(r.Context()).ID)
	if !ok || entry.run == nil {
		writeError(w, http.StatusNotFound, "no completed run for this workspace", "not_found")
		return
	}
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "invalid_request_error")
			return
		}
		limit = n
	}
	name := entry.run.IndexName()
	hits, err := s.search.Search(r.Context(), name, query, limit)
	if err != nil {
		redact.Warnf("search %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "search failed", "search_error")
		return
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Index: name, Query: query, Hits: hits})
}

func (s *Server) readDataset(w http.ResponseWriter, r *http.Request) (*dataset.Dataset, bool) {
	ds, err := dataset.ReadCSV(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "dataset exceeds upload limit", "invalid_request_error")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid CSV dataset: "+err.Error(), "invalid_request_error")
		return nil, false
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return ds, true
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func nonNil(ents []entity.Entity) []entity.Entity {
	if ents == nil {
		return []entity.Entity{}
	}
	return ents
}
