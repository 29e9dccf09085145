package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/matthewbaird/docagg/internal/activity"
	"github.com/matthewbaird/docagg/internal/catalog"
	"github.com/matthewbaird/docagg/internal/cost"
	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
)

// pipelineRequest is the body of aggregate and explain requests.
type pipelineRequest struct {
	Pipeline json.RawMessage `json:"pipeline"`
}

type aggregateResponse struct {
	Documents  []*document.Document `json:"documents"`
	Path       string               `json:"path"`
	Reason     string               `json:"reason,omitempty"`
	Cost       *cost.Estimate       `json:"cost,omitempty"`
	DurationMS float64              `json:"durationMs"`
}

func (s *Server) readPipeline(w http.ResponseWriter, r *http.Request) (pipeline.Pipeline, bool) {
	var req pipelineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body: "+err.Error())
		return nil, false
	}
	if len(req.Pipeline) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_PIPELINE", "pipeline is required")
		return nil, false
	}
	p, err := pipeline.Parse(req.Pipeline)
	if err != nil {
		s.errorToHTTP(w, r, err)
		return nil, false
	}
	return p, true
}

func (s *Server) aggregate(w http.ResponseWriter, r *http.Request) {
	name, ok := collectionParam(w, r)
	if !ok {
		return
	}
	p, ok := s.readPipeline(w, r)
	if !ok {
		return
	}
	res, err := s.router.Run(r.Context(), name, p)
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregateResponse{
		Documents:  res.Documents,
		Path:       string(res.Path),
		Reason:     res.Reason,
		Cost:       res.Cost,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	})
}

func (s *Server) explain(w http.ResponseWriter, r *http.Request) {
	name, ok := collectionParam(w, r)
	if !ok {
		return
	}
	p, ok := s.readPipeline(w, r)
	if !ok {
		return
	}
	ex, err := s.router.Explain(r.Context(), name, p)
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// insertDocuments accepts one document or an array of documents.
func (s *Server) insertDocuments(w http.ResponseWriter, r *http.Request) {
	name, ok := collectionParam(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "reading body: "+err.Error())
		return
	}
	v, err := document.UnmarshalValue(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid document JSON: "+err.Error())
		return
	}

	var docs []*document.Document
	switch t := v.(type) {
	case *document.Document:
		docs = []*document.Document{t}
	case []any:
		for i, item := range t {
			d, ok := item.(*document.Document)
			if !ok {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"element "+strconv.Itoa(i)+" is not an object")
				return
			}
			docs = append(docs, d)
		}
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "body must be an object or an array of objects")
		return
	}

	stored, err := s.store.Insert(r.Context(), name, docs...)
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	ids := make([]any, 0, len(stored))
	for _, d := range stored {
		ids = append(ids, d.ID())
	}
	writeJSON(w, http.StatusCreated, map[string]any{"inserted": len(stored), "ids": ids})
}

type indexRequest struct {
	Field string `json:"field"`
}

func (s *Server) createIndex(w http.ResponseWriter, r *http.Request) {
	name, ok := collectionParam(w, r)
	if !ok {
		return
	}
	var req indexRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body: "+err.Error())
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "field is required")
		return
	}
	idx, err := s.store.CreateIndex(r.Context(), name, document.FieldPath(req.Field))
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": idx, "field": req.Field})
}

type indexEntry struct {
	Field string `json:"field"`
	Index string `json:"index"`
}

func (s *Server) listIndexes(w http.ResponseWriter, r *http.Request) {
	name, ok := collectionParam(w, r)
	if !ok {
		return
	}
	set, err := catalog.NewReader(s.store).Fetch(r.Context(), name)
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	out := make([]indexEntry, 0, set.Len())
	for _, p := range set.Paths() {
		out = append(out, indexEntry{Field: string(p), Index: set.IndexName(p)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": name, "indexes": out})
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Collections(r.Context())
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": names})
}

type fallbackState struct {
	ForceFallback *bool `json:"forceFallback"`
}

func (s *Server) getFallback(w http.ResponseWriter, r *http.Request) {
	forced := s.router.Override().Forced()
	writeJSON(w, http.StatusOK, fallbackState{ForceFallback: &forced})
}

func (s *Server) putFallback(w http.ResponseWriter, r *http.Request) {
	var req fallbackState
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body: "+err.Error())
		return
	}
	if req.ForceFallback == nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "forceFallback is required")
		return
	}
	s.router.Override().Set(*req.ForceFallback)
	s.overrideChanged(*req.ForceFallback)
	writeJSON(w, http.StatusOK, req)
}

// listRuns serves the run log, newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := activity.DefaultQueryOptions()
	opts.Collection = q.Get("collection")
	opts.Path = q.Get("path")
	opts.Cursor = q.Get("cursor")
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "since must be an RFC 3339 timestamp")
			return
		}
		opts.Since = &t
	}
	runs, next, total := s.runs.Query(opts)
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "nextCursor": next, "total": total})
}
