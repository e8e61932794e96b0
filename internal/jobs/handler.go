package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/stepforge/internal/pipeline"
)

const (
	// maxRequestBytes caps the size of a submitted transcript body.
	maxRequestBytes = 8 << 20

	defaultSearchK = 5
	maxSearchK     = 50
)

// StepHit is one accepted step returned by a similarity search.
type StepHit struct {
	JobID      string  `json:"job_id"`
	StepIndex  int     `json:"step_index"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Excerpt    string  `json:"excerpt"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}

// StepSearcher finds accepted steps similar to a free-text query.
type StepSearcher interface {
	SearchSteps(ctx context.Context, query string, k int) ([]StepHit, error)
}

// HandlerOption is a functional option for [Handler].
type HandlerOption func(*Handler)

// WithStepSearcher enables GET /v1/steps/search.
func WithStepSearcher(s StepSearcher) HandlerOption {
	return func(h *Handler) { h.searcher = s }
}

// Handler serves the job API.
type Handler struct {
	m        *Manager
	searcher StepSearcher
}

// NewHandler returns the HTTP API of m.
func NewHandler(m *Manager, opts ...HandlerOption) *Handler {
	h := &Handler{m: m}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the job routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/jobs", h.submit)
	mux.HandleFunc("GET /v1/jobs/{id}", h.get)
	mux.HandleFunc("GET /v1/jobs/{id}/events", h.events)
	mux.HandleFunc("DELETE /v1/jobs/{id}", h.cancel)
	mux.HandleFunc("GET /v1/steps/search", h.search)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	job, err := h.m.Submit(r.Context(), req)
	switch {
	case err == nil:
		w.Header().Set("Location", "/v1/jobs/"+job.ID)
		writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
	case errors.Is(err, pipeline.ErrInvalidConfig), errors.Is(err, pipeline.ErrEmptyTranscript):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, ErrShuttingDown):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		slog.Error("job submission failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	job, err := h.m.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be a non-negative integer"})
			return
		}
		since = v
	}
	events, err := h.m.Events(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "step search needs a postgres store and an embeddings provider"})
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "q must not be empty"})
		return
	}
	k := defaultSearchK
	if s := r.URL.Query().Get("k"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "k must be a positive integer"})
			return
		}
		k = min(v, maxSearchK)
	}

	hits, err := h.searcher.SearchSteps(r.Context(), q, k)
	if err != nil {
		slog.Error("step search failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "search failed"})
		return
	}
	if hits == nil {
		hits = []StepHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "job not found"})
	case errors.Is(err, ErrJobFinished):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		slog.Error("job request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
