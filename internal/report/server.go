// Package report exposes a read-only HTTP surface over the catalog:
// reference listings, corpora, the graph slice, and the merge log.
package report

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/store"
)

type Handler struct {
	store *store.Store
}

func NewHandler(st *store.Store) *Handler {
	return &Handler{store: st}
}

func NewRouter(handler *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/references", handler.ListReferences)
		r.Get("/corpora", handler.ListCorpora)
		r.Get("/graph", handler.Graph)
		r.Get("/merges", handler.Merges)
		r.Get("/status", handler.Status)
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func queryInt(r *http.Request, name string) *int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}

func queryInt64(r *http.Request, name string) *int64 {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

// ListReferences handles GET /api/references?stage=&corpus_id=&year=&limit=&offset=
func (h *Handler) ListReferences(w http.ResponseWriter, r *http.Request) {
	f := store.ListFilter{
		Stage:    domain.Stage(r.URL.Query().Get("stage")),
		CorpusID: queryInt64(r, "corpus_id"),
		Year:     queryInt(r, "year"),
		Limit:    50,
	}
	if v := queryInt(r, "limit"); v != nil && *v > 0 && *v <= 500 {
		f.Limit = *v
	}
	if v := queryInt(r, "offset"); v != nil && *v >= 0 {
		f.Offset = *v
	}

	refs, err := h.store.ListReferences(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list references")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"references": refs,
		"count":      len(refs),
	})
}

// ListCorpora handles GET /api/corpora
func (h *Handler) ListCorpora(w http.ResponseWriter, r *http.Request) {
	corpora, itemCounts, err := h.store.ListCorpora(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list corpora")
		return
	}

	type corpusView struct {
		domain.Corpus
		Items int64 `json:"items"`
	}
	views := make([]corpusView, 0, len(corpora))
	for _, c := range corpora {
		views = append(views, corpusView{Corpus: c, Items: itemCounts[c.ID]})
	}
	writeJSON(w, http.StatusOK, views)
}

// Graph handles GET /api/graph?limit=&kind=&year=&corpus_id=
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	f := store.GraphFilter{
		Kind:     domain.EdgeKind(r.URL.Query().Get("kind")),
		Year:     queryInt(r, "year"),
		CorpusID: queryInt64(r, "corpus_id"),
		Limit:    200,
	}
	if v := queryInt(r, "limit"); v != nil && *v > 0 && *v <= 2000 {
		f.Limit = *v
	}

	nodes, edges, err := h.store.GraphSlice(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build graph slice")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"edges": edges,
	})
}

// Merges handles GET /api/merges?limit=
func (h *Handler) Merges(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := queryInt(r, "limit"); v != nil && *v > 0 && *v <= 1000 {
		limit = *v
	}
	entries, err := h.store.MergeLog(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read merge log")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stages, err := h.store.StageCounts(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count stages")
		return
	}
	queue, err := h.store.QueueStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}
	merges, err := h.store.MergeLogSize(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to size merge log")
		return
	}
	edges, err := h.store.EdgeCount(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count edges")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stages":         stages,
		"queue":          queue,
		"merge_log_size": merges,
		"edge_count":     edges,
	})
}
