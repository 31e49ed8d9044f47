// Package api exposes the service over HTTP. Every response is a JSON
// envelope carrying a "success" flag.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FranksOps/gleaner/internal/deep"
	"github.com/FranksOps/gleaner/internal/llm"
	"github.com/FranksOps/gleaner/internal/sources"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/tasks"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Deps are the services the handlers call.
type Deps struct {
	Store   storage.Store
	Tasks   *tasks.Service
	Sources *sources.Service
	Deep    *deep.Service
	Models  *llm.Analyzer
}

type server struct {
	Deps
	logger *slog.Logger
}

// NewRouter returns the HTTP handler for the service.
func NewRouter(d Deps, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{Deps: d, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, envelope{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/collection", func(r chi.Router) {
			r.Post("/start", s.startCollection)
			r.Get("/results/{taskID}", s.collectionResults)
			r.Post("/stop/{taskID}", s.stopCollection)
			r.Get("/tasks", s.listTasks)
			r.Post("/save", s.saveRecords)
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.createSource)
			r.Post("/import", s.importSources)
			r.Get("/{id}", s.getSource)
			r.Put("/{id}", s.updateSource)
			r.Delete("/{id}", s.deleteSource)
		})

		r.Route("/data", func(r chi.Router) {
			r.Get("/", s.listRecords)
			r.Get("/export", s.exportRecords)
			r.Delete("/{id}", s.deleteRecord)
			r.Post("/batch_delete", s.batchDeleteRecords)
			r.Post("/deep_collect/{id}", s.deepCollect)
			r.Post("/batch_deep_collect", s.batchDeepCollect)
		})

		r.Route("/deep", func(r chi.Router) {
			r.Get("/", s.listDeep)
			r.Get("/{id}", s.getDeep)
			r.Put("/{id}", s.updateDeep)
			r.Delete("/{id}", s.deleteDeep)
		})

		r.Get("/models", s.listModels)
		r.Get("/dashboard", s.dashboard)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// envelope is a response body; "success" is added by writeOK.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeFail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{"success": false, "error": msg})
}

// writeError maps service errors to status codes.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeFail(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, sources.ErrInvalid),
		errors.Is(err, tasks.ErrInvalidRequest),
		errors.Is(err, deep.ErrBadURL),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, deep.ErrDisallowed):
		return http.StatusForbidden
	case errors.Is(err, tasks.ErrPoolFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

// paging reads page and per_page (alias limit), defaulting to 1 and 10 and
// capping per_page at 100.
func paging(r *http.Request) (page, perPage int) {
	page = queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage = queryInt(r, "per_page", queryInt(r, "limit", 10))
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

func pages(total, perPage int) int {
	return (total + perPage - 1) / perPage
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	if str == "" || str == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(str)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(n)
	return nil
}

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.Local().Format(timeLayout)
	return &s
}
