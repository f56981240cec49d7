// Package api exposes the question-answering session over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/pipeline"
	"github.com/cestlavie/harvestqa/internal/qaerr"
	"github.com/cestlavie/harvestqa/internal/resultlog"
	"github.com/cestlavie/harvestqa/internal/retrieval"
	"github.com/cestlavie/harvestqa/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Session is the question-answering surface. *pipeline.Session satisfies it.
type Session interface {
	Ask(ctx context.Context, question string, onDelta func(string)) (pipeline.Result, error)
	Search(ctx context.Context, query string, topK int) ([]retrieval.Hit, error)
	Dataset() *dataset.Dataset
	Report() dataset.Report
}

// Evaluator scores one question. *evaluation.Harness satisfies it.
type Evaluator interface {
	Run(ctx context.Context, question, expected string) (resultlog.Entry, error)
}

// InteractionReader reads recorded interactions. *storage.Store satisfies it.
type InteractionReader interface {
	GetInteraction(ctx context.Context, id string) (storage.Interaction, error)
	GetRecentInteractions(ctx context.Context, limit int) ([]storage.Interaction, error)
}

// Deps holds the handler dependencies. Evaluator, Results and Interactions
// are optional; their routes answer 501 when unset.
type Deps struct {
	Session      Session
	Evaluator    Evaluator
	Results      resultlog.Log
	Interactions InteractionReader
	Token        string
	// TopK is the snippet count for searches that do not name one. Zero
	// returns no hits.
	TopK int
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/v1/ask", handleAsk(deps))
		r.Post("/v1/search", handleSearch(deps))
		r.Post("/v1/eval", handleEval(deps))
		r.Get("/v1/results", handleResults(deps))
		r.Get("/v1/interactions", handleListInteractions(deps))
		r.Get("/v1/interactions/{id}", handleGetInteraction(deps))
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"rows":   deps.Session.Dataset().Len(),
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var cfgErr *qaerr.ConfigError
	var backendErr *qaerr.BackendError
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion), errors.As(err, &cfgErr):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &backendErr):
		return http.StatusBadGateway, "backend_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
