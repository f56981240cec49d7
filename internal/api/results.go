package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cestlavie/harvestqa/internal/resultlog"
	"github.com/cestlavie/harvestqa/internal/storage"
)

// EvalRequest is the body of POST /v1/eval.
type EvalRequest struct {
	Question string `json:"question"`
	Expected string `json:"expected"`
}

func handleEval(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Evaluator == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "evaluation is not enabled")
			return
		}
		var req EvalRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		entry, err := deps.Evaluator.Run(r.Context(), req.Question, req.Expected)
		if err != nil {
			code, typ := statusFor(err)
			httpError(w, code, typ, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func handleResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Results == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "result log is not enabled")
			return
		}
		limit := parseIntParam(r, "limit", 20, 1000)
		entries, err := deps.Results.Entries(r.Context(), limit, resultlog.Recent)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read results: %v", err)
			return
		}
		if entries == nil {
			entries = []resultlog.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "interaction history is not enabled")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		interactions, err := deps.Interactions.GetRecentInteractions(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "interaction history is not enabled")
			return
		}
		id := chi.URLParam(r, "id")
		interaction, err := deps.Interactions.GetInteraction(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
	}
}
