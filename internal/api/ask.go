package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cestlavie/harvestqa/internal/pipeline"
	"github.com/cestlavie/harvestqa/internal/retrieval"
)

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question string `json:"question"`
	Stream   bool   `json:"stream"`
}

// AskResponse is the answer to one question.
type AskResponse struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	Answer         string          `json:"answer"`
	Failed         bool            `json:"failed"`
	Translated     bool            `json:"translated"`
	MatchedProduct string          `json:"matched_product,omitempty"`
	Topic          string          `json:"topic,omitempty"`
	Snippets       []retrieval.Hit `json:"snippets"`
	DurationMS     int64           `json:"duration_ms"`
}

func newAskResponse(r pipeline.Result) AskResponse {
	snippets := r.Prompt.Snippets
	if snippets == nil {
		snippets = []retrieval.Hit{}
	}
	return AskResponse{
		ID:             r.ID,
		Question:       r.Question,
		Answer:         r.Answer.Text,
		Failed:         r.Answer.Failed(),
		Translated:     r.Answer.Translated,
		MatchedProduct: r.Prompt.MatchedProduct,
		Topic:          r.Prompt.Topic,
		Snippets:       snippets,
		DurationMS:     r.Duration.Milliseconds(),
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		if !req.Stream {
			res, err := deps.Session.Ask(r.Context(), req.Question, nil)
			if err != nil {
				code, typ := statusFor(err)
				httpError(w, code, typ, "%v", err)
				return
			}
			writeJSON(w, http.StatusOK, newAskResponse(res))
			return
		}

		sse, ok := newSSEWriter(w)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}
		res, err := deps.Session.Ask(r.Context(), req.Question, func(d string) {
			sse.event("delta", map[string]string{"text": d})
		})
		if err != nil {
			if !sse.started {
				code, typ := statusFor(err)
				httpError(w, code, typ, "%v", err)
				return
			}
			sse.event("error", map[string]string{"message": err.Error()})
			return
		}
		sse.event("answer", newAskResponse(res))
	}
}

// sseWriter writes server-sent events. Headers are sent with the first
// event so errors before it can still use a plain status code.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: f}, true
}

func (s *sseWriter) event(name string, v any) {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	payload, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("encoding stream event", zap.String("event", name), zap.Error(err))
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload)
	s.flusher.Flush()
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		k := deps.TopK
		if req.TopK != nil {
			k = *req.TopK
		}
		hits, err := deps.Session.Search(r.Context(), req.Query, k)
		if err != nil {
			code, typ := statusFor(err)
			httpError(w, code, typ, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
	}
}
