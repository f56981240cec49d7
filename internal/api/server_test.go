package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cestlavie/harvestqa/internal/composer"
	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/generator"
	"github.com/cestlavie/harvestqa/internal/pipeline"
	"github.com/cestlavie/harvestqa/internal/qaerr"
	"github.com/cestlavie/harvestqa/internal/resultlog"
	"github.com/cestlavie/harvestqa/internal/retrieval"
	"github.com/cestlavie/harvestqa/internal/storage"
)

// --- mocks ---

type mockSession struct {
	ds     *dataset.Dataset
	deltas []string
	answer generator.Answer
	askErr error
	hits   []retrieval.Hit
	gotK   int
	asked  []string
}

func (m *mockSession) Ask(_ context.Context, q string, onDelta func(string)) (pipeline.Result, error) {
	m.asked = append(m.asked, q)
	if m.askErr != nil {
		return pipeline.Result{}, m.askErr
	}
	if onDelta != nil {
		for _, d := range m.deltas {
			onDelta(d)
		}
	}
	return pipeline.Result{
		ID:       "id-1",
		Question: q,
		Prompt:   composer.Prompt{MatchedProduct: "紅火焰", ProductMatched: true, Snippets: m.hits},
		Answer:   m.answer,
		Duration: 1500 * time.Millisecond,
	}, nil
}

func (m *mockSession) Search(_ context.Context, _ string, k int) ([]retrieval.Hit, error) {
	m.gotK = k
	return m.hits, nil
}

func (m *mockSession) Dataset() *dataset.Dataset { return m.ds }

func (m *mockSession) Report() dataset.Report { return dataset.Report{Valid: m.ds.Len()} }

type mockEvaluator struct{}

func (mockEvaluator) Run(_ context.Context, q, expected string) (resultlog.Entry, error) {
	return resultlog.Entry{Question: q, ExpectedAnswer: expected, GeneratedAnswer: expected, Accuracy: 1, Pass: true}, nil
}

type mockResults struct{ entries []resultlog.Entry }

func (m *mockResults) Append(_ context.Context, e ...resultlog.Entry) error {
	m.entries = append(m.entries, e...)
	return nil
}

func (m *mockResults) Entries(_ context.Context, n int, _ resultlog.Order) ([]resultlog.Entry, error) {
	if n > 0 && n < len(m.entries) {
		return m.entries[:n], nil
	}
	return m.entries, nil
}

func (m *mockResults) Clear(context.Context) error {
	m.entries = nil
	return nil
}

// --- helpers ---

func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	row := func(name string) map[string]any {
		return map[string]any{
			"產品編號": "1101", "產品名稱": name, "種植日期": "2022-03-03",
			"採收日期": "2022-04-14", "狀態": "種植中",
		}
	}
	ds, _, err := dataset.Normalize(map[string]any{"Sheet1": []any{row("紅火焰"), row("綠橡"), row("紅火焰")}}, dataset.DefaultSchema())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return ds
}

func newTestHandler(t *testing.T, sess *mockSession, token string) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if sess.ds == nil {
		sess.ds = testDataset(t)
	}
	return NewHandler(Deps{
		Session:      sess,
		Evaluator:    mockEvaluator{},
		Results:      &mockResults{},
		Interactions: store,
		Token:        token,
		TopK:         retrieval.DefaultTopK,
	}), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- tests ---

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &mockSession{}, "secret")
	w := doJSON(t, h, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" || body["rows"].(float64) != 3 {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestAuth_Required(t *testing.T) {
	h, _ := newTestHandler(t, &mockSession{}, "secret")

	w := doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"q"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"q"}`, "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"q"}`, "secret")
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	h, _ := newTestHandler(t, &mockSession{}, "")
	w := doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"q"}`, "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAsk_JSON(t *testing.T) {
	sess := &mockSession{answer: generator.Answer{Text: "紅火焰共有2顆"}, hits: []retrieval.Hit{{Position: 0, Document: "doc", Score: 0.9}}}
	h, _ := newTestHandler(t, sess, "")

	w := doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"紅火焰共有多少顆？"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp AskResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "紅火焰共有2顆" || resp.Failed || resp.MatchedProduct != "紅火焰" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.DurationMS != 1500 || len(resp.Snippets) != 1 {
		t.Errorf("unexpected metadata: %+v", resp)
	}
}

func TestAsk_FailedAnswerIsFlagged(t *testing.T) {
	sess := &mockSession{answer: generator.Answer{
		Text: generator.FailurePrefix + "refused",
		Err:  &qaerr.BackendError{Op: "chat", Err: errors.New("refused")},
	}}
	h, _ := newTestHandler(t, sess, "")

	w := doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"q"}`, "")
	var resp AskResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if w.Code != http.StatusOK || !resp.Failed {
		t.Errorf("status = %d, failed = %v", w.Code, resp.Failed)
	}
}

func TestAsk_Validation(t *testing.T) {
	h, _ := newTestHandler(t, &mockSession{}, "")

	if w := doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"  "}`, ""); w.Code != http.StatusBadRequest {
		t.Errorf("blank question: status = %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/ask", `not json`, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d", w.Code)
	}
}

func TestAsk_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&qaerr.ConfigError{Key: "retrieval.top_k", Msg: "bad"}, http.StatusBadRequest},
		{&qaerr.BackendError{Op: "embed", Err: errors.New("down")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h, _ := newTestHandler(t, &mockSession{askErr: tt.err}, "")
		w := doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"q"}`, "")
		if w.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestAsk_Stream(t *testing.T) {
	sess := &mockSession{deltas: []string{"紅火焰", "共有2顆"}, answer: generator.Answer{Text: "紅火焰共有2顆"}}
	h, _ := newTestHandler(t, sess, "")

	w := doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"q","stream":true}`, "")
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var events []string
	var datas []string
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			datas = append(datas, strings.TrimPrefix(line, "data: "))
		}
	}
	if strings.Join(events, ",") != "delta,delta,answer" {
		t.Fatalf("events = %v", events)
	}
	var final AskResponse
	if err := json.Unmarshal([]byte(datas[2]), &final); err != nil {
		t.Fatalf("decode final event: %v", err)
	}
	if final.Answer != "紅火焰共有2顆" {
		t.Errorf("final answer = %q", final.Answer)
	}
}

func TestAsk_StreamErrorBeforeFirstEvent(t *testing.T) {
	h, _ := newTestHandler(t, &mockSession{askErr: pipeline.ErrEmptyQuestion}, "")
	w := doJSON(t, h, http.MethodPost, "/v1/ask", `{"question":"q","stream":true}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearch_ConfiguredZeroTopK(t *testing.T) {
	sess := &mockSession{hits: []retrieval.Hit{{Position: 2, Document: "d", Score: 1}}}
	h := NewHandler(Deps{Session: sess, TopK: 0})

	w := doJSON(t, h, http.MethodPost, "/v1/search", `{"query":"紅火焰"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if sess.gotK != 0 {
		t.Errorf("top_k = %d, want configured 0", sess.gotK)
	}
}

func TestSearch(t *testing.T) {
	sess := &mockSession{hits: []retrieval.Hit{{Position: 2, Document: "d", Score: 1}}}
	h, _ := newTestHandler(t, sess, "")

	w := doJSON(t, h, http.MethodPost, "/v1/search", `{"query":"紅火焰","top_k":3}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if sess.gotK != 3 {
		t.Errorf("top_k = %d, want 3", sess.gotK)
	}

	doJSON(t, h, http.MethodPost, "/v1/search", `{"query":"紅火焰"}`, "")
	if sess.gotK != retrieval.DefaultTopK {
		t.Errorf("default top_k = %d", sess.gotK)
	}

	if w := doJSON(t, h, http.MethodPost, "/v1/search", `{}`, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing query: status = %d", w.Code)
	}

	doJSON(t, h, http.MethodPost, "/v1/search", `{"query":"紅火焰","top_k":0}`, "")
	if sess.gotK != 0 {
		t.Errorf("explicit top_k 0 = %d, want 0", sess.gotK)
	}
}

func TestEvalAndResults(t *testing.T) {
	h, _ := newTestHandler(t, &mockSession{}, "")

	w := doJSON(t, h, http.MethodPost, "/v1/eval", `{"question":"q","expected":"5105顆"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("eval status = %d", w.Code)
	}
	var e resultlog.Entry
	json.NewDecoder(w.Body).Decode(&e)
	if !e.Pass || e.ExpectedAnswer != "5105顆" {
		t.Errorf("unexpected entry: %+v", e)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/results?limit=5", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("results status = %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("results body = %s", w.Body.String())
	}
}

func TestInteractions(t *testing.T) {
	h, store := newTestHandler(t, &mockSession{}, "")
	ctx := context.Background()
	if err := store.SaveInteraction(ctx, storage.Interaction{ID: "abc", CreatedAt: time.Now(), Question: "q", Answer: "a"}); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/interactions", "", "")
	var list []storage.Interaction
	json.NewDecoder(w.Body).Decode(&list)
	if w.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: status = %d, len = %d", w.Code, len(list))
	}

	w = doJSON(t, h, http.MethodGet, "/v1/interactions/abc", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("get: status = %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/v1/interactions/missing", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", w.Code)
	}
}

func TestOptionalRoutesDisabled(t *testing.T) {
	h := NewHandler(Deps{Session: &mockSession{ds: testDataset(t)}})
	for _, path := range []string{"/v1/results", "/v1/interactions"} {
		if w := doJSON(t, h, http.MethodGet, path, "", ""); w.Code != http.StatusNotImplemented {
			t.Errorf("%s: status = %d, want 501", path, w.Code)
		}
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/eval", `{"question":"q"}`, ""); w.Code != http.StatusNotImplemented {
		t.Errorf("eval: status = %d, want 501", w.Code)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=-1", 20},
		{"limit=abc", 20},
		{"limit=500", 100},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
