package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ ChatOptions) (string, error) {
	return "", nil
}
func (m *mockEngine) ChatStream(_ context.Context, _ string, _ []Message, _ ChatOptions, _ func(string)) error {
	return nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) EmbedBatch(_ context.Context, _ string, _ []string) ([][]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3": true, "nomic-embed-text": true},
	}
	var out bytes.Buffer
	err := EnsureReady(context.Background(), m, []string{"llama3", "nomic-embed-text", "llama3"}, &out)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if n := strings.Count(out.String(), "ready"); n != 2 {
		t.Errorf("ready lines = %d, want 2 (duplicates skipped)", n)
	}
}

func TestEnsureReady_ReportsMissing(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3": true},
	}
	var out bytes.Buffer
	err := EnsureReady(context.Background(), m, []string{"llama3", "nomic-embed-text"}, &out)
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if !strings.Contains(out.String(), "ollama pull nomic-embed-text") {
		t.Errorf("output = %q, want pull hint", out.String())
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	err := EnsureReady(context.Background(), m, []string{"llama3"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error when engine is down")
	}
}
