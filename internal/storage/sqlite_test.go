package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// no migration is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestMigrationNamesRecorded(t *testing.T) {
	s := openTestStore(t)

	var name string
	if err := s.db.QueryRow("SELECT name FROM schema_migrations WHERE version = 1").Scan(&name); err != nil {
		t.Fatalf("reading migration name: %v", err)
	}
	if name != "001_init.sql" {
		t.Errorf("name = %q, want 001_init.sql", name)
	}
}

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_later.sql": {Data: []byte("SELECT 10;")},
		"migrations/002_next.sql":  {Data: []byte("SELECT 2;")},
		"migrations/001_init.sql":  {Data: []byte("SELECT 1;")},
		"migrations/README.md":     {Data: []byte("not sql")},
	}
	ms, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	var got []int
	for _, m := range ms {
		got = append(got, m.version)
	}
	if fmt.Sprint(got) != "[1 2 10]" {
		t.Errorf("versions = %v, want [1 2 10]", got)
	}
	if ms[2].body != "SELECT 10;" {
		t.Errorf("body = %q", ms[2].body)
	}
}

func TestLoadMigrations_RejectsDuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/001_init.sql":  {Data: []byte("SELECT 1;")},
		"migrations/001_other.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "version 1") {
		t.Errorf("err = %v, want duplicate version error", err)
	}
}

func TestMigrate_FailedMigrationNotRecorded(t *testing.T) {
	s := openTestStore(t)
	fsys := fstest.MapFS{
		"migrations/900_broken.sql": {Data: []byte("CREATE TABLE broken (;")},
	}
	if err := s.migrate(fsys); err == nil {
		t.Fatal("expected error from broken migration")
	}
	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	for _, v := range versions {
		if v == 900 {
			t.Error("broken migration recorded as applied")
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_interactions_created", "idx_eval_results_pass"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_init.sql")
	if err != nil || v != 1 {
		t.Errorf("parseMigrationVersion = %d, %v; want 1, nil", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for file without version prefix")
	}
}

func TestInteractionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := Interaction{
		ID:               "a1",
		CreatedAt:        time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		Question:         "紅火焰共有多少顆？",
		MatchedProduct:   "紅火焰",
		Topic:            "總數",
		SnippetPositions: []int{3, 0, 7},
		Answer:           "紅火焰共有5105顆",
		Translated:       true,
		DurationMS:       1520,
		ChatModel:        "llama3",
	}
	if err := s.SaveInteraction(ctx, in); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction(ctx, "a1")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.Question != in.Question || got.MatchedProduct != in.MatchedProduct || got.Topic != in.Topic {
		t.Errorf("text fields mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, in.CreatedAt)
	}
	if fmt.Sprint(got.SnippetPositions) != "[3 0 7]" {
		t.Errorf("SnippetPositions = %v", got.SnippetPositions)
	}
	if got.Failed || !got.Translated || got.DurationMS != 1520 || got.ChatModel != "llama3" {
		t.Errorf("flags mismatch: %+v", got)
	}
}

func TestGetInteraction_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetInteraction(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRecentInteractions_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := s.SaveInteraction(ctx, Interaction{
			ID:        fmt.Sprintf("id-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Question:  fmt.Sprintf("q%d", i),
		})
		if err != nil {
			t.Fatalf("SaveInteraction: %v", err)
		}
	}

	got, err := s.GetRecentInteractions(ctx, 3)
	if err != nil {
		t.Fatalf("GetRecentInteractions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "id-4" || got[2].ID != "id-2" {
		t.Errorf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if len(got[0].SnippetPositions) != 0 {
		t.Errorf("expected empty snippet positions, got %v", got[0].SnippetPositions)
	}
}

func TestEvalResults_AppendListClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var batch []EvalResult
	for i := 1; i <= 4; i++ {
		batch = append(batch, EvalResult{
			Question:        fmt.Sprintf("q%d", i),
			ExpectedAnswer:  "3659顆",
			GeneratedAnswer: "紅奶油共有3659顆",
			Accuracy:        float64(i) / 4,
			DurationSeconds: 1.5,
			Pass:            i == 4,
		})
	}
	if err := s.AppendEvalResults(ctx, batch); err != nil {
		t.Fatalf("AppendEvalResults: %v", err)
	}

	newest, err := s.ListEvalResults(ctx, 2, true)
	if err != nil {
		t.Fatalf("ListEvalResults: %v", err)
	}
	if len(newest) != 2 || newest[0].Question != "q4" || newest[1].Question != "q3" {
		t.Errorf("newest-first = %+v", newest)
	}
	if !newest[0].Pass || newest[0].Accuracy != 1 {
		t.Errorf("fields not preserved: %+v", newest[0])
	}

	all, err := s.ListEvalResults(ctx, 0, false)
	if err != nil {
		t.Fatalf("ListEvalResults: %v", err)
	}
	if len(all) != 4 || all[0].Question != "q1" {
		t.Errorf("oldest-first = %+v", all)
	}

	if err := s.ClearEvalResults(ctx); err != nil {
		t.Fatalf("ClearEvalResults: %v", err)
	}
	all, err = s.ListEvalResults(ctx, 0, false)
	if err != nil {
		t.Fatalf("ListEvalResults: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty log after clear, got %d", len(all))
	}
}

func TestAppendEvalResults_Empty(t *testing.T) {
	s := openTestStore(t)
	if err := s.AppendEvalResults(context.Background(), nil); err != nil {
		t.Errorf("AppendEvalResults(nil) = %v", err)
	}
}
