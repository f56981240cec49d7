package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cestlavie/harvestqa/internal/qaerr"
)

var ix0Time = time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC)

func TestSaveLoad_RoundTrip(t *testing.T) {
	ix, emb := buildTestIndex(t, testDocs)
	dir := t.TempDir()

	require.NoError(t, Save(dir, ix))
	assert.True(t, Exists(dir))

	loaded, found, err := Load(dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ix.Len(), loaded.Len())
	assert.Equal(t, len(loaded.vectors), len(loaded.docs))
	assert.Equal(t, ix.Model(), loaded.Model())
	assert.Equal(t, ix.Hash(), loaded.Hash())

	want, err := ix.Search(context.Background(), emb, testDocs[2], 3)
	require.NoError(t, err)
	got, err := loaded.Search(context.Background(), emb, testDocs[2], 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_MissingArtifact(t *testing.T) {
	ix, _ := buildTestIndex(t, testDocs)
	dir := t.TempDir()
	require.NoError(t, Save(dir, ix))
	require.NoError(t, os.Remove(filepath.Join(dir, MetaFile)))

	_, found, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoad_CountMismatch(t *testing.T) {
	ix, _ := buildTestIndex(t, testDocs)
	dir := t.TempDir()
	require.NoError(t, Save(dir, ix))

	// Rewrite metadata with one document dropped.
	metaPath := filepath.Join(dir, MetaFile)
	var meta indexMeta
	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &meta))
	meta.Documents = meta.Documents[:2]
	data, err = json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, data, 0o644))

	_, _, err = Load(dir)
	var le *qaerr.IndexLoadError
	require.True(t, errors.As(err, &le), "want IndexLoadError, got %v", err)
	assert.Contains(t, le.Error(), "does not match")
}

func TestLoad_TruncatedVectors(t *testing.T) {
	ix, _ := buildTestIndex(t, testDocs)
	dir := t.TempDir()
	require.NoError(t, Save(dir, ix))

	vecPath := filepath.Join(dir, VectorsFile)
	data, err := os.ReadFile(vecPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(vecPath, data[:len(data)-4], 0o644))

	_, _, err = Load(dir)
	var le *qaerr.IndexLoadError
	assert.True(t, errors.As(err, &le))
}

func TestProvide_ReusesMatchingIndex(t *testing.T) {
	fb := &fakeBackend{dim: 32}
	emb := NewEmbedder(fb, "m")
	dir := t.TempDir()
	ctx := context.Background()

	_, res, err := Provide(ctx, dir, emb, testDocs, ModeAuto, nil)
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)
	calls := fb.batchCalls

	_, res, err = Provide(ctx, dir, emb, testDocs, ModeAuto, nil)
	require.NoError(t, err)
	assert.False(t, res.Rebuilt)
	assert.Equal(t, calls, fb.batchCalls, "reuse must not re-embed")
}

func TestProvide_RebuildsOnDocumentChange(t *testing.T) {
	emb := NewEmbedder(&fakeBackend{dim: 32}, "m")
	dir := t.TempDir()
	ctx := context.Background()

	_, _, err := Provide(ctx, dir, emb, testDocs, ModeAuto, nil)
	require.NoError(t, err)

	ix, res, err := Provide(ctx, dir, emb, testDocs[:2], ModeAuto, nil)
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)
	assert.Equal(t, "documents changed", res.Reason)
	assert.Equal(t, 2, ix.Len())
}

func TestProvide_RebuildsOnModelChange(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, _, err := Provide(ctx, dir, NewEmbedder(&fakeBackend{dim: 32}, "m1"), testDocs, ModeAuto, nil)
	require.NoError(t, err)

	ix, res, err := Provide(ctx, dir, NewEmbedder(&fakeBackend{dim: 32}, "m2"), testDocs, ModeAuto, nil)
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)
	assert.Equal(t, "m2", ix.Model())
}

func TestProvide_LoadModeRequiresArtifacts(t *testing.T) {
	emb := NewEmbedder(&fakeBackend{dim: 32}, "m")
	_, _, err := Provide(context.Background(), t.TempDir(), emb, testDocs, ModeLoad, nil)
	var le *qaerr.IndexLoadError
	assert.True(t, errors.As(err, &le))
}

func TestProvide_BuildModeAlwaysRebuilds(t *testing.T) {
	fb := &fakeBackend{dim: 32}
	emb := NewEmbedder(fb, "m")
	dir := t.TempDir()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, res, err := Provide(ctx, dir, emb, testDocs, ModeBuild, nil)
		require.NoError(t, err)
		assert.True(t, res.Rebuilt)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	_, err = ParseMode("sometimes")
	var ce *qaerr.ConfigError
	assert.True(t, errors.As(err, &ce))
}
