package dataset

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cestlavie/harvestqa/internal/qaerr"
)

func row(id any, name, planted, harvested, status any) map[string]any {
	return map[string]any{
		"產品編號": id,
		"產品名稱": name,
		"種植日期": planted,
		"採收日期": harvested,
		"狀態":   status,
	}
}

func rawTable(rows ...map[string]any) map[string]any {
	list := make([]any, len(rows))
	for i, r := range rows {
		list[i] = r
	}
	return map[string]any{"Sheet1": list}
}

func TestNormalize_DerivesDuration(t *testing.T) {
	ds, rep, err := Normalize(rawTable(
		row("1101", "紅火焰", "2022-03-03", "2022-04-14", "種植中"),
		row(float64(1102), "綠橡", "2024/12/30", "2025-02-10 00:00:00", "已採收"),
	), DefaultSchema())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Valid)
	assert.Equal(t, 0, rep.Excluded)
	require.Equal(t, 2, ds.Len())

	first := ds.Records()[0]
	assert.Equal(t, 42, first.DurationDays)
	assert.Equal(t, "1102", ds.Records()[1].ProductID)
	assert.Equal(t, 42, ds.Records()[1].DurationDays)
}

func TestNormalize_ExcludesIncompleteRows(t *testing.T) {
	ds, rep, err := Normalize(rawTable(
		row("1101", "紅火焰", "2022-03-03", "2022-04-14", "種植中"),
		row("1102", "", "2022-03-03", "2022-04-14", "種植中"),
		row(nil, "紅狐", "2022-03-03", "2022-04-14", "種植中"),
		row("1104", "奶波", "2022-03-03", "2022-04-14", math.NaN()),
		row("1105", "綠橡", "2022-03-03", "2022-04-14", "   "),
		map[string]any{"產品編號": "1106"},
	), DefaultSchema())
	require.NoError(t, err)

	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, 1, rep.Valid)
	assert.Equal(t, 5, rep.Excluded)
}

func TestNormalize_ExcludesInvertedDates(t *testing.T) {
	_, rep, err := Normalize(rawTable(
		row("1101", "紅火焰", "2022-03-03", "2022-04-14", "種植中"),
		row("1102", "紅狐", "2022-05-01", "2022-04-14", "種植中"),
	), DefaultSchema())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inverted)
	assert.Equal(t, 1, rep.Excluded)
}

func TestNormalize_MissingRootKey(t *testing.T) {
	_, _, err := Normalize(map[string]any{"Sheet2": []any{}}, DefaultSchema())
	var se *qaerr.SchemaError
	require.True(t, errors.As(err, &se), "want SchemaError, got %v", err)
	assert.Contains(t, se.Error(), "Sheet1")
}

func TestNormalize_RootNotList(t *testing.T) {
	_, _, err := Normalize(map[string]any{"Sheet1": "nope"}, DefaultSchema())
	var se *qaerr.SchemaError
	assert.True(t, errors.As(err, &se))
}

func TestNormalize_NoValidRows(t *testing.T) {
	_, rep, err := Normalize(rawTable(row("", "", "", "", "")), DefaultSchema())
	var se *qaerr.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, rep.Excluded)
}

func TestNormalize_UnparseableDate(t *testing.T) {
	_, _, err := Normalize(rawTable(
		row("1101", "紅火焰", "yesterday", "2022-04-14", "種植中"),
	), DefaultSchema())
	var pe *qaerr.ParseError
	require.True(t, errors.As(err, &pe), "want ParseError, got %v", err)
	assert.Equal(t, 0, pe.Row)
	assert.Equal(t, "種植日期", pe.Column)
}

func TestDaysBetween_IgnoresClock(t *testing.T) {
	a := time.Date(2022, 3, 3, 23, 0, 0, 0, time.UTC)
	b := time.Date(2022, 3, 5, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, DaysBetween(a, b))
}

func sample(t *testing.T) *Dataset {
	t.Helper()
	ds, _, err := Normalize(rawTable(
		row("1101", "紅火焰", "2022-03-03", "2022-04-14", "種植中"),
		row("1101", "紅狐", "2022-03-10", "2022-04-30", "種植中"),
		row("5160", "綠橡", "2023-01-01", "2023-03-12", "已採收"),
		row("1102", "紅火焰", "2025-02-01", "2025-03-24", "種植中"),
	), DefaultSchema())
	require.NoError(t, err)
	return ds
}

func TestDataset_Documents(t *testing.T) {
	ds := sample(t)
	docs := ds.Documents()
	require.Len(t, docs, ds.Len())
	assert.Equal(t, "產品編號為 1101，名稱是 紅火焰，種植日期是 2022-03-03，採收日期是 2022-04-14，狀態為 種植中，種植時間是 42 天。", docs[0])
}

func TestDataset_FilterAndHead(t *testing.T) {
	ds := sample(t)

	red := ds.Filter(func(r Record) bool { return r.ProductName == "紅火焰" })
	assert.Equal(t, 2, red.Len())
	assert.Equal(t, 4, ds.Len(), "filter must not mutate the source")

	assert.Equal(t, 2, ds.Head(2).Len())
	assert.Equal(t, 4, ds.Head(100).Len())
	assert.Equal(t, 0, ds.Head(-1).Len())
}

func TestDataset_RecordsIsACopy(t *testing.T) {
	ds := sample(t)
	recs := ds.Records()
	recs[0].ProductName = "changed"
	assert.Equal(t, "紅火焰", ds.Records()[0].ProductName)
}

func TestDataset_HashStable(t *testing.T) {
	a, b := sample(t), sample(t)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), a.Head(2).Hash())
}

func TestDataset_Table(t *testing.T) {
	ds := sample(t)
	out := ds.Table(2)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "產品編號")
	assert.Contains(t, lines[4], "2 more rows omitted")
}

func TestDataset_Summary(t *testing.T) {
	s := sample(t).Summary()

	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, "紅火焰", s.ProductName.Top)
	assert.Equal(t, 2, s.ProductName.Freq)
	assert.Equal(t, 3, s.ProductName.Unique)
	assert.Equal(t, "種植中", s.Status.Top)
	assert.Equal(t, "2022-03-03", s.Planting.First.Format(DateLayout))
	assert.Equal(t, "2025-03-24", s.Harvest.Last.Format(DateLayout))

	// durations: 42, 51, 70, 51
	assert.Equal(t, 42.0, s.Duration.Min)
	assert.Equal(t, 70.0, s.Duration.Max)
	assert.Equal(t, 51.0, s.Duration.P50)
	assert.InDelta(t, 53.5, s.Duration.Mean, 1e-9)
	require.NotNil(t, s.Duration.Std)
	assert.InDelta(t, 11.7898, *s.Duration.Std, 1e-4)

	text := s.String()
	assert.Contains(t, text, "rows: 4")
	assert.Contains(t, text, "種植時間（日）")
}

func TestDataset_SummarySingleRowEncodes(t *testing.T) {
	ds, _, err := Normalize(rawTable(
		row("1101", "紅火焰", "2022-03-03", "2022-04-14", "種植中"),
	), DefaultSchema())
	require.NoError(t, err)

	s := ds.Summary()
	assert.Nil(t, s.Duration.Std)
	assert.Contains(t, s.String(), "std=NaN")

	b, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded struct {
		Rows     int `json:"rows"`
		Duration struct {
			Mean float64  `json:"mean"`
			Std  *float64 `json:"std"`
		} `json:"duration_days"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, 1, decoded.Rows)
	assert.Equal(t, 42.0, decoded.Duration.Mean)
	assert.Nil(t, decoded.Duration.Std)
	assert.Contains(t, string(b), `"std":null`)
}
