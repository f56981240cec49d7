package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/cestlavie/harvestqa/internal/dataset"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "data.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadXLSX_HeaderKeyedRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"產品編號", "產品名稱", "種植日期", "採收日期", "狀態"},
			{"1101", "紅火焰", "2022-03-03", "2022-04-14", "種植中"},
			{"", "", "", "", ""},
			{"1102", "綠橡", "2022-03-05", "2022-04-20", "已採收"},
		},
	})

	raw, err := LoadFile(path)
	require.NoError(t, err)

	rows, ok := raw["Sheet1"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 2)

	first := rows[0].(map[string]any)
	assert.Equal(t, "紅火焰", first["產品名稱"])
	assert.Equal(t, "2022-03-03", first["種植日期"])
}

func TestLoadXLSX_FeedsNormalizer(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"產品編號", "產品名稱", "種植日期", "採收日期", "狀態"},
			{"1101", "紅火焰", "2022-03-03", "2022-04-14", "種植中"},
		},
	})
	raw, err := LoadFile(path)
	require.NoError(t, err)

	ds, rep, err := dataset.Normalize(raw, dataset.DefaultSchema())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Valid)
	assert.Equal(t, 42, ds.Records()[0].DurationDays)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	body := `{"Sheet1":[{"產品編號":1101,"產品名稱":"紅火焰","種植日期":"2022-03-03","採收日期":"2022-04-14","狀態":"種植中"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	raw, err := LoadFile(path)
	require.NoError(t, err)

	ds, _, err := dataset.Normalize(raw, dataset.DefaultSchema())
	require.NoError(t, err)
	assert.Equal(t, "1101", ds.Records()[0].ProductID)
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	_, err := LoadFile("data.parquet")
	assert.Error(t, err)
}

func TestLoadJSON_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}
