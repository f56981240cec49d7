// Package loader reads dataset files into the raw sheet-keyed mapping the
// normalizer consumes.
package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// LoadFile dispatches on the file extension. JSON files must decode to an
// object; XLSX workbooks yield one key per sheet holding header-keyed rows.
func LoadFile(path string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(path)
	case ".xlsx":
		return LoadXLSX(path)
	default:
		return nil, eris.Errorf("loader: unsupported file type %q", filepath.Ext(path))
	}
}

// LoadJSON decodes a JSON object from path.
func LoadJSON(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "loader: open json")
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, eris.Wrapf(err, "loader: decode %s", path)
	}
	return raw, nil
}

// LoadXLSX reads every sheet of a workbook. The first row of each sheet is
// the header; blank header cells drop their column. Date-formatted cells are
// rendered as YYYY-MM-DD.
func LoadXLSX(path string) (map[string]any, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "loader: open xlsx")
	}

	raw := make(map[string]any, len(f.Sheets))
	for _, sheet := range f.Sheets {
		raw[sheet.Name] = sheetRows(sheet, f.Date1904)
	}
	return raw, nil
}

func sheetRows(sheet *xlsx.Sheet, date1904 bool) []any {
	rows := make([]any, 0, len(sheet.Rows))
	if len(sheet.Rows) == 0 {
		return rows
	}

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, c := range sheet.Rows[0].Cells {
		header[i] = strings.TrimSpace(c.String())
	}

	for _, r := range sheet.Rows[1:] {
		if r == nil {
			continue
		}
		m := make(map[string]any, len(header))
		empty := true
		for i, col := range header {
			if col == "" {
				continue
			}
			if i >= len(r.Cells) {
				m[col] = nil
				continue
			}
			v := cellValue(r.Cells[i], date1904)
			if v != "" {
				empty = false
			}
			m[col] = v
		}
		if !empty {
			rows = append(rows, m)
		}
	}
	return rows
}

func cellValue(c *xlsx.Cell, date1904 bool) string {
	if c.IsTime() {
		if t, err := c.GetTime(date1904); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return strings.TrimSpace(c.String())
}
