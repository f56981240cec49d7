package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cestlavie/harvestqa/internal/qaerr"
)

// Schema names the top-level table key and the source columns.
type Schema struct {
	RootKey      string `json:"root_key"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	PlantingDate string `json:"planting_date"`
	HarvestDate  string `json:"harvest_date"`
	Status       string `json:"status"`
	Duration     string `json:"duration"`
}

// DefaultSchema matches the exported spreadsheet layout.
func DefaultSchema() Schema {
	return Schema{
		RootKey:      "Sheet1",
		ProductID:    "產品編號",
		ProductName:  "產品名稱",
		PlantingDate: "種植日期",
		HarvestDate:  "採收日期",
		Status:       "狀態",
		Duration:     "種植時間（日）",
	}
}

func (s Schema) required() []string {
	return []string{s.ProductID, s.ProductName, s.PlantingDate, s.HarvestDate, s.Status}
}

// Report summarizes a normalization pass.
type Report struct {
	Valid    int `json:"valid"`
	Excluded int `json:"excluded"`
	// Inverted counts rows dropped because harvest precedes planting.
	Inverted int `json:"inverted"`
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

var errMissing = errors.New("missing")

// Normalize validates raw input and builds a Dataset. raw must hold the
// schema's root key mapped to a list of row objects. Rows with any required
// field missing, null, empty or NaN are dropped and counted. A present but
// unparseable date fails the whole load with a *qaerr.ParseError.
func Normalize(raw map[string]any, schema Schema) (*Dataset, Report, error) {
	var rep Report

	table, ok := raw[schema.RootKey]
	if !ok {
		return nil, rep, &qaerr.SchemaError{Msg: fmt.Sprintf("top-level key %q not found", schema.RootKey)}
	}
	rows, ok := table.([]any)
	if !ok {
		return nil, rep, &qaerr.SchemaError{Msg: fmt.Sprintf("key %q does not hold a list of rows", schema.RootKey)}
	}

	records := make([]Record, 0, len(rows))
	for i, item := range rows {
		row, ok := item.(map[string]any)
		if !ok {
			rep.Excluded++
			continue
		}

		vals, complete := requiredValues(row, schema)
		if !complete {
			rep.Excluded++
			continue
		}

		planted, err := parseDate(row[schema.PlantingDate])
		if err != nil {
			return nil, rep, &qaerr.ParseError{Row: i, Column: schema.PlantingDate, Value: vals[schema.PlantingDate], Err: err}
		}
		harvested, err := parseDate(row[schema.HarvestDate])
		if err != nil {
			return nil, rep, &qaerr.ParseError{Row: i, Column: schema.HarvestDate, Value: vals[schema.HarvestDate], Err: err}
		}
		if harvested.Before(planted) {
			rep.Excluded++
			rep.Inverted++
			continue
		}

		records = append(records, Record{
			ProductID:    vals[schema.ProductID],
			ProductName:  vals[schema.ProductName],
			PlantingDate: planted,
			HarvestDate:  harvested,
			Status:       vals[schema.Status],
			DurationDays: DaysBetween(planted, harvested),
		})
	}

	rep.Valid = len(records)
	if rep.Valid == 0 {
		return nil, rep, &qaerr.SchemaError{Msg: fmt.Sprintf("no valid rows under %q (%d excluded)", schema.RootKey, rep.Excluded)}
	}
	return &Dataset{schema: schema, records: records}, rep, nil
}

// DaysBetween returns the whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func requiredValues(row map[string]any, schema Schema) (map[string]string, bool) {
	vals := make(map[string]string, 5)
	for _, col := range schema.required() {
		s, err := text(row[col])
		if err != nil {
			return nil, false
		}
		vals[col] = s
	}
	return vals, true
}

// text coerces a scalar cell to its trimmed text form.
func text(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", errMissing
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "nan") {
			return "", errMissing
		}
		return s, nil
	case float64:
		if math.IsNaN(x) {
			return "", errMissing
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10), nil
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case json.Number:
		return text(string(x))
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.Format(DateLayout), nil
	default:
		return "", errMissing
	}
}

func parseDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date format")
	default:
		return time.Time{}, fmt.Errorf("expected a date string, got %T", v)
	}
}
