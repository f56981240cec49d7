// Package dataset turns raw tabular input into an immutable, validated
// collection of product lifecycle records.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical rendering of planting and harvest dates.
const DateLayout = "2006-01-02"

// Record is one valid product row.
type Record struct {
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name"`
	PlantingDate time.Time `json:"planting_date"`
	HarvestDate  time.Time `json:"harvest_date"`
	Status       string    `json:"status"`
	DurationDays int       `json:"duration_days"`
}

// Document renders the record as the sentence that gets embedded and
// retrieved. The rendering is deterministic.
func (r Record) Document() string {
	return fmt.Sprintf("產品編號為 %s，名稱是 %s，種植日期是 %s，採收日期是 %s，狀態為 %s，種植時間是 %d 天。",
		r.ProductID, r.ProductName,
		r.PlantingDate.Format(DateLayout), r.HarvestDate.Format(DateLayout),
		r.Status, r.DurationDays)
}

// Dataset is an ordered, read-only collection of records. Derived views
// (Filter, Head) return new Datasets and never alias mutable state.
type Dataset struct {
	schema  Schema
	records []Record
}

// New wraps records in a Dataset. The slice is copied.
func New(schema Schema, records []Record) *Dataset {
	cp := make([]Record, len(records))
	copy(cp, records)
	return &Dataset{schema: schema, records: cp}
}

// Schema returns the column naming the dataset was loaded with.
func (d *Dataset) Schema() Schema { return d.schema }

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

// Records returns a copy of all records in order.
func (d *Dataset) Records() []Record {
	cp := make([]Record, len(d.records))
	copy(cp, d.records)
	return cp
}

// Filter returns the records for which keep returns true, in order.
func (d *Dataset) Filter(keep func(Record) bool) *Dataset {
	out := make([]Record, 0)
	for _, r := range d.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return &Dataset{schema: d.schema, records: out}
}

// Head returns the first n records. n larger than Len returns everything.
func (d *Dataset) Head(n int) *Dataset {
	if n < 0 {
		n = 0
	}
	if n > len(d.records) {
		n = len(d.records)
	}
	return New(d.schema, d.records[:n])
}

// Documents renders every record, one document per record, in order.
func (d *Dataset) Documents() []string {
	docs := make([]string, len(d.records))
	for i, r := range d.records {
		docs[i] = r.Document()
	}
	return docs
}

// Hash returns a hex sha256 over the rendered documents. Two datasets with
// the same hash produce the same embedding index for a given model.
func (d *Dataset) Hash() string {
	return HashDocuments(d.Documents())
}

// HashDocuments hashes a document list the same way Dataset.Hash does.
func HashDocuments(docs []string) string {
	h := sha256.New()
	for _, doc := range docs {
		h.Write([]byte(doc))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Table renders up to max records as a markdown table. A non-positive max
// renders every record.
func (d *Dataset) Table(max int) string {
	rows := d.records
	if max > 0 && len(rows) > max {
		rows = rows[:max]
	}

	s := d.schema
	var b strings.Builder
	fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
		s.ProductID, s.ProductName, s.PlantingDate, s.HarvestDate, s.Status, s.Duration)
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %d |\n",
			r.ProductID, r.ProductName,
			r.PlantingDate.Format(DateLayout), r.HarvestDate.Format(DateLayout),
			r.Status, r.DurationDays)
	}
	if len(rows) < len(d.records) {
		fmt.Fprintf(&b, "(%d more rows omitted)\n", len(d.records)-len(rows))
	}
	return b.String()
}
