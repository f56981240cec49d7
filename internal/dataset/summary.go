package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// TextStats describes a categorical column.
type TextStats struct {
	Count  int    `json:"count"`
	Unique int    `json:"unique"`
	Top    string `json:"top"`
	Freq   int    `json:"freq"`
}

// DateStats describes a date column.
type DateStats struct {
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
}

// NumberStats describes a numeric column. Std is the sample standard
// deviation and is nil for fewer than two values.
type NumberStats struct {
	Count int      `json:"count"`
	Mean  float64  `json:"mean"`
	Std   *float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"p25"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	Max   float64 `json:"max"`
}

// Summary holds per-column descriptive statistics for a dataset.
type Summary struct {
	schema Schema

	Rows        int         `json:"rows"`
	ProductID   TextStats   `json:"product_id"`
	ProductName TextStats   `json:"product_name"`
	Status      TextStats   `json:"status"`
	Planting    DateStats   `json:"planting_date"`
	Harvest     DateStats   `json:"harvest_date"`
	Duration    NumberStats `json:"duration_days"`
}

// Summary computes descriptive statistics over every record.
func (d *Dataset) Summary() Summary {
	s := Summary{schema: d.schema, Rows: len(d.records)}
	if len(d.records) == 0 {
		return s
	}

	ids := make([]string, len(d.records))
	names := make([]string, len(d.records))
	statuses := make([]string, len(d.records))
	durations := make([]float64, len(d.records))
	s.Planting = DateStats{First: d.records[0].PlantingDate, Last: d.records[0].PlantingDate}
	s.Harvest = DateStats{First: d.records[0].HarvestDate, Last: d.records[0].HarvestDate}

	for i, r := range d.records {
		ids[i] = r.ProductID
		names[i] = r.ProductName
		statuses[i] = r.Status
		durations[i] = float64(r.DurationDays)
		s.Planting = s.Planting.extend(r.PlantingDate)
		s.Harvest = s.Harvest.extend(r.HarvestDate)
	}

	s.ProductID = describeText(ids)
	s.ProductName = describeText(names)
	s.Status = describeText(statuses)
	s.Duration = describeNumbers(durations)
	return s
}

func (ds DateStats) extend(t time.Time) DateStats {
	if t.Before(ds.First) {
		ds.First = t
	}
	if t.After(ds.Last) {
		ds.Last = t
	}
	return ds
}

// describeText picks the most frequent value; ties go to the value seen first.
func describeText(vals []string) TextStats {
	counts := make(map[string]int)
	var order []string
	for _, v := range vals {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	st := TextStats{Count: len(vals), Unique: len(counts)}
	for _, v := range order {
		if counts[v] > st.Freq {
			st.Top, st.Freq = v, counts[v]
		}
	}
	return st
}

func describeNumbers(vals []float64) NumberStats {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := float64(len(sorted))
	mean := sum / n

	var sq float64
	for _, v := range sorted {
		sq += (v - mean) * (v - mean)
	}
	var std *float64
	if len(sorted) > 1 {
		v := math.Sqrt(sq / (n - 1))
		std = &v
	}

	return NumberStats{
		Count: len(sorted),
		Mean:  mean,
		Std:   std,
		Min:   sorted[0],
		P25:   quantile(sorted, 0.25),
		P50:   quantile(sorted, 0.50),
		P75:   quantile(sorted, 0.75),
		Max:   sorted[len(sorted)-1],
	}
}

// quantile uses linear interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// String renders the summary as the plain-text block placed in prompts.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rows: %d\n", s.Rows)
	if s.Rows == 0 {
		return b.String()
	}
	writeText := func(col string, st TextStats) {
		fmt.Fprintf(&b, "%s: count=%d unique=%d top=%s freq=%d\n", col, st.Count, st.Unique, st.Top, st.Freq)
	}
	writeText(s.schema.ProductID, s.ProductID)
	writeText(s.schema.ProductName, s.ProductName)
	writeText(s.schema.Status, s.Status)
	fmt.Fprintf(&b, "%s: first=%s last=%s\n", s.schema.PlantingDate,
		s.Planting.First.Format(DateLayout), s.Planting.Last.Format(DateLayout))
	fmt.Fprintf(&b, "%s: first=%s last=%s\n", s.schema.HarvestDate,
		s.Harvest.First.Format(DateLayout), s.Harvest.Last.Format(DateLayout))
	d := s.Duration
	std := "NaN"
	if d.Std != nil {
		std = fmt.Sprintf("%.2f", *d.Std)
	}
	fmt.Fprintf(&b, "%s: count=%d mean=%.2f std=%s min=%g 25%%=%g 50%%=%g 75%%=%g max=%g\n",
		s.schema.Duration, d.Count, d.Mean, std, d.Min, d.P25, d.P50, d.P75, d.Max)
	return b.String()
}
