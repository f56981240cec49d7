// Package resultlog persists evaluation records. The log is append-only
// and is read back as few-shot examples of past answers.
package resultlog

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cestlavie/harvestqa/internal/qaerr"
)

// Entry is one evaluated question. Duration is in seconds.
type Entry struct {
	Question        string    `csv:"Question" json:"question"`
	ExpectedAnswer  string    `csv:"Expected Answer" json:"expected_answer"`
	GeneratedAnswer string    `csv:"Generated Answer" json:"generated_answer"`
	Accuracy        float64   `csv:"Accuracy" json:"accuracy"`
	Duration        float64   `csv:"Duration" json:"duration"`
	Pass            bool      `csv:"Pass" json:"pass"`
	CreatedAt       time.Time `csv:"-" json:"created_at,omitempty"`
}

// Seconds rounds d to two decimals the way durations are logged.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// Order selects which end of the log Entries reads from.
type Order string

const (
	// Recent returns the newest entries first.
	Recent Order = "recent"
	// First returns the oldest entries first.
	First Order = "first"
)

// ParseOrder validates an order name. Empty means Recent.
func ParseOrder(s string) (Order, error) {
	switch o := Order(s); o {
	case Recent, First:
		return o, nil
	case "":
		return Recent, nil
	default:
		return "", &qaerr.ConfigError{Key: "eval.few_shot_order", Msg: fmt.Sprintf("unknown order %q", s)}
	}
}

// Log is the FewShotLog contract. Implementations serialize Append calls.
type Log interface {
	// Append adds entries at the end of the log, creating it if needed.
	Append(ctx context.Context, entries ...Entry) error
	// Entries returns up to n entries (all when n <= 0) in the given order.
	Entries(ctx context.Context, n int, order Order) ([]Entry, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// pick applies n and order to entries stored oldest first.
func pick(all []Entry, n int, order Order) []Entry {
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]Entry, 0, n)
	if order == First {
		return append(out, all[:n]...)
	}
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}
