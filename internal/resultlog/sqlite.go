package resultlog

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/cestlavie/harvestqa/internal/storage"
)

// SQLiteLog stores entries in the eval_results table.
type SQLiteLog struct {
	store *storage.Store
}

var _ Log = (*SQLiteLog)(nil)

// NewSQLiteLog wraps an open store.
func NewSQLiteLog(store *storage.Store) *SQLiteLog {
	return &SQLiteLog{store: store}
}

// Append inserts entries in one transaction.
func (l *SQLiteLog) Append(ctx context.Context, entries ...Entry) error {
	rows := make([]storage.EvalResult, len(entries))
	for i, e := range entries {
		rows[i] = storage.EvalResult{
			CreatedAt:       e.CreatedAt,
			Question:        e.Question,
			ExpectedAnswer:  e.ExpectedAnswer,
			GeneratedAnswer: e.GeneratedAnswer,
			Accuracy:        e.Accuracy,
			DurationSeconds: e.Duration,
			Pass:            e.Pass,
		}
	}
	if err := l.store.AppendEvalResults(ctx, rows); err != nil {
		return eris.Wrap(err, "resultlog: append rows")
	}
	return nil
}

// Entries reads up to n entries in the given order.
func (l *SQLiteLog) Entries(ctx context.Context, n int, order Order) ([]Entry, error) {
	rows, err := l.store.ListEvalResults(ctx, n, order != First)
	if err != nil {
		return nil, eris.Wrap(err, "resultlog: list rows")
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{
			Question:        r.Question,
			ExpectedAnswer:  r.ExpectedAnswer,
			GeneratedAnswer: r.GeneratedAnswer,
			Accuracy:        r.Accuracy,
			Duration:        r.DurationSeconds,
			Pass:            r.Pass,
			CreatedAt:       r.CreatedAt,
		}
	}
	return out, nil
}

// Clear deletes every stored result.
func (l *SQLiteLog) Clear(ctx context.Context) error {
	return l.store.ClearEvalResults(ctx)
}
