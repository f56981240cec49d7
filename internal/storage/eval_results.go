package storage

import (
	"context"
	"fmt"
	"time"
)

// AppendEvalResults inserts results in one transaction, preserving order.
func (s *Store) AppendEvalResults(ctx context.Context, results []EvalResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO eval_results (created_at, question, expected_answer, generated_answer, accuracy, duration_seconds, pass)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, created.UTC().Format(time.RFC3339Nano), r.Question, r.ExpectedAnswer,
			r.GeneratedAnswer, r.Accuracy, r.DurationSeconds, r.Pass); err != nil {
			return fmt.Errorf("inserting eval result: %w", err)
		}
	}
	return tx.Commit()
}

// ListEvalResults returns up to limit results (all when limit <= 0),
// newest first when newestFirst is set and oldest first otherwise.
func (s *Store) ListEvalResults(ctx context.Context, limit int, newestFirst bool) ([]EvalResult, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, question, expected_answer, generated_answer, accuracy, duration_seconds, pass
		FROM eval_results ORDER BY id `+order+` LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EvalResult
	for rows.Next() {
		var r EvalResult
		var createdAt string
		if err := rows.Scan(&r.ID, &createdAt, &r.Question, &r.ExpectedAnswer, &r.GeneratedAnswer,
			&r.Accuracy, &r.DurationSeconds, &r.Pass); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// ClearEvalResults deletes every evaluation result.
func (s *Store) ClearEvalResults(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM eval_results`)
	return err
}
