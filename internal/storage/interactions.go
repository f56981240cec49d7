package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const interactionColumns = `id, created_at, question, matched_product, topic, snippet_positions,
	answer, failed, translated, duration_ms, chat_model`

// SaveInteraction records an answered question.
func (s *Store) SaveInteraction(ctx context.Context, i Interaction) error {
	positions := i.SnippetPositions
	if positions == nil {
		positions = []int{}
	}
	posJSON, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("encoding snippet positions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CreatedAt.UTC().Format(time.RFC3339Nano), i.Question, i.MatchedProduct, i.Topic,
		string(posJSON), i.Answer, i.Failed, i.Translated, i.DurationMS, i.ChatModel,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row scanner) (Interaction, error) {
	var i Interaction
	var createdAt, positions string
	if err := row.Scan(&i.ID, &createdAt, &i.Question, &i.MatchedProduct, &i.Topic, &positions,
		&i.Answer, &i.Failed, &i.Translated, &i.DurationMS, &i.ChatModel); err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	if err := json.Unmarshal([]byte(positions), &i.SnippetPositions); err != nil {
		return Interaction{}, fmt.Errorf("decoding snippet positions for %s: %w", i.ID, err)
	}
	return i, nil
}

// GetInteraction returns the interaction with the given id or ErrNotFound.
func (s *Store) GetInteraction(ctx context.Context, id string) (Interaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// GetRecentInteractions returns up to limit interactions, newest first.
func (s *Store) GetRecentInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+interactionColumns+`
		FROM interactions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}
