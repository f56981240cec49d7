package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered question.
type Interaction struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	Question         string    `json:"question"`
	MatchedProduct   string    `json:"matched_product,omitempty"`
	Topic            string    `json:"topic,omitempty"`
	SnippetPositions []int     `json:"snippet_positions"`
	Answer           string    `json:"answer"`
	Failed           bool      `json:"failed"`
	Translated       bool      `json:"translated"`
	DurationMS       int64     `json:"duration_ms"`
	ChatModel        string    `json:"chat_model"`
}

// EvalResult is one row of the evaluation log. DurationSeconds matches the
// CSV log's Duration column.
type EvalResult struct {
	ID              int64
	CreatedAt       time.Time
	Question        string
	ExpectedAnswer  string
	GeneratedAnswer string
	Accuracy        float64
	DurationSeconds float64
	Pass            bool
}
