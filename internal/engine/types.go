package engine

// Message represents a chat message. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries per-request sampling parameters. Zero values leave the
// backend default in place.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Temperature is a convenience for building ChatOptions literals.
func Temperature(t float64) *float64 { return &t }
