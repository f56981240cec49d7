package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(t *testing.T, h http.HandlerFunc) *AnthropicEngine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return newAnthropicEngine(256,
		option.WithAPIKey("test-key"),
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(0),
	)
}

func TestAnthropicEngine_Chat(t *testing.T) {
	var body map[string]any
	e := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5","content":[{"type":"text","text":"紅火焰共有"},{"type":"text","text":"5105顆"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)
	})

	out, err := e.Chat(context.Background(), "claude-haiku-4-5", []Message{
		{Role: "system", Content: "answer from data"},
		{Role: "user", Content: "紅火焰共有多少顆？"},
	}, ChatOptions{Temperature: Temperature(0.2)})
	require.NoError(t, err)
	assert.Equal(t, "紅火焰共有5105顆", out)

	// The system message travels in its own field, not in messages.
	msgs, _ := body["messages"].([]any)
	assert.Len(t, msgs, 1)
	assert.NotNil(t, body["system"])
	assert.EqualValues(t, 256, body["max_tokens"])
}

func TestAnthropicEngine_ChatStream(t *testing.T) {
	e := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"usage":{"input_tokens":1,"output_tokens":0}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"3659"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"顆"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_stop"}`,
		}
		for _, ev := range events {
			var head struct {
				Type string `json:"type"`
			}
			json.Unmarshal([]byte(ev), &head)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, ev)
		}
	})

	var parts []string
	err := e.ChatStream(context.Background(), "m", []Message{{Role: "user", Content: "q"}}, ChatOptions{}, func(s string) {
		parts = append(parts, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"3659", "顆"}, parts)
}

func TestAnthropicEngine_ChatError(t *testing.T) {
	e := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})

	_, err := e.Chat(context.Background(), "m", []Message{{Role: "user", Content: "q"}}, ChatOptions{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "anthropic"))
}
