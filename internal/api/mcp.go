package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/keyword"
)

const maxFilterRows = 50

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session      Session
	Interactions InteractionReader // optional; if nil, the recent resource is not registered
	Matcher      keyword.Matcher
	TopK         int
	Version      string
}

// NewMCPServer creates an MCP server with the question-answering tools and
// dataset resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	if len(deps.Matcher.Products) == 0 {
		deps.Matcher = keyword.Default()
	}

	s := server.NewMCPServer(
		"harvestqa",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("harvestqa answers questions about product planting and harvest records."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question about the product lifecycle records."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_records",
			mcp.WithDescription("Semantically search the records and return the closest rows as sentences."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchRecords(deps),
	)

	s.AddTool(
		mcp.NewTool("filter_products",
			mcp.WithDescription("Return the records of the first known product named in the text."),
			mcp.WithString("text", mcp.Description("Text naming a product"), mcp.Required()),
		),
		mcpFilterProducts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dataset://summary",
			"Dataset Summary",
			mcp.WithResourceDescription("Per-column statistics of the loaded records"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummary(deps),
	)

	if deps.Interactions != nil {
		s.AddResource(
			mcp.NewResource(
				"interactions://recent",
				"Recent Questions",
				mcp.WithResourceDescription("Last 10 answered questions"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		res, err := deps.Session.Ask(ctx, question, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		if res.Answer.Failed() {
			return mcpError(res.Answer.Text), nil
		}
		return mcpText(res.Answer.Text), nil
	}
}

func mcpSearchRecords(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", deps.TopK)
		if limit < 0 {
			limit = deps.TopK
		}
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Session.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpFilterProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		subset, matched, ok := deps.Matcher.FilterByProduct(deps.Session.Dataset(), text)
		if !ok {
			return mcpError("no known product named in text"), nil
		}

		rows := subset.Head(maxFilterRows).Records()
		b, err := json.Marshal(struct {
			Product string           `json:"product"`
			Total   int              `json:"total"`
			Rows    []dataset.Record `json:"rows"`
		}{matched, subset.Len(), rows})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal rows: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSummary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(struct {
			Summary dataset.Summary `json:"summary"`
			Report  dataset.Report  `json:"report"`
		}{deps.Session.Dataset().Summary(), deps.Session.Report()})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal summary: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Interactions.GetRecentInteractions(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
			Answer    string `json:"answer"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			answer := ix.Answer
			if utf8.RuneCountInString(answer) > 200 {
				runes := []rune(answer)
				answer = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Question:  ix.Question,
				Answer:    answer,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
