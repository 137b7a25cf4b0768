package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"finsight/features/chat"
	"finsight/internal/apperr"
	"finsight/internal/middleware"
	"finsight/internal/retrieval"
)

const maxSearchLimit = 50

type rpcError struct {
	code    int
	message string
}

type tool struct {
	def  Tool
	call func(ctx context.Context, args json.RawMessage) (*ToolResult, *rpcError)
}

func textResult(text string) *ToolResult {
	return &ToolResult{Content: []ToolContent{{Type: "text", Text: text}}}
}

func errorResult(err error) *ToolResult {
	return &ToolResult{Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}}, IsError: true}
}

func decodeArgs(raw json.RawMessage, v interface{}) *rpcError {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &rpcError{code: ErrInvalidParams, message: "Invalid arguments"}
	}
	return nil
}

func (h *Handler) registerTools() []tool {
	return []tool{
		{
			def: Tool{
				Name: "finsight_ask",
				Description: `Ask the financial assistant a question in natural language. Answers come from live records, archived snapshots or the generative model, in that order of preference. The response names which source answered.

USAGE EXAMPLES:
- finsight_ask(query="total income")
- finsight_ask(query="compare expenses 2023 and 2024")`,
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query":     map[string]string{"type": "string", "description": "The question"},
						"user_id":   map[string]string{"type": "string", "description": "Caller id; enables conversation history"},
						"user_name": map[string]string{"type": "string", "description": "Caller display name"},
					},
					"required": []string{"query"},
				},
			},
			call: h.callAsk,
		},
		{
			def: Tool{
				Name: "finsight_search",
				Description: `Similarity search over archived snapshot chunks. Use it to find the raw records behind an answer.

[Year] Restrict to one archived year; results are then capped to the focused limit.
[Limit] Default from settings, max 50.`,
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query":      map[string]string{"type": "string", "description": "The search query"},
						"year":       map[string]interface{}{"type": "integer", "minimum": 2000, "maximum": 2099},
						"source_key": map[string]string{"type": "string", "description": "Restrict to one snapshot"},
						"limit":      map[string]interface{}{"type": "integer", "minimum": 1, "maximum": maxSearchLimit},
					},
					"required": []string{"query"},
				},
			},
			call: h.callSearch,
		},
		{
			def: Tool{
				Name:        "finsight_list_snapshots",
				Description: `Lists archived snapshots with their processing status and chunk count.`,
				InputSchema: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
			call: h.callListSnapshots,
		},
		{
			def: Tool{
				Name:        "finsight_read_snapshot",
				Description: `Returns every ready chunk of one snapshot, in order. Use it when a search snippet is not enough.`,
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"source_key": map[string]string{"type": "string", "description": "Snapshot key, e.g. durga-puja-2023"},
					},
					"required": []string{"source_key"},
				},
			},
			call: h.callReadSnapshot,
		},
	}
}

func (h *Handler) callAsk(ctx context.Context, raw json.RawMessage) (*ToolResult, *rpcError) {
	var args struct {
		Query    string `json:"query"`
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, &rpcError{code: ErrInvalidParams, message: "Query is required"}
	}
	if args.UserID != "" {
		ctx = middleware.WithUser(ctx, args.UserID, args.UserName)
	}

	resp, err := h.asker.Answer(ctx, chat.Request{UserID: args.UserID, UserName: args.UserName, Query: args.Query})
	if err != nil {
		slog.ErrorContext(ctx, "ask failed", "error", err)
		return errorResult(err), nil
	}
	return textResult(fmt.Sprintf("%s\n\n(source: %s)", resp.Text, resp.DataSource)), nil
}

func (h *Handler) callSearch(ctx context.Context, raw json.RawMessage) (*ToolResult, *rpcError) {
	var args struct {
		Query     string `json:"query"`
		Year      int    `json:"year"`
		SourceKey string `json:"source_key"`
		Limit     *int   `json:"limit"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, &rpcError{code: ErrInvalidParams, message: "Query is required"}
	}
	if args.Year != 0 && (args.Year < 2000 || args.Year > 2099) {
		return nil, &rpcError{code: ErrInvalidParams, message: "Year must be between 2000 and 2099"}
	}
	if args.Limit != nil && (*args.Limit < 1 || *args.Limit > maxSearchLimit) {
		return nil, &rpcError{code: ErrInvalidParams, message: fmt.Sprintf("Limit must be between 1 and %d", maxSearchLimit)}
	}

	results, err := h.searcher.Search(ctx, args.Query, retrieval.SearchOptions{
		Year:      args.Year,
		SourceKey: args.SourceKey,
		TopK:      args.Limit,
	})
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err)
		return nil, &rpcError{code: ErrInternal, message: "Search failed: " + err.Error()}
	}
	if len(results) == 0 {
		return textResult("No results found."), nil
	}

	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "Result %d (Score: %.2f):\n", i+1, res.Score)
		fmt.Fprintf(&b, "Snapshot: %s (chunk %d)\n", res.Chunk.SourceKey, res.Chunk.Index)
		if res.Chunk.Metadata.Year != 0 {
			fmt.Fprintf(&b, "Year: %d\n", res.Chunk.Metadata.Year)
		}
		fmt.Fprintf(&b, "Content:\n%s\n\n---\n", res.Chunk.Content)
	}
	b.WriteString("\nUse finsight_read_snapshot(source_key=\"...\") to read every chunk of a snapshot.\n")
	return textResult(b.String()), nil
}

func (h *Handler) callListSnapshots(ctx context.Context, _ json.RawMessage) (*ToolResult, *rpcError) {
	snaps, err := h.snapshots.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "list_snapshots failed", "error", err)
		return errorResult(err), nil
	}
	if len(snaps) == 0 {
		return textResult("No snapshots found."), nil
	}

	type simpleSnapshot struct {
		SourceKey  string `json:"source_key"`
		Event      string `json:"event"`
		Status     string `json:"status"`
		ChunkCount int    `json:"chunk_count"`
	}
	out := make([]simpleSnapshot, len(snaps))
	for i, s := range snaps {
		out[i] = simpleSnapshot{SourceKey: s.SourceKey, Event: s.Label(), Status: string(s.Status), ChunkCount: s.ChunkCount}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(string(b)), nil
}

func (h *Handler) callReadSnapshot(ctx context.Context, raw json.RawMessage) (*ToolResult, *rpcError) {
	var args struct {
		SourceKey string `json:"source_key"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if args.SourceKey == "" {
		return nil, &rpcError{code: ErrInvalidParams, message: "source_key is required"}
	}

	detail, err := h.snapshots.Get(ctx, args.SourceKey)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			slog.ErrorContext(ctx, "read_snapshot failed", "error", err)
		}
		return errorResult(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Snapshot: %s\nStatus: %s\n\n", detail.Label(), detail.Status)
	if len(detail.Chunks) == 0 {
		b.WriteString("No ready chunks.")
		return textResult(b.String()), nil
	}
	for _, c := range detail.Chunks {
		fmt.Fprintf(&b, "[chunk %d]\n%s\n\n", c.Index, c.Content)
	}
	return textResult(strings.TrimRight(b.String(), "\n")), nil
}
