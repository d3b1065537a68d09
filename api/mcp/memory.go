package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/beaconhq/beacon/pkg/auth"
	"github.com/beaconhq/beacon/pkg/memory"
)

var (
	memoryRecallToolName    = "memory_recall"
	memoryRecallDescription = "Recall the user's memories from the beacon memory layer. Returns stored facts and preferences, optionally narrowed by category or a text query. Use this to retrieve persistent knowledge captured in past sessions on any device."
)

// MemoryRecallInput represents the input arguments for the MCP memory_recall tool.
type MemoryRecallInput struct {
	Query    string `json:"query,omitempty" jsonschema:"text to match against memory content; empty returns everything"`
	Category string `json:"category,omitempty" jsonschema:"restrict results to one category"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of memories to return"`
}

// MemoryRecallOutput represents the structured output of a memory recall.
type MemoryRecallOutput struct {
	Memories []memory.Record `json:"memories"`
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}

// handleMemoryRecall processes a memory recall request via MCP. The owner is
// taken from the request context, set by the HTTP auth wrapper.
func (s *Server) handleMemoryRecall(ctx context.Context, _ *mcp.CallToolRequest, input MemoryRecallInput) (*mcp.CallToolResult, MemoryRecallOutput, error) {
	ownerID, ok := auth.OwnerFromContext(ctx)
	if !ok {
		return toolError("not authenticated"), MemoryRecallOutput{}, nil
	}

	recs, err := s.config.Engine.List(ctx, ownerID, memory.Filter{
		Category: input.Category,
	})
	if err != nil {
		return toolError(fmt.Sprintf("Memory recall failed: %v", err)), MemoryRecallOutput{}, nil
	}

	if input.Query != "" {
		query := strings.ToLower(input.Query)
		matched := recs[:0]
		for _, rec := range recs {
			if strings.Contains(strings.ToLower(rec.Content), query) {
				matched = append(matched, rec)
			}
		}
		recs = matched
	}
	if input.Limit > 0 && len(recs) > input.Limit {
		recs = recs[:input.Limit]
	}
	if recs == nil {
		recs = []memory.Record{}
	}

	output := MemoryRecallOutput{Memories: recs}

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), MemoryRecallOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
