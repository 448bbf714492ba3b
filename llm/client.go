package llm

import (
	"context"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// Finish reasons reported on the terminal chunk of a stream.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Request is one chat completion request. Tool calling goes through
// the Tools field; execution of returned tool calls is the caller's
// responsibility.
type Request struct {
	Model       string             `json:"model"`
	Messages    []types.Message    `json:"messages"`
	Tools       []types.ToolSchema `json:"tools,omitempty"`
	Temperature float32            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

// StreamChunk is one increment of a streamed response. Exactly one of
// Delta, ToolCalls or Err is meaningful per chunk; FinishReason is set
// on the final chunk before the channel closes.
type StreamChunk struct {
	Delta        string           `json:"delta,omitempty"`
	ToolCalls    []types.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Err          error            `json:"-"`
}

// Client is a streaming chat completion backend.
type Client interface {
	// Stream sends the request and returns a channel of incremental
	// chunks. The channel is closed after the terminal chunk. Errors
	// mid-stream arrive as a chunk with Err set.
	Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error)

	// Name identifies the backend for logs and diagnostics.
	Name() string
}
