package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// OpenAIConfig configures an OpenAI-compatible chat completion
// backend. Azure OpenAI deployments expose this same surface.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string
	// Timeout is the whole-stream HTTP timeout. Defaults to 60s.
	Timeout time.Duration
	// ExtraHeaders are set verbatim on each request, e.g. "api-key"
	// for Azure endpoints that do not take a bearer token.
	ExtraHeaders map[string]string
}

// OpenAIClient streams chat completions from an OpenAI-compatible SSE
// endpoint. Fragmented tool-call deltas are assembled and delivered as
// complete calls on the terminal chunk.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIClient builds a streaming client.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "openai_client")),
	}
}

// Name identifies the backend.
func (c *OpenAIClient) Name() string { return "openai" }

// Wire types for the chat completions endpoint.

type oaFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaToolCall struct {
	Index    *int       `json:"index,omitempty"`
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	Function oaFunction `json:"function"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
}

type oaTool struct {
	Type     string           `json:"type"`
	Function types.ToolSchema `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	Temperature float32     `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream"`
}

type oaStreamResponse struct {
	Choices []struct {
		Delta *struct {
			Content   string       `json:"content"`
			ToolCalls []oaToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream sends the request and parses the SSE response.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	payload, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.Errorf(types.ErrLLMTransient, "chat request failed").
			WithCause(err).WithRetryable(true)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, types.Errorf(types.ErrLLMTransient, "chat endpoint returned %d: %s",
				resp.StatusCode, strings.TrimSpace(string(body))).WithRetryable(true)
		}
		return nil, fmt.Errorf("chat endpoint rejected request: status=%d body=%s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	ch := make(chan StreamChunk)
	go c.consume(ctx, resp.Body, ch)
	return ch, nil
}

func (c *OpenAIClient) buildBody(req *Request) oaRequest {
	body := oaRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	body.Messages = make([]oaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := oaMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, oaToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		body.Messages = append(body.Messages, om)
	}
	for _, schema := range req.Tools {
		body.Tools = append(body.Tools, oaTool{Type: "function", Function: schema})
	}
	return body
}

// consume parses SSE lines until [DONE], assembling tool-call
// fragments by index into complete calls.
func (c *OpenAIClient) consume(ctx context.Context, body io.ReadCloser, ch chan<- StreamChunk) {
	defer body.Close()
	defer close(ch)

	pending := make(map[int]*pendingToolCall)
	finish := ""
	reader := bufio.NewReader(body)

	emit := func(chunk StreamChunk) bool {
		select {
		case <-ctx.Done():
			return false
		case ch <- chunk:
			return true
		}
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				emit(StreamChunk{Err: types.Errorf(types.ErrLLMTransient, "stream read failed").
					WithCause(err).WithRetryable(true)})
				return
			}
			break
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var frame oaStreamResponse
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			emit(StreamChunk{Err: types.Errorf(types.ErrLLMTransient, "malformed stream frame").
				WithCause(err).WithRetryable(true)})
			return
		}
		if frame.Error != nil {
			emit(StreamChunk{Err: types.Errorf(types.ErrLLMTransient, "upstream stream error: %s",
				frame.Error.Message).WithRetryable(true)})
			return
		}

		for _, choice := range frame.Choices {
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
			if choice.Delta == nil {
				continue
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				p := pending[idx]
				if p == nil {
					p = &pendingToolCall{}
					pending[idx] = p
				}
				if tc.ID != "" {
					p.id = tc.ID
				}
				if tc.Function.Name != "" {
					p.name = tc.Function.Name
				}
				p.args.WriteString(tc.Function.Arguments)
			}
			if choice.Delta.Content != "" {
				if !emit(StreamChunk{Delta: choice.Delta.Content}) {
					return
				}
			}
		}
	}

	terminal := StreamChunk{FinishReason: finish}
	if len(pending) > 0 {
		terminal.ToolCalls = assembleToolCalls(pending)
		if terminal.FinishReason == "" {
			terminal.FinishReason = FinishToolCalls
		}
	} else if terminal.FinishReason == "" {
		terminal.FinishReason = FinishStop
	}
	emit(terminal)
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func assembleToolCalls(pending map[int]*pendingToolCall) []types.ToolCall {
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]types.ToolCall, 0, len(pending))
	for _, idx := range indexes {
		p := pending[idx]
		args := p.args.String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, types.ToolCall{
			ID:        p.id,
			Name:      p.name,
			Arguments: json.RawMessage(args),
		})
	}
	return calls
}
