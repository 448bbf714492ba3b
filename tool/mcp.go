package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// MCPVersion is the protocol version sent during initialize.
const MCPVersion = "2024-11-05"

// mcpMessage is a JSON-RPC 2.0 envelope.
type mcpMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
}

type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// MCPClient talks to one remote MCP-style tool server over HTTP.
// From the caller's perspective its tools are indistinguishable from
// local ones; only handler construction differs.
type MCPClient struct {
	name   string
	url    string
	http   *http.Client
	nextID atomic.Int64
	logger *zap.Logger
}

// NewMCPClient creates a client for the named server.
func NewMCPClient(name, url string, timeout time.Duration, logger *zap.Logger) *MCPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MCPClient{
		name:   name,
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "mcp_client"), zap.String("server", name)),
	}
}

// Name returns the server name.
func (c *MCPClient) Name() string { return c.name }

func (c *MCPClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	msg := mcpMessage{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server %s returned status %d for %s", c.name, resp.StatusCode, method)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var reply mcpMessage
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("server %s error %d: %s", c.name, reply.Error.Code, reply.Error.Message)
	}
	return reply.Result, nil
}

// Validate performs the initialize handshake. Run as a deferred
// startup step; failure marks the server unavailable in readiness
// detail without blocking call acceptance.
func (c *MCPClient) Validate(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": MCPVersion,
		"clientInfo":      map[string]any{"name": "artvoice-backend"},
	})
	if err != nil {
		return err
	}
	c.logger.Info("mcp server validated")
	return nil
}

// ListTools fetches the server's tool schemas.
func (c *MCPClient) ListTools(ctx context.Context) ([]types.ToolSchema, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}

	schemas := make([]types.ToolSchema, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		schemas = append(schemas, types.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return schemas, nil
}

// CallTool invokes a remote tool.
func (c *MCPClient) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("decode arguments for %s: %w", name, err)
		}
	}
	return c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
}

// RegisterAll discovers the server's tools and registers each one with
// the registry, tagged with the server name as source so they can be
// removed in bulk.
func (c *MCPClient) RegisterAll(ctx context.Context, registry *Registry) (int, error) {
	schemas, err := c.ListTools(ctx)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, schema := range schemas {
		schema := schema
		def := &Definition{
			Schema: schema,
			Source: c.name,
			Handler: func(ctx context.Context, args json.RawMessage, _ *session.State) (json.RawMessage, error) {
				return c.CallTool(ctx, schema.Name, args)
			},
		}
		if err := registry.Register(def); err != nil {
			// A local tool shadowing a remote one wins; skip and move on.
			c.logger.Warn("skipping remote tool", zap.String("tool", schema.Name), zap.Error(err))
			continue
		}
		registered++
	}

	c.logger.Info("mcp tools registered", zap.Int("count", registered))
	return registered, nil
}
