package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// fakeMCPServer answers initialize, tools/list and tools/call the way a
// minimal MCP HTTP endpoint would.
func fakeMCPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg mcpMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))

		reply := mcpMessage{JSONRPC: "2.0", ID: msg.ID}
		switch msg.Method {
		case "initialize":
			reply.Result = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"crm"}}`)
		case "tools/list":
			reply.Result = json.RawMessage(`{"tools":[
				{"name":"crm_lookup","description":"Look up a customer record","inputSchema":{"type":"object","properties":{"id":{"type":"string"}}}},
				{"name":"crm_update","description":"Update a customer record","inputSchema":{"type":"object"}}
			]}`)
		case "tools/call":
			params, _ := json.Marshal(msg.Params)
			var call struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			require.NoError(t, json.Unmarshal(params, &call))
			if call.Name == "crm_lookup" {
				reply.Result = json.RawMessage(`{"customer":"Avery","tier":"gold"}`)
			} else {
				reply.Error = &mcpError{Code: -32601, Message: "unknown tool"}
			}
		default:
			reply.Error = &mcpError{Code: -32601, Message: "method not found"}
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(reply))
	}))
}

func TestMCPValidate(t *testing.T) {
	srv := fakeMCPServer(t)
	defer srv.Close()

	client := NewMCPClient("crm", srv.URL, 0, nil)
	require.NoError(t, client.Validate(context.Background()))
}

func TestMCPValidateUnreachable(t *testing.T) {
	client := NewMCPClient("crm", "http://127.0.0.1:1/rpc", 0, nil)
	err := client.Validate(context.Background())
	require.Error(t, err)
}

func TestMCPListTools(t *testing.T) {
	srv := fakeMCPServer(t)
	defer srv.Close()

	client := NewMCPClient("crm", srv.URL, 0, nil)
	schemas, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	assert.Equal(t, "crm_lookup", schemas[0].Name)
	assert.Equal(t, "Look up a customer record", schemas[0].Description)
	assert.NotEmpty(t, schemas[0].Parameters)
}

func TestMCPRegisterAllAndInvoke(t *testing.T) {
	srv := fakeMCPServer(t)
	defer srv.Close()

	client := NewMCPClient("crm", srv.URL, 0, nil)
	reg := NewRegistry(Config{}, nil)

	count, err := client.RegisterAll(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	source, ok := reg.Source("crm_lookup")
	require.True(t, ok)
	assert.Equal(t, "crm", source)

	// Remote tools invoke like local ones.
	sess := session.NewState(session.TransportBrowser, "Concierge")
	result := reg.Invoke(context.Background(), types.ToolCall{
		Name:      "crm_lookup",
		Arguments: json.RawMessage(`{"id":"42"}`),
	}, sess)
	require.False(t, result.IsError())
	assert.JSONEq(t, `{"customer":"Avery","tier":"gold"}`, string(result.Result))
}

func TestMCPRegisterAllSkipsShadowedTools(t *testing.T) {
	srv := fakeMCPServer(t)
	defer srv.Close()

	client := NewMCPClient("crm", srv.URL, 0, nil)
	reg := NewRegistry(Config{}, nil)
	require.NoError(t, reg.Register(echoDefinition("crm_lookup")))

	count, err := client.RegisterAll(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The local registration stays in place.
	source, ok := reg.Source("crm_lookup")
	require.True(t, ok)
	assert.Equal(t, SourceBuiltin, source)
}

func TestMCPCallToolError(t *testing.T) {
	srv := fakeMCPServer(t)
	defer srv.Close()

	client := NewMCPClient("crm", srv.URL, 0, nil)
	_, err := client.CallTool(context.Background(), "crm_update", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}
