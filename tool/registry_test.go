package tool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

func echoDefinition(name string) *Definition {
	return &Definition{
		Schema: types.ToolSchema{
			Name:        name,
			Description: "echoes its arguments",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		},
		Handler: func(_ context.Context, args json.RawMessage, _ *session.State) (json.RawMessage, error) {
			return args, nil
		},
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	reg := NewRegistry(Config{}, nil)

	first := echoDefinition("lookup_order")
	require.NoError(t, reg.Register(first))

	second := echoDefinition("lookup_order")
	second.Handler = func(_ context.Context, _ json.RawMessage, _ *session.State) (json.RawMessage, error) {
		return json.RawMessage(`"shadow"`), nil
	}
	err := reg.Register(second)
	require.Error(t, err)
	assert.True(t, types.HasErrorCode(err, types.ErrToolConflict))

	// The first handler stays active.
	sess := session.NewState(session.TransportBrowser, "Concierge")
	result := reg.Invoke(context.Background(), types.ToolCall{
		ID:        "call-1",
		Name:      "lookup_order",
		Arguments: json.RawMessage(`{"order_id":"A100"}`),
	}, sess)
	require.False(t, result.IsError())
	assert.JSONEq(t, `{"order_id":"A100"}`, string(result.Result))
}

func TestReplaceOverwrites(t *testing.T) {
	reg := NewRegistry(Config{}, nil)
	require.NoError(t, reg.Register(echoDefinition("lookup_order")))

	replacement := echoDefinition("lookup_order")
	replacement.Handler = func(_ context.Context, _ json.RawMessage, _ *session.State) (json.RawMessage, error) {
		return json.RawMessage(`"v2"`), nil
	}
	require.NoError(t, reg.Replace(replacement))

	sess := session.NewState(session.TransportBrowser, "Concierge")
	result := reg.Invoke(context.Background(), types.ToolCall{Name: "lookup_order"}, sess)
	require.False(t, result.IsError())
	assert.Equal(t, `"v2"`, string(result.Result))
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := NewRegistry(Config{}, nil)
	sess := session.NewState(session.TransportBrowser, "Concierge")

	result := reg.Invoke(context.Background(), types.ToolCall{Name: "missing"}, sess)
	require.True(t, result.IsError())
	assert.Equal(t, types.ErrToolNotFound, result.ErrorCode)

	// Failures are audited too.
	audit := sess.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, "missing", audit[0].Name)
	assert.False(t, audit[0].Success)
}

func TestInvokeTimeout(t *testing.T) {
	reg := NewRegistry(Config{}, nil)
	require.NoError(t, reg.Register(&Definition{
		Schema:  types.ToolSchema{Name: "slow"},
		Timeout: 20 * time.Millisecond,
		Handler: func(ctx context.Context, _ json.RawMessage, _ *session.State) (json.RawMessage, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return json.RawMessage(`"late"`), nil
			}
		},
	}))

	sess := session.NewState(session.TransportBrowser, "Concierge")
	result := reg.Invoke(context.Background(), types.ToolCall{Name: "slow"}, sess)
	require.True(t, result.IsError())
	assert.Equal(t, types.ErrToolTimeout, result.ErrorCode)
}

func TestInvokeHandlerError(t *testing.T) {
	reg := NewRegistry(Config{}, nil)
	require.NoError(t, reg.Register(&Definition{
		Schema: types.ToolSchema{Name: "broken"},
		Handler: func(_ context.Context, _ json.RawMessage, _ *session.State) (json.RawMessage, error) {
			return nil, types.NewError(types.ErrToolExecution, "backend unavailable")
		},
	}))

	sess := session.NewState(session.TransportBrowser, "Concierge")
	result := reg.Invoke(context.Background(), types.ToolCall{Name: "broken"}, sess)
	require.True(t, result.IsError())
	assert.Equal(t, types.ErrToolExecution, result.ErrorCode)
	assert.Contains(t, result.Error, "backend unavailable")

	audit := sess.AuditLog()
	require.Len(t, audit, 1)
	assert.False(t, audit[0].Success)
}

func TestInvokeAuditsSuccess(t *testing.T) {
	reg := NewRegistry(Config{}, nil)
	require.NoError(t, reg.Register(echoDefinition("lookup_order")))

	sess := session.NewState(session.TransportBrowser, "Concierge")
	result := reg.Invoke(context.Background(), types.ToolCall{
		Name:      "lookup_order",
		Arguments: json.RawMessage(`{}`),
	}, sess)
	require.False(t, result.IsError())
	assert.NotEmpty(t, result.ToolCallID)

	audit := sess.AuditLog()
	require.Len(t, audit, 1)
	assert.True(t, audit[0].Success)
	assert.Equal(t, "Concierge", audit[0].Agent)
}

func TestUnregisterSource(t *testing.T) {
	reg := NewRegistry(Config{}, nil)

	local := echoDefinition("local_tool")
	require.NoError(t, reg.Register(local))

	for _, name := range []string{"crm_lookup", "crm_update"} {
		def := echoDefinition(name)
		def.Source = "crm"
		require.NoError(t, reg.Register(def))
	}

	removed := reg.UnregisterSource("crm")
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"local_tool"}, reg.Names())

	_, ok := reg.Get("crm_lookup")
	assert.False(t, ok)
}

func TestSchemasFor(t *testing.T) {
	reg := NewRegistry(Config{}, nil)
	require.NoError(t, reg.Register(echoDefinition("alpha")))
	require.NoError(t, reg.Register(echoDefinition("beta")))

	schemas := reg.SchemasFor([]string{"beta", "unknown"})
	require.Len(t, schemas, 1)
	assert.Equal(t, "beta", schemas[0].Name)
}

func TestRateLimitBoundsSession(t *testing.T) {
	reg := NewRegistry(Config{RateLimitRPS: 1, RateLimitBurst: 1}, nil)
	require.NoError(t, reg.Register(echoDefinition("lookup_order")))

	sess := session.NewState(session.TransportBrowser, "Concierge")

	first := reg.Invoke(context.Background(), types.ToolCall{Name: "lookup_order"}, sess)
	require.False(t, first.IsError())

	// Second call cannot acquire a token before the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second := reg.Invoke(ctx, types.ToolCall{Name: "lookup_order"}, sess)
	require.True(t, second.IsError())
	assert.Contains(t, second.Error, "rate limit")

	reg.ReleaseSession(sess.ID())
}
