package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// SourceBuiltin marks tools implemented in-process. Remote tools carry
// their MCP server name as source.
const SourceBuiltin = "builtin"

// Handler executes a tool call. The session is provided for identity
// and auth state; handlers must not retain it.
type Handler func(ctx context.Context, args json.RawMessage, sess *session.State) (json.RawMessage, error)

// Definition couples a tool schema with its handler and policy.
type Definition struct {
	Schema  types.ToolSchema
	Handler Handler
	// Timeout bounds one invocation; zero uses the registry default.
	Timeout time.Duration
	// Source is SourceBuiltin or the MCP server name that provides it.
	Source string
	// Handoff marks the tool as a handoff request carrier.
	Handoff bool
}

// Config configures a Registry.
type Config struct {
	// DefaultTimeout applies to tools that declare none.
	DefaultTimeout time.Duration
	// RateLimitRPS/Burst bound per-session invocation rate. Zero RPS
	// disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Registry holds named tools and executes them.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Definition
	limiters map[string]*rate.Limiter

	cfg    Config
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 1
	}
	return &Registry{
		tools:    make(map[string]*Definition),
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

// Register adds a tool. Registering an existing name is rejected; use
// Replace to overwrite deliberately.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Schema.Name == "" {
		return types.NewError(types.ErrConfig, "tool definition requires a name")
	}
	if def.Handler == nil {
		return types.Errorf(types.ErrConfig, "tool %q has no handler", def.Schema.Name)
	}
	if def.Source == "" {
		def.Source = SourceBuiltin
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Schema.Name]; exists {
		return types.Errorf(types.ErrToolConflict, "tool %q already registered", def.Schema.Name)
	}
	r.tools[def.Schema.Name] = def
	r.logger.Info("tool registered",
		zap.String("tool", def.Schema.Name),
		zap.String("source", def.Source),
	)
	return nil
}

// Replace registers the tool, overwriting any existing registration.
func (r *Registry) Replace(def *Definition) error {
	if def == nil || def.Schema.Name == "" {
		return types.NewError(types.ErrConfig, "tool definition requires a name")
	}
	if def.Handler == nil {
		return types.Errorf(types.ErrConfig, "tool %q has no handler", def.Schema.Name)
	}
	if def.Source == "" {
		def.Source = SourceBuiltin
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Schema.Name] = def
	return nil
}

// Unregister removes one tool.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// UnregisterSource removes every tool provided by the named source and
// returns how many were removed. Used when an MCP server goes away.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, def := range r.tools {
		if def.Source == source {
			delete(r.tools, name)
			n++
		}
	}
	if n > 0 {
		r.logger.Info("tools unregistered", zap.String("source", source), zap.Int("count", n))
	}
	return n
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemasFor returns schemas for the named tools, skipping unknown
// names. Used to build the tool list advertised to the LLM for one
// agent.
func (r *Registry) SchemasFor(names []string) []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]types.ToolSchema, 0, len(names))
	for _, name := range names {
		if def, ok := r.tools[name]; ok {
			schemas = append(schemas, def.Schema)
		}
	}
	return schemas
}

// Source returns the provider of the named tool.
func (r *Registry) Source(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return def.Source, true
}

// Invoke executes the named tool with a bounded timeout and logs the
// outcome to the session's audit trail. It never returns a Go error:
// failures come back as a structured ToolResult so the orchestrator can
// substitute a fallback utterance instead of crashing the turn.
func (r *Registry) Invoke(ctx context.Context, call types.ToolCall, sess *session.State) types.ToolResult {
	start := time.Now()
	callID := call.ID
	if callID == "" {
		callID = uuid.NewString()
	}
	result := types.ToolResult{ToolCallID: callID, Name: call.Name}

	def, ok := r.Get(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("tool %q is not registered", call.Name)
		result.ErrorCode = types.ErrToolNotFound
		result.Duration = time.Since(start)
		r.audit(sess, call, result)
		return result
	}

	if err := r.waitLimiter(ctx, sess); err != nil {
		result.Error = "tool invocation rate limit exceeded"
		result.ErrorCode = types.ErrToolExecution
		result.Duration = time.Since(start)
		r.audit(sess, call, result)
		return result
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := def.Handler(execCtx, call.Arguments, sess)
	result.Duration = time.Since(start)

	switch {
	case err == nil:
		result.Result = payload
	case errors.Is(err, context.DeadlineExceeded):
		result.Error = fmt.Sprintf("tool %q timed out after %s", call.Name, timeout)
		result.ErrorCode = types.ErrToolTimeout
	default:
		result.Error = err.Error()
		result.ErrorCode = types.ErrToolExecution
	}

	r.audit(sess, call, result)

	if result.IsError() {
		r.logger.Warn("tool invocation failed",
			zap.String("tool", call.Name),
			zap.String("session_id", sess.ID()),
			zap.String("error_code", string(result.ErrorCode)),
			zap.Duration("duration", result.Duration),
		)
	} else {
		r.logger.Debug("tool invocation succeeded",
			zap.String("tool", call.Name),
			zap.String("session_id", sess.ID()),
			zap.Duration("duration", result.Duration),
		)
	}
	return result
}

func (r *Registry) audit(sess *session.State, call types.ToolCall, result types.ToolResult) {
	sess.AppendAudit(types.ToolAuditEntry{
		ToolCallID: result.ToolCallID,
		Name:       call.Name,
		Agent:      sess.ActiveAgent(),
		Arguments:  string(call.Arguments),
		Success:    !result.IsError(),
		Error:      result.Error,
		Duration:   result.Duration,
		Timestamp:  time.Now(),
	})
}

// waitLimiter blocks until the session's limiter admits the call or
// the context expires.
func (r *Registry) waitLimiter(ctx context.Context, sess *session.State) error {
	if r.cfg.RateLimitRPS <= 0 {
		return nil
	}
	r.mu.Lock()
	lim, ok := r.limiters[sess.ID()]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.cfg.RateLimitRPS), r.cfg.RateLimitBurst)
		r.limiters[sess.ID()] = lim
	}
	r.mu.Unlock()
	return lim.Wait(ctx)
}

// ReleaseSession drops per-session limiter state after teardown.
func (r *Registry) ReleaseSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, sessionID)
}
