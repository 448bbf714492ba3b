package handoff

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/agent"
	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// ToolName is the tool the LLM invokes to request a handoff. It is
// registered like any other tool; the orchestrator routes it here.
const ToolName = "transfer_to_agent"

// Request is a transient handoff request produced by a tool call.
type Request struct {
	// Target is the agent to transfer to.
	Target string `json:"agent"`
	// Reason is surfaced in logs and the audit trail.
	Reason string `json:"reason,omitempty"`
	// CarryWorkingMemory preserves the source agent's working memory
	// instead of clearing it.
	CarryWorkingMemory bool `json:"carry_working_memory,omitempty"`
	// Context is an optional payload merged into the session's system
	// variables for the target agent's prompt.
	Context map[string]any `json:"context,omitempty"`
}

// Result describes a completed transition.
type Result struct {
	From       string               `json:"from"`
	To         string               `json:"to"`
	Kind       agent.TransitionKind `json:"kind"`
	Greeting   string               `json:"greeting,omitempty"`
	FirstVisit bool                 `json:"first_visit"`
}

// Service validates and applies agent transitions.
type Service struct {
	store *agent.Store
	// returnAgent is always reachable regardless of declared targets,
	// so any specialist can hand the caller back to the front door.
	returnAgent string
	logger      *zap.Logger
}

// NewService creates a handoff service. returnAgent names the fallback
// agent every agent may transfer to; empty disables the fallback.
func NewService(store *agent.Store, returnAgent string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		returnAgent: returnAgent,
		logger:      logger.With(zap.String("component", "handoff_service")),
	}
}

// IsHandoffTool reports whether the named tool requests a handoff.
func (s *Service) IsHandoffTool(name string) bool {
	return name == ToolName
}

// ParseRequest decodes handoff tool arguments.
func ParseRequest(args json.RawMessage) (*Request, error) {
	var req Request
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, types.NewError(types.ErrHandoffDenied, "malformed handoff arguments").WithCause(err)
	}
	if req.Target == "" {
		return nil, types.NewError(types.ErrHandoffDenied, "handoff request missing target agent")
	}
	return &req, nil
}

// Transition validates the request against the session's active agent
// and applies it. On denial the session is left untouched and the error
// carries HANDOFF_DENIED; the caller surfaces it to the LLM as a tool
// error, not a session fault.
func (s *Service) Transition(sess *session.State, req *Request) (*Result, error) {
	from := sess.ActiveAgent()

	current, err := s.store.Resolve(from)
	if err != nil {
		return nil, err
	}

	kind, allowed := current.AllowsHandoffTo(req.Target)
	if !allowed && s.returnAgent != "" && req.Target == s.returnAgent && req.Target != from {
		kind, allowed = agent.TransitionDiscrete, true
	}
	if !allowed {
		return nil, types.Errorf(types.ErrHandoffDenied,
			"agent %q may not transfer to %q", from, req.Target)
	}

	target, err := s.store.Resolve(req.Target)
	if err != nil {
		// Unreachable for a validated set, but a reload could have
		// narrowed the registry since the turn resolved its snapshot.
		return nil, err
	}

	firstVisit := !sess.HasVisited(req.Target)

	// The shared transcript always survives a handoff. Working memory
	// is agent-scoped and dropped unless explicitly carried.
	if !req.CarryWorkingMemory {
		sess.ClearAgentVars()
	}
	for k, v := range req.Context {
		sess.SetSystemVar(k, v)
	}

	sess.SetActiveAgent(req.Target)

	result := &Result{From: from, To: req.Target, Kind: kind, FirstVisit: firstVisit}

	if kind == agent.TransitionAnnounced {
		greeting, gerr := s.selectGreeting(target, firstVisit, sess.SystemVars())
		if gerr != nil {
			s.logger.Warn("greeting render failed, continuing without announcement",
				zap.String("agent", target.Name), zap.Error(gerr))
		} else if greeting != "" {
			sess.SetPendingGreeting(greeting)
			result.Greeting = greeting
		}
	}

	sess.AppendAudit(types.ToolAuditEntry{
		Name:      ToolName,
		Agent:     from,
		Arguments: req.Target,
		Success:   true,
		Timestamp: time.Now(),
	})

	s.logger.Info("agent handoff",
		zap.String("session_id", sess.ID()),
		zap.String("from", from),
		zap.String("to", req.Target),
		zap.String("kind", string(kind)),
		zap.Bool("first_visit", firstVisit),
		zap.String("reason", req.Reason),
	)

	return result, nil
}

// selectGreeting picks the first-visit or return greeting.
func (s *Service) selectGreeting(target *agent.Definition, firstVisit bool, vars map[string]any) (string, error) {
	if firstVisit {
		return target.RenderGreeting(vars)
	}
	return target.RenderReturnGreeting(vars)
}

// Schema returns the handoff tool schema advertised to the LLM,
// restricted to the targets reachable from the given agent.
func Schema(def *agent.Definition) types.ToolSchema {
	targets := make([]string, 0, len(def.HandoffTargets))
	desc := "Transfer the conversation to another agent. Available targets:"
	for _, t := range def.HandoffTargets {
		targets = append(targets, t.Agent)
		desc += " " + t.Agent
		if t.Condition != "" {
			desc += " (" + t.Condition + ")"
		}
		desc += ";"
	}

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{
				"type":        "string",
				"description": "Target agent name",
				"enum":        targets,
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the transfer is needed",
			},
		},
		"required": []string{"agent"},
	}
	raw, _ := json.Marshal(params)

	return types.ToolSchema{
		Name:        ToolName,
		Description: desc,
		Parameters:  raw,
	}
}
