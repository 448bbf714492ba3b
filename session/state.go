package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// TransportKind identifies how the caller is connected.
type TransportKind string

const (
	TransportBrowser   TransportKind = "browser"
	TransportTelephony TransportKind = "telephony"
)

// State is the mutable per-session conversation state. It is owned by
// exactly one connection handler; methods are still mutex-guarded
// because the handler's concurrently scheduled units (recognition,
// turn orchestration, barge-in watch) share it.
type State struct {
	mu sync.Mutex

	id        string
	transport TransportKind
	createdAt time.Time
	updatedAt time.Time

	activeAgent string
	history     []types.Message
	audit       []types.ToolAuditEntry
	visited     []string
	systemVars  map[string]any
	agentVars   map[string]any

	pendingGreeting string
	cancelled       bool
	escalated       bool
	closed          bool

	// Background work owned by this session, cancelled on close.
	tasks []taskHandle
}

type taskHandle struct {
	name   string
	cancel context.CancelFunc
}

// NewState creates session state owned by the entry agent.
func NewState(transport TransportKind, entryAgent string) *State {
	now := time.Now()
	return &State{
		id:          uuid.NewString(),
		transport:   transport,
		createdAt:   now,
		updatedAt:   now,
		activeAgent: entryAgent,
		visited:     []string{entryAgent},
		systemVars:  make(map[string]any),
		agentVars:   make(map[string]any),
	}
}

// ID returns the session id.
func (s *State) ID() string { return s.id }

// Transport returns the transport kind.
func (s *State) Transport() TransportKind { return s.transport }

// ActiveAgent returns the name of the single currently active agent.
func (s *State) ActiveAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAgent
}

// SetActiveAgent switches the active agent and records the visit.
// Visited gains each distinct agent exactly once, no matter how often
// handoffs bounce back and forth.
func (s *State) SetActiveAgent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAgent = name
	s.updatedAt = time.Now()
	for _, v := range s.visited {
		if v == name {
			return
		}
	}
	s.visited = append(s.visited, name)
}

// VisitedAgents returns the distinct agents that have owned this
// session, in first-visit order.
func (s *State) VisitedAgents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.visited))
	copy(out, s.visited)
	return out
}

// HasVisited reports whether the agent has owned this session before.
func (s *State) HasVisited(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.visited {
		if v == name {
			return true
		}
	}
	return false
}

// AppendMessage appends one transcript entry.
func (s *State) AppendMessage(m types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
	s.updatedAt = time.Now()
}

// History returns a copy of the full shared transcript.
func (s *State) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// AppendAudit records a tool invocation outcome.
func (s *State) AppendAudit(entry types.ToolAuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	s.updatedAt = time.Now()
}

// AuditLog returns a copy of the tool-call audit trail.
func (s *State) AuditLog() []types.ToolAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ToolAuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// SystemVar returns the named per-session variable.
func (s *State) SystemVar(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.systemVars[key]
	return v, ok
}

// SetSystemVar sets a per-session variable.
func (s *State) SetSystemVar(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemVars[key] = value
}

// SystemVars returns a copy of all per-session variables.
func (s *State) SystemVars() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.systemVars))
	for k, v := range s.systemVars {
		out[k] = v
	}
	return out
}

// ReplaceSystemVars swaps the variable set wholesale. Used by handoffs
// to clear agent-scoped working memory while carrying forward whatever
// the handoff request preserves.
func (s *State) ReplaceSystemVars(vars map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vars == nil {
		vars = make(map[string]any)
	}
	s.systemVars = vars
}

// AgentVar returns the named working-memory variable of the active
// agent.
func (s *State) AgentVar(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.agentVars[key]
	return v, ok
}

// SetAgentVar sets a working-memory variable scoped to the active
// agent. Working memory is cleared on handoff unless the handoff
// request carries it forward.
func (s *State) SetAgentVar(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentVars[key] = value
}

// AgentVars returns a copy of the active agent's working memory.
func (s *State) AgentVars() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.agentVars))
	for k, v := range s.agentVars {
		out[k] = v
	}
	return out
}

// ClearAgentVars drops the active agent's working memory.
func (s *State) ClearAgentVars() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentVars = make(map[string]any)
}

// SetPendingGreeting schedules an utterance to be synthesized before
// the next turn's substantive response.
func (s *State) SetPendingGreeting(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingGreeting = text
}

// TakePendingGreeting returns and clears any scheduled greeting.
func (s *State) TakePendingGreeting() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.pendingGreeting
	s.pendingGreeting = ""
	return g
}

// RequestCancel sets the cooperative cancellation flag (barge-in).
func (s *State) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// ClearCancel resets the flag. Called before a new turn starts so a
// previous barge-in never leaks into the next turn.
func (s *State) ClearCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = false
}

// CancelRequested reports the cancellation flag. Checked at turn
// checkpoints: between sentence chunks and between tool iterations.
func (s *State) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Escalate flags the session for graceful termination (live transfer).
func (s *State) Escalate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalated = true
}

// Escalated reports the escalation flag.
func (s *State) Escalated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalated
}

// Track registers background work owned by this session, such as a
// pending greeting synthesis. All tracked work is cancelled on Close.
func (s *State) Track(name string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel()
		return
	}
	s.tasks = append(s.tasks, taskHandle{name: name, cancel: cancel})
}

// Close marks the session disconnected and cancels tracked work.
// Idempotent.
func (s *State) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
}

// Closed reports whether the session has been torn down.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Snapshot captures the persistable portion of the state.
func (s *State) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]types.Message, len(s.history))
	copy(history, s.history)
	audit := make([]types.ToolAuditEntry, len(s.audit))
	copy(audit, s.audit)
	visited := make([]string, len(s.visited))
	copy(visited, s.visited)
	vars := make(map[string]any, len(s.systemVars))
	for k, v := range s.systemVars {
		vars[k] = v
	}
	avars := make(map[string]any, len(s.agentVars))
	for k, v := range s.agentVars {
		avars[k] = v
	}

	return &Snapshot{
		ID:          s.id,
		Transport:   s.transport,
		ActiveAgent: s.activeAgent,
		History:     history,
		Audit:       audit,
		Visited:     visited,
		SystemVars:  vars,
		AgentVars:   avars,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}

// Restore rebuilds in-memory state from a snapshot. Runtime-only flags
// (cancellation, pending greeting, tracked tasks) start clean.
func Restore(snap *Snapshot) *State {
	vars := snap.SystemVars
	if vars == nil {
		vars = make(map[string]any)
	}
	avars := snap.AgentVars
	if avars == nil {
		avars = make(map[string]any)
	}
	return &State{
		id:          snap.ID,
		transport:   snap.Transport,
		createdAt:   snap.CreatedAt,
		updatedAt:   snap.UpdatedAt,
		activeAgent: snap.ActiveAgent,
		history:     snap.History,
		audit:       snap.Audit,
		visited:     snap.Visited,
		systemVars:  vars,
		agentVars:   avars,
	}
}

// Snapshot is the serialized form of a session, stored in Redis.
type Snapshot struct {
	ID          string                 `json:"id"`
	Transport   TransportKind          `json:"transport"`
	ActiveAgent string                 `json:"active_agent"`
	History     []types.Message        `json:"history"`
	Audit       []types.ToolAuditEntry `json:"audit,omitempty"`
	Visited     []string               `json:"visited"`
	SystemVars  map[string]any         `json:"system_vars,omitempty"`
	AgentVars   map[string]any         `json:"agent_vars,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}
