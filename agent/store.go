package agent

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// snapshot is an immutable view of the loaded agent set. Reload swaps
// the whole snapshot, so in-flight turns keep the definitions they
// already resolved.
type snapshot struct {
	agents map[string]*Definition
	names  []string
}

// Store holds the loaded agent set and resolves agents by name. Reads
// are lock-free; Reload replaces the snapshot atomically.
type Store struct {
	snap   atomic.Pointer[snapshot]
	logger *zap.Logger
}

// NewStore creates a store from the given definitions. Every declared
// handoff target must name an agent in the set; an undeclared target is
// a load-time error so runtime handoffs cannot dead-end.
func NewStore(defs []*Definition, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	snap, err := buildSnapshot(defs)
	if err != nil {
		return nil, err
	}

	s := &Store{logger: logger.With(zap.String("component", "agent_store"))}
	s.snap.Store(snap)
	s.logger.Info("agent store loaded", zap.Strings("agents", snap.names))
	return s, nil
}

// Resolve returns the definition for name.
func (s *Store) Resolve(name string) (*Definition, error) {
	snap := s.snap.Load()
	def, ok := snap.agents[name]
	if !ok {
		return nil, types.Errorf(types.ErrAgentNotFound, "agent %q is not registered", name)
	}
	return def, nil
}

// Names returns the loaded agent names in load order.
func (s *Store) Names() []string {
	return s.snap.Load().names
}

// Len returns the number of loaded agents.
func (s *Store) Len() int {
	return len(s.snap.Load().names)
}

// Reload validates defs and swaps the snapshot atomically. New sessions
// see the new set; sessions holding an already-resolved definition keep
// using it. On validation failure the current snapshot is left intact.
func (s *Store) Reload(defs []*Definition) error {
	snap, err := buildSnapshot(defs)
	if err != nil {
		return err
	}
	s.snap.Store(snap)
	s.logger.Info("agent store reloaded", zap.Strings("agents", snap.names))
	return nil
}

func buildSnapshot(defs []*Definition) (*snapshot, error) {
	if len(defs) == 0 {
		return nil, types.NewError(types.ErrConfig, "no agent definitions loaded")
	}

	agents := make(map[string]*Definition, len(defs))
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, types.NewError(types.ErrConfig, "agent definition missing name")
		}
		if _, dup := agents[def.Name]; dup {
			return nil, types.Errorf(types.ErrConfig, "duplicate agent definition %q", def.Name)
		}
		agents[def.Name] = def
		names = append(names, def.Name)
	}

	// Validate the handoff graph over the full set.
	for _, def := range defs {
		for _, target := range def.HandoffTargets {
			if target.Agent == "" {
				return nil, types.Errorf(types.ErrConfig, "agent %q declares a handoff target with no name", def.Name)
			}
			if _, ok := agents[target.Agent]; !ok {
				return nil, types.Errorf(types.ErrConfig,
					"agent %q declares unknown handoff target %q", def.Name, target.Agent)
			}
			switch target.Kind {
			case "", TransitionDiscrete, TransitionAnnounced:
			default:
				return nil, types.Errorf(types.ErrConfig,
					"agent %q handoff target %q has invalid kind %q", def.Name, target.Agent, target.Kind)
			}
		}
	}

	return &snapshot{agents: agents, names: names}, nil
}
