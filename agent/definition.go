package agent

import (
	"bytes"
	"fmt"
	"text/template"
)

// TransitionKind controls how a handoff to an agent is surfaced to the
// caller.
type TransitionKind string

const (
	// TransitionDiscrete switches agents silently. The next turn
	// proceeds as if the new agent always owned the conversation.
	TransitionDiscrete TransitionKind = "discrete"
	// TransitionAnnounced schedules a short introduction utterance
	// before the new agent's first substantive response.
	TransitionAnnounced TransitionKind = "announced"
)

// HandoffTarget declares one agent reachable from the owning agent.
type HandoffTarget struct {
	Agent string `yaml:"agent" json:"agent"`
	// Kind defaults to discrete when omitted.
	Kind TransitionKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	// Condition is a human-readable description surfaced to the LLM
	// in the handoff tool schema.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Definition is a declarative agent specification, immutable after load.
// It is deserialized from YAML files in the configured agents directory.
type Definition struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// SystemPrompt is a Go text/template rendered per turn with the
	// session's system variables.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// Voice is the default TTS voice for responses by this agent.
	Voice string `yaml:"voice,omitempty" json:"voice,omitempty"`
	// VoiceStyle is an optional synthesis style hint.
	VoiceStyle string `yaml:"voice_style,omitempty" json:"voice_style,omitempty"`

	// Greeting is spoken on the first announced visit to this agent.
	Greeting string `yaml:"greeting,omitempty" json:"greeting,omitempty"`
	// ReturnGreeting is spoken on announced revisits.
	ReturnGreeting string `yaml:"return_greeting,omitempty" json:"return_greeting,omitempty"`

	// Tools lists the tool names this agent may invoke.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	// HandoffTargets lists the agents this agent may transfer to.
	HandoffTargets []HandoffTarget `yaml:"handoff_targets,omitempty" json:"handoff_targets,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// RenderPrompt renders the system prompt template with the given
// variables.
func (d *Definition) RenderPrompt(vars map[string]any) (string, error) {
	return renderTemplate("prompt."+d.Name, d.SystemPrompt, vars)
}

// RenderGreeting renders the first-visit greeting, or "" if none is
// declared.
func (d *Definition) RenderGreeting(vars map[string]any) (string, error) {
	if d.Greeting == "" {
		return "", nil
	}
	return renderTemplate("greeting."+d.Name, d.Greeting, vars)
}

// RenderReturnGreeting renders the revisit greeting, falling back to
// the first-visit greeting when none is declared.
func (d *Definition) RenderReturnGreeting(vars map[string]any) (string, error) {
	if d.ReturnGreeting == "" {
		return d.RenderGreeting(vars)
	}
	return renderTemplate("return_greeting."+d.Name, d.ReturnGreeting, vars)
}

// AllowsHandoffTo reports whether target is a declared handoff target
// and returns its transition kind.
func (d *Definition) AllowsHandoffTo(target string) (TransitionKind, bool) {
	for _, t := range d.HandoffTargets {
		if t.Agent == target {
			kind := t.Kind
			if kind == "" {
				kind = TransitionDiscrete
			}
			return kind, true
		}
	}
	return "", false
}

func renderTemplate(name, text string, vars map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}
