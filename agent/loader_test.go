package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

const conciergeYAML = `
name: Concierge
description: Front-door agent
system_prompt: |
  You are the concierge. Today is {{.today}}.
voice: en-US-AvaNeural
greeting: "Hi! How can I help?"
tools:
  - lookup_card
handoff_targets:
  - agent: Advisor
    kind: announced
    condition: Customer asks for product advice
`

func TestYAMLLoader_LoadBytes(t *testing.T) {
	def, err := NewYAMLLoader().LoadBytes([]byte(conciergeYAML))
	require.NoError(t, err)

	assert.Equal(t, "Concierge", def.Name)
	assert.Equal(t, "en-US-AvaNeural", def.Voice)
	assert.Equal(t, []string{"lookup_card"}, def.Tools)
	require.Len(t, def.HandoffTargets, 1)
	assert.Equal(t, TransitionAnnounced, def.HandoffTargets[0].Kind)
}

func TestYAMLLoader_MissingName(t *testing.T) {
	_, err := NewYAMLLoader().LoadBytes([]byte("system_prompt: hi"))
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetErrorCode(err))
}

func TestYAMLLoader_MissingPrompt(t *testing.T) {
	_, err := NewYAMLLoader().LoadBytes([]byte("name: NoPrompt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system_prompt")
}

func TestYAMLLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_advisor.yaml"),
		[]byte("name: Advisor\nsystem_prompt: advise"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_concierge.yaml"),
		[]byte(conciergeYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("ignored"), 0o600))

	defs, err := NewYAMLLoader().LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	// Files load in sorted order.
	assert.Equal(t, "Concierge", defs[0].Name)
	assert.Equal(t, "Advisor", defs[1].Name)
}

func TestYAMLLoader_LoadDirMissing(t *testing.T) {
	_, err := NewYAMLLoader().LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetErrorCode(err))
}
