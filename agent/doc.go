// Package agent provides declarative agent definitions and the agent
// store. Definitions are loaded once at startup from YAML files,
// validated as a set (every declared handoff target must exist), and
// swapped atomically on reload so readers never observe a half-updated
// registry.
package agent
