// Package llm defines the streaming chat client contract consumed by
// the cascade orchestrator, plus retry and token-budget helpers shared
// by every client implementation.
package llm
