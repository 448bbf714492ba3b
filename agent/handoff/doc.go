// Package handoff validates and executes transfer of the active agent
// within a session. A handoff is requested by a tool call during a
// turn; the service checks the target against the current agent's
// declared handoff targets, preserves the shared transcript, clears
// agent-scoped working memory unless carried forward, and schedules an
// introduction utterance for announced transitions.
package handoff
