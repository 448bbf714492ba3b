// Package cascade implements the speech cascade pipeline: recognized
// text in, LLM turn with tool calls and agent handoffs in the middle,
// sentence-chunked synthesis out. Orchestrator runs one turn at a
// time; Handler is the concurrency shell that owns recognition
// ingestion, turn dispatch and barge-in detection for one session.
package cascade
