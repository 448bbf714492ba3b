// Package tool provides the tool registry and executor. Tools are
// registered by name and invoked through a single contract regardless
// of whether the handler runs in-process or calls out to a remote
// MCP-style server. The executor bounds every invocation with a
// per-tool timeout and always returns a structured result, so a failing
// tool degrades the turn instead of crashing it.
package tool
