// Package session provides per-connection conversation state and its
// persistence. A State is exclusively owned by the connection's handler;
// all mutation goes through State methods so invariants hold (exactly
// one active agent, monotonic visited list, audit appended regardless
// of tool outcome). Snapshots are persisted to Redis after every turn
// so a reconnecting caller can resume mid-conversation.
package session
