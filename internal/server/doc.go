// Package server manages the HTTP listener: non-blocking start,
// graceful shutdown within a configured timeout, and asynchronous
// error propagation for the lifecycle manager to watch.
package server
