// Package lifecycle orchestrates process startup and shutdown.
// Critical steps run sequentially and any failure aborts startup;
// deferred steps run in the background after the process is already
// accepting traffic, feeding the readiness state health probes read.
package lifecycle
