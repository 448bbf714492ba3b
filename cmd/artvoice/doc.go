// Command artvoice runs the real-time voice agent backend.
//
// Usage:
//
//	artvoice serve                       # start the server
//	artvoice serve --config config.yaml  # with a config file
//	artvoice version                     # show version info
//	artvoice health                      # probe a running server
package main
