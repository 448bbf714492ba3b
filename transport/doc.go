// Package transport exposes the WebSocket media endpoint. Each
// accepted connection owns one session: binary frames carry caller PCM
// audio into the speech cascade, synthesized audio and JSON events flow
// back over the same socket. Connections are optionally authenticated
// with a JWT bearer token before the upgrade.
package transport
