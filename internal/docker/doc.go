// Package docker implements the session's container-runtime contract on
// the Docker API.
//
// It covers the connectivity probe, image pulls with streamed progress,
// container create/start/stop/remove with interactive TTY configuration,
// the hijacked duplex stream, and TTY resize monitoring. The Client type
// is the main entry point.
package docker
