// Package internal contains the session core for shellbox.
//
// It provides the container session state machine, output buffering,
// readiness detection, keyboard routing, status overlay rendering, and
// lifecycle cleanup orchestration used by the docker package and main.
package internal
