package internal

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	cerrdefs "github.com/containerd/errdefs"
)

// RuntimeUnavailableError indicates the container runtime could not be
// reached at all. The spawn attempt is abandoned and the session resets to
// idle.
type RuntimeUnavailableError struct {
	Err error
}

func (e RuntimeUnavailableError) Error() string {
	return fmt.Sprintf("container runtime is unreachable: %v\nMake sure Docker is installed and running (try 'docker ps')", e.Err)
}

func (e RuntimeUnavailableError) Unwrap() error {
	return e.Err
}

// ImagePullError indicates the runtime was reachable but pulling the session
// image failed. ConnectionLost distinguishes a mid-pull connectivity drop
// from other causes such as a missing image or registry auth failure.
type ImagePullError struct {
	Image          ImageName
	ConnectionLost bool
	Err            error
}

func (e ImagePullError) Error() string {
	if e.ConnectionLost {
		return fmt.Sprintf("lost connection to the container runtime while pulling image %q: %v\nCheck that Docker is still running and retry", e.Image, e.Err)
	}
	return fmt.Sprintf("failed to pull image %q: %v\nCheck the image name and registry availability", e.Image, e.Err)
}

func (e ImagePullError) Unwrap() error {
	return e.Err
}

// ContainerCreateError indicates the runtime rejected container creation.
type ContainerCreateError struct {
	Image ImageName
	Err   error
}

func (e ContainerCreateError) Error() string {
	return fmt.Sprintf("failed to create container from image %q: %v\nEnsure the image exists and the container config is valid", e.Image, e.Err)
}

func (e ContainerCreateError) Unwrap() error {
	return e.Err
}

// AlreadyActiveError is returned by Spawn when a session is already in
// flight. It is local and non-fatal; the existing session is untouched.
type AlreadyActiveError struct {
	Phase Phase
}

func (e AlreadyActiveError) Error() string {
	return fmt.Sprintf("a container session is already active (phase %s); stop it before spawning another", e.Phase)
}

// isConnectionLoss reports whether err looks like the runtime connection
// dropped mid-operation rather than the operation itself being rejected.
func isConnectionLoss(err error) bool {
	if err == nil {
		return false
	}
	if cerrdefs.IsUnavailable(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
