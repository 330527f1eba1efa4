package docker

import (
	"context"
	"fmt"
	"io"
	"net"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/client"
)

// Container is a created container owned by exactly one session.
type Container struct {
	client DockerClient

	id          string
	name        string
	stopTimeout int
}

// ID returns the runtime's container identifier.
func (c *Container) ID() string {
	return c.id
}

// Start starts the container. Returns an error if the container fails to
// start, which may indicate a misconfiguration or an unhealthy Docker
// daemon.
func (c *Container) Start(ctx context.Context) error {
	_, err := c.client.ContainerStart(ctx, c.id, client.ContainerStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to start container %q: %w\nContainer may be misconfigured or Docker daemon may be unhealthy", c.name, err)
	}

	return nil
}

// Attach opens the hijacked duplex stream connected to the container's
// pseudo-terminal. Reads yield container output, writes feed its stdin, and
// closing the stream ends the attachment.
func (c *Container) Attach(ctx context.Context) (io.ReadWriteCloser, error) {
	response, err := c.client.ContainerAttach(ctx, c.id, client.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to container %q: %w\nContainer may have exited prematurely or Docker API is unreachable", c.name, err)
	}

	return &Stream{
		conn:   response.Conn,
		reader: response.Reader,
	}, nil
}

// Resize resizes the container's TTY.
func (c *Container) Resize(ctx context.Context, height, width uint) error {
	_, err := c.client.ContainerResize(ctx, c.id, client.ContainerResizeOptions{
		Height: height,
		Width:  width,
	})
	if err != nil {
		return fmt.Errorf("failed to resize tty for container %q: %w", c.name, err)
	}

	return nil
}

// Stop gracefully stops the container with the configured timeout. An
// already-stopped container ("not modified") counts as success.
func (c *Container) Stop(ctx context.Context) error {
	timeout := c.stopTimeout
	_, err := c.client.ContainerStop(ctx, c.id, client.ContainerStopOptions{Timeout: &timeout})
	if err != nil {
		if cerrdefs.IsNotModified(err) || cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %q: %w", c.name, err)
	}

	return nil
}

// Remove forcibly removes the container. A removal already in progress, or
// a container that is already gone, counts as success.
func (c *Container) Remove(ctx context.Context) error {
	_, err := c.client.ContainerRemove(ctx, c.id, client.ContainerRemoveOptions{
		Force: true,
	})
	if err != nil {
		if cerrdefs.IsConflict(err) || cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %q: %w\nContainer may be in an inconsistent state", c.name, err)
	}

	return nil
}

// Stream is the duplex byte channel from a hijacked attach. The hijacked
// connection may have buffered bytes in its reader, so reads must go
// through the reader while writes and closes target the connection.
type Stream struct {
	conn   net.Conn
	reader io.Reader
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

func (s *Stream) Close() error {
	return s.conn.Close()
}
