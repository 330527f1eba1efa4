package docker

import (
	"context"
	"fmt"

	"github.com/jparker/shellbox/internal"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

type Client struct {
	client      DockerClient
	stopTimeout int
}

// NewClient creates a Client that wraps the provided Docker client
// interface. stopTimeout is the grace period in seconds containers get to
// exit before being killed.
func NewClient(dockerClient DockerClient, stopTimeout int) Client {
	return Client{
		client:      dockerClient,
		stopTimeout: stopTimeout,
	}
}

// NewDefaultClient creates a Client with a real Docker client from the environment.
func NewDefaultClient(stopTimeout int) (Client, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return Client{}, fmt.Errorf("failed to create docker client: %w\nEnsure Docker is running and DOCKER_HOST is set correctly", err)
	}

	return NewClient(cli, stopTimeout), nil
}

// Close closes the underlying Docker client connection.
func (c Client) Close() {
	c.client.Close()
}

// Probe verifies the Docker daemon is reachable.
func (c Client) Probe(ctx context.Context) error {
	_, err := c.client.Ping(ctx, client.PingOptions{})
	if err != nil {
		return fmt.Errorf("failed to ping docker daemon: %w", err)
	}
	return nil
}

// PullImage pulls the image and streams pull progress to the provided
// Writer. The pull is complete when the progress stream ends. Returns an
// error if the pull is rejected, the progress stream cannot be decoded, or
// the daemon reports a failure mid-pull.
func (c Client) PullImage(ctx context.Context, image internal.ImageName, w internal.Writer) error {
	response, err := c.client.ImagePull(ctx, string(image), client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %q: %w", image, err)
	}
	defer response.Close()

	for message, err := range response.JSONMessages(ctx) {
		if err != nil {
			return fmt.Errorf("failed to decode pull progress: %w\nDocker may have returned malformed JSON", err)
		}

		if message.Error != nil {
			return fmt.Errorf("docker pull failed: %s", message.Error.Message)
		}

		if message.ID != "" {
			w.Printf("%s: %s\r\n", message.ID, message.Status)
		} else if message.Status != "" {
			w.Printf("%s\r\n", message.Status)
		}
	}

	return nil
}

// CreateContainer allocates a container with an interactive pseudo-terminal
// and stdin/stdout/stderr attached, running cmd with env. Returns a handle
// the session owns exclusively.
func (c Client) CreateContainer(ctx context.Context, name internal.SessionName, image internal.ImageName, cmd internal.Command, env internal.Environment) (internal.ContainerHandle, error) {
	response, err := c.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config: &container.Config{
			Image:        string(image),
			Cmd:          []string(cmd),
			Tty:          true,
			OpenStdin:    true,
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
			Env:          []string(env),
		},
		Name: string(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create container %q from image %q: %w\nEnsure image exists and container config is valid", name, image, err)
	}

	return &Container{
		id:          response.ID,
		name:        string(name),
		client:      c.client,
		stopTimeout: c.stopTimeout,
	}, nil
}
