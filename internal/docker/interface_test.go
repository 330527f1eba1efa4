package docker_test

import (
	"github.com/moby/moby/client"

	"github.com/jparker/shellbox/internal"
	"github.com/jparker/shellbox/internal/docker"
)

// Compile-time check that *client.Client implements DockerClient interface
var _ docker.DockerClient = (*client.Client)(nil)

// Compile-time checks that the docker package satisfies the session's
// runtime contract
var (
	_ internal.ContainerRuntime = docker.Client{}
	_ internal.ContainerHandle  = (*docker.Container)(nil)
)
