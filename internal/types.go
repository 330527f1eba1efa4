package internal

// SessionName represents the unique name assigned to a session's container.
type SessionName string

// ImageName represents a Docker image reference.
type ImageName string

// Command represents the command and arguments to execute in the container.
type Command []string

// Environment represents environment variables to pass to the container.
type Environment []string
