package internal

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultImageName is the image spawned when neither flag, config file,
	// nor spawn override names one.
	DefaultImageName = ImageName("ubuntu:24.04")

	// DefaultStopTimeout is the grace period in seconds for stopping the
	// container before it is killed.
	DefaultStopTimeout = 10

	// DefaultReadyTimeout bounds how long spawn waits for the shell's first
	// real output before declaring the session ready anyway.
	DefaultReadyTimeout = 5 * time.Second

	// DefaultGeometryDelay is the pause between terminal geometry setup
	// steps after readiness, tolerating shell startup latency.
	DefaultGeometryDelay = 300 * time.Millisecond

	// DefaultTTYRetries is the number of retry attempts for the initial TTY
	// resize; the container may not be ready on the first try.
	DefaultTTYRetries = 10

	// DefaultRetryDelay is the base delay between TTY resize retries. Each
	// retry multiplies it by (retry+1).
	DefaultRetryDelay = 10 * time.Millisecond
)

type Config struct {
	ImageName     ImageName
	Shell         Command
	Env           Environment
	StopTimeout   int
	ReadyTimeout  time.Duration
	GeometryDelay time.Duration
	TTYRetries    int
	RetryDelay    time.Duration
}

// fileConfig is the optional YAML config file shape.
type fileConfig struct {
	Image string   `yaml:"image"`
	Shell []string `yaml:"shell"`
	Env   []string `yaml:"env"`
}

type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// ParseConfig builds the session configuration from command-line arguments
// and process environment. Flags (-image, -env, -config) override the
// optional YAML config file, which overrides the built-in defaults. TERM
// and COLORTERM are forwarded from the host environment so the container
// shell renders the way the host terminal expects.
func ParseConfig(args, environment []string) Config {
	lookup := make(map[string]string)
	for _, variable := range environment {
		key, value, ok := strings.Cut(variable, "=")
		if ok {
			lookup[key] = value
		}
	}

	var (
		imageFlag     string
		configPath    string
		additionalEnv stringSlice
	)

	fs := flag.NewFlagSet("shellbox", flag.ContinueOnError)
	fs.StringVar(&imageFlag, "image", "", "container image to spawn")
	fs.StringVar(&configPath, "config", "", "path to a YAML config file")
	fs.Var(&additionalEnv, "env", "environment variable to set in the container")

	// Ignore errors since we want to capture remaining args
	_ = fs.Parse(args)

	file := loadFileConfig(configPath, lookup["HOME"])

	image := DefaultImageName
	if file.Image != "" {
		image = ImageName(file.Image)
	}
	if imageFlag != "" {
		image = ImageName(imageFlag)
	}

	shell := Command{"/bin/bash"}
	if len(file.Shell) > 0 {
		shell = Command(file.Shell)
	}
	if rest := fs.Args(); len(rest) > 0 {
		shell = Command(rest)
	}

	var env []string
	value, ok := lookup["TERM"]
	if !ok {
		value = "xterm-256color"
	}
	env = append(env, fmt.Sprintf("TERM=%s", value))

	value, ok = lookup["COLORTERM"]
	if !ok {
		value = "truecolor"
	}
	env = append(env, fmt.Sprintf("COLORTERM=%s", value))

	env = append(env, file.Env...)
	env = append(env, additionalEnv...)

	return Config{
		ImageName:     image,
		Shell:         shell,
		Env:           Environment(env),
		StopTimeout:   DefaultStopTimeout,
		ReadyTimeout:  DefaultReadyTimeout,
		GeometryDelay: DefaultGeometryDelay,
		TTYRetries:    DefaultTTYRetries,
		RetryDelay:    DefaultRetryDelay,
	}
}

// loadFileConfig reads the YAML config file at path, falling back to
// ~/.shellbox.yaml when no path is given. A missing or malformed file
// yields an empty config rather than an error; the file is optional.
func loadFileConfig(path, home string) fileConfig {
	if path == "" {
		if home == "" {
			return fileConfig{}
		}
		path = filepath.Join(home, ".shellbox.yaml")
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}
	}

	var file fileConfig
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return fileConfig{}
	}
	return file
}
