package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/docker/cli/cli/streams"
	"github.com/moby/term"
	"golang.org/x/sync/errgroup"

	"github.com/jparker/shellbox/internal"
	"github.com/jparker/shellbox/internal/docker"
)

func main() {
	if err := run(os.Args, os.Environ()); err != nil {
		log.Fatal(err)
	}
}

func run(args, env []string) error {
	config := internal.ParseConfig(args[1:], env)

	stdin, stdout, _ := term.StdStreams()
	in := streams.NewIn(stdin)
	out := streams.NewOut(stdout)

	if !in.IsTerminal() || !out.IsTerminal() {
		return fmt.Errorf("shellbox requires an interactive terminal on stdin and stdout\nRun it directly from a terminal, not through a pipe")
	}

	cleanupMgr := internal.NewCleanupManager()
	defer cleanupMgr.Execute()

	w := internal.NewStandardWriter()

	client, err := docker.NewDefaultClient(config.StopTimeout)
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w\nMake sure Docker is installed and running (try 'docker ps')", err)
	}
	cleanupMgr.Add("docker-client", func() error {
		client.Close()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restore := sync.OnceFunc(func() {
		in.RestoreTerminal()
		out.RestoreTerminal()
	})

	status := internal.NewStatusLine(stdout, func() int {
		height, _ := out.GetTtySize()
		return int(height)
	})

	session := internal.NewSession(client, w, status, stdout, out.GetTtySize, restore, config)

	controller := internal.NewLifecycleController(session, w, restore, nil)
	defer controller.HandlePanic()
	controller.Register()
	cleanupMgr.Add("terminal", func() error {
		controller.RestoreTerminal()
		return nil
	})

	if err := in.SetRawTerminal(); err != nil {
		return fmt.Errorf("failed to set stdin to raw terminal mode: %w\nYour terminal may not support TTY operations", err)
	}
	if err := out.SetRawTerminal(); err != nil {
		restore()
		return fmt.Errorf("failed to set stdout to raw terminal mode: %w\nYour terminal may not support TTY operations", err)
	}

	if err := session.Spawn(ctx, ""); err != nil {
		restore()
		return err
	}

	tty := docker.NewTTY(out, session.ResizeTTY, config.TTYRetries, config.RetryDelay, w)
	if err := tty.Monitor(ctx); err != nil {
		w.Warningf("failed to monitor tty size: %v", err)
	}

	router := internal.NewRouter(session, stdout)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		buf := make([]byte, 1024)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				router.Handle(buf[:n])
			}
			if err != nil {
				// Stdin closing while the session winds down is expected.
				return nil
			}
		}
	})
	go func() {
		_ = g.Wait()
	}()

	// Block until the session winds down, whether by command mode, the
	// interrupt byte, or the container exiting on its own.
	if err := session.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for session teardown: %w", err)
	}

	return nil
}
