package internal_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jparker/shellbox/internal"
)

type fakeStream struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu     sync.Mutex
	input  bytes.Buffer
	closed sync.Once
}

func newFakeStream() *fakeStream {
	pr, pw := io.Pipe()
	return &fakeStream{pr: pr, pw: pw}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

func (s *fakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input.Write(p)
}

func (s *fakeStream) Close() error {
	s.closed.Do(func() {
		s.pw.Close()
	})
	return nil
}

// emit injects container output; it returns once the session's stream
// consumer has picked the chunk up.
func (s *fakeStream) emit(t *testing.T, text string) {
	t.Helper()
	_, err := s.pw.Write([]byte(text))
	require.NoError(t, err)
}

func (s *fakeStream) inputString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input.String()
}

type fakeContainer struct {
	id        string
	stream    *fakeStream
	startErr  error
	attachErr error

	resizes atomic.Int32
	stops   atomic.Int32
	removes atomic.Int32
}

func (c *fakeContainer) ID() string { return c.id }

func (c *fakeContainer) Start(ctx context.Context) error { return c.startErr }

func (c *fakeContainer) Attach(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.attachErr != nil {
		return nil, c.attachErr
	}
	return c.stream, nil
}

func (c *fakeContainer) Resize(ctx context.Context, height, width uint) error {
	c.resizes.Add(1)
	return nil
}

func (c *fakeContainer) Stop(ctx context.Context) error {
	c.stops.Add(1)
	return nil
}

func (c *fakeContainer) Remove(ctx context.Context) error {
	c.removes.Add(1)
	return nil
}

type fakeRuntime struct {
	probeErr  error
	pullErr   error
	createErr error

	container *fakeContainer
	pulled    []internal.ImageName
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		container: &fakeContainer{
			id:     "container123",
			stream: newFakeStream(),
		},
	}
}

func (r *fakeRuntime) Probe(ctx context.Context) error { return r.probeErr }

func (r *fakeRuntime) PullImage(ctx context.Context, image internal.ImageName, w internal.Writer) error {
	r.pulled = append(r.pulled, image)
	return r.pullErr
}

func (r *fakeRuntime) CreateContainer(ctx context.Context, name internal.SessionName, image internal.ImageName, cmd internal.Command, env internal.Environment) (internal.ContainerHandle, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	return r.container, nil
}

func testConfig() internal.Config {
	return internal.Config{
		ImageName:     "ubuntu:24.04",
		Shell:         internal.Command{"/bin/bash"},
		StopTimeout:   10,
		ReadyTimeout:  2 * time.Second,
		GeometryDelay: time.Millisecond,
	}
}

func newTestSession(rt *fakeRuntime, config internal.Config) (*internal.Session, *bytes.Buffer) {
	terminal := &bytes.Buffer{}
	w := internal.NewCustomWriter(io.Discard, io.Discard)
	size := func() (uint, uint) { return 24, 80 }
	return internal.NewSession(rt, w, nil, terminal, size, nil, config), terminal
}

func spawnReady(t *testing.T, session *internal.Session, rt *fakeRuntime) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Spawn(context.Background(), "")
	}()

	// First real output makes the session ready.
	rt.container.stream.emit(t, "root@box:/# ")

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("spawn did not complete")
	}
	require.True(t, session.IsReady())
}

func TestSessionSpawn(t *testing.T) {
	t.Run("reaches ready on first real output", func(t *testing.T) {
		rt := newFakeRuntime()
		session, terminal := newTestSession(rt, testConfig())

		spawnReady(t, session, rt)

		assert.Equal(t, internal.PhaseReady, session.Phase())
		assert.Contains(t, terminal.String(), "root@box:/# ")
		assert.Equal(t, []internal.ImageName{"ubuntu:24.04"}, rt.pulled)
	})

	t.Run("image override replaces the configured image", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())

		errCh := make(chan error, 1)
		go func() {
			errCh <- session.Spawn(context.Background(), "alpine:3.20")
		}()
		rt.container.stream.emit(t, "/ # ")
		require.NoError(t, <-errCh)

		assert.Equal(t, []internal.ImageName{"alpine:3.20"}, rt.pulled)
	})

	t.Run("performs geometry setup after readiness", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())

		spawnReady(t, session, rt)

		require.Eventually(t, func() bool {
			input := rt.container.stream.inputString()
			return strings.Contains(input, "export LINES=24 COLUMNS=80") &&
				strings.Contains(input, "\x1b[1;24r")
		}, time.Second, 5*time.Millisecond)
		assert.GreaterOrEqual(t, rt.container.resizes.Load(), int32(1))
	})

	t.Run("falls back to ready when the shell stays silent", func(t *testing.T) {
		rt := newFakeRuntime()
		config := testConfig()
		config.ReadyTimeout = 50 * time.Millisecond
		session, _ := newTestSession(rt, config)

		err := session.Spawn(context.Background(), "")
		require.NoError(t, err)
		assert.True(t, session.IsReady())
	})

	t.Run("fails with AlreadyActiveError while a session is active", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())
		spawnReady(t, session, rt)

		err := session.Spawn(context.Background(), "")
		var active internal.AlreadyActiveError
		require.ErrorAs(t, err, &active)
		assert.Equal(t, internal.PhaseReady, active.Phase)
		assert.Equal(t, internal.PhaseReady, session.Phase(), "existing session phase must be unchanged")
	})

	t.Run("resets to idle when the runtime is unreachable", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.probeErr = errors.New("dial unix /var/run/docker.sock: no such file")
		session, _ := newTestSession(rt, testConfig())

		err := session.Spawn(context.Background(), "")
		var unavailable internal.RuntimeUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Contains(t, err.Error(), "docker ps")
		assert.True(t, session.IsIdle())
	})

	t.Run("resets to idle when the pull fails", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.pullErr = errors.New("manifest unknown")
		session, _ := newTestSession(rt, testConfig())

		err := session.Spawn(context.Background(), "")
		var pull internal.ImagePullError
		require.ErrorAs(t, err, &pull)
		assert.False(t, pull.ConnectionLost)
		assert.True(t, session.IsIdle())
	})

	t.Run("flags a lost connection during the pull", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.pullErr = fmt.Errorf("pulling layer: %w", syscall.ECONNRESET)
		session, _ := newTestSession(rt, testConfig())

		err := session.Spawn(context.Background(), "")
		var pull internal.ImagePullError
		require.ErrorAs(t, err, &pull)
		assert.True(t, pull.ConnectionLost)
		assert.Contains(t, err.Error(), "lost connection")
	})

	t.Run("resets to idle when create fails", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.createErr = errors.New("invalid mount config")
		session, _ := newTestSession(rt, testConfig())

		err := session.Spawn(context.Background(), "")
		var create internal.ContainerCreateError
		require.ErrorAs(t, err, &create)
		assert.True(t, session.IsIdle())
	})

	t.Run("destroys the container when start fails", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.container.startErr = errors.New("oci runtime error")
		session, _ := newTestSession(rt, testConfig())

		err := session.Spawn(context.Background(), "")
		require.Error(t, err)
		assert.True(t, session.IsIdle())
		assert.Equal(t, int32(1), rt.container.removes.Load())
	})

	t.Run("session is reusable after a failed spawn", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.probeErr = errors.New("unreachable")
		session, _ := newTestSession(rt, testConfig())

		require.Error(t, session.Spawn(context.Background(), ""))
		require.True(t, session.IsIdle())

		rt.probeErr = nil
		rt.container.stream = newFakeStream()
		spawnReady(t, session, rt)
	})
}

func TestSessionStreamHandling(t *testing.T) {
	t.Run("metadata chunks are dropped entirely", func(t *testing.T) {
		rt := newFakeRuntime()
		session, terminal := newTestSession(rt, testConfig())

		errCh := make(chan error, 1)
		go func() {
			errCh <- session.Spawn(context.Background(), "")
		}()

		// Framing noise first: no echo, no buffering, no readiness, even
		// with a prompt-like substring inside.
		rt.container.stream.emit(t, `{"stream":true,"stdout":true,"payload":"root@ $ "}`)
		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, session.ReadBuffer())
		assert.Empty(t, terminal.String())
		assert.Equal(t, internal.PhaseAwaitingReady, session.Phase())

		rt.container.stream.emit(t, "root@box:/# ")
		require.NoError(t, <-errCh)

		assert.NotContains(t, session.ReadBuffer(), `"stdout":true`)
	})

	t.Run("real output is echoed and buffered in order", func(t *testing.T) {
		rt := newFakeRuntime()
		session, terminal := newTestSession(rt, testConfig())
		spawnReady(t, session, rt)

		rt.container.stream.emit(t, "one\r\n")
		rt.container.stream.emit(t, "two\r\n")

		require.Eventually(t, func() bool {
			return session.ReadBuffer() == "root@box:/# one\r\ntwo\r\n"
		}, time.Second, 5*time.Millisecond)
		assert.Contains(t, terminal.String(), "one\r\ntwo\r\n")
	})

	t.Run("stream end tears the session down", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())
		spawnReady(t, session, rt)

		rt.container.stream.pw.Close()

		require.Eventually(t, session.IsIdle, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), rt.container.removes.Load())
		assert.Empty(t, session.ReadBuffer(), "buffer resets on session reset")
	})

	t.Run("stream error funnels through the same teardown", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())
		spawnReady(t, session, rt)

		rt.container.stream.pw.CloseWithError(errors.New("connection reset"))

		require.Eventually(t, session.IsIdle, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), rt.container.removes.Load())
	})
}

func TestSessionStop(t *testing.T) {
	t.Run("stop drives exactly one destroy and one reset", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())
		spawnReady(t, session, rt)

		session.Stop()
		session.Stop()

		require.Eventually(t, session.IsIdle, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), rt.container.removes.Load())
	})

	t.Run("stop on an idle session is a no-op", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())

		session.Stop()
		assert.True(t, session.IsIdle())
		assert.Equal(t, int32(0), rt.container.removes.Load())
	})

	t.Run("destroy is idempotent against stop", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())
		spawnReady(t, session, rt)

		session.Stop()
		session.Destroy(context.Background())

		require.Eventually(t, session.IsIdle, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), rt.container.removes.Load())
	})
}

func TestSessionOperations(t *testing.T) {
	t.Run("sendInput is a no-op when idle", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())

		session.SendInput("echo hi\r")
		assert.Empty(t, rt.container.stream.inputString())
	})

	t.Run("readBuffer on an idle session returns empty", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())

		assert.Equal(t, "", session.ReadBuffer())
	})

	t.Run("awaitReady errors when no session is active", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())

		require.Error(t, session.AwaitReady(context.Background()))
	})

	t.Run("awaitReady returns immediately once ready", func(t *testing.T) {
		rt := newFakeRuntime()
		session, _ := newTestSession(rt, testConfig())
		spawnReady(t, session, rt)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, session.AwaitReady(ctx))
		require.NoError(t, session.AwaitReady(ctx), "idempotent after resolution")
	})
}

// TestSessionEndToEnd walks the full lifecycle against the fake runtime:
// spawn, wait for ready, send a command, read its output back, stop.
func TestSessionEndToEnd(t *testing.T) {
	rt := newFakeRuntime()
	session, _ := newTestSession(rt, testConfig())

	spawnReady(t, session, rt)
	require.NoError(t, session.AwaitReady(context.Background()))

	session.SendInput("echo hi\r")
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(rt.container.stream.inputString()), []byte("echo hi\r"))
	}, time.Second, 5*time.Millisecond)

	rt.container.stream.emit(t, "echo hi\r\nhi\r\nroot@box:/# ")
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(session.ReadBuffer()), []byte("hi"))
	}, time.Second, 5*time.Millisecond)

	session.Stop()
	require.Eventually(t, session.IsIdle, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), rt.container.removes.Load())
	require.NoError(t, session.Wait(context.Background()))
}
