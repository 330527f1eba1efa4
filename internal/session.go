package internal

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"
)

// Phase is the session lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePulling
	PhaseCreating
	PhaseStarting
	PhaseAttached
	PhaseAwaitingReady
	PhaseReady
	PhaseStopping
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePulling:
		return "pulling"
	case PhaseCreating:
		return "creating"
	case PhaseStarting:
		return "starting"
	case PhaseAttached:
		return "attached"
	case PhaseAwaitingReady:
		return "awaiting-ready"
	case PhaseReady:
		return "ready"
	case PhaseStopping:
		return "stopping"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// ContainerRuntime is the surface the session needs from the container
// runtime client. The docker package provides the production
// implementation; tests inject fakes.
type ContainerRuntime interface {
	// Probe verifies the runtime is reachable.
	Probe(ctx context.Context) error

	// PullImage pulls image, streaming progress through w.
	PullImage(ctx context.Context, image ImageName, w Writer) error

	// CreateContainer allocates a container with an interactive
	// pseudo-terminal and attached stdio.
	CreateContainer(ctx context.Context, name SessionName, image ImageName, cmd Command, env Environment) (ContainerHandle, error)
}

// ContainerHandle is a created container owned by the session.
type ContainerHandle interface {
	ID() string
	Start(ctx context.Context) error

	// Attach opens the duplex byte stream connected to the container's
	// pseudo-terminal. Reads yield container output; writes feed its stdin;
	// Close ends the stream.
	Attach(ctx context.Context) (io.ReadWriteCloser, error)

	Resize(ctx context.Context, height, width uint) error
	Stop(ctx context.Context) error
	Remove(ctx context.Context) error
}

// SizeFunc reports the host terminal's current dimensions.
type SizeFunc func() (height, width uint)

// Session manages exactly one interactive container and its attached duplex
// stream. It is created once per process and reused: reaching idle again
// after teardown leaves it ready for the next Spawn.
//
// The session is the only component that mutates the container's lifecycle.
// Every path that ends a session funnels through the stream-end handler so
// teardown happens exactly once whether Stop, an interrupt byte, a signal,
// or a stream error initiated it.
type Session struct {
	runtime  ContainerRuntime
	writer   Writer
	status   *StatusLine
	terminal io.Writer
	size     SizeFunc
	restore  func()
	config   Config

	mu         sync.Mutex
	phase      Phase
	image      ImageName
	container  ContainerHandle
	stream     io.ReadWriteCloser
	buffer     *OutputBuffer
	ready      *Latch
	done       *Latch
	shouldStop bool
}

// NewSession creates an idle session. terminal receives verbatim echoes of
// real container output; size supplies terminal dimensions for geometry
// setup; restore puts the host terminal back into cooked mode during
// teardown and may be nil.
func NewSession(runtime ContainerRuntime, w Writer, status *StatusLine, terminal io.Writer, size SizeFunc, restore func(), config Config) *Session {
	return &Session{
		runtime:  runtime,
		writer:   w,
		status:   status,
		terminal: terminal,
		size:     size,
		restore:  restore,
		config:   config,
		phase:    PhaseIdle,
		image:    config.ImageName,
		buffer:   NewOutputBuffer(),
	}
}

// Spawn drives the session from idle to ready: probe the runtime, pull the
// image, create the container with an interactive TTY, start it, attach the
// duplex stream, then wait for first real output (or the readiness timeout)
// before performing terminal geometry setup.
//
// Failures at any step tear down whatever was allocated and reset the
// session to idle; Spawn reports them to the caller instead of crashing the
// process. Spawning while a session is active fails with
// AlreadyActiveError and leaves the active session untouched.
func (s *Session) Spawn(ctx context.Context, imageOverride ImageName) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		return AlreadyActiveError{Phase: phase}
	}
	if imageOverride != "" {
		s.image = imageOverride
	}
	image := s.image
	s.phase = PhasePulling
	s.shouldStop = false
	s.buffer.Reset()
	s.ready = NewLatch()
	s.done = NewLatch()
	ready := s.ready
	s.mu.Unlock()

	s.setStatus(fmt.Sprintf("pulling %s...", image))

	if err := s.runtime.Probe(ctx); err != nil {
		return s.abort(ctx, RuntimeUnavailableError{Err: err})
	}

	if err := s.runtime.PullImage(ctx, image, s.writer); err != nil {
		return s.abort(ctx, ImagePullError{
			Image:          image,
			ConnectionLost: isConnectionLoss(err),
			Err:            err,
		})
	}

	s.setPhase(PhaseCreating)
	s.setStatus("creating container...")

	container, err := s.runtime.CreateContainer(ctx, generateName(), image, s.config.Shell, s.config.Env)
	if err != nil {
		return s.abort(ctx, ContainerCreateError{Image: image, Err: err})
	}
	s.mu.Lock()
	s.container = container
	s.mu.Unlock()

	s.setPhase(PhaseStarting)
	if err := container.Start(ctx); err != nil {
		return s.abort(ctx, fmt.Errorf("failed to start container %q: %w\nContainer may be misconfigured or the runtime may be unhealthy", container.ID(), err))
	}

	s.setPhase(PhaseAttached)
	stream, err := container.Attach(ctx)
	if err != nil {
		return s.abort(ctx, fmt.Errorf("failed to attach to container %q: %w\nContainer may have exited prematurely", container.ID(), err))
	}
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	go s.consume(stream)

	s.setPhase(PhaseAwaitingReady)
	s.setStatus("waiting for shell...")

	// Nudge the shell so a quiet prompt produces output, and arm the
	// fallback so a silent shell cannot hang us.
	go s.SendInput("\n")
	fallback := time.AfterFunc(s.config.ReadyTimeout, ready.Fire)
	defer fallback.Stop()

	if err := ready.Wait(ctx); err != nil {
		return s.abort(ctx, fmt.Errorf("cancelled while waiting for the shell: %w", err))
	}

	// The latch also fires during teardown so waiters never hang; if the
	// session died while we waited, report that instead of claiming ready.
	s.mu.Lock()
	ended := s.shouldStop || s.phase == PhaseIdle
	s.mu.Unlock()
	if ended {
		return fmt.Errorf("container session ended before the shell became ready")
	}

	s.setPhase(PhaseReady)
	s.clearStatus()
	s.setupGeometry(ctx)

	return nil
}

// AwaitReady blocks until the current session's readiness latch fires. It
// returns immediately once fired and errors when no session is active.
func (s *Session) AwaitReady(ctx context.Context) error {
	s.mu.Lock()
	ready := s.ready
	phase := s.phase
	s.mu.Unlock()

	if ready == nil || phase == PhaseIdle {
		return fmt.Errorf("no active container session")
	}
	return ready.Wait(ctx)
}

// SendInput writes raw bytes to the container's stdin. It is a no-op when
// no stream is attached.
func (s *Session) SendInput(text string) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return
	}
	if _, err := stream.Write([]byte(text)); err != nil {
		s.writer.Warningf("failed to write to container stream: %v", err)
	}
}

// ReadBuffer returns the accumulated output. It always succeeds; an idle
// session yields the empty string.
func (s *Session) ReadBuffer() string {
	return s.buffer.String()
}

// ClearBuffer empties the accumulated output.
func (s *Session) ClearBuffer() {
	s.buffer.Reset()
}

// BufferLen returns the number of buffered output characters.
func (s *Session) BufferLen() int {
	return s.buffer.Len()
}

// Stop requests shutdown. It ends the stream and lets the stream-end
// handler drive container destruction so there is a single teardown path no
// matter who initiated it. Safe to call repeatedly; only the first call
// acts.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.phase == PhaseIdle || s.shouldStop {
		s.mu.Unlock()
		return
	}
	s.shouldStop = true
	s.phase = PhaseStopping
	stream := s.stream
	s.mu.Unlock()

	s.setStatus("shutting down session...")
	if stream != nil {
		stream.Close()
		return
	}

	// No stream yet (stop raced an early spawn step); tear down directly.
	s.teardown(context.Background(), nil)
}

// IsReady reports whether the session is attached and past readiness.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseReady
}

// IsIdle reports whether no session is active.
func (s *Session) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseIdle
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Wait blocks until the current session has fully torn down, or returns
// immediately when idle.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	phase := s.phase
	s.mu.Unlock()

	if done == nil || phase == PhaseIdle {
		return nil
	}
	return done.Wait(ctx)
}

// ResizeTTY forwards the host terminal's dimensions to the container's
// pseudo-terminal. It is a no-op when no container is active.
func (s *Session) ResizeTTY(ctx context.Context, height, width uint) error {
	s.mu.Lock()
	container := s.container
	s.mu.Unlock()

	if container == nil {
		return nil
	}
	return container.Resize(ctx, height, width)
}

// Destroy synchronously removes the container and resets the session to
// idle, bypassing the stream. It is the lifecycle controller's cleanup
// hook; removal is idempotent so racing the stream-end handler is safe.
func (s *Session) Destroy(ctx context.Context) {
	s.mu.Lock()
	if s.phase == PhaseIdle {
		s.mu.Unlock()
		return
	}
	s.shouldStop = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	s.teardown(ctx, nil)
}

// consume is the single stream consumer. Chunks are decoded and classified
// in arrival order: runtime metadata is dropped entirely; real output is
// echoed to the host terminal, appended to the buffer, and evaluated for
// readiness, in that order, before the next chunk is read. Stream end or
// error both land in the authoritative teardown path.
func (s *Session) consume(stream io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if !IsRuntimeMetadata(chunk) {
				fmt.Fprint(s.terminal, chunk)
				s.buffer.Append(chunk)
				if SignalsReady(chunk) {
					s.fireReady()
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			s.teardown(context.Background(), err)
			return
		}
	}
}

// teardown is the single authoritative session teardown: clear the status
// overlay, log what happened, restore the host terminal, destroy the
// container if a handle exists, and reset to idle. The container handle is
// taken under the lock so concurrent callers destroy at most once.
func (s *Session) teardown(ctx context.Context, streamErr error) {
	s.mu.Lock()
	if s.phase == PhaseIdle && s.container == nil {
		// Teardown already completed (Stop or Destroy raced the stream
		// consumer); nothing left to do.
		s.mu.Unlock()
		return
	}
	container := s.container
	s.container = nil
	s.stream = nil
	stopped := s.shouldStop
	failed := s.phase == PhaseError
	done := s.done
	ready := s.ready
	s.mu.Unlock()

	s.clearStatus()

	switch {
	case streamErr != nil:
		s.writer.Warningf("container stream error: %v", streamErr)
	case failed:
		// Spawn failure; the caller reports the error itself.
	case stopped:
		s.writer.Println("\r\nsession closed")
	default:
		s.writer.Println("\r\ncontainer session ended")
	}

	if s.restore != nil {
		s.restore()
	}

	if container != nil {
		if err := container.Stop(ctx); err != nil {
			s.writer.Warningf("failed to stop container: %v", err)
		}
		if err := container.Remove(ctx); err != nil {
			s.writer.Warningf("failed to remove container: %v", err)
		}
	}

	s.mu.Lock()
	s.phase = PhaseIdle
	s.buffer.Reset()
	s.mu.Unlock()

	// Unblock anyone still waiting on this session.
	if ready != nil {
		ready.Fire()
	}
	if done != nil {
		done.Fire()
	}
}

// abort converts a spawn failure into a clean reset: status cleared,
// any allocated container destroyed, session idle again. The error is
// returned for the caller; the process keeps running.
func (s *Session) abort(ctx context.Context, err error) error {
	s.mu.Lock()
	s.phase = PhaseError
	s.shouldStop = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	s.teardown(ctx, nil)
	return err
}

// setupGeometry performs one-time terminal geometry setup after readiness:
// export the host terminal's dimensions into the shell environment, then set
// the scrolling region to the full terminal height (DECSTBM). Fixed delays
// between steps tolerate shell startup latency.
func (s *Session) setupGeometry(ctx context.Context) {
	if s.size == nil {
		return
	}
	height, width := s.size()
	if height == 0 && width == 0 {
		return
	}

	if err := s.ResizeTTY(ctx, height, width); err != nil {
		s.writer.Warningf("failed to resize container tty: %v", err)
	}

	time.Sleep(s.config.GeometryDelay)
	s.SendInput(fmt.Sprintf("export LINES=%d COLUMNS=%d\n", height, width))

	time.Sleep(s.config.GeometryDelay)
	s.SendInput(fmt.Sprintf("\x1b[1;%dr", height))
}

func (s *Session) fireReady() {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready != nil {
		ready.Fire()
	}
}

func (s *Session) setPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

func (s *Session) setStatus(text string) {
	if s.status != nil {
		s.status.Set(text)
	}
}

func (s *Session) clearStatus() {
	if s.status != nil {
		s.status.Clear()
	}
}

// generateName produces a fresh container name for a spawn attempt.
func generateName() SessionName {
	return SessionName(fmt.Sprintf("shellbox-%d", rand.Int64N(10000)))
}
