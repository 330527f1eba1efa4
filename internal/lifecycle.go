package internal

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// LifecycleController intercepts process termination signals and uncaught
// panics and funnels them into one idempotent cleanup: restore the host
// terminal, destroy the container if one exists, then terminate. The
// "already cleaning up" guard is explicit state here, not a package global.
//
// The controller holds the session for cleanup only; it never creates
// sessions.
type LifecycleController struct {
	session *Session
	writer  Writer
	restore func()
	exit    func(code int)

	cleaning atomic.Bool
	sigchan  chan os.Signal
}

// NewLifecycleController creates a controller for session. restore returns
// the host terminal to cooked mode and must be safe to call more than once;
// exit defaults to os.Exit when nil.
func NewLifecycleController(session *Session, w Writer, restore func(), exit func(code int)) *LifecycleController {
	if exit == nil {
		exit = os.Exit
	}
	return &LifecycleController{
		session: session,
		writer:  w,
		restore: restore,
		exit:    exit,
	}
}

// Register installs the signal handlers. Call once at process start.
func (c *LifecycleController) Register() {
	c.sigchan = make(chan os.Signal, 1)
	signal.Notify(c.sigchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig, ok := <-c.sigchan
		if !ok {
			return
		}
		c.writer.Printf("\r\nreceived %s, cleaning up...\r\n", sig)
		c.Shutdown(1)
	}()
}

// Unregister stops signal delivery, for tests that register repeatedly.
func (c *LifecycleController) Unregister() {
	if c.sigchan != nil {
		signal.Stop(c.sigchan)
		close(c.sigchan)
		c.sigchan = nil
	}
}

// HandlePanic is meant to run deferred at the top of the process: an
// uncaught panic becomes a cleanup trigger rather than a bare crash.
func (c *LifecycleController) HandlePanic() {
	if r := recover(); r != nil {
		c.writer.Warningf("panic occurred: %v", r)
		c.Shutdown(1)
	}
}

// Shutdown performs the idempotent cleanup and terminates the process.
// Only the first caller acts; the rest return immediately.
func (c *LifecycleController) Shutdown(code int) {
	if !c.cleaning.CompareAndSwap(false, true) {
		return
	}

	if c.restore != nil {
		c.restore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.session.Destroy(ctx)

	c.exit(code)
}

// RestoreTerminal runs the synchronous-only exit path: put the terminal
// back without attempting container teardown, which cannot complete
// synchronously at exit time.
func (c *LifecycleController) RestoreTerminal() {
	if c.restore != nil {
		c.restore()
	}
}
