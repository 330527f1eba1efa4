package docker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/cli/cli/streams"
	"github.com/jparker/shellbox/internal"
)

// ResizeFunc applies the host terminal's dimensions to the session's
// container TTY. Implementations must tolerate being called when no
// container is active.
type ResizeFunc func(ctx context.Context, height, width uint) error

// TTY keeps the container's pseudo-terminal sized to the host terminal.
type TTY struct {
	out        *streams.Out
	resize     ResizeFunc
	maxRetries int
	retryDelay time.Duration
	writer     internal.Writer
}

// NewTTY creates a TTY handler. maxRetries controls how many times the
// initial resize is retried (the container shell may not be up yet) and
// retryDelay is the base delay between retries.
func NewTTY(out *streams.Out, resize ResizeFunc, maxRetries int, retryDelay time.Duration, writer internal.Writer) TTY {
	return TTY{
		out:        out,
		resize:     resize,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		writer:     writer,
	}
}

// Monitor applies the current size, retrying with linear backoff if the
// first attempt fails, then watches for SIGWINCH and re-applies the size on
// every host terminal resize. Returns after starting the background
// goroutines.
func (t TTY) Monitor(ctx context.Context) error {
	err := t.Resize(ctx)
	if err != nil {
		go func() {
			var err error
			for retry := range t.maxRetries {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(retry+1) * t.retryDelay):
					if err = t.Resize(ctx); err == nil {
						return
					}
				}
			}
			if err != nil {
				t.writer.Warningf("failed to resize tty: %v", err)
			}
		}()
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGWINCH)
	go func() {
		defer signal.Stop(sigchan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigchan:
				_ = t.Resize(ctx)
			}
		}
	}()

	return nil
}

// Resize applies the host terminal's current dimensions. A zero-sized
// terminal is left alone.
func (t TTY) Resize(ctx context.Context) error {
	height, width := t.out.GetTtySize()

	if height == 0 && width == 0 {
		return nil
	}

	return t.resize(ctx, height, width)
}
