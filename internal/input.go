package internal

import (
	"fmt"
	"io"
	"strings"
)

const (
	interruptByte   = 0x03 // Ctrl-C
	commandModeByte = 0x1d // Ctrl-], the telnet escape convention
	backspaceByte   = 0x7f
	backspaceCtrl   = 0x08
)

const commandHelp = "\r\ncommands: stop | exit | quit | status | clear | help\r\n"

// Router classifies raw host-keyboard bytes while the terminal is in raw
// mode. In priority order: the interrupt byte ends the session; the escape
// byte enters command mode; command-mode bytes edit or submit a local
// command; everything else is forwarded verbatim to the container stream.
//
// Command-mode state is ephemeral and lives only here; it resets on entry,
// cancellation, and execution.
type Router struct {
	session  *Session
	terminal io.Writer

	commandMode bool
	pending     []byte
}

// NewRouter creates a router feeding session. Command-mode prompts and
// echoes are written to terminal directly, bypassing the container stream.
func NewRouter(session *Session, terminal io.Writer) *Router {
	return &Router{
		session:  session,
		terminal: terminal,
	}
}

// Handle processes a batch of keyboard bytes in arrival order.
func (r *Router) Handle(input []byte) {
	for _, b := range input {
		r.handleByte(b)
	}
}

// InCommandMode reports whether the router is accumulating a local command.
func (r *Router) InCommandMode() bool {
	return r.commandMode
}

func (r *Router) handleByte(b byte) {
	switch {
	case b == interruptByte:
		// Unconditional: ends the session even mid-command.
		r.reset()
		r.session.Stop()

	case r.commandMode:
		r.handleCommandByte(b)

	case b == commandModeByte:
		r.commandMode = true
		r.pending = r.pending[:0]
		fmt.Fprint(r.terminal, "\r\n: ")

	default:
		r.session.SendInput(string([]byte{b}))
	}
}

func (r *Router) handleCommandByte(b byte) {
	switch {
	case b == backspaceByte || b == backspaceCtrl:
		if len(r.pending) == 0 {
			r.reset()
			return
		}
		r.pending = r.pending[:len(r.pending)-1]
		fmt.Fprint(r.terminal, "\b \b")

	case b == '\r' || b == '\n':
		command := strings.ToUpper(strings.TrimSpace(string(r.pending)))
		r.reset()
		r.execute(command)

	case b >= 0x20 && b < 0x7f:
		r.pending = append(r.pending, b)
		fmt.Fprint(r.terminal, string([]byte{b}))
	}
}

func (r *Router) execute(command string) {
	switch command {
	case "":
		// Cancelled silently.

	case "STOP", "EXIT", "QUIT":
		r.session.Stop()

	case "HELP", "?":
		fmt.Fprint(r.terminal, commandHelp)

	case "STATUS":
		fmt.Fprintf(r.terminal, "\r\nbuffer: %d chars\r\n", r.session.BufferLen())

	case "CLEAR":
		r.session.ClearBuffer()
		fmt.Fprint(r.terminal, "\r\nbuffer cleared\r\n")

	default:
		fmt.Fprintf(r.terminal, "\r\nunknown command %q\r\n", command)
	}
}

func (r *Router) reset() {
	r.commandMode = false
	r.pending = r.pending[:0]
}
