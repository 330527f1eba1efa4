package internal

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// StatusLine renders a one-line banner on the terminal's bottom row without
// disturbing the cursor or the session's output stream. It writes directly
// to the host terminal, never through the session's decoded-stream path, so
// banner text can never leak into the output buffer.
//
// The row count is re-queried on every write; nothing is cached across
// terminal resizes.
type StatusLine struct {
	out  *termenv.Output
	rows func() int
}

// NewStatusLine creates a status line targeting terminal. The rows function
// must return the terminal's current height in rows, or zero when the
// height is unknown (writes are skipped in that case).
func NewStatusLine(terminal io.Writer, rows func() int) *StatusLine {
	return &StatusLine{
		out:  termenv.NewOutput(terminal),
		rows: rows,
	}
}

// Set overwrites the bottom row with text, restoring the cursor afterwards.
func (s *StatusLine) Set(text string) {
	s.write(text)
}

// Setf overwrites the bottom row with a formatted message.
func (s *StatusLine) Setf(format string, v ...interface{}) {
	s.write(fmt.Sprintf(format, v...))
}

// Clear erases the bottom row, restoring the cursor afterwards.
func (s *StatusLine) Clear() {
	s.write("")
}

func (s *StatusLine) write(text string) {
	rows := s.rows()
	if rows <= 0 {
		return
	}
	s.out.SaveCursorPosition()
	s.out.MoveCursor(rows, 1)
	s.out.ClearLine()
	if text != "" {
		fmt.Fprint(s.out, text)
	}
	s.out.RestoreCursorPosition()
}
