package internal

import (
	"fmt"
	"io"
	"os"
)

// Writer provides the output operations library code needs. Callers control
// where output lands rather than library code printing through globals; on a
// raw terminal the caller can substitute a writer that normalizes line
// endings or discards output entirely.
type Writer interface {
	// Print writes a message to the output stream.
	Print(v ...interface{})

	// Printf writes a formatted message to the output stream.
	Printf(format string, v ...interface{})

	// Println writes a message with a newline to the output stream.
	Println(v ...interface{})

	// Warning writes a warning message to the error stream.
	Warning(v ...interface{})

	// Warningf writes a formatted warning message to the error stream.
	Warningf(format string, v ...interface{})

	// GetWriter returns the underlying io.Writer for direct writing.
	GetWriter() io.Writer
}

// StandardWriter implements Writer using standard output/error streams.
type StandardWriter struct {
	out io.Writer
	err io.Writer
}

// NewStandardWriter creates a Writer that outputs to stdout and stderr.
func NewStandardWriter() *StandardWriter {
	return &StandardWriter{
		out: os.Stdout,
		err: os.Stderr,
	}
}

// NewCustomWriter creates a Writer with custom output streams. The out
// stream is used for normal output, err for warnings.
func NewCustomWriter(out, err io.Writer) *StandardWriter {
	return &StandardWriter{
		out: out,
		err: err,
	}
}

// Print writes a message to the output stream without adding a newline.
func (w *StandardWriter) Print(v ...interface{}) {
	fmt.Fprint(w.out, v...)
}

// Printf writes a formatted message to the output stream.
func (w *StandardWriter) Printf(format string, v ...interface{}) {
	fmt.Fprintf(w.out, format, v...)
}

// Println writes a message with a newline to the output stream.
func (w *StandardWriter) Println(v ...interface{}) {
	fmt.Fprintln(w.out, v...)
}

// Warning writes a warning message to the error stream with a "Warning: " prefix.
func (w *StandardWriter) Warning(v ...interface{}) {
	fmt.Fprint(w.err, "Warning: ")
	fmt.Fprintln(w.err, v...)
}

// Warningf writes a formatted warning message to the error stream with a "Warning: " prefix.
func (w *StandardWriter) Warningf(format string, v ...interface{}) {
	fmt.Fprintf(w.err, "Warning: "+format+"\n", v...)
}

// GetWriter returns the underlying io.Writer for direct writing to the output stream.
func (w *StandardWriter) GetWriter() io.Writer {
	return w.out
}
