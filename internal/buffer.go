package internal

import "sync"

const (
	// MaxBufferSize is the hard ceiling on buffered output. An append that
	// would cross it triggers truncation first.
	MaxBufferSize = 10000

	// TrimmedBufferSize is how much of the most recent output survives a
	// truncation.
	TrimmedBufferSize = 5000
)

// OutputBuffer accumulates decoded terminal output for on-demand reads. It
// appears unbounded to callers but keeps at most MaxBufferSize characters:
// when an append would exceed the ceiling, everything but the most recent
// TrimmedBufferSize characters is discarded before the append.
type OutputBuffer struct {
	mu   sync.Mutex
	data []byte
}

// NewOutputBuffer creates an empty buffer.
func NewOutputBuffer() *OutputBuffer {
	return &OutputBuffer{}
}

// Append adds text to the buffer, truncating older output first if the
// result would exceed the ceiling.
func (b *OutputBuffer) Append(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data)+len(text) > MaxBufferSize && len(b.data) > TrimmedBufferSize {
		b.data = append(b.data[:0], b.data[len(b.data)-TrimmedBufferSize:]...)
	}
	b.data = append(b.data, text...)

	// A single oversized chunk can blow past the ceiling on its own.
	if len(b.data) > MaxBufferSize {
		b.data = append(b.data[:0], b.data[len(b.data)-MaxBufferSize:]...)
	}
}

// String returns the current buffer contents.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// Len returns the number of buffered characters.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Reset empties the buffer.
func (b *OutputBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
