package internal

import (
	"strings"
	"unicode"
)

// metadataMarkers are the structural key fragments the runtime's attach
// mechanism interleaves into the stream. A chunk carrying one of these
// inside a JSON-shaped frame is framing noise, not program output.
var metadataMarkers = []string{
	`"stream"`,
	`"stdout"`,
	`"stderr"`,
	`"status"`,
	`"error"`,
}

// promptMarkers are shell-prompt fragments whose appearance in real output
// indicates the shell is up and accepting input.
var promptMarkers = []string{
	"# ",
	"$ ",
	"root@",
}

// IsRuntimeMetadata reports whether a decoded chunk is attach-framing noise
// that must be dropped: never echoed, never buffered, never considered for
// readiness.
//
// This is a heuristic over chunk contents. Legitimate output that happens to
// print a JSON object with one of the marker keys will be misclassified;
// that is the accepted contract of the filter, not a bug to quietly fix.
func IsRuntimeMetadata(chunk string) bool {
	trimmed := strings.TrimSpace(chunk)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	for _, marker := range metadataMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return false
}

// SignalsReady reports whether a chunk counts as evidence the container's
// shell has produced initial real output. Metadata never qualifies, even
// when it contains prompt-like substrings. Otherwise a chunk qualifies if it
// carries a recognizable prompt fragment, or if it is substantial (more than
// ten non-whitespace characters) and spans a line break.
func SignalsReady(chunk string) bool {
	if IsRuntimeMetadata(chunk) {
		return false
	}
	for _, marker := range promptMarkers {
		if strings.Contains(chunk, marker) {
			return true
		}
	}
	if !strings.Contains(chunk, "\n") {
		return false
	}
	var visible int
	for _, r := range chunk {
		if !unicode.IsSpace(r) {
			visible++
			if visible > 10 {
				return true
			}
		}
	}
	return false
}
