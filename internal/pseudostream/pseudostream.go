// Package pseudostream replays a cached UnifiedChatResponse as a sequence
// of UnifiedChatChunk values: the cache-hit "pseudo-stream" path, whose
// round-trip law is that concatenating every ContentDelta plus the
// terminal FinishReason/ToolCalls must reproduce the cached response
// exactly. Written in translate's SSE-chunk style for consistency with how
// the rest of the module emits UnifiedChatChunk.
package pseudostream

import (
	"unicode/utf8"

	"github.com/mihaisavezi/llmgateway/internal/unified"
)

// ChunkSize is the pseudo-stream fragment size, fixed at a value within
// the commonly recommended 16-64 character range for perceived smoothness.
const ChunkSize = 32

// Replay slices resp's content into ChunkSize fragments (never splitting a
// UTF-8 rune across two chunks) and invokes emit once per fragment, in
// order, followed by exactly one terminal chunk carrying resp's
// FinishReason/ToolCalls/Usage. If resp's content is empty the terminal
// chunk is emitted alone.
func Replay(resp *unified.UnifiedChatResponse, emit func(unified.UnifiedChatChunk)) {
	for _, fragment := range splitRuneSafe(resp.Message.Content, ChunkSize) {
		emit(unified.UnifiedChatChunk{ContentDelta: fragment})
	}

	emit(unified.UnifiedChatChunk{
		FinishReason: resp.FinishReason,
		ToolCalls:    resp.Message.ToolCalls,
		Usage:        resp.Usage,
	})
}

// splitRuneSafe splits s into chunks of at most size bytes, never cutting a
// multi-byte UTF-8 rune in half.
func splitRuneSafe(s string, size int) []string {
	if s == "" {
		return nil
	}

	var chunks []string
	start := 0

	for start < len(s) {
		end := start + size
		if end >= len(s) {
			chunks = append(chunks, s[start:])
			break
		}

		for !utf8.RuneStart(s[end]) {
			end--
		}
		if end == start {
			// size is smaller than a single rune's byte length; take the
			// whole rune to guarantee forward progress.
			_, width := utf8.DecodeRuneInString(s[start:])
			end = start + width
		}

		chunks = append(chunks, s[start:end])
		start = end
	}

	return chunks
}
