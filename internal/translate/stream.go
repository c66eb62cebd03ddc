package translate

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/jsonpath"
	"github.com/mihaisavezi/llmgateway/internal/mergedconfig"
	"github.com/mihaisavezi/llmgateway/internal/template"
	"github.com/mihaisavezi/llmgateway/internal/unified"
)

// contentBlockState tracks one in-progress tool call across SSE chunks,
// generalizing ContentBlockState (internal/providers/
// registry.go) from a fixed Anthropic content-block model to a plain
// accumulator keyed by the provider's own tool-call index.
type contentBlockState struct {
	id        string
	name      string
	arguments strings.Builder
}

// StreamState accumulates state across the lifetime of one SSE chat
// stream, mirroring StreamState (internal/providers/
// registry.go) but generalized to any template's StreamPaths instead of a
// fixed OpenAI/Anthropic pair.
type StreamState struct {
	toolCalls map[int]*contentBlockState
	order     []int
}

// NewStreamState creates an empty StreamState for one streaming response.
func NewStreamState() *StreamState {
	return &StreamState{toolCalls: map[int]*contentBlockState{}}
}

func (s *StreamState) blockFor(index int) *contentBlockState {
	block, ok := s.toolCalls[index]
	if !ok {
		block = &contentBlockState{}
		s.toolCalls[index] = block
		s.order = append(s.order, index)
	}
	return block
}

func (s *StreamState) finalToolCalls() []unified.ToolCall {
	if len(s.order) == 0 {
		return nil
	}

	calls := make([]unified.ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		block := s.toolCalls[idx]
		if block.name == "" {
			continue
		}
		calls = append(calls, unified.ToolCall{
			ID:        block.id,
			Name:      block.name,
			Arguments: block.arguments.String(),
		})
	}
	return calls
}

// StreamChatResponse reads body as a line-oriented SSE stream and invokes
// emit for each UnifiedChatChunk produced.
// Malformed JSON in a single event is skipped, not fatal. A connection
// closed before a terminal [DONE]/finish_reason surfaces StreamTruncated
// after every successfully decoded chunk has already reached emit.
func StreamChatResponse(mc *mergedconfig.MergedConfig, body io.Reader, emit func(unified.UnifiedChatChunk)) *gwerr.Error {
	paths := mc.Template.ChatAPI.StreamPaths
	state := NewStreamState()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		payload     strings.Builder
		sawTerminal bool
	)

	flush := func() {
		data := strings.TrimSpace(payload.String())
		payload.Reset()

		if data == "" {
			return
		}
		if data == "[DONE]" {
			sawTerminal = true
			return
		}

		chunk, terminal, ok := decodeStreamEvent(data, paths, state)
		if !ok {
			return
		}

		emit(chunk)
		if terminal {
			sawTerminal = true
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			flush()
			continue
		}

		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			payload.WriteString(strings.TrimPrefix(rest, " "))
		}
	}

	flush()

	if err := scanner.Err(); err != nil {
		return gwerr.Wrap(gwerr.NetworkError, err, "%s: reading chat stream", mc.ProviderName)
	}

	if !sawTerminal {
		return gwerr.New(gwerr.StreamTruncated, "%s: stream closed before a terminal event", mc.ProviderName)
	}

	return nil
}

// decodeStreamEvent decodes one SSE event's JSON payload into a chunk,
// accumulating tool-call fragments into state. The returned
// bool reports whether the event produced a chunk worth emitting; terminal
// reports whether this chunk carries the stream's FinishReason.
func decodeStreamEvent(data string, paths template.StreamPaths, state *StreamState) (unified.UnifiedChatChunk, bool, bool) {
	var tree any
	if err := json.Unmarshal([]byte(data), &tree); err != nil {
		return unified.UnifiedChatChunk{}, false, false
	}

	var chunk unified.UnifiedChatChunk
	produced := false

	if content, ok := jsonpath.GetString(tree, paths.DeltaContent); ok && content != "" {
		chunk.ContentDelta = content
		produced = true
	}

	if entries, ok := jsonpath.GetSlice(tree, paths.ToolCallsDelta); ok {
		for _, e := range entries {
			accumulateToolCallFragment(e, paths, state)
			produced = true
		}
	}

	terminal := false
	if reason, ok := jsonpath.GetString(tree, paths.FinishReason); ok && reason != "" {
		chunk.FinishReason = mapFinishReason(reason)
		chunk.ToolCalls = state.finalToolCalls()
		terminal = true
		produced = true
	}

	return chunk, terminal, produced
}

// accumulateToolCallFragment folds one tool-call delta fragment into
// state, keyed by the provider's own per-call index — the same
// index/id/function.name/function.arguments progressive-disclosure
// pattern parseToolCallData/findOrCreateContentBlock/
// calculateArgumentsDelta implement (internal/providers/openai.go), here
// driven by the template's StreamPaths instead of hardcoded field names.
func accumulateToolCallFragment(entry any, paths template.StreamPaths, state *StreamState) {
	index := 0
	if v, ok := jsonpath.Get(entry, paths.ToolCallIndex); ok {
		index = toInt(v)
	}

	block := state.blockFor(index)

	if id, ok := jsonpath.GetString(entry, paths.ToolCallID); ok && id != "" {
		block.id = id
	}

	if name, ok := jsonpath.GetString(entry, paths.ToolCallName); ok && name != "" {
		block.name = name
	}

	if args, ok := jsonpath.GetString(entry, paths.ToolCallArguments); ok && args != "" {
		block.arguments.WriteString(args)
	}
}
