package pseudostream

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/llmgateway/internal/unified"
)

func TestReplay_ReconstructsContentExactly(t *testing.T) {
	resp := &unified.UnifiedChatResponse{
		FinishReason: unified.FinishStop,
		Message: unified.ChatMessage{
			Role:    unified.RoleAssistant,
			Content: strings.Repeat("ab", 50), // 100 bytes, not a multiple of ChunkSize
		},
	}

	var chunks []unified.UnifiedChatChunk
	Replay(resp, func(c unified.UnifiedChatChunk) {
		chunks = append(chunks, c)
	})

	require.NotEmpty(t, chunks)

	var rebuilt strings.Builder
	for _, c := range chunks[:len(chunks)-1] {
		rebuilt.WriteString(c.ContentDelta)
		assert.Empty(t, c.FinishReason)
	}

	assert.Equal(t, resp.Message.Content, rebuilt.String())

	terminal := chunks[len(chunks)-1]
	assert.Equal(t, unified.FinishStop, terminal.FinishReason)
	assert.Empty(t, terminal.ContentDelta)
}

func TestReplay_ChunksAreBoundedBySize(t *testing.T) {
	resp := &unified.UnifiedChatResponse{
		FinishReason: unified.FinishStop,
		Message:      unified.ChatMessage{Content: strings.Repeat("x", 100)},
	}

	var chunks []unified.UnifiedChatChunk
	Replay(resp, func(c unified.UnifiedChatChunk) {
		chunks = append(chunks, c)
	})

	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len(c.ContentDelta), ChunkSize)
	}
}

func TestReplay_MultiByteRunesNotSplit(t *testing.T) {
	content := strings.Repeat("日本語テスト", 10)
	resp := &unified.UnifiedChatResponse{
		FinishReason: unified.FinishStop,
		Message:      unified.ChatMessage{Content: content},
	}

	var rebuilt strings.Builder
	Replay(resp, func(c unified.UnifiedChatChunk) {
		if c.ContentDelta != "" {
			assert.True(t, utf8.ValidString(c.ContentDelta))
			rebuilt.WriteString(c.ContentDelta)
		}
	})

	assert.Equal(t, content, rebuilt.String())
}

func TestReplay_EmptyContentEmitsOnlyTerminalChunk(t *testing.T) {
	resp := &unified.UnifiedChatResponse{
		FinishReason: unified.FinishToolCalls,
		Message: unified.ChatMessage{
			Role:      unified.RoleAssistant,
			ToolCalls: []unified.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"nyc"}`}},
		},
	}

	var chunks []unified.UnifiedChatChunk
	Replay(resp, func(c unified.UnifiedChatChunk) {
		chunks = append(chunks, c)
	})

	require.Len(t, chunks, 1)
	assert.Equal(t, unified.FinishToolCalls, chunks[0].FinishReason)
	require.Len(t, chunks[0].ToolCalls, 1)
	assert.Equal(t, "get_weather", chunks[0].ToolCalls[0].Name)
}
