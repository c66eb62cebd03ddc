package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetAndTryGet(t *testing.T) {
	s := NewStore()
	s.Set("k1", "v1", time.Minute)

	v, ok := s.TryGet("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = s.TryGet("missing")
	assert.False(t, ok)
}

func TestStore_Expiry(t *testing.T) {
	s := NewStore()
	s.Set("k1", "v1", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	_, ok := s.TryGet("k1")
	assert.False(t, ok)
}

func TestStore_InvalidateByPrefix(t *testing.T) {
	s := NewStore()
	s.Set("chat:openai:gpt-4o:conv:aaaa:1", "a", time.Minute)
	s.Set("chat:openai:gpt-4o:conv:aaaa:2", "b", time.Minute)
	s.Set("chat:openai:gpt-4o:conv:bbbb:1", "c", time.Minute)

	s.InvalidateByPrefix("chat:openai:gpt-4o:conv:aaaa:")

	_, ok := s.TryGet("chat:openai:gpt-4o:conv:aaaa:1")
	assert.False(t, ok)
	_, ok = s.TryGet("chat:openai:gpt-4o:conv:aaaa:2")
	assert.False(t, ok)

	_, ok = s.TryGet("chat:openai:gpt-4o:conv:bbbb:1")
	assert.True(t, ok)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Set("k1", "v1", time.Minute)
	s.Clear()

	_, ok := s.TryGet("k1")
	assert.False(t, ok)
}
