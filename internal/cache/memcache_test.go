package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_StableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"provider": "openai", "model": "gpt-4o", "temperature": 0.7}
	b := map[string]any{"temperature": 0.7, "model": "gpt-4o", "provider": "openai"}

	assert.Equal(t, GenerateKey(a), GenerateKey(b))
}

func TestGenerateKey_TruncatesMessages(t *testing.T) {
	longMessages := make([]any, 0, 20)
	for i := 0; i < 20; i++ {
		longMessages = append(longMessages, map[string]any{"role": "user", "content": i})
	}

	a := map[string]any{"messages": longMessages}

	// Changing an early message (outside the last maxKeyMessages) must not
	// change the key.
	modified := make([]any, len(longMessages))
	copy(modified, longMessages)
	modified[0] = map[string]any{"role": "user", "content": "different"}
	b := map[string]any{"messages": modified}

	assert.Equal(t, GenerateKey(a), GenerateKey(b))

	// Changing a message within the last maxKeyMessages DOES change the key.
	modified2 := make([]any, len(longMessages))
	copy(modified2, longMessages)
	modified2[len(modified2)-1] = map[string]any{"role": "user", "content": "different"}
	c := map[string]any{"messages": modified2}

	assert.NotEqual(t, GenerateKey(a), GenerateKey(c))
}

func TestCache_RoundTrip(t *testing.T) {
	c := New(true, time.Hour)
	defer c.Close()

	c.Set("k1", "v1", 50*time.Millisecond, "general")

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	time.Sleep(70 * time.Millisecond)

	_, ok = c.Get("k1")
	assert.False(t, ok)
}

func TestCache_GetOrSet_FactoryCalledOnce(t *testing.T) {
	c := New(true, time.Hour)
	defer c.Close()

	var calls int64
	factory := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		return "computed", nil
	}

	for i := 0; i < 5; i++ {
		v, err := c.GetOrSet(context.Background(), "shared-key", factory, time.Minute, "general")
		require.NoError(t, err)
		assert.Equal(t, "computed", v)
	}

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestCache_Stats(t *testing.T) {
	c := New(true, time.Hour)
	defer c.Close()

	c.Set("a", 1, time.Minute, "chat")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.Categories["chat"])
}
