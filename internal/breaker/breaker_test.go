package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("test", Options{FailureThreshold: 3, ResetTimeout: 30 * time.Second})

	failing := func() (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := b.Execute(failing)
		require.Error(t, err)
	}

	assert.Equal(t, Open, b.State())

	// Further calls fail fast without invoking the action.
	called := false
	_, err := b.Execute(func() (any, error) {
		called = true
		return nil, nil
	})
	require.Error(t, err)
	assert.False(t, called)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeCircuitOpen, appErr.Code)
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	b := New("test", Options{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	_, err := b.Execute(func() (any, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, Open, b.State())

	time.Sleep(15 * time.Millisecond)

	_, err = b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New("test", Options{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	_, _ = b.Execute(func() (any, error) { return nil, errors.New("boom") })
	time.Sleep(15 * time.Millisecond)

	_, err := b.Execute(func() (any, error) { return nil, errors.New("still failing") })
	require.Error(t, err)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_Fallback(t *testing.T) {
	calls := 0
	b := New("test", Options{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		Fallback: func(err error) (any, error) {
			calls++
			return "fallback-value", nil
		},
	})

	_, _ = b.Execute(func() (any, error) { return nil, errors.New("boom") })
	assert.Equal(t, Open, b.State())

	val, err := b.Execute(func() (any, error) { return nil, errors.New("unreachable") })
	require.NoError(t, err)
	assert.Equal(t, "fallback-value", val)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, b.Stats().FallbackCalls)
}

func TestRegistry_SameKeyReturnsSingleton(t *testing.T) {
	r := NewRegistry()
	b1 := r.Get("openai-completion", Options{FailureThreshold: 5})
	b2 := r.Get("openai-completion", Options{FailureThreshold: 99})

	assert.Same(t, b1, b2)
}

func TestRegistry_AllListsRegisteredBreakers(t *testing.T) {
	r := NewRegistry()
	r.Get("openai-completion", Options{})
	r.Get("anthropic-completion", Options{})

	stats := r.All()
	assert.Len(t, stats, 2)
}
