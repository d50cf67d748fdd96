package lifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NICxKMS/chat-gateway/internal/breaker"
	"github.com/NICxKMS/chat-gateway/internal/cache"
	"github.com/NICxKMS/chat-gateway/internal/provider"
)

func newStreamEngine(heartbeat, inactivity time.Duration) *Engine {
	reg := provider.NewRegistry(map[string]provider.Provider{})
	return NewEngine(Options{
		Providers:         reg,
		Breakers:          breaker.NewRegistry(),
		ResponseCache:     cache.New(true, time.Hour),
		HeartbeatInterval: heartbeat,
		InactivityTimeout: inactivity,
	})
}

func TestRunStream_CleanEndWritesDone(t *testing.T) {
	engine := newStreamEngine(time.Hour, time.Hour)

	content := "hi"
	chunks := make(chan provider.StreamChunk, 1)
	chunks <- provider.StreamChunk{ID: "c1", Content: &content}
	close(chunks)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", nil)
	rec := httptest.NewRecorder()

	err := engine.RunStream(rec, req, validRequest(), "stub", chunks, "")
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, `"id":"c1"`)
	assert.Contains(t, body, "data: [DONE]")
}

func TestRunStream_TerminalChunkCarriesFinishReasonAndUsageBeforeDone(t *testing.T) {
	engine := newStreamEngine(time.Hour, time.Hour)

	content := "world"
	finishReason := "stop"
	chunks := make(chan provider.StreamChunk, 1)
	chunks <- provider.StreamChunk{
		ID:           "c2",
		Content:      &content,
		FinishReason: &finishReason,
		Usage:        provider.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		Done:         true,
	}
	close(chunks)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", nil)
	rec := httptest.NewRecorder()

	err := engine.RunStream(rec, req, validRequest(), "stub", chunks, "")
	require.NoError(t, err)

	body := rec.Body.String()
	doneIdx := strings.Index(body, "data: [DONE]")
	require.GreaterOrEqual(t, doneIdx, 0)
	assert.Contains(t, body, `"content":"world"`)
	assert.Contains(t, body, `"finishReason":"stop"`)
	assert.Contains(t, body, `"totalTokens":5`)
	assert.Less(t, strings.Index(body, `"id":"c2"`), doneIdx)
}

func TestRunStream_ErrorChunkWritesErrorEventThenDone(t *testing.T) {
	engine := newStreamEngine(time.Hour, time.Hour)

	chunks := make(chan provider.StreamChunk, 1)
	chunks <- provider.StreamChunk{Error: assert.AnError}
	close(chunks)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", nil)
	rec := httptest.NewRecorder()

	err := engine.RunStream(rec, req, validRequest(), "stub", chunks, "")
	require.NoError(t, err)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "event: error"))
	assert.Contains(t, body, "data: [DONE]")
}

func TestRunStream_ContextCancelWritesAbortEvent(t *testing.T) {
	engine := newStreamEngine(time.Hour, time.Hour)

	req, cancel := requestWithCancel()
	chunks := make(chan provider.StreamChunk)
	rec := httptest.NewRecorder()

	cancel()

	err := engine.RunStream(rec, req, validRequest(), "stub", chunks, "")
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), "event: abort")
}

func requestWithCancel() (*http.Request, context.CancelFunc) {
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", nil)
	ctx, cancel := context.WithCancel(req.Context())
	return req.WithContext(ctx), cancel
}
