package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
	"github.com/NICxKMS/chat-gateway/internal/breaker"
	"github.com/NICxKMS/chat-gateway/internal/cache"
	"github.com/NICxKMS/chat-gateway/internal/provider"
)

type stubProvider struct {
	name       string
	calls      int
	err        error
	chunks     []provider.StreamChunk
	streamErr  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) GetModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (s *stubProvider) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.StandardResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	content := "hello"
	return &provider.StandardResponse{ID: "r1", Model: req.ModelName, Provider: s.name, Content: &content}, nil
}

func (s *stubProvider) ChatCompletionStream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	ch := make(chan provider.StreamChunk, len(s.chunks)+1)
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func newTestEngine(p provider.Provider) *Engine {
	reg := provider.NewRegistry(map[string]provider.Provider{"stub": p})
	return NewEngine(Options{
		Providers:     reg,
		Breakers:      breaker.NewRegistry(),
		ResponseCache: cache.New(true, time.Hour),
	})
}

func validRequest() *provider.ChatRequest {
	return &provider.ChatRequest{
		Model: "stub/model-a",
		Messages: []provider.Message{
			{Role: "user", Content: provider.Content{Text: "hi"}},
		},
	}
}

func TestResolveModel_SplitsAtFirstSlash(t *testing.T) {
	p, m := ResolveModel("openai/gpt-4o", "anthropic")
	assert.Equal(t, "openai", p)
	assert.Equal(t, "gpt-4o", m)
}

func TestResolveModel_NoSlashUsesDefaultProvider(t *testing.T) {
	p, m := ResolveModel("gpt-4o", "openai")
	assert.Equal(t, "openai", p)
	assert.Equal(t, "gpt-4o", m)
}

func TestDeriveRequestID_PrefersBodyThenHeaderThenGenerated(t *testing.T) {
	assert.Equal(t, "body-id", DeriveRequestID("body-id", "header-id"))
	assert.Equal(t, "header-id", DeriveRequestID("", "header-id"))
	assert.NotEmpty(t, DeriveRequestID("", ""))
}

func TestComplete_ValidationErrorOnEmptyMessages(t *testing.T) {
	engine := newTestEngine(&stubProvider{name: "stub"})
	req := &provider.ChatRequest{Model: "stub/model-a"}

	_, _, err := engine.Complete(context.Background(), req, "")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeValidation, appErr.Code)
}

func TestComplete_CacheHitSkipsSecondProviderCall(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	engine := newTestEngine(stub)

	resp1, _, err := engine.Complete(context.Background(), validRequest(), "")
	require.NoError(t, err)
	assert.False(t, resp1.Cached)

	resp2, _, err := engine.Complete(context.Background(), validRequest(), "")
	require.NoError(t, err)
	assert.True(t, resp2.Cached)
	assert.Equal(t, 1, stub.calls)
}

func TestComplete_NoCacheBypassesCache(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	engine := newTestEngine(stub)

	req := validRequest()
	req.NoCache = true

	_, _, err := engine.Complete(context.Background(), req, "")
	require.NoError(t, err)
	_, _, err = engine.Complete(context.Background(), req, "")
	require.NoError(t, err)

	assert.Equal(t, 2, stub.calls)
}

func TestComplete_BreakerOpensAfterThreshold(t *testing.T) {
	stub := &stubProvider{name: "stub", err: assert.AnError}
	engine := newTestEngine(stub)
	engine.breakers = breaker.NewRegistry()

	for i := 0; i < 5; i++ {
		req := validRequest()
		req.NoCache = true
		req.RequestID = ""
		_, _, _ = engine.Complete(context.Background(), req, "")
	}

	req := validRequest()
	req.NoCache = true
	_, _, err := engine.Complete(context.Background(), req, "")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeCircuitOpen, appErr.Code)
}

func TestStop_IdempotentOnUnknownRequestID(t *testing.T) {
	engine := newTestEngine(&stubProvider{name: "stub"})
	assert.NotPanics(t, func() {
		engine.Stop("does-not-exist")
		engine.Stop("does-not-exist")
	})
}
