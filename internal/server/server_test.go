package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NICxKMS/chat-gateway/internal/breaker"
	"github.com/NICxKMS/chat-gateway/internal/cache"
	"github.com/NICxKMS/chat-gateway/internal/lifecycle"
	"github.com/NICxKMS/chat-gateway/internal/provider"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) GetModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: "model-a", Provider: s.name}}, nil
}
func (s *stubProvider) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.StandardResponse, error) {
	content := "hello from " + s.name
	return &provider.StandardResponse{ID: "r1", Provider: s.name, Model: req.ModelName, Content: &content}, nil
}
func (s *stubProvider) ChatCompletionStream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk, 1)
	content := "hi"
	ch <- provider.StreamChunk{ID: "c1", Content: &content}
	close(ch)
	return ch, nil
}

func newTestServer() *Server {
	reg := provider.NewRegistry(map[string]provider.Provider{"stub": &stubProvider{name: "stub"}})
	breakers := breaker.NewRegistry()
	respCache := cache.New(true, time.Hour)
	engine := lifecycle.NewEngine(lifecycle.Options{
		Providers:     reg,
		Breakers:      breakers,
		ResponseCache: respCache,
	})
	return New(Options{Engine: engine, Breakers: breakers, ResponseCache: respCache})
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
}

func TestHandleChatCompletions_RoundTrip(t *testing.T) {
	srv := newTestServer()
	payload := `{"model":"stub/model-a","messages":[{"role":"user","content":"hi"}]}`

	req := httptest.NewRequest(http.MethodPost, "/api/chat/completions", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp provider.StandardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stub", resp.Provider)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleChatCompletions_InvalidBodyReturnsValidationError(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/completions", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatStop_IdempotentOnUnknownID(t *testing.T) {
	srv := newTestServer()
	body := `{"requestId":"does-not-exist"}`

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/stop", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestHandleModels_ListsConfiguredProviders(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "providers")
}

func TestHandleModelsClassified_DisabledReturns501(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/models/classified", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
