package provider

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
)

// TestOpenAIProvider_ChatCompletion_Cassette replays a recorded chat
// completions exchange instead of calling a live API, so the adapter's
// request/response translation is exercised without a network dependency.
func TestOpenAIProvider_ChatCompletion_Cassette(t *testing.T) {
	rec, err := recorder.NewWithOptions(&recorder.Options{
		CassetteName: "testdata/cassettes/openai_chat_completion",
		Mode:         recorder.ModeReplayOnly,
	})
	require.NoError(t, err)
	defer rec.Stop()

	p := NewOpenAIProvider(OpenAIOptions{
		Name:    "openai",
		APIKey:  "test-key",
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Transport: rec},
	})

	resp, err := p.ChatCompletion(context.Background(), &ChatRequest{
		ModelName: "gpt-4o-mini",
		Messages:  []Message{{Role: "user", Content: Content{Text: "hi"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "chatcmpl-cassette-1", resp.ID)
	assert.Equal(t, "hello from the cassette", *resp.Content)
	assert.Equal(t, "stop", *resp.FinishReason)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
}
