package classify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/NICxKMS/chat-gateway/internal/provider"
)

func TestJSONCodec_RoundTrip(t *testing.T) {
	var codec jsonCodec

	req := LoadedModelList{
		Models:          []Model{{ID: "gpt-4o", Provider: "openai"}},
		DefaultProvider: "openai",
	}

	b, err := codec.Marshal(req)
	require.NoError(t, err)

	var out LoadedModelList
	require.NoError(t, codec.Unmarshal(b, &out))
	assert.Equal(t, req, out)
	assert.Equal(t, "json-classify", codec.Name())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(status.Error(codes.Unavailable, "down")))
	assert.True(t, isTransient(status.Error(codes.DeadlineExceeded, "slow")))
	assert.False(t, isTransient(status.Error(codes.InvalidArgument, "bad request")))
	assert.False(t, isTransient(status.Error(codes.NotFound, "missing")))
}

func TestSleepBackoff_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleepBackoff(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepBackoff_NeverExceedsCap(t *testing.T) {
	start := time.Now()
	err := sleepBackoff(context.Background(), 0)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, backoffCap+jitterMax)
}

func TestBuildModelList_SkipsMissingIDsAndMapsCapabilities(t *testing.T) {
	descriptors := map[string]provider.Descriptor{
		"openai": {
			Models: []provider.ModelInfo{
				{ID: "gpt-4o", Name: "GPT-4o", TokenLimit: 128000, Features: provider.Features{Streaming: true, Vision: true}},
				{ID: "", Name: "unnamed"},
			},
		},
	}

	list := BuildModelList(descriptors, "openai", "gpt-4o")

	require.Len(t, list.Models, 1)
	m := list.Models[0]
	assert.Equal(t, "gpt-4o", m.ID)
	assert.Equal(t, "openai", m.Provider)
	assert.True(t, m.IsMultimodal)
	assert.ElementsMatch(t, []string{"streaming", "vision"}, m.Capabilities)
	assert.Equal(t, "openai", list.DefaultProvider)
	assert.Equal(t, "gpt-4o", list.DefaultModel)
}
