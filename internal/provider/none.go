package provider

import (
	"context"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
)

// NoneProvider is the always-available fallback registered under the name
// "none". It never forwards a completion anywhere — every call returns
// ProviderNotConfiguredError — so callers that ask for a provider and get
// the zero-value registry (no upstream configured at all) still get a
// typed, well-formed error instead of a nil-pointer panic.
type NoneProvider struct{}

func NewNoneProvider() *NoneProvider { return &NoneProvider{} }

func (n *NoneProvider) Name() string { return "none" }

func (n *NoneProvider) GetModels(ctx context.Context) ([]ModelInfo, error) {
	return nil, nil
}

func (n *NoneProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*StandardResponse, error) {
	return nil, apperr.ProviderNotConfiguredError("none")
}

func (n *NoneProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	return nil, apperr.ProviderNotConfiguredError("none")
}
