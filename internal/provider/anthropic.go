package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
	"github.com/NICxKMS/chat-gateway/internal/sse"
)

// AnthropicProvider implements Provider for Anthropic's Messages API. Same
// overall shape as GoogleProvider: translate ChatRequest into the vendor's
// wire format, make the HTTP call, translate the result back into
// StandardResponse/StreamChunk.
type AnthropicProvider struct {
	name    string
	apiKey  string
	baseURL string // e.g. "https://api.anthropic.com/v1"
	client  *http.Client
	models  []ModelInfo
}

// AnthropicOptions configures an AnthropicProvider. Name lets an aggregator
// or alternate-compatible deployment register the same adapter under a
// different provider key.
type AnthropicOptions struct {
	Name    string
	APIKey  string
	BaseURL string
	Client  *http.Client
	Models  []ModelInfo
}

func NewAnthropicProvider(opts AnthropicOptions) *AnthropicProvider {
	name := opts.Name
	if name == "" {
		name = "anthropic"
	}
	return &AnthropicProvider{
		name:    name,
		apiKey:  opts.APIKey,
		baseURL: opts.BaseURL,
		client:  opts.Client,
		models:  opts.Models,
	}
}

func (a *AnthropicProvider) Name() string { return a.name }

func (a *AnthropicProvider) GetModels(ctx context.Context) ([]ModelInfo, error) {
	return a.models, nil
}

// anthropicAPIVersion pins the behavior of the Anthropic Messages API.
// Anthropic versions via a date-stamped header instead of the URL path.
const anthropicAPIVersion = "2023-06-01"

// anthropicDefaultMaxTokens is used when a caller doesn't set max_tokens;
// Anthropic rejects requests that omit it entirely.
const anthropicDefaultMaxTokens = 1024

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string                   `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock covers both outbound blocks we send (text, image)
// and inbound blocks Anthropic returns (text, tool_use — we only read text).
type anthropicContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	ID         string                   `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                   `json:"model"`
	StopReason string                   `json:"stop_reason"`
	Usage      anthropicUsage           `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicStreamEvent is a catch-all wrapper: every SSE event from
// Anthropic carries a "type" discriminator and only the fields relevant to
// that type, with everything else left at its zero value.
type anthropicStreamEvent struct {
	Type    string                  `json:"type"`
	Message *anthropicEventMessage  `json:"message,omitempty"`
	Delta   *anthropicEventDelta    `json:"delta,omitempty"`
	Usage   *anthropicUsage         `json:"usage,omitempty"`
}

type anthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicEventDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// toAnthropicRequest translates a ChatRequest into Anthropic's wire format:
// system messages lifted out, alternation enforced, max_tokens defaulted.
func toAnthropicRequest(req *ChatRequest) *anthropicRequest {
	system, rest := ExtractSystemPrompt(req.Messages)
	rest = NormalizeAlternation(rest, "assistant")

	ar := &anthropicRequest{Model: req.ModelName, System: system}
	for _, msg := range rest {
		ar.Messages = append(ar.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: toAnthropicBlocks(msg.Content),
		})
	}

	if req.MaxTokens > 0 {
		ar.MaxTokens = req.MaxTokens
	} else {
		ar.MaxTokens = anthropicDefaultMaxTokens
	}

	return ar
}

func toAnthropicBlocks(c Content) []anthropicContentBlock {
	if !c.IsParts {
		return []anthropicContentBlock{{Type: "text", Text: c.Text}}
	}

	blocks := make([]anthropicContentBlock, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			mediaType, data, ok := parseDataURL(p.ImageURL.URL)
			if !ok {
				continue
			}
			blocks = append(blocks, anthropicContentBlock{
				Type: "image",
				Source: &anthropicSource{
					Type:      "base64",
					MediaType: mediaType,
					Data:      data,
				},
			})
		}
	}
	return blocks
}

// parseDataURL splits a "data:<mediaType>;base64,<data>" URL into its
// media type and payload. Anthropic only accepts inline base64 images, not
// remote image URLs, so http(s) URLs are rejected by returning ok=false.
func parseDataURL(raw string) (mediaType, data string, ok bool) {
	const prefix = "data:"
	if len(raw) <= len(prefix) || raw[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := raw[len(prefix):]
	semi := indexByte(rest, ';')
	comma := indexByte(rest, ',')
	if semi < 0 || comma < 0 || comma < semi {
		return "", "", false
	}
	return rest[:semi], rest[comma+1:], true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (a *AnthropicProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*StandardResponse, error) {
	start := time.Now()
	anthropicReq := toAnthropicRequest(req)

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, apperr.InternalError("marshaling anthropic request", err)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.InternalError("creating anthropic request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, apperr.ProviderError(a.name, "sending request to anthropic", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapProviderHTTPError(a.name, httpResp)
	}

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthropicResp); err != nil {
		return nil, apperr.ProviderError(a.name, "decoding anthropic response", err)
	}

	var text string
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	return &StandardResponse{
		ID:           anthropicResp.ID,
		Model:        anthropicResp.Model,
		Provider:     a.name,
		CreatedAt:    start,
		Content:      StringPtr(text),
		FinishReason: StringPtr(anthropicResp.StopReason),
		Usage: Usage{
			PromptTokens:     anthropicResp.Usage.InputTokens,
			CompletionTokens: anthropicResp.Usage.OutputTokens,
			TotalTokens:      anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		},
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (a *AnthropicProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	start := time.Now()
	anthropicReq := toAnthropicRequest(req)
	anthropicReq.Stream = true

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, apperr.InternalError("marshaling anthropic request", err)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.InternalError("creating anthropic request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, apperr.ProviderError(a.name, "sending request to anthropic", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, mapProviderHTTPError(a.name, httpResp)
	}

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var (
			respID       string
			model        = req.ModelName
			inputTokens  int
			outputTokens int
			stopReason   string
		)

		decoder := sse.NewDecoder(httpResp.Body, 0)

		for {
			ev, err := decoder.Next(ctx)
			if err != nil {
				if !isCleanStreamEnd(err) {
					sendErr(ctx, ch, apperr.StreamReadError("reading anthropic stream", err))
				}
				return
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
				sendErr(ctx, ch, apperr.ProviderSSEError(a.name, fmt.Sprintf("decoding anthropic stream event: %v", err)))
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					respID = event.Message.ID
					model = event.Message.Model
					inputTokens = event.Message.Usage.InputTokens
				}

			case "content_block_delta":
				if event.Delta == nil || event.Delta.Text == "" {
					continue
				}
				chunk := StreamChunk{
					ID:        respID,
					Model:     model,
					Provider:  a.name,
					CreatedAt: start,
					Content:   StringPtr(event.Delta.Text),
				}
				if !sendChunk(ctx, ch, chunk) {
					return
				}

			case "message_delta":
				if event.Delta != nil && event.Delta.StopReason != "" {
					stopReason = event.Delta.StopReason
				}
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}

			case "message_stop":
				chunk := StreamChunk{
					ID:           respID,
					Model:        model,
					Provider:     a.name,
					CreatedAt:    start,
					FinishReason: StringPtr(stopReason),
					Usage: Usage{
						PromptTokens:     inputTokens,
						CompletionTokens: outputTokens,
						TotalTokens:      inputTokens + outputTokens,
					},
					LatencyMS: time.Since(start).Milliseconds(),
					Done:      true,
				}
				sendChunk(ctx, ch, chunk)
				return
			}
		}
	}()

	return ch, nil
}
