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

// OpenAIProvider implements Provider for any OpenAI-compatible chat
// completions API (OpenAI itself, Azure OpenAI-compatible deployments,
// OpenRouter, and similar aggregators). The wire shape already matches our
// unified ChatRequest/Message types closely enough that this adapter barely
// translates anything — which is exactly why an "aggregator" provider is
// just this same adapter pointed at a different base URL, not a separate
// implementation.
type OpenAIProvider struct {
	name    string
	apiKey  string
	baseURL string // e.g. "https://api.openai.com/v1"
	client  *http.Client
	models  []ModelInfo

	// extraHeaders lets aggregator deployments (OpenRouter requires
	// HTTP-Referer/X-Title) attach vendor-specific headers without a
	// separate adapter.
	extraHeaders map[string]string
}

type OpenAIOptions struct {
	Name         string
	APIKey       string
	BaseURL      string
	Client       *http.Client
	Models       []ModelInfo
	ExtraHeaders map[string]string
}

func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       opts.APIKey,
		baseURL:      opts.BaseURL,
		client:       opts.Client,
		models:       opts.Models,
		extraHeaders: opts.ExtraHeaders,
	}
}

// NewAggregatorProvider builds an OpenAIProvider registered under a
// distinct name. Aggregators (OpenRouter and similar) speak the
// OpenAI-compatible chat completions wire format, so the only thing that
// differs from a plain OpenAI deployment is the base URL, key, and any
// vendor-required headers.
func NewAggregatorProvider(opts OpenAIOptions) *OpenAIProvider {
	return NewOpenAIProvider(opts)
}

func (o *OpenAIProvider) Name() string { return o.name }

func (o *OpenAIProvider) GetModels(ctx context.Context) ([]ModelInfo, error) {
	return o.models, nil
}

type openAIRequest struct {
	Model            string               `json:"model"`
	Messages         []openAIMessage      `json:"messages"`
	Temperature      float64              `json:"temperature,omitempty"`
	MaxTokens        int                  `json:"max_tokens,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	Stop             json.RawMessage      `json:"stop,omitempty"`
	ResponseFormat   *ResponseFormat      `json:"response_format,omitempty"`
	Stream           bool                 `json:"stream,omitempty"`
	StreamOptions    *openAIStreamOptions `json:"stream_options,omitempty"`
}

// openAIStreamOptions requests the trailing usage-only SSE event
// (choices:[] with a populated usage object) that OpenAI-compatible
// APIs otherwise omit from streaming responses.
type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// openAIMessage mirrors Message's own wire shape (string or part-array
// content), so translation is a direct field copy.
type openAIMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	Delta        openAIMessage `json:"delta"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toOpenAIRequest(req *ChatRequest) *openAIRequest {
	or := &openAIRequest{
		Model:            req.ModelName,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
		ResponseFormat:   req.ResponseFormat,
	}
	for _, msg := range req.Messages {
		or.Messages = append(or.Messages, openAIMessage{Role: msg.Role, Content: msg.Content})
	}
	return or
}

func (o *OpenAIProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/chat/completions", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	for k, v := range o.extraHeaders {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (o *OpenAIProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*StandardResponse, error) {
	start := time.Now()
	openaiReq := toOpenAIRequest(req)

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, apperr.InternalError("marshaling openai request", err)
	}

	httpReq, err := o.newRequest(ctx, body)
	if err != nil {
		return nil, apperr.InternalError("creating openai request", err)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, apperr.ProviderError(o.name, "sending request to openai", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapProviderHTTPError(o.name, httpResp)
	}

	var openaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&openaiResp); err != nil {
		return nil, apperr.ProviderError(o.name, "decoding openai response", err)
	}

	if len(openaiResp.Choices) == 0 {
		return nil, apperr.ProviderError(o.name, "openai returned no choices", nil)
	}
	choice := openaiResp.Choices[0]
	text := choice.Message.Content.PlainText()

	return &StandardResponse{
		ID:           openaiResp.ID,
		Model:        openaiResp.Model,
		Provider:     o.name,
		CreatedAt:    start,
		Content:      StringPtr(text),
		FinishReason: StringPtr(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     openaiResp.Usage.PromptTokens,
			CompletionTokens: openaiResp.Usage.CompletionTokens,
			TotalTokens:      openaiResp.Usage.TotalTokens,
		},
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (o *OpenAIProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	start := time.Now()
	openaiReq := toOpenAIRequest(req)
	openaiReq.Stream = true
	openaiReq.StreamOptions = &openAIStreamOptions{IncludeUsage: true}

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, apperr.InternalError("marshaling openai request", err)
	}

	httpReq, err := o.newRequest(ctx, body)
	if err != nil {
		return nil, apperr.InternalError("creating openai request", err)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, apperr.ProviderError(o.name, "sending request to openai", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, mapProviderHTTPError(o.name, httpResp)
	}

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		decoder := sse.NewDecoder(httpResp.Body, 0)

		var (
			lastID       string
			lastModel    string
			finishReason *string
			usage        Usage
		)

		// emitTerminal sends the synthetic terminal chunk carrying the
		// finish reason and the cumulative usage from the trailing
		// choices:[] event that stream_options.include_usage requests,
		// which arrives as its own event after finish_reason.
		emitTerminal := func() {
			sendChunk(ctx, ch, StreamChunk{
				ID:           lastID,
				Model:        lastModel,
				Provider:     o.name,
				CreatedAt:    start,
				FinishReason: finishReason,
				Done:         true,
				LatencyMS:    time.Since(start).Milliseconds(),
				Usage:        usage,
			})
		}

		for {
			ev, err := decoder.Next(ctx)
			if err != nil {
				if !isCleanStreamEnd(err) {
					sendErr(ctx, ch, apperr.StreamReadError("reading openai stream", err))
					return
				}
				emitTerminal()
				return
			}

			if ev.Data == sse.DoneData {
				emitTerminal()
				return
			}
			if ev.Data == "" {
				continue
			}

			var openaiResp openAIResponse
			if err := json.Unmarshal([]byte(ev.Data), &openaiResp); err != nil {
				sendErr(ctx, ch, apperr.ProviderSSEError(o.name, fmt.Sprintf("decoding openai stream event: %v", err)))
				return
			}

			if openaiResp.ID != "" {
				lastID = openaiResp.ID
			}
			if openaiResp.Model != "" {
				lastModel = openaiResp.Model
			}
			if openaiResp.Usage.TotalTokens > 0 {
				usage = Usage{
					PromptTokens:     openaiResp.Usage.PromptTokens,
					CompletionTokens: openaiResp.Usage.CompletionTokens,
					TotalTokens:      openaiResp.Usage.TotalTokens,
				}
			}

			// The trailing usage event mandated by include_usage carries
			// an empty choices array; there's nothing else to read from it.
			if len(openaiResp.Choices) == 0 {
				continue
			}
			choice := openaiResp.Choices[0]

			if choice.FinishReason != "" {
				finishReason = StringPtr(choice.FinishReason)
			}

			text := choice.Delta.Content.PlainText()
			if text == "" && choice.FinishReason != "" {
				// The finish_reason event itself carries no new content;
				// keep reading for the trailing usage event instead of
				// emitting an empty chunk here.
				continue
			}

			if !sendChunk(ctx, ch, StreamChunk{
				ID:        openaiResp.ID,
				Model:     openaiResp.Model,
				Provider:  o.name,
				CreatedAt: start,
				Content:   StringPtr(text),
			}) {
				return
			}
		}
	}()

	return ch, nil
}
