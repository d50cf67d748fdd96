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

// GoogleProvider implements Provider for Google's Gemini generateContent API.
type GoogleProvider struct {
	name       string
	apiKey     string
	apiVersion string // URL path segment, e.g. "v1beta"
	baseURL    string
	client     *http.Client
	models     []ModelInfo
}

type GoogleOptions struct {
	Name       string
	APIKey     string
	APIVersion string
	BaseURL    string
	Client     *http.Client
	Models     []ModelInfo
}

func NewGoogleProvider(opts GoogleOptions) *GoogleProvider {
	name := opts.Name
	if name == "" {
		name = "google"
	}
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = "v1beta"
	}
	return &GoogleProvider{
		name:       name,
		apiKey:     opts.APIKey,
		apiVersion: apiVersion,
		baseURL:    opts.BaseURL,
		client:     opts.Client,
		models:     opts.Models,
	}
}

func (g *GoogleProvider) Name() string { return g.name }

func (g *GoogleProvider) GetModels(ctx context.Context) ([]ModelInfo, error) {
	return g.models, nil
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is one piece of a message. Text carries plain text; InlineData
// carries a base64 image (Gemini's multimodal input shape).
type geminiPart struct {
	Text       string           `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// toGeminiRequest translates a ChatRequest into Gemini's wire format: system
// messages lifted into systemInstruction, assistant renamed to "model",
// alternation enforced, max_tokens renamed to maxOutputTokens.
func toGeminiRequest(req *ChatRequest) *geminiRequest {
	system, rest := ExtractSystemPrompt(req.Messages)
	rest = MapRole(rest, "model")
	rest = NormalizeAlternation(rest, "model")

	gr := &geminiRequest{}
	if system != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	for _, msg := range rest {
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  msg.Role,
			Parts: toGeminiParts(msg.Content),
		})
	}

	if req.MaxTokens > 0 || req.Temperature > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}

	return gr
}

func toGeminiParts(c Content) []geminiPart {
	if !c.IsParts {
		return []geminiPart{{Text: c.Text}}
	}

	parts := make([]geminiPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, geminiPart{Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			mimeType, data, ok := parseDataURL(p.ImageURL.URL)
			if !ok {
				continue
			}
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mimeType, Data: data}})
		}
	}
	return parts
}

func (g *GoogleProvider) endpoint(model, method string) string {
	return fmt.Sprintf("%s/%s/models/%s:%s", g.baseURL, g.apiVersion, model, method)
}

func (g *GoogleProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*StandardResponse, error) {
	start := time.Now()
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, apperr.InternalError("marshaling gemini request", err)
	}

	url := fmt.Sprintf("%s?key=%s", g.endpoint(req.ModelName, "generateContent"), g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.InternalError("creating gemini request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apperr.ProviderError(g.name, "sending request to gemini", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapProviderHTTPError(g.name, httpResp)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&geminiResp); err != nil {
		return nil, apperr.ProviderError(g.name, "decoding gemini response", err)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, apperr.ProviderError(g.name, "gemini returned no candidates", nil)
	}

	candidate := geminiResp.Candidates[0]
	var text string
	if len(candidate.Content.Parts) > 0 {
		text = candidate.Content.Parts[0].Text
	}

	resp := &StandardResponse{
		ID:           fmt.Sprintf("gemini-%d", start.UnixNano()),
		Model:        req.ModelName,
		Provider:     g.name,
		CreatedAt:    start,
		Content:      StringPtr(text),
		FinishReason: StringPtr(candidate.FinishReason),
		LatencyMS:    time.Since(start).Milliseconds(),
	}
	if geminiResp.UsageMetadata != nil {
		resp.Usage = Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

func (g *GoogleProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	start := time.Now()
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, apperr.InternalError("marshaling gemini request", err)
	}

	url := fmt.Sprintf("%s?alt=sse&key=%s", g.endpoint(req.ModelName, "streamGenerateContent"), g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.InternalError("creating gemini request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apperr.ProviderError(g.name, "sending request to gemini", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, mapProviderHTTPError(g.name, httpResp)
	}

	ch := make(chan StreamChunk)
	id := fmt.Sprintf("gemini-%d", start.UnixNano())

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		decoder := sse.NewDecoder(httpResp.Body, 0)

		for {
			ev, err := decoder.Next(ctx)
			if err != nil {
				if !isCleanStreamEnd(err) {
					sendErr(ctx, ch, apperr.StreamReadError("reading gemini stream", err))
				}
				return
			}

			if ev.Data == "" {
				continue
			}

			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(ev.Data), &geminiResp); err != nil {
				sendErr(ctx, ch, apperr.ProviderSSEError(g.name, fmt.Sprintf("decoding gemini stream event: %v", err)))
				return
			}

			if len(geminiResp.Candidates) == 0 {
				continue
			}
			candidate := geminiResp.Candidates[0]

			var delta string
			if len(candidate.Content.Parts) > 0 {
				delta = candidate.Content.Parts[0].Text
			}

			chunk := StreamChunk{
				ID:        id,
				Model:     req.ModelName,
				Provider:  g.name,
				CreatedAt: start,
				Content:   StringPtr(delta),
			}

			if candidate.FinishReason != "" {
				chunk.FinishReason = StringPtr(candidate.FinishReason)
				chunk.Done = true
				chunk.LatencyMS = time.Since(start).Milliseconds()
				if geminiResp.UsageMetadata != nil {
					chunk.Usage = Usage{
						PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
						CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
						TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
					}
				}
			}

			if !sendChunk(ctx, ch, chunk) {
				return
			}
			if chunk.Done {
				return
			}
		}
	}()

	return ch, nil
}
