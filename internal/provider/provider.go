// Package provider defines the Provider contract and the normalized
// request/response/chunk types every adapter (OpenAI-style, Anthropic-style,
// Google-style, aggregator) translates to and from.
//
// Every LLM backend implements the Provider interface. The rest of the
// gateway — registry, lifecycle engine, cache — only ever works with these
// unified types, so it never needs to know which upstream vendor is
// actually handling a request.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Provider is the interface every LLM backend adapter satisfies. Go
// interfaces are implicit: any struct with these methods automatically
// satisfies Provider.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai" or "anthropic".
	Name() string

	// GetModels returns the models this provider exposes. Static
	// configurations return a fixed list; adapters that support a models
	// listing endpoint may call it here.
	GetModels(ctx context.Context) ([]ModelInfo, error)

	// ChatCompletion sends a non-streaming request and returns the complete
	// response. ctx carries cancellation/deadlines: if the caller cancels,
	// the adapter stops waiting on the upstream call.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*StandardResponse, error)

	// ChatCompletionStream sends a streaming request and returns a
	// receive-only channel of StandardChunks. The adapter owns the
	// channel: it writes chunks as they arrive and closes it when the
	// stream ends, is cancelled, or fails.
	ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}

// ---------------------------------------------------------------------------
// Request types
// ---------------------------------------------------------------------------

// Message is one entry in a conversation. Content may be a plain string or
// an ordered list of parts (text / image_url); Content's custom JSON
// (un)marshaling normalizes between the two shapes.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries either an http(s) URL or a base64 data URL of the form
// "data:<mediaType>;base64,<data>".
type ImageURL struct {
	URL string `json:"url"`
}

// Content represents a Message's body, which on the wire is either a bare
// string or an array of ContentParts. Adapters read Text/Parts/IsParts
// directly instead of re-deciding the shape every time.
type Content struct {
	Text    string
	Parts   []ContentPart
	IsParts bool
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Text = asString
		c.IsParts = false
		return nil
	}

	var asParts []ContentPart
	if err := json.Unmarshal(data, &asParts); err != nil {
		return fmt.Errorf("content: neither a string nor a part array: %w", err)
	}
	c.Parts = asParts
	c.IsParts = true
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsParts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// PlainText collapses Content into a single string, concatenating the text
// of any text parts and ignoring image parts. Used by adapters that don't
// support multimodal content.
func (c Content) PlainText() string {
	if !c.IsParts {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// ResponseFormat requests a specific output shape, e.g. {"type":"json_object"}.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is the normalized request shape every HTTP handler parses
// into and every provider adapter translates out of.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      float64         `json:"temperature,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	RequestID        string          `json:"requestId,omitempty"`
	NoCache          bool            `json:"nocache,omitempty"`

	// ProviderName/ModelName are filled in by the lifecycle engine after
	// splitting Model at its first "/", per the model-parsing rule; they
	// are not part of the wire JSON.
	ProviderName string `json:"-"`
	ModelName    string `json:"-"`
}

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

// ApplyDefaults fills Temperature/MaxTokens with their documented defaults
// when the caller left them at the zero value.
func (r *ChatRequest) ApplyDefaults() {
	if r.Temperature == 0 {
		r.Temperature = defaultTemperature
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = defaultMaxTokens
	}
}

// Validate checks the structural invariants every adapter expects: a model,
// at least one message, and a non-empty role/content on each entry.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must be non-empty")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return fmt.Errorf("messages[%d]: role is required", i)
		}
		if !m.Content.IsParts && m.Content.Text == "" {
			return fmt.Errorf("messages[%d]: content is required", i)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Response / chunk types
// ---------------------------------------------------------------------------

// Usage holds token counts, normalized across every provider's own naming.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// StandardResponse is the normalized non-streaming completion result.
type StandardResponse struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"createdAt"`
	Content      *string   `json:"content"`
	ToolCalls    any       `json:"toolCalls,omitempty"`
	Usage        Usage     `json:"usage"`
	LatencyMS    int64     `json:"latency"`
	FinishReason *string   `json:"finishReason"`
	Raw          any       `json:"raw,omitempty"`
	Cached       bool      `json:"cached,omitempty"`
}

// StreamChunk is one normalized element of a streaming completion,
// delivered over a channel. Done and Error are internal signaling fields,
// not part of the client-visible JSON: Done marks the terminal chunk (whose
// data frame, carrying the final finishReason and usage, is still written
// before [DONE]), and Error carries a mid-stream failure for the lifecycle
// engine to map and surface as an SSE error event instead of a data frame.
type StreamChunk struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"createdAt"`
	Content      *string   `json:"content"`
	ToolCalls    any       `json:"toolCalls,omitempty"`
	Usage        Usage     `json:"usage"`
	LatencyMS    int64     `json:"latency"`
	FinishReason *string   `json:"finishReason"`
	Raw          any       `json:"raw,omitempty"`

	Done  bool  `json:"-"`
	Error error `json:"-"`
}

// ---------------------------------------------------------------------------
// Provider / model descriptors
// ---------------------------------------------------------------------------

// Features describes what a model supports.
type Features struct {
	Streaming      bool `json:"streaming"`
	Vision         bool `json:"vision"`
	Tools          bool `json:"tools"`
	JSON           bool `json:"json"`
	System         bool `json:"system"`
	FunctionCalling bool `json:"functionCalling"`
}

// ModelInfo describes one model a provider exposes.
type ModelInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Provider    string   `json:"provider"`
	TokenLimit  int      `json:"tokenLimit"`
	Features    Features `json:"features"`
	Description string   `json:"description,omitempty"`
}

// Descriptor is the aggregate shape returned for a single configured
// provider by the registry's GetProvidersInfo.
type Descriptor struct {
	Name         string      `json:"name"`
	DefaultModel string      `json:"defaultModel"`
	Models       []ModelInfo `json:"models"`
	Error        string      `json:"error,omitempty"`
}

func StringPtr(s string) *string { return &s }
