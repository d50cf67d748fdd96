package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
	"github.com/NICxKMS/chat-gateway/internal/breaker"
	"github.com/NICxKMS/chat-gateway/internal/cache"
	"github.com/NICxKMS/chat-gateway/internal/provider"
)

// nonStreamCacheTTL is C2's default ttlSeconds for completion cache entries.
const nonStreamCacheTTL = 60 * time.Second

// Engine is the Request Lifecycle Engine (C6): it owns model parsing, the
// in-flight registry, the non-streaming cache-then-breaker dispatch path,
// and (in stream.go) the full streaming pipeline.
type Engine struct {
	Registry *provider.Registry

	breakers          *breaker.Registry
	respCache         *cache.Cache
	inFlight          *Registry
	logger            *zap.Logger
	heartbeatInterval time.Duration
	inactivityTimeout time.Duration
}

// Options configures an Engine.
type Options struct {
	Providers         *provider.Registry
	Breakers          *breaker.Registry
	ResponseCache     *cache.Cache
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	InactivityTimeout time.Duration
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	inactivity := opts.InactivityTimeout
	if inactivity <= 0 {
		inactivity = 120 * time.Second
	}
	return &Engine{
		Registry:          opts.Providers,
		breakers:          opts.Breakers,
		respCache:         opts.ResponseCache,
		inFlight:          NewRegistry(),
		logger:            logger,
		heartbeatInterval: heartbeat,
		inactivityTimeout: inactivity,
	}
}

// Stop cancels the in-flight generation for requestID, if any. It is a thin
// pass-through to the in-flight Registry, exposed here so HTTP handlers only
// ever talk to the Engine.
func (e *Engine) Stop(requestID string) {
	e.inFlight.Stop(requestID)
}

// ResolveModel splits a "<provider>/<model>" string at its first "/". With
// no slash, defaultProvider is used and the whole string becomes the model
// name.
func ResolveModel(model, defaultProvider string) (providerName, modelName string) {
	if idx := strings.IndexByte(model, '/'); idx >= 0 {
		return model[:idx], model[idx+1:]
	}
	return defaultProvider, model
}

// DeriveRequestID picks the client-supplied body requestId first, then the
// transport's X-Request-ID header, then generates one.
func DeriveRequestID(bodyID, headerID string) string {
	if bodyID != "" {
		return bodyID
	}
	if headerID != "" {
		return headerID
	}
	return fmt.Sprintf("req_%d_%d", time.Now().UnixNano(), rand.Intn(1_000_000))
}

// prepareRequest validates req, applies defaults, and resolves the
// provider/model split. Shared by the non-streaming and streaming paths.
func (e *Engine) prepareRequest(req *provider.ChatRequest) (provider.Provider, string, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, "", apperr.ValidationError(err.Error())
	}

	providerName, modelName := ResolveModel(req.Model, e.Registry.DefaultProviderName())
	req.ProviderName = providerName
	req.ModelName = modelName

	p, err := e.Registry.GetProvider(providerName)
	if err != nil {
		return nil, "", err
	}
	return p, providerName, nil
}

// cacheKey fingerprints the fields the non-streaming path caches on, per
// C2's generateKey contract.
func (e *Engine) cacheKey(providerName, modelName string, req *provider.ChatRequest) string {
	return cache.GenerateKey(map[string]any{
		"provider":    providerName,
		"model":       modelName,
		"messages":    req.Messages,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	})
}

// Complete runs the non-streaming completion path (§4.6): cache lookup,
// breaker-wrapped provider call, best-effort cache write. headerRequestID is
// the inbound X-Request-ID, used only when the body didn't supply one.
func (e *Engine) Complete(ctx context.Context, req *provider.ChatRequest, headerRequestID string) (*provider.StandardResponse, string, error) {
	p, providerName, err := e.prepareRequest(req)
	if err != nil {
		return nil, "", err
	}

	requestID := DeriveRequestID(req.RequestID, headerRequestID)
	ctx, done := e.inFlight.Register(ctx, requestID)
	defer done()

	useCache := e.respCache != nil && e.respCache.Enabled() && !req.NoCache
	var key string
	if useCache {
		key = e.cacheKey(providerName, req.ModelName, req)
		if v, ok := e.respCache.Get(key); ok {
			cached := *(v.(*provider.StandardResponse))
			cached.Cached = true
			return &cached, requestID, nil
		}
	}

	resp, err := e.callCompletion(ctx, p, providerName, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, requestID, apperr.RequestAbortedError()
		}
		return nil, requestID, err
	}

	if useCache {
		e.respCache.Set(key, resp, nonStreamCacheTTL, "completion")
	}

	return resp, requestID, nil
}

// callCompletion wraps the provider's ChatCompletion in its per-provider
// completion breaker, keyed "<provider>-completion" per the process-wide
// breaker singleton rule.
func (e *Engine) callCompletion(ctx context.Context, p provider.Provider, providerName string, req *provider.ChatRequest) (*provider.StandardResponse, error) {
	br := e.breakers.Get(providerName+"-completion", breaker.Options{})
	result, err := br.Execute(func() (any, error) {
		return p.ChatCompletion(ctx, req)
	})
	if err != nil {
		return nil, mapProviderErr(err, providerName)
	}
	return result.(*provider.StandardResponse), nil
}

// mapProviderErr passes an already-typed *apperr.Error straight through
// (e.g. a CircuitOpenError from the breaker) and wraps anything else as a
// ProviderError.
func mapProviderErr(err error, providerName string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.ProviderError(providerName, err.Error(), err)
}
