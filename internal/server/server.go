// Package server builds the HTTP router, middleware, and request handlers
// that expose the gateway's external interface over the request lifecycle
// engine.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/NICxKMS/chat-gateway/internal/breaker"
	"github.com/NICxKMS/chat-gateway/internal/cache"
	"github.com/NICxKMS/chat-gateway/internal/classify"
	"github.com/NICxKMS/chat-gateway/internal/durablecache"
	"github.com/NICxKMS/chat-gateway/internal/lifecycle"
)

// maxBodyBytes enforces the 10 MiB request body limit on chat completion
// endpoints.
const maxBodyBytes = 10 << 20

// version is the gateway's reported API/build version for /health and
// /api/version.
const version = "1.0.0"

// Server holds the HTTP router and every dependency handlers need: the
// lifecycle engine (C6, which itself wraps the provider registry and the
// in-memory cache), the classification client (C7), the durable cache
// (C8), and the breaker registry for capability reporting.
type Server struct {
	router chi.Router

	engine       *lifecycle.Engine
	classifier   *classify.Client
	durableCache *durablecache.Cache
	breakers     *breaker.Registry
	respCache    *cache.Cache
	logger       *zap.Logger

	startedAt time.Time
}

// Options bundles a Server's dependencies.
type Options struct {
	Engine       *lifecycle.Engine
	Classifier   *classify.Client // nil when classification is disabled
	DurableCache *durablecache.Cache
	Breakers     *breaker.Registry
	ResponseCache *cache.Cache
	Logger       *zap.Logger
}

// New builds a Server, wires up routes and middleware, and returns it ready
// to use as an http.Handler.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:        opts.Engine,
		classifier:    opts.Classifier,
		durableCache:  opts.DurableCache,
		breakers:      opts.Breakers,
		respCache:     opts.ResponseCache,
		logger:        logger,
		startedAt:     time.Now(),
	}
	s.routes()
	return s
}

// requestIDMiddleware derives/propagates X-Request-ID per §4.6: it doesn't
// decide the final requestId used for in-flight tracking (the lifecycle
// engine does that, since a JSON body requestId takes priority), but it
// guarantees every response carries a header value even for endpoints that
// never call into the engine.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = lifecycle.DeriveRequestID("", "")
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/version", s.handleVersion)

	r.Get("/api/models", s.handleModels)
	r.Get("/api/models/categories", s.handleModelCategories)
	r.Get("/api/models/providers", s.handleModelProviders)
	r.Get("/api/models/classified", s.handleModelsClassified)
	r.Get("/api/models/classified/criteria", s.handleModelsClassifiedCriteria)
	r.Get("/api/models/{providerName}", s.handleModelsByProvider)

	r.Post("/api/chat/completions", s.handleChatCompletions)
	r.Post("/api/chat/stream", s.handleChatStream)
	r.Post("/api/chat/stop", s.handleChatStop)
	r.Get("/api/chat/capabilities", s.handleChatCapabilities)

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
