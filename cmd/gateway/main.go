// Command gateway is the entry point for the chat-completion gateway.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/NICxKMS/chat-gateway/internal/breaker"
	"github.com/NICxKMS/chat-gateway/internal/cache"
	"github.com/NICxKMS/chat-gateway/internal/classify"
	"github.com/NICxKMS/chat-gateway/internal/config"
	"github.com/NICxKMS/chat-gateway/internal/durablecache"
	"github.com/NICxKMS/chat-gateway/internal/lifecycle"
	"github.com/NICxKMS/chat-gateway/internal/logging"
	"github.com/NICxKMS/chat-gateway/internal/provider"
	"github.com/NICxKMS/chat-gateway/internal/server"
)

func main() {
	configPath := os.Getenv("GATEWAY_CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	httpClient := &http.Client{Transport: http.DefaultTransport}

	providers := buildProviders(cfg, httpClient)
	registry := provider.NewRegistry(providers)

	breakers := breaker.NewRegistry()
	respCache := cache.New(cfg.Cache.Enabled, cfg.Cache.SweepInterval)
	defer respCache.Close()

	engine := lifecycle.NewEngine(lifecycle.Options{
		Providers:         registry,
		Breakers:          breakers,
		ResponseCache:     respCache,
		Logger:            logger,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		InactivityTimeout: cfg.Server.InactivityTimeout,
	})

	var classifier *classify.Client
	if cfg.Classification.Enabled {
		classifier, err = classify.NewClient(classify.Options{
			Host: cfg.Classification.Host,
			Port: cfg.Classification.Port,
		})
		if err != nil {
			logger.Sugar().Fatalf("failed to build classification client: %v", err)
		}
		defer func() { _ = classifier.Close() }()
	}

	var durable *durablecache.Cache
	if cfg.DurableCache.Enabled {
		store := durablecache.NewRedisStoreFromAddr(cfg.DurableCache.RedisAddr)
		durable = durablecache.New(durablecache.Options{
			Store:    store,
			Enabled:  true,
			TTL:      cfg.DurableCache.TTL,
			Compress: true,
			Logger:   logger,
		})
	}

	srv := server.New(server.Options{
		Engine:        engine,
		Classifier:    classifier,
		DurableCache:  durable,
		Breakers:      breakers,
		ResponseCache: respCache,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Sugar().Infof("gateway listening on :%d", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Sugar().Fatalf("server error: %v", err)
	}
}

// buildProviders instantiates one adapter per configured provider entry,
// keyed by provider name, skipping any entry without an API key (it's
// simply absent from the registry, not an error: the registry's own
// "none" fallback and default-chain handle an empty provider set).
func buildProviders(cfg *config.Config, httpClient *http.Client) map[string]provider.Provider {
	providers := make(map[string]provider.Provider, len(cfg.Providers))

	for name, provCfg := range cfg.Providers {
		if provCfg.APIKey == "" {
			continue
		}

		models := modelInfosFor(name, provCfg)

		switch name {
		case "anthropic":
			providers[name] = provider.NewAnthropicProvider(provider.AnthropicOptions{
				APIKey: provCfg.APIKey, BaseURL: provCfg.BaseURL, Client: httpClient, Models: models,
			})
		case "google":
			providers[name] = provider.NewGoogleProvider(provider.GoogleOptions{
				APIKey: provCfg.APIKey, APIVersion: provCfg.APIVersion, BaseURL: provCfg.BaseURL,
				Client: httpClient, Models: models,
			})
		case "openai":
			providers[name] = provider.NewOpenAIProvider(provider.OpenAIOptions{
				APIKey: provCfg.APIKey, BaseURL: provCfg.BaseURL, Client: httpClient,
				Models: models, ExtraHeaders: provCfg.ExtraHeaders,
			})
		default:
			// Any other configured provider name is treated as an
			// OpenAI-compatible aggregator (OpenRouter and similar).
			providers[name] = provider.NewAggregatorProvider(provider.OpenAIOptions{
				Name: name, APIKey: provCfg.APIKey, BaseURL: provCfg.BaseURL, Client: httpClient,
				Models: models, ExtraHeaders: provCfg.ExtraHeaders,
			})
		}
	}

	return providers
}

// modelInfosFor builds the static ModelInfo list a provider config
// declares. Feature flags are conservative defaults (streaming + system
// prompts on everywhere; vision/tools/json left off) since the config file
// format doesn't carry per-model capability data.
func modelInfosFor(providerName string, provCfg config.ProviderConfig) []provider.ModelInfo {
	models := make([]provider.ModelInfo, 0, len(provCfg.Models))
	for _, id := range provCfg.Models {
		models = append(models, provider.ModelInfo{
			ID:       id,
			Name:     id,
			Provider: providerName,
			Features: provider.Features{Streaming: true, System: true},
		})
	}
	return models
}
