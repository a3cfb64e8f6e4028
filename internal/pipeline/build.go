package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/TobiSchelling/PartnerCenter/internal/classify"
	"github.com/TobiSchelling/PartnerCenter/internal/collect"
	"github.com/TobiSchelling/PartnerCenter/internal/config"
	"github.com/TobiSchelling/PartnerCenter/internal/database"
	"github.com/TobiSchelling/PartnerCenter/internal/delivery"
	"github.com/TobiSchelling/PartnerCenter/internal/fetch"
	"github.com/TobiSchelling/PartnerCenter/internal/llm"
	"github.com/TobiSchelling/PartnerCenter/internal/logging"
	"github.com/TobiSchelling/PartnerCenter/internal/notify"
	"github.com/TobiSchelling/PartnerCenter/internal/pgstore"
	"github.com/TobiSchelling/PartnerCenter/internal/ratelimit"
	"github.com/TobiSchelling/PartnerCenter/internal/selector"
)

// OpenStore opens the configured storage backend.
func OpenStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		dsn := os.Getenv(cfg.Storage.DSNEnv)
		if dsn == "" {
			return nil, errors.Errorf("storage.driver is postgres but %s is not set", cfg.Storage.DSNEnv)
		}
		return pgstore.New(ctx, dsn)
	default:
		return database.Open(filepath.Join(cfg.GetDataDir(), "partnercenter.db"))
	}
}

// NewLimiter builds the rate limiter with the configured counter store.
func NewLimiter(cfg *config.Config) *ratelimit.Limiter {
	rl := cfg.Notifications.RateLimit
	var store ratelimit.Store
	if rl.Store == "redis" {
		client := ratelimit.NewRedisClient(rl.RedisAddr, os.Getenv(rl.RedisPasswordEnv))
		store = ratelimit.NewRedisStore(client, "")
	} else {
		store = ratelimit.NewMemoryStore()
	}
	return ratelimit.New(store, rl.Cap, rl.Window)
}

// NewGateway builds the notification gateway for the configured channel.
func NewGateway(cfg *config.Config) (notify.Gateway, error) {
	n := cfg.Notifications
	switch n.Channel {
	case notify.ChannelSlack:
		return notify.NewSlack(n.Timeout), nil
	default:
		return notify.NewTelegram(os.Getenv(n.BotTokenEnv), "", n.Timeout)
	}
}

// NewClassifier builds the classifier gateway. It returns nil when no LLM
// provider is usable; the selector then leaves posts unclassified.
func NewClassifier(ctx context.Context, cfg *config.Config) *classify.Classifier {
	c := cfg.Classifier
	provider := llm.CreateProvider(ctx, llm.Options{
		Provider:        c.Provider,
		Model:           c.Model,
		OllamaURL:       c.OllamaURL,
		OpenAIModel:     c.OpenAIModel,
		APIKeyEnv:       c.APIKeyEnv,
		GeminiModel:     c.GeminiModel,
		GeminiAPIKeyEnv: c.GeminiAPIKeyEnv,
		Timeout:         c.Timeout,
	})
	if provider == nil {
		return nil
	}
	return classify.New(provider, c.MaxTokens, c.MaxInputChars, c.Timeout)
}

// Build wires a pipeline from configuration. The limiter is passed in so
// every pipeline in a process shares one.
func Build(ctx context.Context, cfg *config.Config, store database.Store, limiter *ratelimit.Limiter) (*Pipeline, error) {
	gateway, err := NewGateway(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "notification gateway")
	}

	var cls selector.Classifier
	if c := NewClassifier(ctx, cfg); c != nil {
		cls = c
	} else {
		logging.Log.Warn("no classifier available, new posts stay unclassified")
	}

	var opts Options
	if cfg.Collector.Enabled {
		opts.Collector = collect.NewCollector(store, cfg.Collector.MaxPerFeed)
	}
	if cfg.Collector.FetchContent {
		opts.Fetcher = fetch.NewContentFetcher(store, cfg.Collector.FetchTimeout)
	}

	return New(
		store,
		selector.New(store, cls),
		delivery.New(store, limiter, gateway, cfg.Notifications.Timeout),
		opts,
	), nil
}

// BuildPreview wires a pipeline that can only DryRun: it has no gateway
// and no classifier.
func BuildPreview(cfg *config.Config, store database.Store) *Pipeline {
	var opts Options
	if cfg.Collector.Enabled {
		opts.Collector = collect.NewCollector(store, cfg.Collector.MaxPerFeed)
	}
	if cfg.Collector.FetchContent {
		opts.Fetcher = fetch.NewContentFetcher(store, cfg.Collector.FetchTimeout)
	}
	return New(store, selector.New(store, nil), nil, opts)
}
