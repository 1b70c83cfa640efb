package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/config"
	"github.com/kailas-cloud/maomao/internal/db"
	dbBolt "github.com/kailas-cloud/maomao/internal/db/bolt"
	dbPgvector "github.com/kailas-cloud/maomao/internal/db/pgvector"
	dbQdrant "github.com/kailas-cloud/maomao/internal/db/qdrant"
	dbRedis "github.com/kailas-cloud/maomao/internal/db/redis"
	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/metrics"
	"github.com/kailas-cloud/maomao/internal/repository/embcache"
	knowledgerepo "github.com/kailas-cloud/maomao/internal/repository/knowledge"
	"github.com/kailas-cloud/maomao/internal/transport/mcp"
	ollamaEmb "github.com/kailas-cloud/maomao/internal/transport/ollama"
	openaiEmb "github.com/kailas-cloud/maomao/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/maomao/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/maomao/internal/usecase/health"
	"github.com/kailas-cloud/maomao/internal/usecase/retrieval"
	"github.com/kailas-cloud/maomao/internal/version"
)

const (
	healthTimeout   = 5 * time.Second
	boltLockTimeout = time.Second
)

// App is the wired object graph shared by every command.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Retrieval *retrieval.Service
	Health    *healthuc.Service
	MCP       *mcp.Server

	closers []func()
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Build is the composition root: index driver, embedder chain, retrieval
// service, health and MCP server.
func Build(_ context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	app := &App{Config: cfg, Logger: logger}

	index, redisStore, err := openIndex(cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, index.Close)
	logger.Info("Vector store configured",
		zap.String("driver", cfg.VectorStore.Driver),
		zap.String("collection", cfg.VectorStore.Collection),
	)

	embedder, err := app.buildEmbedder(redisStore)
	if err != nil {
		app.Close()
		return nil, err
	}

	repo := knowledgerepo.New(index, cfg.VectorStore.Driver, time.Duration(cfg.VectorStore.TimeoutSec)*time.Second)
	app.Retrieval = retrieval.New(repo, embedder, retrieval.Config{
		Collection:       cfg.VectorStore.Collection,
		EmbeddingModel:   cfg.Embedding.Model,
		Dimension:        cfg.Embedding.Dimension,
		DefaultProjectID: cfg.Project.DefaultProjectID,
		DefaultLimit:     cfg.Search.DefaultLimit,
		MaxLimit:         cfg.Search.MaxLimit,
		MinScore:         *cfg.Search.MinScore,
		ContextLines:     cfg.Search.ContextLines,
		ContextScanLimit: cfg.VectorStore.ContextScanLimit,
	}, logger)
	app.Health = healthuc.New(index, embedder, healthTimeout)
	app.MCP = mcp.NewServer(app.Retrieval, mcp.Info{
		Version:          version.Version,
		Collection:       cfg.VectorStore.Collection,
		EmbeddingModel:   cfg.Embedding.Model,
		DefaultProjectID: cfg.Project.DefaultProjectID,
		StatusConfig:     statusConfig(cfg),
	}, logger)

	return app, nil
}

// openIndex connects the configured driver. The redis store is returned
// separately so the embedding cache can share its connection.
func openIndex(cfg config.Config) (db.Index, *dbRedis.Store, error) {
	vs := cfg.VectorStore
	switch vs.Driver {
	case "qdrant":
		s, err := dbQdrant.NewStore(dbQdrant.Config{
			Host:       vs.Qdrant.Host,
			Port:       vs.Qdrant.Port,
			APIKey:     vs.Qdrant.APIKey,
			UseTLS:     vs.Qdrant.UseTLS,
			Collection: vs.Collection,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant: %w", err)
		}
		return s, nil, nil
	case "redis", "valkey":
		s, err := dbRedis.NewStore(redisConfig(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", vs.Driver, err)
		}
		return s, s, nil
	case "pgvector":
		s, err := dbPgvector.NewStore(vs.Pgvector.DSN, vs.Pgvector.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("pgvector: %w", err)
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store driver %q", vs.Driver)
	}
}

func redisConfig(cfg config.Config) dbRedis.Config {
	dialect := dbRedis.DialectRedis
	if cfg.VectorStore.Driver == "valkey" {
		dialect = dbRedis.DialectValkey
	}
	return dbRedis.Config{
		Addrs:      cfg.VectorStore.Redis.Addrs,
		Password:   cfg.VectorStore.Redis.Password,
		KeyPrefix:  cfg.VectorStore.Redis.KeyPrefix,
		Collection: cfg.VectorStore.Collection,
		Dialect:    dialect,
	}
}

// buildEmbedder assembles the decorator chain: provider -> instrumented -> instruction -> cache -> batcher.
func (a *App) buildEmbedder(redisStore *dbRedis.Store) (*embeddinguc.Batcher, error) {
	ec := a.Config.Embedding
	timeout := time.Duration(ec.TimeoutSec) * time.Second

	var base domain.Embedder
	switch ec.Provider {
	case "ollama":
		base = ollamaEmb.NewEmbedder(&ollamaEmb.Config{
			BaseURL:   ec.BaseURL,
			Model:     ec.Model,
			Dimension: ec.Dimension,
			Timeout:   timeout,
			Logger:    a.Logger,
		})
	case "openai":
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:            ec.APIKey,
			BaseURL:           ec.BaseURL,
			Model:             ec.Model,
			Dimensions:        ec.Dimension,
			RequestDimensions: ec.RequestDimensions,
			Provider:          ec.Provider,
			Timeout:           timeout,
			Logger:            a.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ec.Provider)
	}

	var embedder domain.Embedder = embeddinguc.NewInstrumentedEmbedder(base, ec.Provider, ec.Model, a.Logger)
	if ec.QueryInstruction != "" {
		// Outside the instrumentation and inside the cache, so cache keys include the instruction.
		embedder = domain.NewInstructionEmbedder(embedder, ec.QueryInstruction)
	}

	kv, err := a.openCache(redisStore)
	if err != nil {
		return nil, err
	}
	if kv != nil {
		ttl := time.Duration(ec.Cache.TTLHours) * time.Hour
		embedder = embcache.New(embedder, kv, embcache.Options{
			Model:      ec.Model,
			TTL:        ttl,
			CacheTotal: metrics.EmbeddingCacheTotal,
			Logger:     a.Logger,
		})
	}

	a.Logger.Info("Embedder created",
		zap.String("provider", ec.Provider),
		zap.String("model", ec.Model),
		zap.Int("dimension", ec.Dimension),
		zap.String("cache", ec.Cache.Driver),
	)
	return embeddinguc.NewBatcher(embedder, ec.BatchConcurrency, a.Logger), nil
}

// openCache returns nil when caching is disabled. A locked bolt file is not
// fatal: another process owns the cache and this one runs without it.
func (a *App) openCache(redisStore *dbRedis.Store) (db.KVStore, error) {
	cc := a.Config.Embedding.Cache
	switch cc.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return embcache.NewMemoryStore(cc.Size, time.Duration(cc.TTLHours)*time.Hour), nil
	case "redis":
		if redisStore != nil {
			return redisStore, nil
		}
		s, err := dbRedis.NewStore(redisConfig(a.Config))
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "bolt":
		s, err := dbBolt.Open(cc.Path, boltLockTimeout)
		if err != nil {
			a.Logger.Warn("Embedding cache unavailable, continuing without it",
				zap.String("path", cc.Path), zap.Error(err))
			return nil, nil
		}
		a.closers = append(a.closers, func() {
			if err := s.Close(); err != nil {
				a.Logger.Warn("Failed to close embedding cache", zap.Error(err))
			}
		})
		return s, nil
	default:
		return nil, fmt.Errorf("unknown embedding cache driver %q", cc.Driver)
	}
}

// statusConfig is the non-secret configuration exposed by the status resource.
func statusConfig(cfg config.Config) map[string]any {
	return map[string]any{
		"vectorStore": map[string]any{
			"driver":     cfg.VectorStore.Driver,
			"collection": cfg.VectorStore.Collection,
		},
		"embedding": map[string]any{
			"provider":  cfg.Embedding.Provider,
			"model":     cfg.Embedding.Model,
			"dimension": cfg.Embedding.Dimension,
			"cache":     cfg.Embedding.Cache.Driver,
		},
		"search": map[string]any{
			"defaultLimit": cfg.Search.DefaultLimit,
			"maxLimit":     cfg.Search.MaxLimit,
			"minScore":     *cfg.Search.MinScore,
			"contextLines": cfg.Search.ContextLines,
		},
		"project": map[string]any{
			"defaultProjectId": cfg.Project.DefaultProjectID,
		},
	}
}
