// Package app assembles the stores and the embedder chain shared by the API server
// and catalogctl.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/config"
	"github.com/ZaineBoulbahaim/Streamevents/internal/db"
	dbPostgres "github.com/ZaineBoulbahaim/Streamevents/internal/db/postgres"
	dbRedis "github.com/ZaineBoulbahaim/Streamevents/internal/db/redis"
	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
	"github.com/ZaineBoulbahaim/Streamevents/internal/metrics"
	catalogrepo "github.com/ZaineBoulbahaim/Streamevents/internal/repository/catalog"
	"github.com/ZaineBoulbahaim/Streamevents/internal/repository/embcache"
	openaiEmb "github.com/ZaineBoulbahaim/Streamevents/internal/transport/openai"
	embeddinguc "github.com/ZaineBoulbahaim/Streamevents/internal/usecase/embedding"
)

// CatalogRepository is the full catalog surface used by the binaries.
type CatalogRepository interface {
	ListScope(ctx context.Context, scope domcat.Scope) ([]domcat.Item, error)
	Get(ctx context.Context, id int64) (domcat.Item, error)
	Put(ctx context.Context, items []domcat.Item) error
	SaveEmbedding(ctx context.Context, id int64, vec []float32, model string, at time.Time) error
}

// Storage is an opened catalog store.
type Storage struct {
	Catalog CatalogRepository
	Pinger  db.Pinger
	// KV backs the embedding cache; nil for drivers without a key-value side.
	KV db.KVStore

	migrate func(ctx context.Context) error
	close   func()
}

// Migrate creates the catalog schema. Schemaless drivers do nothing.
func (s *Storage) Migrate(ctx context.Context) error {
	if s.migrate == nil {
		return nil
	}
	return s.migrate(ctx)
}

// Close releases the underlying connections.
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStorage connects to the configured driver and waits until it answers.
func OpenStorage(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Storage, error) {
	readiness := time.Duration(cfg.ReadinessTimeout) * time.Second

	switch cfg.Driver {
	case "redis":
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		if err := store.WaitForReady(ctx, readiness); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis not ready: %w", err)
		}
		return &Storage{
			Catalog: catalogrepo.NewRedis(store, cfg.KeyPrefix),
			Pinger:  store,
			KV:      store,
			close:   store.Close,
		}, nil

	case "postgres":
		pg, err := dbPostgres.Open(dbPostgres.Config{
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.WaitForReady(ctx, readiness); err != nil {
			pg.Close()
			return nil, fmt.Errorf("postgres not ready: %w", err)
		}
		return &Storage{
			Catalog: catalogrepo.NewPostgres(pg.DB),
			Pinger:  pg,
			migrate: pg.Migrate,
			close:   pg.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// NewEmbeddingHandle returns the shared model handle over the decorator chain
// OpenAI-compatible provider -> cache -> instrumented -> instruction.
// The chain is built on the handle's first Init.
func NewEmbeddingHandle(cfg config.Config, kv db.KVStore, logger *zap.Logger) *embeddinguc.Handle {
	emb := cfg.Embedding
	const provider = "openai"

	load := func(context.Context) (domain.Embedder, error) {
		base := openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     emb.APIKey,
			BaseURL:    emb.BaseURL,
			Model:      emb.Model,
			Dimensions: emb.Dimensions,
			Provider:   provider,
			Logger:     logger,
		})

		var embedder domain.Embedder = base
		if kv != nil && emb.CacheTTLSec > 0 {
			embedder = embcache.New(base, kv, embcache.Config{
				KeyPrefix: cfg.Database.KeyPrefix,
				Model:     emb.Model,
				TTL:       time.Duration(emb.CacheTTLSec) * time.Second,
			}, metrics.EmbeddingCacheTotal, logger)
		}

		embedder = embeddinguc.NewInstrumentedEmbedder(embedder, provider, emb.Model, logger)

		// Outermost, so the cache key covers the instruction.
		if emb.Instruction != "" {
			embedder = domain.NewInstructionEmbedder(embedder, emb.Instruction)
		}
		return embedder, nil
	}

	return embeddinguc.NewHandle(emb.Model, load, logger)
}
