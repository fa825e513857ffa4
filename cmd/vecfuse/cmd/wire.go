package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/config"
	dbRedis "github.com/kailas-cloud/vecfuse/internal/db/redis"
	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/point"
	"github.com/kailas-cloud/vecfuse/internal/metrics"
	"github.com/kailas-cloud/vecfuse/internal/repository/embcache"
	"github.com/kailas-cloud/vecfuse/internal/repository/flatstore"
	"github.com/kailas-cloud/vecfuse/internal/repository/vector"
	openaiEmb "github.com/kailas-cloud/vecfuse/internal/transport/openai"
	rerankHTTP "github.com/kailas-cloud/vecfuse/internal/transport/rerank"
	embeddinguc "github.com/kailas-cloud/vecfuse/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/vecfuse/internal/usecase/health"
	"github.com/kailas-cloud/vecfuse/internal/usecase/pipeline"
	"github.com/kailas-cloud/vecfuse/internal/usecase/rerank"
	"github.com/kailas-cloud/vecfuse/internal/usecase/retrieval"
)

// pointStore is the Save/Load half of a collection backend.
type pointStore interface {
	Save(ctx context.Context, collection string, points []point.Point) error
	Load(ctx context.Context, collection string) ([]point.Point, error)
}

// app is the composition root shared by the commands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *dbRedis.Store
	flat     *flatstore.Store
	remote   *vector.Repo
	embedder domain.Embedder
	engine   *retrieval.Engine
	reranker *rerank.Stage
	pipeline *pipeline.Service
	health   *healthuc.Service
}

// newStores connects the collection backends. The database is only dialed
// when a collection or the embedding cache needs it.
func newStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		flat:   flatstore.New(cfg.Storage.FlatDir, cfg.Storage.FlatCacheSize, logger),
	}
	if !cfg.UsesRemote() {
		return a, nil
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("create database store: %w", err)
	}
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database", zap.Strings("addrs", cfg.Database.Addrs))

	dims := make(map[string]int, len(cfg.Collections))
	for _, c := range cfg.Collections {
		if c.Backend == config.BackendRemote && c.Dimensions > 0 {
			dims[c.Name] = c.Dimensions
		}
	}
	a.db = store
	a.remote = vector.New(store, vector.Config{
		KeyPrefix: cfg.Storage.KeyPrefix,
		Algorithm: cfg.Index.Algorithm,
		HNSW: vector.HNSWConfig{
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
		},
		Dimensions: dims,
	}, logger)
	return a, nil
}

// newApp wires the full query pipeline.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.embedder = a.buildEmbedder()

	cols := make([]retrieval.Collection, len(cfg.Collections))
	for i, c := range cfg.Collections {
		cols[i] = retrieval.Collection{
			Name:        c.Name,
			Source:      c.Source,
			EntityField: c.EntityField,
			Store:       a.vectorStore(c.Backend),
		}
	}
	a.engine = retrieval.New(cols, cfg.Pipeline.BranchTimeout(), logger)

	var scorer domain.PairScorer
	if cfg.Rerank.Enabled {
		scorer = rerankHTTP.New(rerankHTTP.Config{
			BaseURL: cfg.Rerank.BaseURL,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
			Timeout: time.Duration(cfg.Rerank.TimeoutSec) * time.Second,
			Batch:   cfg.Rerank.Batch,
			Logger:  logger,
		})
	}
	a.reranker, err = rerank.New(scorer, rerank.Config{Model: cfg.Rerank.Model, Workers: cfg.Rerank.Workers}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create rerank stage: %w", err)
	}

	a.pipeline = pipeline.New(a.embedder, a.engine, a.reranker, logger)
	a.health = a.buildHealth(a.embedder)

	logger.Info("Pipeline ready",
		zap.Strings("collections", cfg.CollectionNames()),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("embedding_cache", cfg.Embedding.CacheBackend),
		zap.Bool("rerank", a.reranker.Enabled()),
	)
	return a, nil
}

// Close releases the worker pool and the database connection.
func (a *app) Close() {
	if a.reranker != nil {
		a.reranker.Release()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) vectorStore(backend string) retrieval.VectorStore {
	if backend == config.BackendRemote {
		return a.remote
	}
	return a.flat
}

func (a *app) pointStore(backend string) pointStore {
	if backend == config.BackendRemote {
		return a.remote
	}
	return a.flat
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func (a *app) buildEmbedder() domain.Embedder {
	cfg := a.cfg.Embedding
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	// Base provider (with transport metrics built-in)
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Timeout:    timeout,
		Logger:     a.logger,
	})

	// Cached; the key is scoped to the model so switching models never serves stale vectors
	var embedder domain.Embedder = base
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	keyPrefix := "emb:" + cfg.Model + ":"
	switch cfg.CacheBackend {
	case config.CacheMemory:
		embedder = embcache.New(base, embcache.NewMemoryStore(cfg.CacheSize, ttl),
			keyPrefix, metrics.EmbeddingCacheTotal, a.logger)
	case config.CacheRedis:
		embedder = embcache.New(base, embcache.NewRedisStore(a.db, ttl),
			a.cfg.Storage.KeyPrefix+keyPrefix, metrics.EmbeddingCacheTotal, a.logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Provider, cfg.Model, timeout, a.logger)

	// Instruction prefix (outermost, so the cache key includes it)
	if cfg.QueryInstruction != "" {
		return domain.NewInstructionEmbedder(embedder, cfg.QueryInstruction)
	}
	return embedder
}

// buildHealth registers a preflight check per collection. embedder may be nil.
func (a *app) buildHealth(embedder domain.Embedder) *healthuc.Service {
	cols := make([]healthuc.Collection, len(a.cfg.Collections))
	for i, c := range a.cfg.Collections {
		cols[i] = healthuc.Collection{Name: c.Name, Backend: c.Backend, Stat: a.statFunc(c.Backend)}
	}

	// Pass nil interfaces, not typed nil pointers.
	var db healthuc.DBPinger
	if a.db != nil {
		db = a.db
	}
	var emb healthuc.EmbeddingChecker
	if embedder != nil {
		emb = newEmbeddingHealthChecker(embedder)
	}
	return healthuc.New(db, emb, cols...)
}

func (a *app) statFunc(backend string) healthuc.StatFunc {
	if backend == config.BackendRemote {
		return func(ctx context.Context, collection string) (healthuc.CollectionStat, error) {
			info, err := a.remote.Stat(ctx, collection)
			if err != nil {
				return healthuc.CollectionStat{}, err
			}
			return healthuc.CollectionStat{Location: info.Index, Exists: info.Exists, Points: info.Points}, nil
		}
	}
	return func(ctx context.Context, collection string) (healthuc.CollectionStat, error) {
		info, err := a.flat.Stat(ctx, collection)
		if err != nil {
			return healthuc.CollectionStat{}, err
		}
		return healthuc.CollectionStat{
			Location:  info.Path,
			Exists:    info.Exists,
			Points:    info.Points,
			Lines:     info.Lines,
			SizeBytes: info.Size,
		}, nil
	}
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
