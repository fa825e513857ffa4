// Package vector stores collections in a Redis-compatible FT index and searches them by KNN.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/db"
	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/point"
	"github.com/kailas-cloud/vecfuse/internal/metrics"
)

const (
	defaultKeyPrefix = "vecfuse:"
	writeBatchSize   = 256
)

// store is the consumer interface for the remote backend (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	VectorDim(ctx context.Context, index, field string) (int, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// HNSWConfig holds HNSW index tuning parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Config configures key layout and index creation.
type Config struct {
	KeyPrefix string
	// Algorithm is "hnsw" (default) or "flat".
	Algorithm string
	HNSW      HNSWConfig
	// Dimensions pins the expected vector dimension per collection. Collections
	// without an entry are checked against the DIM of their index.
	Dimensions map[string]int
}

// Repo is the remote VectorStore.
type Repo struct {
	store  store
	cfg    Config
	logger *zap.Logger
	// indexDims caches index vector dimensions by collection.
	indexDims sync.Map
}

// New creates a remote vector repository.
func New(s store, cfg Config, logger *zap.Logger) *Repo {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{store: s, cfg: cfg, logger: logger}
}

// Save upserts points keyed by id, creating the index on first write.
func (r *Repo) Save(ctx context.Context, collection string, points []point.Point) error {
	dim, err := point.Dimension(collection, points)
	if err != nil {
		return err
	}
	if want := r.cfg.Dimensions[collection]; want > 0 && dim > 0 && dim != want {
		return domain.NewDimMismatch(collection, want, dim)
	}
	if len(points) == 0 {
		return nil
	}
	if dim == 0 {
		dim = r.cfg.Dimensions[collection]
	}
	if dim == 0 {
		return fmt.Errorf("save %s: no vectors to derive index dimension", collection)
	}

	def, err := r.buildIndex(collection, dim)
	if err != nil {
		return fmt.Errorf("build index %s: %w", collection, err)
	}
	switch err := r.store.CreateIndex(ctx, def); {
	case err == nil:
		r.indexDims.Store(collection, dim)
	case errors.Is(err, db.ErrIndexExists):
		if r.cfg.Dimensions[collection] == 0 {
			have, err := r.indexDim(ctx, collection)
			if err != nil && !errors.Is(err, db.ErrIndexNotFound) {
				return fmt.Errorf("index info %s: %w", collection, err)
			}
			if have > 0 && have != dim {
				return domain.NewDimMismatch(collection, have, dim)
			}
		}
	default:
		return fmt.Errorf("create index %s: %w", collection, err)
	}

	for start := 0; start < len(points); start += writeBatchSize {
		end := min(start+writeBatchSize, len(points))
		items := make([]db.HashSetItem, 0, end-start)
		for i := start; i < end; i++ {
			fields, err := encodeHash(collection, &points[i])
			if err != nil {
				return fmt.Errorf("encode point %d: %w", points[i].ID, err)
			}
			items = append(items, db.HashSetItem{Key: r.pointKey(collection, points[i].ID), Fields: fields})
		}
		if err := r.store.HSetMulti(ctx, items); err != nil {
			return fmt.Errorf("hset %s: %w", collection, err)
		}
	}
	return nil
}

// Load returns every decodable point of a collection ordered by id.
func (r *Repo) Load(ctx context.Context, collection string) ([]point.Point, error) {
	keys, err := r.store.Scan(ctx, r.collectionPrefix(collection)+"*")
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", collection, err)
	}

	prefix := r.collectionPrefix(collection)
	type keyed struct {
		key string
		id  int64
	}
	ids := make([]keyed, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseInt(strings.TrimPrefix(k, prefix), 10, 64)
		if err != nil {
			continue // index namespace or foreign key
		}
		ids = append(ids, keyed{key: k, id: id})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].id < ids[j].id })

	points := make([]point.Point, 0, len(ids))
	skipped := 0
	for start := 0; start < len(ids); start += writeBatchSize {
		end := min(start+writeBatchSize, len(ids))
		batch := make([]string, 0, end-start)
		for _, k := range ids[start:end] {
			batch = append(batch, k.key)
		}
		hashes, err := r.store.HGetAllMulti(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("hgetall %s: %w", collection, err)
		}
		for i, h := range hashes {
			if len(h) == 0 {
				continue
			}
			p, err := decodeHash(ids[start+i].id, h)
			if err != nil {
				skipped++
				continue
			}
			points = append(points, p)
		}
	}
	r.reportSkipped(collection, skipped)
	return points, nil
}

// Search runs a KNN query. An absent index yields an empty result flagged missing.
func (r *Repo) Search(ctx context.Context, collection string, vector []float32, limit int) (hit.Result, error) {
	if want := r.cfg.Dimensions[collection]; want > 0 && len(vector) != want {
		return hit.Result{}, domain.NewDimMismatch(collection, want, len(vector))
	}
	if limit <= 0 {
		return hit.Result{Hits: []hit.Hit{}}, nil
	}

	idx := r.indexName(collection)
	exists, err := r.store.IndexExists(ctx, idx)
	if err != nil {
		return hit.Result{}, fmt.Errorf("index info %s: %w", collection, err)
	}
	if !exists {
		r.logger.Warn("collection index missing", zap.String("collection", collection), zap.String("index", idx))
		return hit.Missing(), nil
	}
	if r.cfg.Dimensions[collection] == 0 {
		have, err := r.indexDim(ctx, collection)
		switch {
		case errors.Is(err, db.ErrIndexNotFound):
			return hit.Missing(), nil
		case err != nil:
			return hit.Result{}, fmt.Errorf("index info %s: %w", collection, err)
		case have > 0 && have != len(vector):
			return hit.Result{}, domain.NewDimMismatch(collection, have, len(vector))
		}
	}

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    idx,
		VectorField:  fieldVector,
		Vector:       vector,
		K:            limit,
		ReturnFields: []string{fieldID, fieldPayload},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return hit.Missing(), nil
		}
		return hit.Result{}, fmt.Errorf("search knn %s: %w", collection, err)
	}

	hits := parseKNNResults(sr, r.collectionPrefix(collection), collection)
	skipped := 0
	if sr != nil {
		skipped = len(sr.Entries) - len(hits)
	}
	r.reportSkipped(collection, skipped)

	hit.SortByScore(hits)
	return hit.Result{Hits: hit.Truncate(hits, limit)}, nil
}

// Info describes the remote state of a collection.
type Info struct {
	Index  string
	Exists bool
	Points int
}

// Stat reports whether the collection index exists and how many points it holds.
func (r *Repo) Stat(ctx context.Context, collection string) (Info, error) {
	info := Info{Index: r.indexName(collection)}
	exists, err := r.store.IndexExists(ctx, info.Index)
	if err != nil {
		return Info{}, fmt.Errorf("index info %s: %w", collection, err)
	}
	if !exists {
		return info, nil
	}
	info.Exists = true

	n, err := r.store.SearchCount(ctx, info.Index, "*")
	if err != nil {
		return Info{}, fmt.Errorf("search count %s: %w", collection, err)
	}
	info.Points = n
	return info, nil
}

// indexDim returns the vector dimension of the collection index, 0 when the
// index does not report one. Known dimensions are cached.
func (r *Repo) indexDim(ctx context.Context, collection string) (int, error) {
	if v, ok := r.indexDims.Load(collection); ok {
		return v.(int), nil
	}
	dim, err := r.store.VectorDim(ctx, r.indexName(collection), fieldVector)
	if err != nil {
		return 0, err //nolint:wrapcheck // callers add the collection
	}
	if dim > 0 {
		r.indexDims.Store(collection, dim)
	}
	return dim, nil
}

func (r *Repo) reportSkipped(collection string, n int) {
	if n <= 0 {
		return
	}
	metrics.StoreSkippedTotal.WithLabelValues("remote", collection, "corrupt").Add(float64(n))
	r.logger.Warn("skipped remote store records",
		zap.String("collection", collection),
		zap.Int("count", n),
	)
}

func (r *Repo) collectionPrefix(collection string) string {
	return r.cfg.KeyPrefix + collection + ":"
}

func (r *Repo) pointKey(collection string, id int64) string {
	return r.collectionPrefix(collection) + strconv.FormatInt(id, 10)
}

func (r *Repo) indexName(collection string) string {
	return r.collectionPrefix(collection) + "idx"
}
