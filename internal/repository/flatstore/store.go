// Package flatstore persists collections as JSON Lines files and searches them by brute force.
package flatstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/point"
	"github.com/kailas-cloud/vecfuse/internal/metrics"
)

const (
	fileExt = ".jsonl"
	lockExt = ".lock"

	// DefaultCacheSize is the number of parsed collections kept in memory.
	DefaultCacheSize = 8
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-][a-zA-Z0-9_.-]*$`)

// snapshot is a parsed collection tagged with the file state it was read from.
type snapshot struct {
	modTime time.Time
	size    int64
	points  []point.Point
	lines   int
	dim     int
}

// Store keeps one JSON Lines file per collection under dir.
type Store struct {
	dir    string
	cache  *lru.Cache[string, snapshot]
	logger *zap.Logger
}

// New creates a flat store rooted at dir.
func New(dir string, cacheSize int, logger *zap.Logger) *Store {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, snapshot](cacheSize)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, cache: cache, logger: logger}
}

// Path returns the file backing collection.
func (s *Store) Path(collection string) string {
	return filepath.Join(s.dir, collection+fileExt)
}

// Load reads every well-formed point of collection. A missing or empty file yields no points.
func (s *Store) Load(_ context.Context, collection string) ([]point.Point, error) {
	snap, _, err := s.read(collection)
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.points), nil
}

// Save replaces the collection file with points. The new content is written to a
// temporary file and renamed over the old one while holding the collection lock.
func (s *Store) Save(_ context.Context, collection string, points []point.Point) error {
	if !nameRegex.MatchString(collection) {
		return fmt.Errorf("%w: invalid collection name %q", domain.ErrInvalidOptions, collection)
	}
	if _, err := point.Dimension(collection, points); err != nil {
		return fmt.Errorf("save %s: %w", collection, err)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	lock := flock.New(s.Path(collection) + lockExt)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", collection, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("flat store unlock failed", zap.String("collection", collection), zap.Error(err))
		}
	}()

	tmp, err := os.CreateTemp(s.dir, collection+fileExt+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := encode(tmp, points); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save %s: %w", collection, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", collection, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", collection, err)
	}
	if err := os.Rename(tmpName, s.Path(collection)); err != nil {
		return fmt.Errorf("replace %s: %w", collection, err)
	}
	committed = true
	s.cache.Remove(collection)

	s.logger.Info("flat collection saved",
		zap.String("collection", collection),
		zap.Int("points", len(points)),
	)
	return nil
}

// Search ranks the points of collection against vector. A missing file yields an
// empty result with DiagnosticCollectionMissing.
func (s *Store) Search(_ context.Context, collection string, vector []float32, limit int) (hit.Result, error) {
	snap, exists, err := s.read(collection)
	if err != nil {
		return hit.Result{}, err
	}
	if !exists {
		s.logger.Warn("flat collection file not found",
			zap.String("collection", collection),
			zap.String("path", s.Path(collection)),
		)
		return hit.Missing(), nil
	}
	if snap.dim > 0 && snap.dim != len(vector) {
		return hit.Result{}, domain.NewDimMismatch(collection, snap.dim, len(vector))
	}

	hits, err := Search(snap.points, vector, limit)
	if err != nil {
		return hit.Result{}, fmt.Errorf("search %s: %w", collection, err)
	}
	for i := range hits {
		hits[i].Collection = collection
	}
	return hit.Result{Hits: hits}, nil
}

// Info describes the file backing a collection.
type Info struct {
	Path   string
	Exists bool
	Size   int64
	Points int
	// Lines counts non-blank lines, including skipped ones.
	Lines int
	Dim   int
}

// Stat reports the file state of collection.
func (s *Store) Stat(_ context.Context, collection string) (Info, error) {
	snap, exists, err := s.read(collection)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Path:   s.Path(collection),
		Exists: exists,
		Size:   snap.size,
		Points: len(snap.points),
		Lines:  snap.lines,
		Dim:    snap.dim,
	}, nil
}

// read returns the parsed collection, reusing the cached snapshot while the
// file's modification time and size are unchanged.
func (s *Store) read(collection string) (snapshot, bool, error) {
	if !nameRegex.MatchString(collection) {
		return snapshot{}, false, fmt.Errorf("%w: invalid collection name %q", domain.ErrInvalidOptions, collection)
	}
	path := s.Path(collection)

	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.cache.Remove(collection)
		return snapshot{points: []point.Point{}}, false, nil
	}
	if err != nil {
		return snapshot{}, false, fmt.Errorf("stat %s: %w", path, err)
	}

	if snap, ok := s.cache.Get(collection); ok && snap.modTime.Equal(st.ModTime()) && snap.size == st.Size() {
		return snap, true, nil
	}

	f, err := os.Open(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot{points: []point.Point{}}, false, nil
	}
	if err != nil {
		return snapshot{}, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	points, stats, err := decode(f)
	if err != nil {
		return snapshot{}, true, fmt.Errorf("load %s: %w", collection, err)
	}
	for reason, n := range stats.skipped {
		metrics.StoreSkippedTotal.WithLabelValues("flat", collection, reason).Add(float64(n))
		s.logger.Warn("skipped flat store records",
			zap.String("collection", collection),
			zap.String("reason", reason),
			zap.Int("count", n),
		)
	}

	dim, _ := point.Dimension(collection, points)
	snap := snapshot{modTime: st.ModTime(), size: st.Size(), points: points, lines: stats.lines, dim: dim}
	s.cache.Add(collection, snap)
	return snap, true, nil
}
