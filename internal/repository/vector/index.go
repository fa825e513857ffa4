package vector

import (
	"strings"

	"github.com/kailas-cloud/vecfuse/internal/db"
)

// buildIndex creates the FT index definition for a collection: cosine vectors,
// HNSW unless the flat algorithm is configured.
func (r *Repo) buildIndex(collection string, dim int) (*db.IndexDefinition, error) {
	b := db.NewIndex(r.indexName(collection)).
		Prefix(r.collectionPrefix(collection)).
		Numeric(fieldID).
		Tag(fieldSource)

	if strings.EqualFold(r.cfg.Algorithm, "flat") {
		b = b.VectorFlat(fieldVector, dim, db.DistanceCosine)
	} else {
		b = b.VectorHNSW(fieldVector, dim, db.DistanceCosine, r.cfg.HNSW.M, r.cfg.HNSW.EFConstruct)
	}
	return b.Build()
}
