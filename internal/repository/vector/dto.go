package vector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/vecfuse/internal/db"
	"github.com/kailas-cloud/vecfuse/internal/db/redis"
	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
	"github.com/kailas-cloud/vecfuse/internal/domain/point"
)

// Hash field names.
const (
	fieldID      = "__id"
	fieldVector  = "__vector"
	fieldPayload = "__payload"
	fieldSource  = "source"
)

var errMissingPayload = errors.New("missing payload")

// encodeHash converts a point into hash fields for HSET.
func encodeHash(collection string, p *point.Point) (map[string]string, error) {
	data, err := payload.Encode(p.Payload)
	if err != nil {
		return nil, err
	}
	m := map[string]string{
		fieldID:      strconv.FormatInt(p.ID, 10),
		fieldPayload: string(data),
		fieldSource:  sourceTag(collection, p.Payload),
	}
	if p.HasVector() {
		m[fieldVector] = redis.VectorToBytes(p.Vector)
	}
	return m, nil
}

// decodeHash converts hash fields back into a point.
func decodeHash(id int64, m map[string]string) (point.Point, error) {
	if raw, ok := m[fieldID]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return point.Point{}, fmt.Errorf("parse %s: %w", fieldID, err)
		}
		id = parsed
	}
	raw, ok := m[fieldPayload]
	if !ok {
		return point.Point{}, errMissingPayload
	}
	pl, err := payload.Decode([]byte(raw))
	if err != nil {
		return point.Point{}, err
	}
	p := point.Point{ID: id, Payload: pl}
	if v, ok := m[fieldVector]; ok && v != "" {
		p.Vector = redis.BytesToVector(v)
		if p.Vector == nil {
			return point.Point{}, fmt.Errorf("malformed %s", fieldVector)
		}
	}
	return p, nil
}

// sourceTag is the value of the TAG field: the payload "source" string when present.
func sourceTag(collection string, pl payload.Map) string {
	if v, ok := pl[fieldSource]; ok {
		if s, ok := v.AsString(); ok && s != "" {
			return s
		}
	}
	return collection
}

// parseKNNResults converts search entries into hits, dropping undecodable entries.
func parseKNNResults(sr *db.SearchResult, prefix, collection string) []hit.Hit {
	if sr == nil || len(sr.Entries) == 0 {
		return []hit.Hit{}
	}
	hits := make([]hit.Hit, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		id, err := strconv.ParseInt(strings.TrimPrefix(entry.Key, prefix), 10, 64)
		if _, ok := entry.Fields[fieldID]; err != nil && !ok {
			continue
		}
		p, err := decodeHash(id, entry.Fields)
		if err != nil {
			continue
		}
		hits = append(hits, hit.Hit{
			ID:         p.ID,
			Score:      entry.Score,
			Payload:    p.Payload,
			Collection: collection,
		})
	}
	return hits
}
