package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/kailas-cloud/vecfuse/internal/db"
)

// CreateIndex creates an FT index from the given definition.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := buildCreateArgs(def)
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// IndexExists probes index existence via FT.INFO; "unknown index name" or
// "no such index" means absent.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return false, nil
		}
		return false, &db.Error{Op: db.OpIndexInfo, Err: err}
	}
	return true, nil
}

// VectorDim reads the dimension of a vector attribute from FT.INFO. It returns
// db.ErrIndexNotFound for an absent index and 0 when no dimension is reported.
// Both the RediSearch layout ("dim") and the valkey-search layout
// ("index" -> "dimensions") are understood.
func (s *Store) VectorDim(ctx context.Context, index, field string) (int, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(index).Build()
	info, err := s.do(ctx, cmd).ToAny()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return 0, db.ErrIndexNotFound
		}
		return 0, &db.Error{Op: db.OpIndexInfo, Err: err}
	}

	attrs, _ := infoValue(info, "attributes").([]any)
	for _, a := range attrs {
		if infoString(a, "identifier") != field && infoString(a, "attribute") != field {
			continue
		}
		if n, ok := findDim(a); ok {
			return n, nil
		}
		return 0, nil
	}
	return 0, nil
}

// infoValue returns the value following key in an FT.INFO reply, which is a
// flat key/value array under RESP2 and a map under RESP3.
func infoValue(v any, key string) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			if strings.EqualFold(k, key) {
				return e
			}
		}
	case []any:
		for i := 0; i+1 < len(t); i += 2 {
			if k, ok := t[i].(string); ok && strings.EqualFold(k, key) {
				return t[i+1]
			}
		}
	}
	return nil
}

func infoString(v any, key string) string {
	s, _ := infoValue(v, key).(string)
	return s
}

func findDim(v any) (int, bool) {
	for _, key := range []string{"dim", "dimensions"} {
		if n, ok := infoInt(infoValue(v, key)); ok {
			return n, true
		}
	}
	var children []any
	switch t := v.(type) {
	case map[string]any:
		for _, e := range t {
			children = append(children, e)
		}
	case []any:
		children = t
	}
	for _, c := range children {
		switch c.(type) {
		case []any, map[string]any:
			if n, ok := findDim(c); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func infoInt(v any) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

func buildCreateArgs(idx *db.IndexDefinition) ([]string, error) {
	if err := idx.Validate(); err != nil {
		return nil, err
	}

	args := []string{idx.Name}

	storage := idx.StorageType
	if storage == "" {
		storage = db.StorageHash
	}
	args = append(args, "ON", string(storage))

	if len(idx.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		args = append(args, idx.Prefixes...)
	}

	args = append(args, "SCHEMA")

	for i := range idx.Fields {
		fieldArgs, err := buildFieldArgs(&idx.Fields[i])
		if err != nil {
			return nil, err
		}
		args = append(args, fieldArgs...)
	}

	return args, nil
}

func buildFieldArgs(f *db.IndexField) ([]string, error) {
	args := []string{f.Name}

	switch f.Type {
	case db.IndexFieldNumeric:
		args = append(args, "NUMERIC")
	case db.IndexFieldTag:
		args = append(args, "TAG")
	case db.IndexFieldVector:
		args = append(args, buildVectorFieldArgs(f)...)
	default:
		return nil, errors.New("unknown field type")
	}

	return args, nil
}

func buildVectorFieldArgs(f *db.IndexField) []string {
	algo := f.VectorAlgo
	if algo == "" {
		algo = db.VectorFlat
	}

	distance := f.VectorDistance
	if distance == "" {
		distance = db.DistanceCosine
	}

	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(f.VectorDim),
		"DISTANCE_METRIC", string(distance),
	}

	if algo == db.VectorHNSW {
		if f.VectorM > 0 {
			attrs = append(attrs, "M", strconv.Itoa(f.VectorM))
		}
		if f.VectorEFConstruct > 0 {
			attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(f.VectorEFConstruct))
		}
	}

	result := make([]string, 0, 3+len(attrs))
	result = append(result, "VECTOR", string(algo), strconv.Itoa(len(attrs)))
	return append(result, attrs...)
}
