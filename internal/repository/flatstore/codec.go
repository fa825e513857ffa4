package flatstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
	"github.com/kailas-cloud/vecfuse/internal/domain/point"
)

// record is one JSON Lines entry.
type record struct {
	ID      *int64      `json:"id"`
	Vector  []float32   `json:"vector"`
	Payload payload.Map `json:"payload"`
}

// Skip reasons reported by decode.
const (
	skipCorrupt   = "corrupt"
	skipDimension = "dimension"
)

type decodeStats struct {
	lines   int
	skipped map[string]int
}

// decode reads JSON Lines from r. Blank lines are ignored; unparseable lines,
// lines without an id, and vectors whose dimension disagrees with the first
// vector are skipped and counted.
func decode(r io.Reader) ([]point.Point, decodeStats, error) {
	stats := decodeStats{skipped: map[string]int{}}
	br := bufio.NewReader(r)
	dim := 0
	points := []point.Point{}

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if p, reason, ok := decodeLine(line, &dim); ok {
				points = append(points, p)
				stats.lines++
			} else if reason != "" {
				stats.skipped[reason]++
				stats.lines++
			}
		}
		if errors.Is(err, io.EOF) {
			return points, stats, nil
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read line: %w", err)
		}
	}
}

func decodeLine(line []byte, dim *int) (point.Point, string, bool) {
	if isBlank(line) {
		return point.Point{}, "", false
	}
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil || rec.ID == nil {
		return point.Point{}, skipCorrupt, false
	}
	if n := len(rec.Vector); n > 0 {
		if *dim == 0 {
			*dim = n
		} else if n != *dim {
			return point.Point{}, skipDimension, false
		}
	}
	if rec.Payload == nil {
		rec.Payload = payload.Map{}
	}
	return point.Point{ID: *rec.ID, Vector: rec.Vector, Payload: rec.Payload}, "", true
}

func isBlank(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}

// encode writes one JSON object per point.
func encode(w io.Writer, points []point.Point) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range points {
		p := &points[i]
		id := p.ID
		vec := p.Vector
		if vec == nil {
			vec = []float32{}
		}
		pl := p.Payload
		if pl == nil {
			pl = payload.Map{}
		}
		if err := enc.Encode(record{ID: &id, Vector: vec, Payload: pl}); err != nil {
			return fmt.Errorf("encode point %d: %w", p.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// ReadFile parses a JSON Lines file outside the store directory with the same
// skipping rules as Load. It returns the points and the number of skipped lines.
func ReadFile(path string) ([]point.Point, int, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	points, stats, err := decode(f)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	skipped := 0
	for _, n := range stats.skipped {
		skipped += n
	}
	return points, skipped, nil
}
