package flatstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
	"github.com/kailas-cloud/vecfuse/internal/domain/point"
)

func TestCosine_Symmetry(t *testing.T) {
	a := []float32{0.3, -1.2, 4.5, 0.01}
	b := []float32{2.2, 0.7, -0.4, 3.3}
	assert.Equal(t, Cosine(a, b), Cosine(b, a))
}

func TestCosine_Self(t *testing.T) {
	for _, v := range [][]float32{
		{1, 0, 0},
		{0.3, -1.2, 4.5},
		{1e-3, 2e-3, 7},
	} {
		assert.InDelta(t, 1.0, Cosine(v, v), 1e-12)
	}
}

func TestCosine_ZeroNorm(t *testing.T) {
	zero := []float32{0, 0, 0}
	assert.Equal(t, 0.0, Cosine([]float32{1, 2, 3}, zero))
	assert.Equal(t, 0.0, Cosine(zero, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, Cosine(zero, zero))
}

func TestCosine_Orthogonal(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}))
	assert.Equal(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}))
}

func testPoints() []point.Point {
	return []point.Point{
		{ID: 1, Vector: []float32{1, 0, 0}, Payload: payload.Map{"name": payload.String("a")}},
		{ID: 2, Vector: []float32{0, 1, 0}},
		{ID: 3, Vector: []float32{0.9, 0.1, 0}},
		{ID: 4},
		{ID: 5, Vector: []float32{0.5, 0.5, 0}},
		{ID: 6, Vector: []float32{}},
	}
}

func TestSearch_OrderAndLimit(t *testing.T) {
	hits, err := Search(testPoints(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, int64(1), hits[0].ID)
	assert.Equal(t, int64(3), hits[1].ID)
	assert.Equal(t, int64(5), hits[2].ID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	assert.Equal(t, "a", hits[0].Payload.Text("name"))
}

func TestSearch_ExcludesEmptyVectors(t *testing.T) {
	hits, err := Search(testPoints(), []float32{1, 0, 0}, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
	for _, h := range hits {
		assert.NotEqual(t, int64(4), h.ID)
		assert.NotEqual(t, int64(6), h.ID)
	}
}

func TestSearch_LimitZero(t *testing.T) {
	hits, err := Search(testPoints(), []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	hits, err = Search(testPoints(), []float32{1, 0, 0}, -1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_StableTies(t *testing.T) {
	pts := []point.Point{
		{ID: 10, Vector: []float32{1, 0}},
		{ID: 11, Vector: []float32{2, 0}},
		{ID: 12, Vector: []float32{3, 0}},
	}
	hits, err := Search(pts, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11, 12}, []int64{hits[0].ID, hits[1].ID, hits[2].ID})
}

func TestSearch_DimensionMismatch(t *testing.T) {
	_, err := Search(testPoints(), []float32{1, 0}, 3)
	assert.True(t, errors.Is(err, domain.ErrVectorDimMismatch))
}
