package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/vecfuse/internal/domain"
	"github.com/kailas-cloud/vecfuse/internal/domain/hit"
	"github.com/kailas-cloud/vecfuse/internal/domain/query"
)

type storeFunc func(ctx context.Context, collection string, vector []float32, limit int) (hit.Result, error)

func (f storeFunc) Search(ctx context.Context, collection string, vector []float32, limit int) (hit.Result, error) {
	return f(ctx, collection, vector, limit)
}

func hitsStore(hits ...hit.Hit) storeFunc {
	return func(_ context.Context, collection string, _ []float32, limit int) (hit.Result, error) {
		out := make([]hit.Hit, 0, len(hits))
		for _, h := range hits {
			h.Collection = collection
			out = append(out, h)
		}
		return hit.Result{Hits: hit.Truncate(out, limit)}, nil
	}
}

func TestRetrieve_PreservesTargetOrder(t *testing.T) {
	slow := storeFunc(func(ctx context.Context, c string, v []float32, l int) (hit.Result, error) {
		time.Sleep(30 * time.Millisecond)
		return hitsStore(hit.Hit{ID: 1, Score: 0.5})(ctx, c, v, l)
	})
	e := New([]Collection{
		{Name: "vendors-raw", Source: "raw", Store: slow},
		{Name: "vendors-enriched", Source: "enriched", Store: hitsStore(hit.Hit{ID: 2, Score: 0.8})},
	}, time.Second, nil)

	branches, err := e.Retrieve(context.Background(), []float32{1}, []query.Target{
		{Collection: "vendors-raw", Limit: 10},
		{Collection: "vendors-enriched", Limit: 10},
	})
	require.NoError(t, err)
	require.Len(t, branches, 2)

	assert.Equal(t, "vendors-raw", branches[0].Collection)
	assert.Equal(t, "raw", branches[0].Source)
	assert.Equal(t, StatusOK, branches[0].Status)
	assert.Equal(t, int64(1), branches[0].Hits[0].ID)
	assert.Equal(t, "vendors-enriched", branches[1].Collection)
	assert.Equal(t, int64(2), branches[1].Hits[0].ID)
}

func TestRetrieve_PassesLimit(t *testing.T) {
	var got int
	e := New([]Collection{{Name: "c", Store: storeFunc(
		func(_ context.Context, _ string, _ []float32, limit int) (hit.Result, error) {
			got = limit
			return hit.Result{}, nil
		})}}, 0, nil)

	branches, err := e.Retrieve(context.Background(), []float32{1}, []query.Target{{Collection: "c", Limit: 25}})
	require.NoError(t, err)
	assert.Equal(t, 25, got)
	assert.NotNil(t, branches[0].Hits)
	assert.Equal(t, "c", branches[0].Source, "source defaults to collection name")
}

func TestRetrieve_FailureDoesNotAbortSiblings(t *testing.T) {
	failing := storeFunc(func(_ context.Context, _ string, _ []float32, _ int) (hit.Result, error) {
		return hit.Result{}, errors.New("connection refused")
	})
	e := New([]Collection{
		{Name: "broken", Store: failing},
		{Name: "ok", Store: hitsStore(hit.Hit{ID: 7, Score: 0.9})},
	}, time.Second, nil)

	branches, err := e.Retrieve(context.Background(), []float32{1}, []query.Target{
		{Collection: "broken", Limit: 5}, {Collection: "ok", Limit: 5},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, branches[0].Status)
	assert.Error(t, branches[0].Err)
	assert.Empty(t, branches[0].Hits)
	assert.Equal(t, StatusOK, branches[1].Status)
	assert.Len(t, branches[1].Hits, 1)
	assert.NoError(t, ConfigError(branches))
}

func TestRetrieve_Timeout(t *testing.T) {
	blocking := storeFunc(func(_ context.Context, _ string, _ []float32, _ int) (hit.Result, error) {
		time.Sleep(500 * time.Millisecond) // ignores ctx, like a synchronous scan
		return hit.Result{Hits: []hit.Hit{{ID: 1}}}, nil
	})
	e := New([]Collection{
		{Name: "slow", Store: blocking},
		{Name: "fast", Store: hitsStore(hit.Hit{ID: 2, Score: 0.3})},
	}, 20*time.Millisecond, nil)

	start := time.Now()
	branches, err := e.Retrieve(context.Background(), []float32{1}, []query.Target{
		{Collection: "slow", Limit: 5}, {Collection: "fast", Limit: 5},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	assert.Equal(t, StatusTimeout, branches[0].Status)
	assert.Empty(t, branches[0].Hits)
	assert.ErrorIs(t, branches[0].Err, context.DeadlineExceeded)
	assert.Equal(t, StatusOK, branches[1].Status)
}

func TestRetrieve_CallerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := storeFunc(func(ctx context.Context, _ string, _ []float32, _ int) (hit.Result, error) {
		cancel()
		<-ctx.Done()
		return hit.Result{}, ctx.Err()
	})
	e := New([]Collection{{Name: "vendors-raw", Store: blocking}}, time.Second, nil)

	branches, err := e.Retrieve(ctx, []float32{1}, []query.Target{{Collection: "vendors-raw", Limit: 5}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, branches)
}

func TestRetrieve_MissingCollection(t *testing.T) {
	missing := storeFunc(func(_ context.Context, _ string, _ []float32, _ int) (hit.Result, error) {
		return hit.Missing(), nil
	})
	e := New([]Collection{{Name: "absent", Store: missing}}, time.Second, nil)

	branches, err := e.Retrieve(context.Background(), []float32{1}, []query.Target{{Collection: "absent", Limit: 5}})
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, branches[0].Status)
	assert.Equal(t, hit.DiagnosticCollectionMissing, branches[0].Diagnostic)
	assert.NoError(t, branches[0].Err)
}

func TestRetrieve_UnknownCollection(t *testing.T) {
	e := New(nil, time.Second, nil)
	_, err := e.Retrieve(context.Background(), []float32{1}, []query.Target{{Collection: "nope", Limit: 5}})
	assert.ErrorIs(t, err, domain.ErrUnknownCollection)
}

func TestConfigError_DimensionMismatch(t *testing.T) {
	mismatch := storeFunc(func(_ context.Context, c string, v []float32, _ int) (hit.Result, error) {
		return hit.Result{}, domain.NewDimMismatch(c, 3, len(v))
	})
	e := New([]Collection{{Name: "c", Store: mismatch}}, time.Second, nil)

	branches, err := e.Retrieve(context.Background(), []float32{1, 2}, []query.Target{{Collection: "c", Limit: 5}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, branches[0].Status)
	assert.ErrorIs(t, ConfigError(branches), domain.ErrVectorDimMismatch)
}
