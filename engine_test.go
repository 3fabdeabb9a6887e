package expandodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *IndexEngine {
	t.Helper()
	e, err := OpenEngine("products", EngineOptions{AutoFacet: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_InsertGetRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Insert(ctx, Document{"name": "Bolt", "price": 1.5, "category": "Hardware"})
	require.NoError(t, err)
	e.Refresh()

	got, err := e.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Bolt", got["name"])
	assert.Equal(t, "Hardware", got["category"])
}

func TestEngine_GetMissingIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestEngine_SearchMatchesIndexedText(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Insert(ctx, Document{"name": "Titanium Bolt", "category": "Hardware"})
	require.NoError(t, err)
	_, err = e.Insert(ctx, Document{"name": "Rubber Gasket", "category": "Hardware"})
	require.NoError(t, err)
	e.Refresh()

	res, err := e.Search(ctx, SearchCriteria{Query: "name:Bolt"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
}

func TestEngine_SearchPaginationHonorsPageSize(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := e.Insert(ctx, Document{"name": "Widget", "category": "Hardware"})
		require.NoError(t, err)
	}
	e.Refresh()

	res, err := e.Search(ctx, SearchCriteria{Query: "category:Hardware", Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.TotalHits)
	assert.Len(t, res.Hits, 2)
	assert.Equal(t, 5, res.ItemCount)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, DefaultTopN, res.TopN)
}

func TestEngine_SearchTopNBoundsCandidateSetAcrossPages(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := e.Insert(ctx, Document{"name": "Widget", "category": "Hardware"})
		require.NoError(t, err)
	}
	e.Refresh()

	whole, err := e.Search(ctx, SearchCriteria{Query: "category:Hardware", TopN: 4, Page: 1, PageSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, whole.ItemCount, "topN must bound the candidate set below totalHits")
	assert.EqualValues(t, 6, whole.TotalHits)
	assert.Len(t, whole.Hits, 4)
}

func TestEngine_SearchMultiFieldSortBy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, Document{"name": "B", "price": 5.0})
	require.NoError(t, err)
	_, err = e.Insert(ctx, Document{"name": "A", "price": 5.0})
	require.NoError(t, err)
	e.Refresh()

	res, err := e.Search(ctx, SearchCriteria{Query: "*", SortBy: "price:asc,name:asc"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "A", res.Hits[0].Fields["name"])
	assert.Equal(t, "B", res.Hits[1].Fields["name"])
}

func TestEngine_SearchRejectsUnsortableSelectField(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, Document{"address": map[string]any{"city": "Austin"}})
	require.NoError(t, err)
	e.Refresh()

	_, err = e.Search(ctx, SearchCriteria{Query: "*", SelectFields: []string{"address"}})
	require.Error(t, err)
}

func TestEngine_FacetCountsPerCategoryValue(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, cat := range []string{"Hardware", "Hardware", "Tools"} {
		_, err := e.Insert(ctx, Document{"name": "Item", "category": cat})
		require.NoError(t, err)
	}
	e.Refresh()

	res, err := e.Search(ctx, SearchCriteria{Query: "*", Facets: []string{"category"}})
	require.NoError(t, err)
	require.Contains(t, res.Facets, "category")

	counts := map[string]int{}
	for _, fc := range res.Facets["category"] {
		counts[fc.Value] = fc.Count
	}
	assert.Equal(t, 2, counts["Hardware"])
	assert.Equal(t, 1, counts["Tools"])
}

func TestEngine_CountMatchesQuery(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Insert(ctx, Document{"name": "Bolt"})
	require.NoError(t, err)
	e.Refresh()

	n, err := e.Count(ctx, "*")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestEngine_OperationsFailAfterClose(t *testing.T) {
	e, err := OpenEngine("scratch", EngineOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Insert(context.Background(), Document{"name": "x"})
	require.Error(t, err)
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrEngineClosed, ie.Code)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e, err := OpenEngine("scratch2", EngineOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}

func TestSearcherManager_AcquireReleaseIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	s := e.manager.Acquire()
	require.NotNil(t, s.Index)
	s.Release()
	s.Release()
}

func TestSearcherManager_PeriodicTickDoesNotPanic(t *testing.T) {
	e := newTestEngine(t)
	sm := newSearcherManager(e.index, 5*time.Millisecond, nil)
	time.Sleep(20 * time.Millisecond)
	sm.Close()
}
