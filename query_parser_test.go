package expandodb

import (
	"testing"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *schemaRegistry {
	r := newSchemaRegistry("products", false, nil)
	r.GetOrCreate("title").DataType = TypeText
	r.GetOrCreate("price").DataType = TypeNumber
	r.GetOrCreate("inStock").DataType = TypeBoolean
	r.GetOrCreate("sku").DataType = TypeGuid
	r.GetOrCreate("releasedOn").DataType = TypeDateTime
	return r
}

func TestParse_EmptyQueryIsMatchAll(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("")
	require.NoError(t, err)
	_, ok := q.(*query.MatchAllQuery)
	assert.True(t, ok)
}

func TestParse_FieldQualifiedTermSplitsOnColon(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("title:widget")
	require.NoError(t, err)
	mq, ok := q.(*query.MatchQuery)
	require.True(t, ok, "expected a MatchQuery on the Text field, got %T", q)
	assert.Equal(t, "title", mq.FieldVal)
	assert.Equal(t, "widget", mq.Match)
}

func TestParse_BareTermSearchesFullText(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("widget")
	require.NoError(t, err)
	mq, ok := q.(*query.MatchQuery)
	require.True(t, ok)
	assert.Equal(t, FieldFullText, mq.FieldVal)
}

func TestParse_ImplicitAndBetweenAdjacentTerms(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("title:widget price:9")
	require.NoError(t, err)
	cq, ok := q.(*query.ConjunctionQuery)
	require.True(t, ok, "adjacent clauses with no explicit operator default to AND")
	assert.Len(t, cq.Conjuncts, 2)
}

func TestParse_ExplicitOrProducesDisjunction(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("title:widget OR title:gadget")
	require.NoError(t, err)
	dq, ok := q.(*query.DisjunctionQuery)
	require.True(t, ok)
	assert.Len(t, dq.Disjuncts, 2)
}

func TestParse_PhraseOnNonTextFieldBecomesExactTerm(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse(`sku:"550E8400-E29B-41D4-A716-446655440000"`)
	require.NoError(t, err)
	tq, ok := q.(*query.TermQuery)
	require.True(t, ok)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", tq.Term)
}

func TestParse_ExactTermOnNumberFieldIsZeroWidthNumericRange(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("price:9")
	require.NoError(t, err)
	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok, "expected a NumericRangeQuery on the Number field, got %T", q)
	require.NotNil(t, rq.Min)
	require.NotNil(t, rq.Max)
	assert.Equal(t, 9.0, *rq.Min)
	assert.Equal(t, 9.0, *rq.Max)
	assert.Equal(t, SortColumn("price"), rq.FieldVal)
}

func TestParse_ExactTermOnBooleanFieldIsZeroWidthNumericRange(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("inStock:true")
	require.NoError(t, err)
	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok)
	assert.Equal(t, 1.0, *rq.Min)
	assert.Equal(t, 1.0, *rq.Max)
}

func TestParse_ExactTermOnDateTimeFieldIsZeroWidthNumericRange(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse(`releasedOn:"2024-03-14T00:00:00Z"`)
	require.NoError(t, err)
	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok)
	assert.Equal(t, *rq.Min, *rq.Max)
	assert.Equal(t, SortColumn("releasedOn"), rq.FieldVal)
}

func TestParse_FuzzyRejectedOnNonTextField(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	_, err := p.Parse("price:9~")
	assert.Error(t, err)
}

func TestParse_NullTokenRewritesToNullMarker(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("title:_null_")
	require.NoError(t, err)
	tq, ok := q.(*query.TermQuery)
	require.True(t, ok)
	assert.Equal(t, NullMarkerColumn("title"), tq.FieldVal)
}

func TestParse_NumericRangeInclusive(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("price:[10 TO 20]")
	require.NoError(t, err)
	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok)
	require.NotNil(t, rq.Min)
	require.NotNil(t, rq.Max)
	assert.Equal(t, 10.0, *rq.Min)
	assert.Equal(t, 20.0, *rq.Max)
}

func TestParse_NumericRangeExclusiveNudgesBounds(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("price:{10 TO 20}")
	require.NoError(t, err)
	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok)
	assert.Greater(t, *rq.Min, 10.0)
	assert.Less(t, *rq.Max, 20.0)
}

func TestParse_OpenRangeBound(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("price:[* TO 20]")
	require.NoError(t, err)
	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok)
	assert.Equal(t, 20.0, *rq.Max)
}

func TestParse_WildcardAllBecomesMatchAll(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("*")
	require.NoError(t, err)
	_, ok := q.(*query.MatchAllQuery)
	assert.True(t, ok)
}

func TestParse_PrefixQuery(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	q, err := p.Parse("title:wid*")
	require.NoError(t, err)
	pq, ok := q.(*query.PrefixQuery)
	require.True(t, ok)
	assert.Equal(t, "wid", pq.Prefix)
}

func TestParse_UnknownFieldIsAParseError(t *testing.T) {
	p := newQueryParser(newTestRegistry(), "")
	_, err := p.Parse("nonexistent:foo")
	require.Error(t, err)
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrParse, ie.Code)
}
