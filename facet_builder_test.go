package expandodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacetBuilder_FlatTextFacet(t *testing.T) {
	r := newSchemaRegistry("products", false, nil)
	field := r.GetOrCreate("category")
	field.DataType = TypeText
	field.FacetSettings = &FacetSettings{FacetName: "category"}

	fb := newFacetBuilder(r, nil)
	out := map[string]any{}
	err := fb.Apply(Document{"category": "Electronics"}, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"Electronics"}, out[facetColumn("category")])
}

func TestFacetBuilder_HierarchicalDateTime(t *testing.T) {
	r := newSchemaRegistry("orders", false, nil)
	field := r.GetOrCreate("placedOn")
	field.DataType = TypeDateTime
	field.FacetSettings = &FacetSettings{
		FacetName:          "placedOn",
		IsHierarchical:     true,
		HierarchySeparator: "/",
	}

	fb := newFacetBuilder(r, nil)
	out := map[string]any{}
	err := fb.Apply(Document{"placedOn": "2024-03-14T09:00:00Z"}, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/Mar/14"}, out[facetColumn("placedOn")])
}

func TestFacetBuilder_ArrayOfTextYieldsOnePathPerElement(t *testing.T) {
	r := newSchemaRegistry("products", false, nil)
	field := r.GetOrCreate("tags")
	field.DataType = TypeArray
	field.ArrayElementDataType = TypeText
	field.FacetSettings = &FacetSettings{FacetName: "tags"}

	fb := newFacetBuilder(r, nil)
	out := map[string]any{}
	err := fb.Apply(Document{"tags": []any{"sale", "clearance"}}, out)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sale", "clearance"}, out[facetColumn("tags")])
}

func TestFacetBuilder_OverlongTextValueIsSkipped(t *testing.T) {
	r := newSchemaRegistry("products", false, nil)
	field := r.GetOrCreate("description")
	field.DataType = TypeText
	field.FacetSettings = &FacetSettings{FacetName: "description"}

	long := make([]byte, maxFacetTextLen+1)
	for i := range long {
		long[i] = 'x'
	}

	fb := newFacetBuilder(r, nil)
	out := map[string]any{}
	err := fb.Apply(Document{"description": string(long)}, out)
	require.NoError(t, err)
	_, ok := out[facetColumn("description")]
	assert.False(t, ok)
}

func TestSplitHierarchy_HonorsEscapedSeparator(t *testing.T) {
	parts := splitHierarchy(`Books/Sci-Fi\/Fantasy`, "/")
	assert.Equal(t, []string{"Books", "Sci-Fi/Fantasy"}, parts)
}

func TestFormatNumber_HonorsDecimalPlaces(t *testing.T) {
	assert.Equal(t, "19.99", formatNumber(19.99, "0.00"))
	assert.Equal(t, "20.0", formatNumber(20, "0.0"))
	assert.Equal(t, "20", formatNumber(20, ""))
}
