package expandodb

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaRegistry_StartsWithReservedFieldsOnly(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	snap := r.Snapshot()
	assert.Len(t, snap.Fields, 4)
	assert.Contains(t, snap.Fields, FieldID)
	assert.Contains(t, snap.Fields, FieldCreated)
	assert.Contains(t, snap.Fields, FieldModified)
	assert.Contains(t, snap.Fields, FieldFullText)
}

func TestGetOrCreate_IsIdempotent(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	a := r.GetOrCreate("sku")
	b := r.GetOrCreate("sku")
	assert.Same(t, a, b)
}

func TestGetOrCreate_ConcurrentFirstSeenYieldsOneField(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	const n = 64
	fields := make([]*Field, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			fields[i] = r.GetOrCreate("concurrent")
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Same(t, fields[0], fields[i])
	}
}

func TestGetOrCreate_AutoFacetSeedsDefaultSettings(t *testing.T) {
	r := newSchemaRegistry("widgets", true, nil)
	f := r.GetOrCreate("color")
	require.NotNil(t, f.FacetSettings)
	assert.Equal(t, "color", f.FacetSettings.FacetName)
	assert.False(t, f.FacetSettings.IsHierarchical)
}

func TestGetOrCreate_AutoFacetSkipsDottedAndReservedFields(t *testing.T) {
	r := newSchemaRegistry("widgets", true, nil)
	assert.Nil(t, r.GetOrCreate(FieldID).FacetSettings)
	assert.Nil(t, r.GetOrCreate("address.city").FacetSettings)
}

func TestFindField_DescendsIntoObjectSchema(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	parent := r.GetOrCreate("address")
	parent.DataType = TypeObject
	parent.ObjectSchema = &Schema{Name: "address", Fields: map[string]*Field{
		"city": {Name: "address.city", DataType: TypeText},
	}}

	found := r.FindField("address.city")
	require.NotNil(t, found)
	assert.Equal(t, TypeText, found.DataType)
	assert.Nil(t, r.FindField("address.unknown"))
}

func TestRegisterFacetName_IsOnceOnly(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	first := r.registerFacetName("category", true, "/")
	second := r.registerFacetName("category", false, ">")
	assert.Same(t, first, second)
	assert.True(t, second.IsHierarchical, "the first registration wins")
}
