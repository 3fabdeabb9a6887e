package expandodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentMapper_InsertMintsIDAndTimestamps(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	dm := newDocumentMapper(r, nil)

	doc := Document{"name": "Bolt", "price": 1.5}
	mapped, err := dm.Map(doc, true)
	require.NoError(t, err)

	assert.NotEmpty(t, mapped.id)
	assert.Equal(t, mapped.id, doc[FieldID])
	assert.NotNil(t, doc[FieldCreated])
	assert.NotNil(t, doc[FieldModified])
	assert.Equal(t, "Bolt", mapped.fields["name"])
	assert.Equal(t, 1.5, mapped.fields["price"])
}

func TestDocumentMapper_UpdateRequiresExistingID(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	dm := newDocumentMapper(r, nil)

	_, err := dm.Map(Document{"name": "Bolt"}, false)
	require.Error(t, err)
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrValidation, ie.Code)
}

func TestDocumentMapper_InvalidGuidIsRejected(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	dm := newDocumentMapper(r, nil)

	_, err := dm.Map(Document{FieldID: "not-a-guid"}, true)
	require.Error(t, err)
}

func TestDocumentMapper_NestedObjectUsesDottedFieldNames(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	dm := newDocumentMapper(r, nil)

	doc := Document{"address": map[string]any{"city": "Austin", "zip": "78701"}}
	mapped, err := dm.Map(doc, true)
	require.NoError(t, err)

	assert.Equal(t, "Austin", mapped.fields["address.city"])
	assert.Equal(t, "78701", mapped.fields["address.zip"])

	addrField := r.FindField("address")
	require.NotNil(t, addrField)
	assert.Equal(t, TypeObject, addrField.DataType)
}

func TestDocumentMapper_MixedTypeArrayElementIsDropped(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	dm := newDocumentMapper(r, nil)

	doc := Document{"tags": []any{"sale", 42}}
	mapped, err := dm.Map(doc, true)
	require.NoError(t, err)

	tagsField := r.FindField("tags")
	require.NotNil(t, tagsField)
	assert.Equal(t, TypeText, tagsField.ArrayElementDataType)
	assert.Equal(t, []any{"sale"}, mapped.fields["tags"])
}

func TestDocumentMapper_FullTextConcatenatesStringishValues(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	dm := newDocumentMapper(r, nil)

	doc := Document{"name": "Bolt", "price": 1.5, "active": true}
	mapped, err := dm.Map(doc, true)
	require.NoError(t, err)

	ft, _ := mapped.fields[FieldFullText].(string)
	assert.Contains(t, ft, "Bolt")
}

func TestDocumentMapper_SourceSnapshotRoundTrips(t *testing.T) {
	r := newSchemaRegistry("widgets", false, nil)
	dm := newDocumentMapper(r, nil)

	doc := Document{"name": "Bolt"}
	mapped, err := dm.Map(doc, true)
	require.NoError(t, err)

	src, ok := mapped.fields[FieldSource].(string)
	require.True(t, ok)
	assert.Contains(t, src, "Bolt")
}
