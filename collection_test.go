package expandodb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := OpenDatabase(DatabaseOptions{AutoFacet: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCollection_InsertGetReplacePatchDelete(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	c, err := db.Collection("products")
	require.NoError(t, err)

	id, err := c.Insert(ctx, Document{"name": "Bolt", "price": 1.5})
	require.NoError(t, err)
	c.Refresh()

	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Bolt", got["name"])

	got[FieldID] = id
	got["price"] = 2.0
	require.NoError(t, c.Replace(ctx, Document(got)))
	c.Refresh()

	got, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got["price"])

	require.NoError(t, c.Patch(ctx, id, []PatchOp{{Op: "add", Path: "inStock", Value: true}}))
	c.Refresh()

	got, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, true, got["inStock"])

	require.NoError(t, c.Delete(ctx, id))
	c.Refresh()
	_, err = c.Get(ctx, id)
	assert.True(t, IsNotFound(err))
}

func TestCollection_SchemaIsPersistedToSchemasCollection(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	c, err := db.Collection("products")
	require.NoError(t, err)
	_, err = c.Insert(ctx, Document{"name": "Bolt"})
	require.NoError(t, err)

	snap := c.engine.Schema()
	assert.Contains(t, snap.Fields, "name")

	loaded, err := db.loadSchema("products")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Contains(t, loaded.Fields, "name")
}

func TestDatabase_RejectsReservedCollectionNames(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.Collection(schemasCollectionName)
	assert.Error(t, err)
}

func TestDatabase_DropCollectionClosesAndForgets(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	c, err := db.Collection("scratch")
	require.NoError(t, err)
	_, err = c.Insert(ctx, Document{"name": "x"})
	require.NoError(t, err)

	require.NoError(t, db.DropCollection(ctx, "scratch"))

	reopened, err := db.Collection("scratch")
	require.NoError(t, err)
	assert.NotSame(t, c, reopened)
}
