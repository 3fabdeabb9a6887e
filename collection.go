package expandodb

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// schemasCollectionName is the reserved collection a Database uses to
// persist every other collection's inferred Schema, so it survives a
// restart (§3 Lifecycle: "the schema is persisted alongside the index").
const schemasCollectionName = "_schemas"

// DatabaseOptions configures OpenDatabase.
type DatabaseOptions struct {
	// Dir is the on-disk root directory; one subdirectory per collection
	// plus one for the reserved schemas collection. Empty opens every
	// collection in memory (tests, §9).
	Dir       string
	AutoFacet bool
	Logger    Logger
}

// Database owns a set of named collections and the reserved schemas
// collection used to persist/hydrate their inferred shapes (§3, §4.9).
type Database struct {
	dir       string
	autoFacet bool
	log       Logger

	mu          sync.Mutex
	schemas     *IndexEngine
	collections map[string]*Collection
}

// OpenDatabase opens (creating if necessary) the schemas collection and
// returns a Database ready to open/create document collections on demand.
func OpenDatabase(opts DatabaseOptions) (*Database, error) {
	log := opts.Logger
	if log == nil {
		log = defaultLogger{}
	}
	schemaEngine, err := OpenEngine(schemasCollectionName, EngineOptions{
		Path:   collectionPath(opts.Dir, schemasCollectionName),
		Logger: log,
	})
	if err != nil {
		return nil, err
	}
	return &Database{
		dir:         opts.Dir,
		autoFacet:   opts.AutoFacet,
		log:         log,
		schemas:     schemaEngine,
		collections: map[string]*Collection{},
	}, nil
}

func collectionPath(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

// Collection returns the named collection, opening it (and hydrating its
// schema from the _schemas collection, if one was persisted) on first use.
func (db *Database) Collection(name string) (*Collection, error) {
	if IsReservedField(name) || name == schemasCollectionName {
		return nil, NewError("reserved collection name: "+name, WithCode(ErrValidation))
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.collections[name]; ok {
		return c, nil
	}

	engine, err := OpenEngine(name, EngineOptions{
		Path:      collectionPath(db.dir, name),
		AutoFacet: db.autoFacet,
		Logger:    db.log,
	})
	if err != nil {
		return nil, err
	}

	if persisted, err := db.loadSchema(name); err == nil && persisted != nil {
		engine.Hydrate(persisted)
	}

	c := &Collection{name: name, engine: engine, db: db, log: db.log}
	db.collections[name] = c
	return c, nil
}

// DropCollection closes and permanently deletes name's index and its
// persisted schema entry (§4.9). It is a no-op if the collection was never
// opened and has no on-disk directory.
func (db *Database) DropCollection(ctx context.Context, name string) error {
	db.mu.Lock()
	c, open := db.collections[name]
	delete(db.collections, name)
	db.mu.Unlock()

	if open {
		if err := c.engine.Close(); err != nil {
			return err
		}
	}
	_ = db.schemas.Delete(ctx, schemaDocID(name))
	if db.dir != "" {
		if err := os.RemoveAll(collectionPath(db.dir, name)); err != nil {
			return NewError("failed to remove collection directory", WithCode(ErrInternal), WithCause(err))
		}
	}
	return nil
}

// Close closes every opened collection plus the schemas collection.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	var firstErr error
	for _, c := range db.collections {
		if err := c.engine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.schemas.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (db *Database) loadSchema(name string) (*Schema, error) {
	fields, err := db.schemas.Get(context.Background(), schemaDocID(name))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return docToSchema(fields), nil
}

// persistSchema upserts name's current schema snapshot into the schemas
// collection. bleve's Index() call is itself an upsert, so this is safe to
// call whether or not a snapshot for name already exists.
func (db *Database) persistSchema(name string, s *Schema) {
	doc := schemaToDoc(name, s)
	if err := db.schemas.Replace(context.Background(), doc); err != nil {
		db.log.Error("failed to persist schema", map[string]any{"collection": name, "error": err.Error()})
	}
}

// Collection is the public, per-collection API (§6.1): Insert / Get /
// Replace / Patch / Delete / Search / Count, with every Insert, Replace and
// Patch re-persisting the collection's (possibly now-wider) schema.
type Collection struct {
	name   string
	engine *IndexEngine
	db     *Database
	log    Logger
}

func (c *Collection) Name() string { return c.name }

// Insert adds a brand-new document and returns its minted or supplied _id.
func (c *Collection) Insert(ctx context.Context, doc Document) (string, error) {
	id, err := c.engine.Insert(ctx, doc)
	if err != nil {
		return "", err
	}
	c.db.persistSchema(c.name, c.engine.Schema())
	return id, nil
}

// Get fetches a document's stored fields by _id.
func (c *Collection) Get(ctx context.Context, id string) (map[string]any, error) {
	return c.engine.Get(ctx, id)
}

// Replace fully overwrites doc[_id] (§6.1).
func (c *Collection) Replace(ctx context.Context, doc Document) error {
	if err := c.engine.Replace(ctx, doc); err != nil {
		return err
	}
	c.db.persistSchema(c.name, c.engine.Schema())
	return nil
}

// Patch loads the current document, applies ops, and writes it back
// (§6.1). The read-modify-write is not atomic with respect to concurrent
// patches on the same _id; callers needing that guarantee should funnel
// patches for one id through a single goroutine, same as writer.go does
// for the index itself.
func (c *Collection) Patch(ctx context.Context, id string, ops []PatchOp) error {
	fields, err := c.engine.Get(ctx, id)
	if err != nil {
		return err
	}
	doc := Document(fields)
	doc[FieldID] = id
	if err := ApplyPatch(doc, ops); err != nil {
		return err
	}
	return c.Replace(ctx, doc)
}

// Delete removes the document identified by id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	return c.engine.Delete(ctx, id)
}

// Search runs crit against the collection (§4.8).
func (c *Collection) Search(ctx context.Context, crit SearchCriteria) (*SearchResult, error) {
	return c.engine.Search(ctx, crit)
}

// Count returns the number of documents matching queryStr (§4.8).
func (c *Collection) Count(ctx context.Context, queryStr string) (uint64, error) {
	return c.engine.Count(ctx, queryStr)
}

// Refresh forces an immediate searcher republish (§4.7).
func (c *Collection) Refresh() { c.engine.Refresh() }

// ---- schema (de)serialization for the _schemas collection -------------

// schemaDocID derives a stable Guid for collection name's entry in the
// schemas collection (document _id values must be Guids, §3), using a
// deterministic SHA-1 name-based UUID so both persistSchema and loadSchema
// can compute the same id without a secondary index.
func schemaDocID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func schemaToDoc(name string, s *Schema) Document {
	fields := make([]any, 0, len(s.Fields))
	for _, f := range s.Fields {
		fields = append(fields, encodeField(f))
	}
	return Document{
		FieldID: schemaDocID(name),
		"name":   name,
		"fields": fields,
	}
}

func encodeField(f *Field) map[string]any {
	out := map[string]any{
		"name":                 f.Name,
		"dataType":             string(f.DataType),
		"arrayElementDataType": string(f.ArrayElementDataType),
		"isArrayElement":       f.IsArrayElement,
		"isTokenized":          f.IsTokenized,
	}
	if f.FacetSettings != nil {
		out["facet"] = map[string]any{
			"facetName":          f.FacetSettings.FacetName,
			"isHierarchical":     f.FacetSettings.IsHierarchical,
			"hierarchySeparator": f.FacetSettings.HierarchySeparator,
			"formatString":       f.FacetSettings.FormatString,
			"multiValued":        f.FacetSettings.MultiValued,
		}
	}
	if f.ObjectSchema != nil {
		childFields := make([]any, 0, len(f.ObjectSchema.Fields))
		for _, cf := range f.ObjectSchema.Fields {
			childFields = append(childFields, encodeField(cf))
		}
		out["objectSchema"] = map[string]any{
			"name":   f.ObjectSchema.Name,
			"fields": childFields,
		}
	}
	return out
}

func docToSchema(fields map[string]any) *Schema {
	name, _ := fields["name"].(string)
	s := &Schema{Name: name, Fields: map[string]*Field{}}
	raw, _ := fields["fields"].([]any)
	for _, fv := range raw {
		if fm, ok := toStringMap(fv); ok {
			f := decodeField(fm)
			s.Fields[f.Name] = f
		}
	}
	return s
}

func decodeField(m map[string]any) *Field {
	f := &Field{
		Name:                 stringOf(m["name"]),
		DataType:             DataType(stringOf(m["dataType"])),
		ArrayElementDataType: DataType(stringOf(m["arrayElementDataType"])),
		IsArrayElement:       boolOf(m["isArrayElement"]),
		IsTokenized:          boolOf(m["isTokenized"]),
	}
	if fm, ok := toStringMap(m["facet"]); ok {
		f.FacetSettings = &FacetSettings{
			FacetName:          stringOf(fm["facetName"]),
			IsHierarchical:     boolOf(fm["isHierarchical"]),
			HierarchySeparator: stringOf(fm["hierarchySeparator"]),
			FormatString:       stringOf(fm["formatString"]),
			MultiValued:        boolOf(fm["multiValued"]),
		}
	}
	if om, ok := toStringMap(m["objectSchema"]); ok {
		child := &Schema{Name: stringOf(om["name"]), Fields: map[string]*Field{}}
		if raw, ok := om["fields"].([]any); ok {
			for _, fv := range raw {
				if cm, ok := toStringMap(fv); ok {
					cf := decodeField(cm)
					child.Fields[cf.Name] = cf
				}
			}
		}
		f.ObjectSchema = child
	}
	return f
}

func toStringMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func boolOf(v any) bool {
	b, _ := v.(bool)
	return b
}
