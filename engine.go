package expandodb

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// engineState is the collection lifecycle state machine §4.9 describes:
// created → open → disposing → closed. Operations issued once disposing has
// begun fail fast with an EngineClosedError rather than racing the
// in-flight close.
type engineState int32

const (
	stateCreated engineState = iota
	stateOpen
	stateDisposing
	stateClosed
)

// EngineOptions configures a newly opened IndexEngine (§3, §4.5, §4.9).
type EngineOptions struct {
	// Path is the on-disk directory bleve should use. Empty opens an
	// in-memory index (bleve's "mem" store), useful for tests (§9).
	Path string

	// AutoFacet seeds every newly observed top-level field with default
	// FacetSettings, matching expando-db's "facet everything by default"
	// behavior (§4.1, §4.4).
	AutoFacet bool

	// NullToken overrides DefaultNullToken for the query parser (§4.6).
	NullToken string

	// RefreshInterval overrides the ~1s default searcher-manager tick
	// (§4.7).
	RefreshInterval time.Duration

	// FullTextAnalyzer configures the tokenizer/lowercase/stem options
	// applied to Text fields and the synthesized _full_text_ field (§4.5).
	FullTextAnalyzer FullTextAnalyzerOptions

	Logger Logger
}

// IndexEngine owns one collection's schema, writer, searcher manager and
// search executor, and enforces the lifecycle state machine of §4.9.
type IndexEngine struct {
	name string
	log  Logger

	mu    sync.RWMutex
	state engineState

	index    bleve.Index
	registry *schemaRegistry
	mapper   *documentMapper
	writer   *indexWriter
	manager  *searcherManager
	search   *searchExecutor
}

// OpenEngine constructs and opens an IndexEngine for collection name. It
// opens the bleve index at opts.Path, creating one with the dynamic mapping
// and custom analyzers §4.5 specifies when none can be opened there; an
// empty Path creates an in-memory index with that mapping.
func OpenEngine(name string, opts EngineOptions) (*IndexEngine, error) {
	log := opts.Logger
	if log == nil {
		log = defaultLogger{}
	}

	im := bleve.NewIndexMapping()
	if err := registerAnalyzers(im, opts.FullTextAnalyzer); err != nil {
		return nil, NewError("failed to register analyzers", WithCode(ErrInternal), WithCause(err))
	}
	im.DefaultAnalyzer = FullTextAnalyzerName
	im.DefaultMapping = newDynamicDocumentMapping(im)

	var (
		idx bleve.Index
		err error
	)
	if opts.Path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = bleve.Open(opts.Path)
		if err != nil {
			idx, err = bleve.New(opts.Path, im)
		}
	}
	if err != nil {
		return nil, NewError("failed to open index", WithCode(ErrInternal), WithCause(err))
	}

	registry := newSchemaRegistry(name, opts.AutoFacet, log)
	e := &IndexEngine{
		name:     name,
		log:      log,
		state:    stateCreated,
		index:    idx,
		registry: registry,
		mapper:   newDocumentMapper(registry, log),
		writer:   newIndexWriter(idx, log),
		manager:  newSearcherManager(idx, opts.RefreshInterval, log),
	}
	e.search = newSearchExecutor(registry, e.manager, opts.NullToken, log)
	e.state = stateOpen
	return e, nil
}

// newDynamicDocumentMapping builds the catch-all document mapping every
// collection uses (§4.2, §4.5). Field names are only known at write time
// (schema is inferred, not declared), so the mapping cannot bind distinct
// analyzers per synthetic suffix (__x_sort__, __x_grouping__) ahead of
// time; instead every dynamically discovered field is routed through
// FullTextAnalyzer by default, matching the analyzer the query parser's
// MatchQuery resolves for the same field name at query time (§4.6). The
// _full_text_ field gets an explicit mapping purely for clarity, since it
// would otherwise inherit the identical default.
func newDynamicDocumentMapping(im *mapping.IndexMappingImpl) *mapping.DocumentMapping {
	dm := bleve.NewDocumentMapping()
	dm.Dynamic = true
	dm.DefaultAnalyzer = FullTextAnalyzerName

	text := bleve.NewTextFieldMapping()
	text.Analyzer = FullTextAnalyzerName
	text.Store = true
	dm.AddFieldMappingsAt(FieldFullText, text)

	source := bleve.NewTextFieldMapping()
	source.Store = true
	source.Index = false
	source.IncludeInAll = false
	dm.AddFieldMappingsAt(FieldSource, source)

	// _id is a reserved, statically-known field, so unlike an arbitrary
	// Guid-typed domain field it can get an explicit unbroken-keyword
	// mapping ahead of time, matching §4.5's "keyword (unbroken) for Guid"
	// rule and making Get's exact-match TermQuery on _id work regardless
	// of how FullTextAnalyzer's separator class treats hyphens.
	id := bleve.NewTextFieldMapping()
	id.Analyzer = KeywordAnalyzerName
	id.Store = true
	dm.AddFieldMappingsAt(FieldID, id)

	return dm
}

func (e *IndexEngine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.state {
	case stateDisposing, stateClosed:
		return NewError("engine is closed", WithCode(ErrEngineClosed))
	default:
		return nil
	}
}

// Insert maps and commits a brand-new document (§4.3, §4.7).
func (e *IndexEngine) Insert(ctx context.Context, doc Document) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	mapped, err := e.mapper.Map(doc, true)
	if err != nil {
		return "", err
	}
	if err := e.writer.Insert(ctx, mapped); err != nil {
		return "", err
	}
	return mapped.id, nil
}

// Replace fully overwrites the document identified by doc[_id] (§6.1).
func (e *IndexEngine) Replace(ctx context.Context, doc Document) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	mapped, err := e.mapper.Map(doc, false)
	if err != nil {
		return err
	}
	return e.writer.Update(ctx, mapped)
}

// Delete removes the document identified by id (§4.7).
func (e *IndexEngine) Delete(ctx context.Context, id string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.writer.Delete(ctx, id)
}

// Get fetches the original document identified by id, reconstructed from
// its stored _source snapshot, or a NotFoundError (§6.1). It is
// implemented as a one-hit exact search on _id rather than bleve's
// lower-level Document() API, so that it shares the searcher-acquire path
// Search uses.
func (e *IndexEngine) Get(ctx context.Context, id string) (map[string]any, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	tq := query.NewTermQuery(id)
	tq.SetField(FieldID)

	searcher := e.manager.Acquire()
	defer searcher.Release()

	req := bleve.NewSearchRequestOptions(tq, 1, 0, false)
	req.Fields = []string{FieldSource}
	res, err := searcher.Index.SearchInContext(ctx, req)
	if err != nil {
		return nil, NewError("get failed", WithCode(ErrInternal), WithCause(err))
	}
	if len(res.Hits) == 0 {
		return nil, NewError("document not found", WithCode(ErrNotFound), WithContext(map[string]any{"id": id}))
	}
	src, _ := res.Hits[0].Fields[FieldSource].(string)
	var out map[string]any
	if err := json.Unmarshal([]byte(src), &out); err != nil {
		return nil, NewError("failed to decode stored document", WithCode(ErrInternal), WithCause(err))
	}
	return out, nil
}

// Search runs crit against the collection (§4.8).
func (e *IndexEngine) Search(ctx context.Context, crit SearchCriteria) (*SearchResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.search.Search(ctx, crit)
}

// Count returns the number of documents matching queryStr (§4.8).
func (e *IndexEngine) Count(ctx context.Context, queryStr string) (uint64, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	return e.search.Count(ctx, queryStr)
}

// Refresh forces an immediate searcher republish, bypassing the periodic
// tick (§4.7, used by tests wanting synchronous read-after-write).
func (e *IndexEngine) Refresh() {
	e.manager.Refresh()
}

// Schema returns a read-only snapshot of the collection's current schema
// (§3, used for persistence to the external _schemas collection).
func (e *IndexEngine) Schema() *Schema {
	return e.registry.Snapshot()
}

// Hydrate installs a previously persisted schema, used when reopening a
// collection (§3 Lifecycle).
func (e *IndexEngine) Hydrate(s *Schema) {
	e.registry.Hydrate(s)
}

// Close transitions the engine through disposing → closed (§4.9), stopping
// the writer and searcher manager and releasing the underlying bleve
// index. Close is idempotent.
func (e *IndexEngine) Close() error {
	e.mu.Lock()
	if e.state == stateClosed || e.state == stateDisposing {
		e.mu.Unlock()
		return nil
	}
	e.state = stateDisposing
	e.mu.Unlock()

	e.writer.Close()
	e.manager.Close()
	err := e.index.Close()

	e.mu.Lock()
	e.state = stateClosed
	e.mu.Unlock()

	if err != nil {
		return NewError("failed to close index", WithCode(ErrInternal), WithCause(err))
	}
	return nil
}
