package expandodb

import (
	"strings"
	"sync"
)

// schemaRegistry is the live, mutable per-collection description of every
// field ever seen (§4.1). It is the only mutable object shared by all index
// operations; writes are add-only and safe for concurrent use from any
// goroutine (§5 "Shared resources").
type schemaRegistry struct {
	mu        sync.RWMutex
	schema    *Schema
	autoFacet bool
	log       Logger

	// facetMu guards registration of new facet names, a coarser lock than
	// the per-field map because FacetBuilder needs a stable view while it
	// walks a document (§5).
	facetMu sync.Mutex
	facets  map[string]*FacetSettings
}

func newSchemaRegistry(name string, autoFacet bool, log Logger) *schemaRegistry {
	if log == nil {
		log = defaultLogger{}
	}
	return &schemaRegistry{
		schema:    newDefaultSchema(name),
		autoFacet: autoFacet,
		log:       log,
		facets:    map[string]*FacetSettings{},
	}
}

// Snapshot returns a shallow copy of the current field set for read-only
// inspection (e.g. for persistence to the external _schemas collection).
func (r *schemaRegistry) Snapshot() *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Schema{Name: r.schema.Name, Fields: make(map[string]*Field, len(r.schema.Fields))}
	for k, v := range r.schema.Fields {
		out.Fields[k] = v
	}
	return out
}

// Hydrate installs a previously persisted schema verbatim, replacing the
// current one. Used when a collection is reopened (§3 Lifecycle).
func (r *schemaRegistry) Hydrate(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		return
	}
	r.schema = s
}

// GetOrCreate returns the Field for dotted name, creating it (and, when
// autoFacet is on, its default FacetSettings) if this is the first time the
// name has been seen. New fields start as TypeNull and are narrowed to a
// concrete type the first time validate_and_update_data_type succeeds
// (§4.1, §4.2).
func (r *schemaRegistry) GetOrCreate(name string) *Field {
	r.mu.RLock()
	if f, ok := r.schema.Fields[name]; ok {
		r.mu.RUnlock()
		return f
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.schema.Fields[name]; ok {
		return f
	}
	f := &Field{Name: name, DataType: TypeNull, IsArrayElement: false}
	if r.autoFacet && !IsReservedField(name) {
		r.installDefaultFacet(f)
	}
	r.schema.Fields[name] = f
	return f
}

// installDefaultFacet seeds FacetSettings for a brand-new top-level field
// when the process-wide auto-facet flag is on: a flat, non-hierarchical
// facet keyed on the field name. The field is still TypeNull here; when it
// later narrows to DateTime, validateAndUpdateDataType upgrades the facet to
// a hierarchical one on yyyy/MMM/dd (§4.1).
func (r *schemaRegistry) installDefaultFacet(f *Field) {
	if containsDot(f.Name) {
		return
	}
	f.FacetSettings = &FacetSettings{
		FacetName:          f.Name,
		IsHierarchical:     false,
		HierarchySeparator: defaultHierarchySeparator,
	}
}

// FindField recursively descends into child schemas of Object/Array fields
// to resolve a dotted path such as "address.city" (§4.1).
func (r *schemaRegistry) FindField(name string) *Field {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return findFieldIn(r.schema, name)
}

func findFieldIn(s *Schema, name string) *Field {
	if s == nil {
		return nil
	}
	if f, ok := s.Fields[name]; ok {
		return f
	}
	head, rest, ok := splitFirstDot(name)
	if !ok {
		return nil
	}
	parent, ok := s.Fields[head]
	if !ok || parent.ObjectSchema == nil {
		return nil
	}
	return findFieldIn(parent.ObjectSchema, rest)
}

func splitFirstDot(name string) (head, rest string, ok bool) {
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// registerFacetName records a freshly discovered facet name exactly once,
// as multi-valued and with the hierarchy flag and separator of its first
// registration, guarded by the coarse facet lock (§4.4, §5). Returns the
// (possibly pre-existing) settings.
func (r *schemaRegistry) registerFacetName(name string, hierarchical bool, sep string) *FacetSettings {
	r.facetMu.Lock()
	defer r.facetMu.Unlock()
	if fs, ok := r.facets[name]; ok {
		return fs
	}
	fs := &FacetSettings{
		FacetName:          name,
		IsHierarchical:     hierarchical,
		HierarchySeparator: sep,
		MultiValued:        true,
	}
	r.facets[name] = fs
	return fs
}

func (r *schemaRegistry) facetNames() []string {
	r.facetMu.Lock()
	defer r.facetMu.Unlock()
	names := make([]string, 0, len(r.facets))
	for n := range r.facets {
		names = append(names, n)
	}
	return names
}

func (r *schemaRegistry) facetSettings(name string) (*FacetSettings, bool) {
	r.facetMu.Lock()
	defer r.facetMu.Unlock()
	fs, ok := r.facets[name]
	return fs, ok
}
