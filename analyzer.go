package expandodb

import "github.com/blevesearch/bleve/v2/mapping"

// Named analyzers registered once on every collection's IndexMapping.
// FullTextAnalyzerName backs Text fields (and the synthesized _full_text_
// field); KeywordAnalyzerName backs Guid/Number/Boolean/DateTime/Null
// fields, which are indexed unbroken (§4.5).
const (
	FullTextAnalyzerName = "expando_fulltext"
	KeywordAnalyzerName  = "expando_keyword"

	fullTextTokenizerName = "expando_fulltext_tokenizer"

	// bleve-registered token filter names.
	tokenFilterLowercase = "to_lower"
	tokenFilterPorter    = "stemmer_porter"
)

// defaultSeparatorPattern is the word-matching pattern fed to bleve's
// "regexp" tokenizer, which emits each regexp match as a token (not the
// gaps between matches) — so this must describe a *word*, the complement
// of the "whitespace + common punctuation + typographic marks" boundary
// class §4.5 describes, not the boundary class itself.
const defaultSeparatorPattern = `[^\s.,;:!?"'(){}\[\]<>/\\|@#$%^&*+=~—–-]+`

// FullTextAnalyzerOptions are the three constructor-time options §4.5
// specifies for FullTextAnalyzer: a tokenizer boundary regex, optional
// lowercasing, optional Porter stemming.
type FullTextAnalyzerOptions struct {
	SeparatorPattern string // defaults to defaultSeparatorPattern
	Lowercase        bool
	Stem             bool
}

// registerAnalyzers installs the FullText and Keyword analyzers into m so
// that FieldMapping.Analyzer can reference them by name (§4.5). Called
// exactly once per IndexMapping construction, from engine.go.
func registerAnalyzers(m *mapping.IndexMappingImpl, opts FullTextAnalyzerOptions) error {
	if opts.SeparatorPattern == "" {
		opts.SeparatorPattern = defaultSeparatorPattern
	}

	if err := m.AddCustomTokenizer(fullTextTokenizerName, map[string]any{
		"type":   "regexp",
		"regexp": opts.SeparatorPattern,
	}); err != nil {
		return err
	}

	var filters []string
	if opts.Lowercase {
		filters = append(filters, tokenFilterLowercase)
	}
	if opts.Stem {
		filters = append(filters, tokenFilterPorter)
	}
	if err := m.AddCustomAnalyzer(FullTextAnalyzerName, map[string]any{
		"type":          "custom",
		"tokenizer":     fullTextTokenizerName,
		"token_filters": filters,
	}); err != nil {
		return err
	}
	return m.AddCustomAnalyzer(KeywordAnalyzerName, map[string]any{
		"type":      "custom",
		"tokenizer": "single",
	})
}

// analyzerRouter resolves the per-field analyzer name for indexing and
// query rewriting (§4.5). For Array fields the choice follows
// ArrayElementDataType; for Object fields, callers resolve per child field
// by dotted name rather than asking the router directly.
type analyzerRouter struct{}

func newAnalyzerRouter() *analyzerRouter { return &analyzerRouter{} }

// NameFor returns the analyzer name bound to field's data type. When a
// previously-Null field narrows to a concrete type on a later document,
// callers simply call NameFor again — there is no cached binding to
// invalidate because the router is stateless and keys off field.DataType.
func (r *analyzerRouter) NameFor(field *Field) string {
	dt := field.DataType
	if dt == TypeArray {
		dt = field.ArrayElementDataType
	}
	switch dt {
	case TypeText:
		return FullTextAnalyzerName
	default:
		return KeywordAnalyzerName
	}
}

// IsTextLike reports whether field (or its array element type) resolves to
// the full-text analyzer — used by the query parser to gate fuzzy/prefix/
// regex/wildcard queries (§4.6).
func (r *analyzerRouter) IsTextLike(field *Field) bool {
	return r.NameFor(field) == FullTextAnalyzerName
}
