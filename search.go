package expandodb

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Pagination defaults and bounds (§4.8 "Pagination").
const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
	DefaultTopN     = 1000
	defaultFacetSize = 100
)

// SearchCriteria is the input to searchExecutor.Search (§4.8).
type SearchCriteria struct {
	Query    string
	TopN     int // bounds the candidate hit list before pagination; defaults to DefaultTopN
	Page     int // 1-based; defaults to 1
	PageSize int // defaults to DefaultPageSize, clamped to MaxPageSize

	// SortBy is a comma-separated list of sort descriptors, each either the
	// single-field grammar ("-field" / "+field" / "field") or the
	// multi-field grammar ("field:asc" / "field:desc"). "" means relevance
	// order. Every listed field must be sortable (§3 "IsSortable").
	SortBy string

	SelectFields []string            // "" / nil returns every stored field
	Facets       []string            // facet names to compute sideways counts for
	Drilldown    map[string][]string // facetName -> hierarchical path already drilled into
	Highlight    bool
}

// SearchHit is one matched document (§4.8).
type SearchHit struct {
	ID         string
	Score      float64
	Fields     map[string]any
	Highlights map[string][]string
}

// FacetCount is one immediate-child bucket under a facet's current drill
// path (§4.4 "Drill sideways").
type FacetCount struct {
	Value string
	Count int
}

// SearchResult is the output of searchExecutor.Search (§4.8). ItemCount is
// the size of the full topN-bounded hit list (not just the current page's
// slice); PageCount is ceil(ItemCount / PageSize).
type SearchResult struct {
	TotalHits uint64
	TopN      int
	ItemCount int
	PageCount int
	Page      int
	PageSize  int
	Hits      []SearchHit
	Facets    map[string][]FacetCount
}

// searchExecutor compiles a SearchCriteria into one or more bleve searches
// against the index handed out by a searcherManager, and assembles the
// paginated result, facet counts and optional highlights (§4.8).
type searchExecutor struct {
	registry *schemaRegistry
	manager  *searcherManager
	parser   *queryParser
	log      Logger
}

func newSearchExecutor(registry *schemaRegistry, manager *searcherManager, nullToken string, log Logger) *searchExecutor {
	if log == nil {
		log = defaultLogger{}
	}
	return &searchExecutor{
		registry: registry,
		manager:  manager,
		parser:   newQueryParser(registry, nullToken),
		log:      log,
	}
}

// Search executes crit and returns a page of hits plus any requested facet
// counts (§4.8). The searcher handle is acquired once and released before
// returning, even on error (§4.9 "Searcher lifecycle").
func (se *searchExecutor) Search(ctx context.Context, crit SearchCriteria) (*SearchResult, error) {
	baseQuery, err := se.parser.Parse(crit.Query)
	if err != nil {
		return nil, err
	}

	filters := make(map[string]query.Query, len(crit.Drilldown))
	for name, path := range crit.Drilldown {
		if len(path) == 0 {
			continue
		}
		filters[name] = buildDrilldownFilter(name, path)
	}

	topN := normalizeTopN(crit.TopN)
	page, pageSize := normalizePage(crit.Page, crit.PageSize)
	sortSpecs, err := se.resolveSortBy(crit.SortBy)
	if err != nil {
		return nil, err
	}
	fields, err := se.resolveSelectFields(crit.SelectFields)
	if err != nil {
		return nil, err
	}

	searcher := se.manager.Acquire()
	defer searcher.Release()

	// The request is sized to topN, not pageSize: topN bounds the full
	// candidate hit list, and pagination slices that list in Go (§4.8
	// steps 2 and 4), so that concatenating itemsPerPage=n pages 1..k
	// matches a single topN=n*k, page=1 request over the same order.
	hitsReq := bleve.NewSearchRequestOptions(conjunction(baseQuery, allFilters(filters)), topN, 0, false)
	hitsReq.Fields = fields
	if len(sortSpecs) > 0 {
		hitsReq.SortBy(sortSpecs)
	}
	if crit.Highlight {
		hl := bleve.NewHighlight()
		hl.Fields = []string{FieldFullText}
		hitsReq.Highlight = hl
	}

	res, err := searcher.Index.SearchInContext(ctx, hitsReq)
	if err != nil {
		return nil, NewError("search failed", WithCode(ErrInternal), WithCause(err))
	}

	itemCount := len(res.Hits)
	pageCount := ceilDiv(itemCount, pageSize)
	start := (page - 1) * pageSize
	if start > itemCount {
		start = itemCount
	}
	end := start + pageSize
	if end > itemCount {
		end = itemCount
	}
	pageHits := res.Hits[start:end]

	out := &SearchResult{
		TotalHits: res.Total,
		TopN:      topN,
		ItemCount: itemCount,
		PageCount: pageCount,
		Page:      page,
		PageSize:  pageSize,
		Hits:      make([]SearchHit, 0, len(pageHits)),
	}
	for _, h := range pageHits {
		out.Hits = append(out.Hits, SearchHit{
			ID:         h.ID,
			Score:      h.Score,
			Fields:     h.Fields,
			Highlights: flattenFragments(h.Fragments),
		})
	}

	if len(crit.Facets) > 0 {
		facetCounts, err := se.computeFacets(ctx, searcher, baseQuery, filters, crit.Facets, crit.Drilldown)
		if err != nil {
			return nil, err
		}
		out.Facets = facetCounts
	}

	return out, nil
}

// Count returns the number of documents matching query (§4.8 "count").
func (se *searchExecutor) Count(ctx context.Context, queryStr string) (uint64, error) {
	q, err := se.parser.Parse(queryStr)
	if err != nil {
		return 0, err
	}
	searcher := se.manager.Acquire()
	defer searcher.Release()

	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := searcher.Index.SearchInContext(ctx, req)
	if err != nil {
		return 0, NewError("count failed", WithCode(ErrInternal), WithCause(err))
	}
	return res.Total, nil
}

// computeFacets runs one facet-only search per requested dimension, each
// with every OTHER dimension's drilldown filter applied but the dimension's
// own filter lifted — this is what makes the counts "drill sideways"
// (§4.4): changing a facet the user has already drilled into still shows
// the sibling options they could pick instead.
func (se *searchExecutor) computeFacets(ctx context.Context, searcher *Searcher, base query.Query, filters map[string]query.Query, names []string, drill map[string][]string) (map[string][]FacetCount, error) {
	out := make(map[string][]FacetCount, len(names))
	for _, name := range names {
		fs, ok := se.registry.facetSettings(name)
		if !ok {
			return nil, NewError("unknown facet "+name, WithCode(ErrArgument))
		}
		sideways := conjunction(base, allFiltersExcept(filters, name))

		req := bleve.NewSearchRequestOptions(sideways, 0, 0, false)
		req.AddFacet(name, bleve.NewFacetRequest(facetColumn(fs.FacetName), defaultFacetSize))

		res, err := searcher.Index.SearchInContext(ctx, req)
		if err != nil {
			return nil, NewError("facet query failed", WithCode(ErrInternal), WithCause(err))
		}
		fr, ok := res.Facets[name]
		if !ok || fr == nil || fr.Terms == nil {
			out[name] = nil
			continue
		}
		out[name] = aggregateFacetChildren(*fr.Terms, drill[name])
	}
	return out, nil
}

// buildDrilldownFilter restricts results to documents whose facet path for
// name either equals path exactly or descends from it (§4.4).
func buildDrilldownFilter(name string, path []string) query.Query {
	joined := strings.Join(path, "/")
	field := facetColumn(name)

	exact := query.NewTermQuery(joined)
	exact.SetField(field)
	prefix := query.NewPrefixQuery(joined + "/")
	prefix.SetField(field)
	return query.NewDisjunctionQuery([]query.Query{exact, prefix})
}

// aggregateFacetChildren collapses the raw (full-path) term counts bleve
// returns into counts for the immediate child under prefix, merging
// multiple leaf paths that share that child (§4.4).
func aggregateFacetChildren(terms search.TermFacets, prefix []string) []FacetCount {
	counts := map[string]int{}
	for _, t := range terms {
		if t == nil {
			continue
		}
		parts := strings.Split(t.Term, "/")
		if len(parts) <= len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if parts[i] != p {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		counts[parts[len(prefix)]] += t.Count
	}
	out := make([]FacetCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, FacetCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func conjunction(base query.Query, extra []query.Query) query.Query {
	if len(extra) == 0 {
		return base
	}
	musts := append([]query.Query{base}, extra...)
	return query.NewConjunctionQuery(musts)
}

func allFilters(filters map[string]query.Query) []query.Query {
	out := make([]query.Query, 0, len(filters))
	for _, q := range filters {
		out = append(out, q)
	}
	return out
}

func allFiltersExcept(filters map[string]query.Query, except string) []query.Query {
	out := make([]query.Query, 0, len(filters))
	for name, q := range filters {
		if name == except {
			continue
		}
		out = append(out, q)
	}
	return out
}

func flattenFragments(frags map[string][]string) map[string][]string {
	if len(frags) == 0 {
		return nil
	}
	return frags
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func normalizeTopN(topN int) int {
	if topN <= 0 {
		return DefaultTopN
	}
	return topN
}

func ceilDiv(n, d int) int {
	if d <= 0 || n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// resolveSortBy parses sortBy's comma-separated descriptors, validates each
// field against the schema, and returns the bleve SortBy spec strings in
// order (§4.6 "SortByFields grammar", §3 "IsSortable"). Each descriptor is
// either the single-field grammar ("-field" / "+field" / "field") or the
// named multi-field grammar ("field:asc" / "field:desc").
func (se *searchExecutor) resolveSortBy(sortBy string) ([]string, error) {
	sortBy = strings.TrimSpace(sortBy)
	if sortBy == "" {
		return nil, nil
	}
	parts := strings.Split(sortBy, ",")
	specs := make([]string, 0, len(parts))
	for _, raw := range parts {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		field, desc, err := parseSortToken(tok)
		if err != nil {
			return nil, err
		}
		f := se.registry.FindField(field)
		if f == nil || !f.IsSortable() {
			return nil, NewError("field is not sortable: "+field, WithCode(ErrArgument))
		}
		col := SortColumn(f.Name)
		if desc {
			col = "-" + col
		}
		specs = append(specs, col)
	}
	return specs, nil
}

// parseSortToken splits one SortBy descriptor into its field name and
// direction, accepting "-field", "+field", "field", "field:asc" and
// "field:desc".
func parseSortToken(tok string) (field string, desc bool, err error) {
	if strings.HasPrefix(tok, "-") {
		return tok[1:], true, nil
	}
	if strings.HasPrefix(tok, "+") {
		return tok[1:], false, nil
	}
	if i := strings.LastIndex(tok, ":"); i >= 0 {
		field, dir := tok[:i], strings.ToLower(tok[i+1:])
		switch dir {
		case "asc":
			return field, false, nil
		case "desc":
			return field, true, nil
		default:
			return "", false, NewError("invalid sort direction: "+strconv.Quote(dir), WithCode(ErrArgument))
		}
	}
	return tok, false, nil
}

// resolveSelectFields validates requested select fields against §4.8's
// "Object and Array<Object> cannot be read back" restriction. An empty
// selection returns every stored field.
func (se *searchExecutor) resolveSelectFields(names []string) ([]string, error) {
	if len(names) == 0 {
		return []string{"*"}, nil
	}
	for _, n := range names {
		f := se.registry.FindField(n)
		if f == nil {
			return nil, NewError("unknown select field: "+n, WithCode(ErrArgument))
		}
		if f.DataType == TypeObject || (f.DataType == TypeArray && f.ArrayElementDataType == TypeObject) {
			return nil, NewError("field cannot be selected (Object/Array<Object>): "+n, WithCode(ErrArgument))
		}
	}
	return names, nil
}
