package expandodb

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/blevesearch/bleve/v2/search/query"
)

// DefaultNullToken is the literal that, compared against a field, rewrites
// to an exact-match query on that field's null-marker column (§4.6).
const DefaultNullToken = "_null_"

// queryParser rewrites a Lucene-style query string so that field terms and
// range bounds are coerced to the per-field encoded form before handing the
// primitive to bleve's query tree (§4.6).
type queryParser struct {
	registry  *schemaRegistry
	analyzers *analyzerRouter
	nullToken string
}

func newQueryParser(registry *schemaRegistry, nullToken string) *queryParser {
	if nullToken == "" {
		nullToken = DefaultNullToken
	}
	return &queryParser{registry: registry, analyzers: newAnalyzerRouter(), nullToken: nullToken}
}

// Parse compiles qs into a bleve query. An empty or blank string rewrites to
// match-all (§4.6).
func (p *queryParser) Parse(qs string) (query.Query, error) {
	qs = strings.TrimSpace(qs)
	if qs == "" || qs == "*:*" || qs == "*" {
		return query.NewMatchAllQuery(), nil
	}
	toks, err := tokenizeQuery(qs)
	if err != nil {
		return nil, NewError("query parse error: "+err.Error(), WithCode(ErrParse))
	}
	ps := &parserState{tokens: toks, pos: 0, parent: p}
	q, err := ps.parseOr()
	if err != nil {
		return nil, err
	}
	if ps.pos != len(ps.tokens) {
		return nil, NewError(fmt.Sprintf("unexpected token %q", ps.tokens[ps.pos].text), WithCode(ErrParse))
	}
	return q, nil
}

// ---- tokenizer -------------------------------------------------------

type tokKind int

const (
	tokWord tokKind = iota
	tokQuoted
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokColon
	tokLBracket // [
	tokRBracket // ]
	tokLBrace   // {
	tokRBrace   // }
	tokTo
	tokTilde
	tokCaret
	tokPlus
	tokMinus
	tokRegex // /…/
)

type token struct {
	kind tokKind
	text string
}

func tokenizeQuery(qs string) ([]token, error) {
	var toks []token
	runes := []rune(qs)
	i, n := 0, len(runes)
	for i < n {
		c := runes[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ':':
			toks = append(toks, token{tokColon, ":"})
			i++
		case c == '[':
			toks = append(toks, token{tokLBracket, "["})
			i++
		case c == ']':
			toks = append(toks, token{tokRBracket, "]"})
			i++
		case c == '{':
			toks = append(toks, token{tokLBrace, "{"})
			i++
		case c == '}':
			toks = append(toks, token{tokRBrace, "}"})
			i++
		case c == '~':
			toks = append(toks, token{tokTilde, "~"})
			i++
		case c == '^':
			toks = append(toks, token{tokCaret, "^"})
			i++
		case c == '+':
			toks = append(toks, token{tokPlus, "+"})
			i++
		case c == '-':
			toks = append(toks, token{tokMinus, "-"})
			i++
		case c == '"':
			j := i + 1
			for j < n && runes[j] != '"' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated quoted phrase")
			}
			toks = append(toks, token{tokQuoted, string(runes[i+1 : j])})
			i = j + 1
		case c == '/':
			j := i + 1
			for j < n && runes[j] != '/' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated regex literal")
			}
			toks = append(toks, token{tokRegex, string(runes[i+1 : j])})
			i = j + 1
		default:
			j := i
			for j < n && !isQuerySpecial(runes[j]) {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("unexpected character %q", string(c))
			}
			word := string(runes[i:j])
			switch word {
			case "AND", "&&":
				toks = append(toks, token{tokAnd, word})
			case "OR", "||":
				toks = append(toks, token{tokOr, word})
			case "NOT", "!":
				toks = append(toks, token{tokNot, word})
			case "TO":
				toks = append(toks, token{tokTo, word})
			default:
				toks = append(toks, token{tokWord, word})
			}
			i = j
		}
	}
	return toks, nil
}

// isQuerySpecial reports whether r terminates a bare word token. Note this
// means a literal ':' inside a bare date/time bound (e.g. the time-of-day
// portion of an ISO-8601 timestamp) must be quoted, matching real Lucene
// query syntax where ':' is always the field-qualifier separator.
func isQuerySpecial(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '(', ')', ':', '[', ']', '{', '}', '~', '^', '"', '/':
		return true
	}
	return false
}

// ---- recursive-descent parser ----------------------------------------

type parserState struct {
	tokens []token
	pos    int
	parent *queryParser
}

func (ps *parserState) peek() (token, bool) {
	if ps.pos >= len(ps.tokens) {
		return token{}, false
	}
	return ps.tokens[ps.pos], true
}

func (ps *parserState) next() (token, bool) {
	t, ok := ps.peek()
	if ok {
		ps.pos++
	}
	return t, ok
}

func (ps *parserState) parseOr() (query.Query, error) {
	first, err := ps.parseAnd()
	if err != nil {
		return nil, err
	}
	shoulds := []query.Query{first}
	for {
		t, ok := ps.peek()
		if !ok || t.kind != tokOr {
			break
		}
		ps.pos++
		next, err := ps.parseAnd()
		if err != nil {
			return nil, err
		}
		shoulds = append(shoulds, next)
	}
	if len(shoulds) == 1 {
		return shoulds[0], nil
	}
	return query.NewDisjunctionQuery(shoulds), nil
}

func (ps *parserState) parseAnd() (query.Query, error) {
	first, err := ps.parseNot()
	if err != nil {
		return nil, err
	}
	musts := []query.Query{first}
	for {
		t, ok := ps.peek()
		if !ok || t.kind != tokAnd {
			// adjacent primaries with no operator between them are joined
			// with AND, the same as an explicit AND.
			if ok && canStartPrimary(t) {
				next, err := ps.parseNot()
				if err != nil {
					return nil, err
				}
				musts = append(musts, next)
				continue
			}
			break
		}
		ps.pos++
		next, err := ps.parseNot()
		if err != nil {
			return nil, err
		}
		musts = append(musts, next)
	}
	if len(musts) == 1 {
		return musts[0], nil
	}
	return query.NewConjunctionQuery(musts), nil
}

func canStartPrimary(t token) bool {
	switch t.kind {
	case tokWord, tokQuoted, tokLParen, tokMinus, tokNot, tokRegex:
		return true
	default:
		return false
	}
}

func (ps *parserState) parseNot() (query.Query, error) {
	t, ok := ps.peek()
	negate := false
	if ok && (t.kind == tokNot || t.kind == tokMinus) {
		negate = true
		ps.pos++
	}
	q, err := ps.parsePrimary()
	if err != nil {
		return nil, err
	}
	if negate {
		bq := query.NewBooleanQuery(nil, nil, []query.Query{q})
		return bq, nil
	}
	if t, ok := ps.peek(); ok && t.kind == tokPlus {
		ps.pos++
	}
	return q, nil
}

func (ps *parserState) parsePrimary() (query.Query, error) {
	t, ok := ps.next()
	if !ok {
		return nil, NewError("unexpected end of query", WithCode(ErrParse))
	}
	switch t.kind {
	case tokLParen:
		q, err := ps.parseOr()
		if err != nil {
			return nil, err
		}
		if _, ok := ps.next(); !ok {
			return nil, NewError("expected )", WithCode(ErrParse))
		}
		return q, nil
	case tokWord:
		return ps.parseFieldOrTerm(t.text)
	case tokQuoted:
		return ps.buildClause("", clausePhrase, t.text)
	case tokRegex:
		return ps.buildClause("", clauseRegex, t.text)
	default:
		return nil, NewError(fmt.Sprintf("unexpected token %q", t.text), WithCode(ErrParse))
	}
}

// parseFieldOrTerm handles "word" possibly followed by ":" and a value
// (range, phrase, fuzzy, prefix, bare term).
func (ps *parserState) parseFieldOrTerm(word string) (query.Query, error) {
	field := ""
	if t, ok := ps.peek(); ok && t.kind == tokColon {
		ps.pos++
		field = word
	} else {
		// bare term with no field qualifier: searched against _full_text_.
		return ps.buildValueClause(FieldFullText, word)
	}
	return ps.parseValue(field)
}

func (ps *parserState) parseValue(field string) (query.Query, error) {
	t, ok := ps.next()
	if !ok {
		return nil, NewError("expected a value after ':'", WithCode(ErrParse))
	}
	switch t.kind {
	case tokLBracket, tokLBrace:
		return ps.parseRange(field, t.kind == tokLBracket)
	case tokQuoted:
		return ps.buildClause(field, clausePhrase, t.text)
	case tokRegex:
		return ps.buildClause(field, clauseRegex, t.text)
	case tokWord:
		return ps.buildValueClause(field, t.text)
	default:
		return nil, NewError(fmt.Sprintf("unexpected value token %q", t.text), WithCode(ErrParse))
	}
}

// buildValueClause inspects a bare word for fuzzy (~), prefix/wildcard (*),
// or an exact term, then delegates to buildClause.
func (ps *parserState) buildValueClause(field, word string) (query.Query, error) {
	if field != "" && word == ps.parent.nullToken {
		return ps.buildClause(field, clauseNull, word)
	}
	if t, ok := ps.peek(); ok && t.kind == tokTilde {
		ps.pos++
		// optional fuzziness digits follow as a WORD token; ignored here,
		// bleve's FuzzyQuery uses a fixed edit-distance default.
		if t2, ok := ps.peek(); ok && t2.kind == tokWord && isDigits(t2.text) {
			ps.pos++
		}
		return ps.buildClause(field, clauseFuzzy, word)
	}
	if word == "*" {
		return query.NewMatchAllQuery(), nil
	}
	if strings.HasSuffix(word, "*") || strings.HasPrefix(word, "*") {
		return ps.buildClause(field, clauseWildcard, word)
	}
	return ps.buildClause(field, clauseTerm, word)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type clauseKind int

const (
	clauseTerm clauseKind = iota
	clausePhrase
	clauseFuzzy
	clauseWildcard
	clauseRegex
	clauseNull
)

// buildClauseField resolves field's schema Field (defaulting to the
// full-text field when unqualified); buildClause then emits the
// appropriately coerced bleve query, enforcing §4.6's per-type rules and
// §4.10's failure table.
func (p *queryParser) buildClauseField(field string) (*Field, error) {
	if field == "" {
		field = FieldFullText
	}
	f := p.registry.FindField(field)
	if f == nil {
		return nil, NewError(fmt.Sprintf("unknown field %q", field), WithCode(ErrParse))
	}
	return f, nil
}

func (ps *parserState) buildClause(field string, kind clauseKind, literal string) (query.Query, error) {
	return ps.parent.buildClause(field, kind, literal)
}

func (p *queryParser) buildClause(field string, kind clauseKind, literal string) (query.Query, error) {
	f, err := p.buildClauseField(field)
	if err != nil {
		return nil, err
	}
	indexField := f.Name

	switch kind {
	case clauseNull:
		tq := query.NewTermQuery("1")
		tq.SetField(NullMarkerColumn(f.Name))
		return tq, nil
	case clausePhrase:
		if !p.analyzers.IsTextLike(f) {
			return p.buildExactMatch(f, literal)
		}
		mq := query.NewMatchPhraseQuery(literal)
		mq.SetField(indexField)
		return mq, nil
	case clauseFuzzy:
		if !p.analyzers.IsTextLike(f) {
			return nil, NewError(fmt.Sprintf("fuzzy query not allowed on field %q", field), WithCode(ErrParse))
		}
		fq := query.NewFuzzyQuery(literal)
		fq.SetField(indexField)
		return fq, nil
	case clauseWildcard:
		if literal == "*" {
			return query.NewMatchAllQuery(), nil
		}
		if !p.analyzers.IsTextLike(f) {
			return nil, NewError(fmt.Sprintf("wildcard query not allowed on field %q", field), WithCode(ErrParse))
		}
		if strings.HasSuffix(literal, "*") && !strings.Contains(literal[:len(literal)-1], "*") && !strings.Contains(literal, "?") {
			pq := query.NewPrefixQuery(strings.TrimSuffix(literal, "*"))
			pq.SetField(indexField)
			return pq, nil
		}
		wq := query.NewWildcardQuery(literal)
		wq.SetField(indexField)
		return wq, nil
	case clauseRegex:
		if !p.analyzers.IsTextLike(f) {
			return nil, NewError(fmt.Sprintf("regex query not allowed on field %q", field), WithCode(ErrParse))
		}
		rq := query.NewRegexpQuery(literal)
		rq.SetField(indexField)
		return rq, nil
	default: // clauseTerm
		if p.analyzers.IsTextLike(f) {
			mq := query.NewMatchQuery(literal)
			mq.SetField(indexField)
			return mq, nil
		}
		return p.buildExactMatch(f, literal)
	}
}

// buildExactMatch implements §4.6's "Term query: same per-type coercion,
// single exact-match" row for non-text fields. Number/Boolean/DateTime are
// indexed by bleve as numeric-prefix-coded fields (via their SortColumn,
// the same column buildRange queries), so a literal string TermQuery
// against the raw field never matches; instead this builds a zero-width
// (lo==hi) NumericRangeInclusiveQuery the same way buildRange does. Guid
// is the one non-text type actually indexed as a literal keyword token, so
// it keeps using a TermQuery against the raw field.
func (p *queryParser) buildExactMatch(f *Field, literal string) (query.Query, error) {
	switch f.DataType {
	case TypeNumber, TypeBoolean:
		var v float64
		var err error
		if f.DataType == TypeBoolean {
			v, err = parseBooleanBound(literal, 0)
		} else {
			v, err = parseNumericBound(literal, 0)
		}
		if err != nil {
			return nil, NewError("bad numeric term: "+err.Error(), WithCode(ErrParse))
		}
		inc := true
		rq := query.NewNumericRangeInclusiveQuery(&v, &v, &inc, &inc)
		rq.SetField(SortColumn(f.Name))
		return rq, nil
	case TypeDateTime:
		t, err := dateparse.ParseAny(literal)
		if err != nil {
			return nil, NewError("bad date term: "+err.Error(), WithCode(ErrParse))
		}
		ticks := float64(toTicks(t))
		inc := true
		rq := query.NewNumericRangeInclusiveQuery(&ticks, &ticks, &inc, &inc)
		rq.SetField(SortColumn(f.Name))
		return rq, nil
	default:
		tq := query.NewTermQuery(coerceExactLiteral(f, literal))
		tq.SetField(f.Name)
		return tq, nil
	}
}

// coerceExactLiteral encodes literal the same way field_mapper.go encodes
// stored values, for the one non-text type (Guid) still queried as a
// literal TermQuery against its raw field.
func coerceExactLiteral(f *Field, literal string) string {
	if f.DataType == TypeGuid {
		return strings.ToLower(literal)
	}
	return literal
}

// parseRange implements the Range-query row of §4.6's table: Number parses
// both bounds as float64; DateTime uses a permissive ISO-8601 parser; open
// bounds ("*") map to the type's min/max; exclusive bounds nudge one ULP
// (numbers) or one tick (dates) inward; Boolean/Guid get their own simple
// coercions. The null token is never allowed inside a range.
func (ps *parserState) parseRange(field string, inclusive bool) (query.Query, error) {
	low, err := ps.rangeBoundToken()
	if err != nil {
		return nil, err
	}
	if t, ok := ps.next(); !ok || t.kind != tokTo {
		return nil, NewError("expected TO in range query", WithCode(ErrParse))
	}
	high, err := ps.rangeBoundToken()
	if err != nil {
		return nil, err
	}
	closeTok, ok := ps.next()
	if !ok || (closeTok.kind != tokRBracket && closeTok.kind != tokRBrace) {
		return nil, NewError("unterminated range query", WithCode(ErrParse))
	}
	highInclusive := closeTok.kind == tokRBracket

	return ps.parent.buildRange(field, low, high, inclusive, highInclusive)
}

func (ps *parserState) rangeBoundToken() (string, error) {
	t, ok := ps.next()
	if !ok {
		return "", NewError("unexpected end of range", WithCode(ErrParse))
	}
	if t.kind != tokWord && t.kind != tokQuoted {
		return "", NewError(fmt.Sprintf("unexpected range bound %q", t.text), WithCode(ErrParse))
	}
	return t.text, nil
}

func (p *queryParser) buildRange(field, low, high string, lowInclusive, highInclusive bool) (query.Query, error) {
	f, err := p.buildClauseField(field)
	if err != nil {
		return nil, err
	}
	if low == p.nullToken || high == p.nullToken {
		return nil, NewError("null token is not allowed in a range query", WithCode(ErrParse))
	}
	indexField := f.Name

	switch f.DataType {
	case TypeNumber, TypeBoolean:
		return p.buildNumericRange(f, indexField, low, high, lowInclusive, highInclusive)
	case TypeDateTime:
		return p.buildDateRange(f, indexField, low, high, lowInclusive, highInclusive)
	case TypeGuid:
		lo, hi := strings.ToLower(low), strings.ToLower(high)
		if low == "*" {
			lo = ""
		}
		if high == "*" {
			hi = ""
		}
		rq := query.NewTermRangeInclusiveQuery(lo, hi, &lowInclusive, &highInclusive)
		rq.SetField(indexField)
		return rq, nil
	default:
		return nil, NewError(fmt.Sprintf("range query not supported on field %q", field), WithCode(ErrParse))
	}
}

func (p *queryParser) buildNumericRange(f *Field, indexField, low, high string, lowInclusive, highInclusive bool) (query.Query, error) {
	var lo, hi float64
	var err error
	if f.DataType == TypeBoolean {
		lo, hi, err = parseBooleanBounds(low, high)
	} else {
		lo, err = parseNumericBound(low, -math.MaxFloat64)
		if err == nil {
			hi, err = parseNumericBound(high, math.MaxFloat64)
		}
	}
	if err != nil {
		return nil, NewError("bad numeric range bound: "+err.Error(), WithCode(ErrParse))
	}
	if !lowInclusive {
		lo = math.Nextafter(lo, math.MaxFloat64)
	}
	if !highInclusive {
		hi = math.Nextafter(hi, -math.MaxFloat64)
	}
	loInc, hiInc := true, true
	rq := query.NewNumericRangeInclusiveQuery(&lo, &hi, &loInc, &hiInc)
	rq.SetField(SortColumn(f.Name))
	return rq, nil
}

func parseNumericBound(s string, open float64) (float64, error) {
	if s == "*" {
		return open, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseBooleanBounds(low, high string) (float64, float64, error) {
	lo, err := parseBooleanBound(low, 0)
	if err != nil {
		return 0, 0, err
	}
	hi, err := parseBooleanBound(high, 1)
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

func parseBooleanBound(s string, open float64) (float64, error) {
	switch s {
	case "*":
		return open, nil
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid boolean literal %q", s)
	}
}

func (p *queryParser) buildDateRange(f *Field, indexField, low, high string, lowInclusive, highInclusive bool) (query.Query, error) {
	lo, err := parseDateBound(low, time.Time{})
	if err != nil {
		return nil, NewError("bad date range bound: "+err.Error(), WithCode(ErrParse))
	}
	hi, err := parseDateBound(high, time.Unix(1<<62, 0).UTC())
	if err != nil {
		return nil, NewError("bad date range bound: "+err.Error(), WithCode(ErrParse))
	}
	// Open bounds use the tick values of year 1 and of the last tick of year
	// 9999 directly: those instants are outside the range UnixNano (and so
	// toTicks) can represent.
	loTicks := float64(toTicks(lo))
	if low == "*" {
		loTicks = 0
	}
	hiTicks := float64(toTicks(hi))
	if high == "*" {
		hiTicks = maxDateTimeTicks
	}
	if !lowInclusive {
		loTicks++
	}
	if !highInclusive {
		hiTicks--
	}
	loInc, hiInc := true, true
	rq := query.NewNumericRangeInclusiveQuery(&loTicks, &hiTicks, &loInc, &hiInc)
	rq.SetField(SortColumn(f.Name))
	return rq, nil
}

// maxDateTimeTicks is the tick count of 9999-12-31T23:59:59.9999999Z, the
// upper end of the tick encoding used by toTicks.
const maxDateTimeTicks = 3155378975999999999

func parseDateBound(s string, open time.Time) (time.Time, error) {
	if s == "*" {
		return open, nil
	}
	return dateparse.ParseAny(s)
}
