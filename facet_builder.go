package expandodb

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// maxFacetTextLen is the §4.4 "skip values longer than 100 characters"
// guard for Text facets.
const maxFacetTextLen = 100

// facetColumn is the per-document key the search executor reads hierarchical
// facet paths back from: one entry per facet-enabled field, holding every
// path derived for that document (a field can yield more than one path for
// an Array<T> facet field).
func facetColumn(facetName string) string { return "__facet_" + facetName + "__" }

// facetBuilder derives hierarchical facet labels for schema fields flagged
// as facets and maintains the registry's facet-name bookkeeping (§4.4).
type facetBuilder struct {
	registry *schemaRegistry
	log      Logger
}

func newFacetBuilder(registry *schemaRegistry, log Logger) *facetBuilder {
	if log == nil {
		log = defaultLogger{}
	}
	return &facetBuilder{registry: registry, log: log}
}

// Apply walks every top-level schema field that carries FacetSettings,
// derives its facet label(s) for this document, registers the facet name
// once, and writes the resulting paths into out under facetColumn(name).
func (fb *facetBuilder) Apply(doc Document, out map[string]any) error {
	snapshot := fb.registry.Snapshot()
	for name, field := range snapshot.Fields {
		if field.FacetSettings == nil || containsDot(name) {
			continue
		}
		raw, ok := doc[name]
		if !ok || raw == nil {
			continue
		}
		paths, err := fb.labelsFor(field, ValueFromAny(raw))
		if err != nil {
			fb.log.Error("facet label derivation failed", map[string]any{"field": name, "error": err.Error()})
			continue
		}
		if len(paths) == 0 {
			continue
		}
		fs := fb.registry.registerFacetName(field.FacetSettings.FacetName, field.FacetSettings.IsHierarchical, field.FacetSettings.separator())
		out[facetColumn(fs.FacetName)] = joinFacetPaths(paths)
	}
	return nil
}

// labelsFor formats one value into one or more hierarchical facet paths,
// per the per-type rules in §4.4. A path is a []string of path segments
// (already unescaped); joinFacetPaths serializes each path for storage.
func (fb *facetBuilder) labelsFor(field *Field, v Value) ([][]string, error) {
	settings := field.FacetSettings
	if v.Type == TypeArray {
		var out [][]string
		for _, e := range v.Array() {
			labels, err := fb.labelOne(field, settings, e)
			if err != nil {
				return nil, err
			}
			out = append(out, labels...)
		}
		return out, nil
	}
	return fb.labelOne(field, settings, v)
}

func (fb *facetBuilder) labelOne(field *Field, settings *FacetSettings, v Value) ([][]string, error) {
	formatted, ok := fb.format(field, settings, v)
	if !ok {
		return nil, nil
	}
	if !settings.IsHierarchical {
		return [][]string{{formatted}}, nil
	}
	return [][]string{splitHierarchy(formatted, settings.separator())}, nil
}

func (fb *facetBuilder) format(field *Field, settings *FacetSettings, v Value) (string, bool) {
	switch v.Type {
	case TypeText:
		if field.DataType == TypeDateTime || (field.DataType == TypeArray && field.ArrayElementDataType == TypeDateTime) {
			// DateTime values arrive as strings once a document has been
			// round-tripped through JSON; parse them before formatting.
			t, err := dateparse.ParseAny(v.Text())
			if err != nil {
				return "", false
			}
			return fb.format(field, settings, NewDateTime(t))
		}
		if len(v.Text()) > maxFacetTextLen {
			fb.log.Error("facet text value too long, skipping", map[string]any{"field": field.Name, "length": len(v.Text())})
			return "", false
		}
		return v.Text(), true
	case TypeDateTime:
		format := settings.FormatString
		if format == "" {
			format = defaultDateTimeFacetFormat
		}
		return formatDateTime(v.DateTime(), format), true
	case TypeNumber:
		if settings.FormatString != "" {
			return formatNumber(v.Number(), settings.FormatString), true
		}
		return strconv.FormatFloat(v.Number(), 'f', -1, 64), true
	case TypeGuid:
		return v.Text(), true
	case TypeBoolean:
		if v.Boolean() {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// splitHierarchy splits a formatted facet value on sep to produce a path,
// honoring the "\/" (or "\<sep>") escape for a literal separator (§4.4).
func splitHierarchy(value, sep string) []string {
	if sep == "" {
		sep = defaultHierarchySeparator
	}
	escape := `\` + sep
	placeholder := "\x00ESC\x00"
	value = strings.ReplaceAll(value, escape, placeholder)
	parts := strings.Split(value, sep)
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, placeholder, sep)
	}
	return parts
}

// joinFacetPaths serializes a set of hierarchical paths for storage as a
// multi-valued index entry, one string per path with its segments joined
// by "/"; the search executor re-splits each path on "/" when computing
// counts.
func joinFacetPaths(paths [][]string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, strings.Join(p, "/"))
	}
	return out
}

// formatDateTime renders t using a subset of .NET custom date format
// specifiers (yyyy, MM, MMM, dd) — the only ones spec.md's examples use.
func formatDateTime(t time.Time, format string) string {
	replacer := strings.NewReplacer(
		"yyyy", "2006",
		"MMM", "Jan",
		"MM", "01",
		"dd", "02",
	)
	goLayout := replacer.Replace(format)
	return t.UTC().Format(goLayout)
}

func formatNumber(n float64, format string) string {
	// format is a .NET-style numeric format string (e.g. "0.00"); only the
	// decimal-places count after the point is honored here.
	if i := strings.IndexByte(format, '.'); i >= 0 {
		decimals := len(format) - i - 1
		return strconv.FormatFloat(n, 'f', decimals, 64)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}
