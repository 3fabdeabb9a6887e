package expandodb

import "regexp"

// Reserved metadata field names (§3). These are always present on every
// document and can never be overwritten by client input.
const (
	FieldID       = "_id"
	FieldCreated  = "_createdTimestamp"
	FieldModified = "_modifiedTimestamp"
	FieldFullText = "_full_text_"

	// FieldSource holds the original JSON document, stored but not indexed,
	// so Get/Patch can round-trip the exact shape the client sent instead
	// of the flattened sort/grouping/facet projection used for search.
	FieldSource = "_source"
)

// illegalFieldNameChars matches any of the characters §3 "Field name rules"
// forbids in a field name: whitespace plus Lucene's special characters.
var illegalFieldNameChars = regexp.MustCompile(`[\s+&|!(){}\[\]^"~*?:\\/]`)

// ValidFieldName reports whether name may be used as a document field name.
func ValidFieldName(name string) bool {
	return name != "" && !illegalFieldNameChars.MatchString(name)
}

// SortColumn, GroupingColumn and NullMarkerColumn are the fixed auxiliary
// column names the query parser and search executor depend on (§4.2).
func SortColumn(name string) string       { return "__" + name + "_sort__" }
func GroupingColumn(name string) string   { return "__" + name + "_grouping__" }
func NullMarkerColumn(name string) string { return "__" + name + "_null__" }

// defaultHierarchySeparator is used by FacetSettings when none is given.
const defaultHierarchySeparator = "/"

// defaultDateTimeFacetFormat is the default format string used for
// hierarchical DateTime facets (§4.1).
const defaultDateTimeFacetFormat = "yyyy/MMM/dd"

// FacetSettings configures facet derivation for a single schema field
// (§3, §4.4).
type FacetSettings struct {
	FacetName          string
	IsHierarchical     bool
	HierarchySeparator string
	FormatString       string
	MultiValued        bool
}

func (fs *FacetSettings) separator() string {
	if fs == nil || fs.HierarchySeparator == "" {
		return defaultHierarchySeparator
	}
	return fs.HierarchySeparator
}

// Field is a single entry in a Schema: the inferred shape of one field ever
// seen in a collection (§3).
type Field struct {
	Name                 string
	DataType             DataType
	ArrayElementDataType DataType // only meaningful when DataType == Array
	ObjectSchema         *Schema  // only meaningful when DataType == Object
	IsArrayElement       bool
	IsTokenized          bool // true for Text
	FacetSettings        *FacetSettings
}

// IsTopLevel reports whether the field is a direct document member: no dot
// in its name and not itself an array element.
func (f *Field) IsTopLevel() bool {
	return !f.IsArrayElement && !containsDot(f.Name)
}

// IsSortable reports whether the field may appear in a sort specification:
// top-level and not an Array or Object (§3).
func (f *Field) IsSortable() bool {
	if !f.IsTopLevel() {
		return false
	}
	switch f.DataType {
	case TypeArray, TypeObject:
		return false
	default:
		return true
	}
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}

// Schema is a live, named description of every field ever seen in a
// collection (§2.1). It is typically held behind a schemaRegistry, which
// serializes concurrent installs; Schema itself is a plain snapshot/view.
type Schema struct {
	Name   string
	Fields map[string]*Field
}

// newDefaultSchema returns the schema a freshly opened collection starts
// with: the four reserved metadata fields and nothing else (§3 Lifecycle).
func newDefaultSchema(name string) *Schema {
	s := &Schema{Name: name, Fields: map[string]*Field{}}
	s.Fields[FieldID] = &Field{Name: FieldID, DataType: TypeGuid}
	s.Fields[FieldCreated] = &Field{Name: FieldCreated, DataType: TypeDateTime}
	s.Fields[FieldModified] = &Field{Name: FieldModified, DataType: TypeDateTime}
	s.Fields[FieldFullText] = &Field{Name: FieldFullText, DataType: TypeText, IsTokenized: true}
	return s
}

// IsReservedField reports whether name is one of the four metadata fields
// or the stored _source snapshot, none of which client input can overwrite
// (§3).
func IsReservedField(name string) bool {
	switch name {
	case FieldID, FieldCreated, FieldModified, FieldFullText, FieldSource:
		return true
	default:
		return false
	}
}
