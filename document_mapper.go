package expandodb

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
)

// Document is a mapping from field name to value, as decoded from client
// JSON (encoding/json.Unmarshal into interface{} — nil, string, float64,
// bool, []interface{}, map[string]interface{}). A string is treated as a
// Guid only when the target schema field is already declared Guid;
// otherwise it is Text, whatever its shape.
type Document map[string]any

// mappedDoc is the flattened key/value set the document mapper produces,
// ready to hand to the index writer as a single bleve document payload.
type mappedDoc struct {
	id     string
	fields map[string]any
}

// documentMapper walks a whole JSON document, extends the schema registry
// on first-seen fields, invokes the value mapper, synthesizes the
// concatenated full-text field, and attaches facets (§4.3).
type documentMapper struct {
	registry *schemaRegistry
	values   *fieldMapper
	facets   *facetBuilder
	log      Logger
}

func newDocumentMapper(registry *schemaRegistry, log Logger) *documentMapper {
	if log == nil {
		log = defaultLogger{}
	}
	return &documentMapper{
		registry: registry,
		values:   newFieldMapper(log),
		facets:   newFacetBuilder(registry, log),
		log:      log,
	}
}

// Map converts a client document into the flattened field set the writer
// indexes. It mutates doc in place to fill in _id/_createdTimestamp/
// _modifiedTimestamp when absent, matching §3's insert-time generation
// rule. insert is true for a brand-new document (mint _id/_createdTimestamp
// if absent) and false for an update (only _modifiedTimestamp refreshes).
func (dm *documentMapper) Map(doc Document, insert bool) (*mappedDoc, error) {
	id, err := dm.resolveID(doc, insert)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if insert {
		if _, ok := doc[FieldCreated]; !ok {
			doc[FieldCreated] = now
		}
	}
	doc[FieldModified] = now

	out := map[string]any{}
	idField := dm.registry.GetOrCreate(FieldID)
	if frag, ok := dm.values.MapScalar(idField, NewGuid(id)); ok {
		mergeInto(out, frag)
	}

	fullText := &strings.Builder{}
	var fullTextTouched bool

	for name, raw := range doc {
		if IsReservedField(name) {
			continue
		}
		if !ValidFieldName(name) {
			dm.log.Trace("illegal field name, skipping", map[string]any{"field": name})
			continue
		}
		v := dm.decode(raw)
		field := dm.registry.GetOrCreate(name)
		dm.mapField(field, v, out)
		if s := v.String(); s != "" {
			if fullTextTouched {
				fullText.WriteByte('\n')
			}
			fullText.WriteString(s)
			fullTextTouched = true
		}
	}
	// _createdTimestamp / _modifiedTimestamp participate in the index like
	// any other DateTime field so sort/range queries on them work.
	dm.mapField(dm.registry.GetOrCreate(FieldCreated), NewDateTime(toTime(doc[FieldCreated])), out)
	dm.mapField(dm.registry.GetOrCreate(FieldModified), NewDateTime(toTime(doc[FieldModified])), out)

	out[FieldFullText] = fullText.String()

	if src, err := json.Marshal(doc); err == nil {
		out[FieldSource] = string(src)
	} else {
		dm.log.Error("failed to snapshot source document", map[string]any{"id": id, "error": err.Error()})
	}

	if err := dm.facets.Apply(doc, out); err != nil {
		// Facet failures never abort an insert (§4.10); log and continue.
		dm.log.Error("facet build failed", map[string]any{"error": err.Error()})
	}

	return &mappedDoc{id: id, fields: out}, nil
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := dateparse.ParseAny(t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}

// resolveID implements §4.3 step 1/2 and §3's "_id is a Guid" invariant.
func (dm *documentMapper) resolveID(doc Document, insert bool) (string, error) {
	raw, present := doc[FieldID]
	if !present || raw == nil {
		if !insert {
			return "", NewError("document without _id", WithCode(ErrValidation))
		}
		id := uuid.NewString()
		doc[FieldID] = id
		return id, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", NewError("_id must be a Guid", WithCode(ErrValidation))
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", NewError("_id is not a valid Guid", WithCode(ErrValidation), WithCause(err))
	}
	return strings.ToLower(s), nil
}

// decode turns a raw JSON-decoded value into a Value, recursing into
// arrays/objects. Guid-shaped top-level strings are left as Text here —
// mapField reclassifies them to Guid only when the target schema field is
// already declared Guid (e.g. _id); first-seen string fields default to
// Text, matching §3's "dataType inferred" behavior, never magically
// guessed as Guid from shape alone.
func (dm *documentMapper) decode(raw any) Value {
	return ValueFromAny(raw)
}

// mapField dispatches by schema-declared or observed type, recursing for
// Array and Object values and merging the resulting fragments into out.
// It implements §4.2's Array/Object/Null rows and §3's "nested arrays
// unsupported" / "mixed-type arrays illegal" invariants.
func (dm *documentMapper) mapField(field *Field, v Value, out map[string]any) {
	// A Guid-declared field receives Text values from JSON decoding (JSON
	// has no Guid literal) — reinterpret before delegating to the value
	// mapper so validateAndUpdateDataType compares like with like.
	if field.DataType == TypeGuid && v.Type == TypeText {
		v = NewGuid(v.Text())
	}

	switch v.Type {
	case TypeArray:
		dm.mapArray(field, v.Array(), out)
		return
	case TypeObject:
		dm.mapObject(field, v.Object(), out)
		return
	}

	if frag, ok := dm.values.MapScalar(field, v); ok {
		mergeInto(out, frag)
	}
}

func (dm *documentMapper) mapArray(field *Field, elems []Value, out map[string]any) {
	if !dm.values.validateAndUpdateDataType(field, TypeArray) {
		dm.log.Trace("type conflict, dropping array value", map[string]any{"field": field.Name})
		return
	}
	for _, e := range elems {
		if e.Type == TypeArray {
			dm.log.Trace("nested arrays unsupported, dropping element", map[string]any{"field": field.Name})
			continue
		}
		elemType := e.Type
		if field.ArrayElementDataType != TypeNull && elemType != TypeNull && elemType != field.ArrayElementDataType {
			dm.log.Trace("mixed-type array element dropped", map[string]any{
				"field": field.Name, "elementType": string(field.ArrayElementDataType), "observed": string(elemType),
			})
			continue
		}
		if elemType != TypeNull && field.ArrayElementDataType == TypeNull {
			field.ArrayElementDataType = elemType
		}

		if elemType == TypeObject {
			dm.mapObject(field, e.Object(), out)
			continue
		}
		elemField := &Field{Name: field.Name, DataType: field.ArrayElementDataType, IsArrayElement: true}
		if frag, ok := dm.values.MapScalar(elemField, e); ok {
			mergeAppend(out, frag)
		}
	}
}

func (dm *documentMapper) mapObject(parent *Field, obj map[string]Value, out map[string]any) {
	if !dm.values.validateAndUpdateDataType(parent, TypeObject) {
		dm.log.Trace("type conflict, dropping object value", map[string]any{"field": parent.Name})
		return
	}
	if parent.ObjectSchema == nil {
		parent.ObjectSchema = &Schema{Name: parent.Name, Fields: map[string]*Field{}}
	}
	for name, v := range obj {
		if !ValidFieldName(name) {
			dm.log.Trace("illegal nested field name, skipping", map[string]any{"field": parent.Name + "." + name})
			continue
		}
		dotted := parent.Name + "." + name
		child, ok := parent.ObjectSchema.Fields[name]
		if !ok {
			child = &Field{Name: dotted, DataType: TypeNull}
			parent.ObjectSchema.Fields[name] = child
		}
		dm.mapField(child, v, out)
	}
}

// mergeInto copies single-valued fragments into out, overwriting.
func mergeInto(out map[string]any, frag map[string]any) {
	for k, v := range frag {
		out[k] = v
	}
}

// mergeAppend accumulates fragments from repeated array elements into
// slice-valued entries of out so a multi-valued field round-trips as a
// JSON array (§4.2 Array row: "recursed element-by-element").
func mergeAppend(out map[string]any, frag map[string]any) {
	for k, v := range frag {
		existing, ok := out[k]
		if !ok {
			out[k] = []any{v}
			continue
		}
		if sl, ok := existing.([]any); ok {
			out[k] = append(sl, v)
			continue
		}
		out[k] = []any{existing, v}
	}
}
