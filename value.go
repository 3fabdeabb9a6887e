package expandodb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DataType is one of the JSON-compatible data types a document field can
// hold. Once a field's DataType is observed as non-Null it is immutable
// (§3 invariants).
type DataType string

const (
	TypeNull     DataType = "Null"
	TypeGuid     DataType = "Guid"
	TypeText     DataType = "Text"
	TypeNumber   DataType = "Number"
	TypeBoolean  DataType = "Boolean"
	TypeDateTime DataType = "DateTime"
	TypeArray    DataType = "Array"
	TypeObject   DataType = "Object"
)

// Value is a dynamically typed JSON value. Exactly one of the typed fields
// is meaningful, selected by Type. All access is via the accessor methods
// below or a type switch on Type; no reflection is involved.
type Value struct {
	Type DataType

	text     string
	number   float64
	boolean  bool
	datetime time.Time
	array    []Value
	object   map[string]Value
}

// Null is the singular Null value.
var Null = Value{Type: TypeNull}

func NewText(s string) Value           { return Value{Type: TypeText, text: s} }
func NewGuid(s string) Value           { return Value{Type: TypeGuid, text: strings.ToLower(s)} }
func NewNumber(f float64) Value        { return Value{Type: TypeNumber, number: f} }
func NewBoolean(b bool) Value          { return Value{Type: TypeBoolean, boolean: b} }
func NewDateTime(t time.Time) Value    { return Value{Type: TypeDateTime, datetime: t.UTC()} }
func NewArray(vs []Value) Value        { return Value{Type: TypeArray, array: vs} }
func NewObject(m map[string]Value) Value {
	return Value{Type: TypeObject, object: m}
}

func (v Value) IsNull() bool { return v.Type == TypeNull }
func (v Value) Text() string { return v.text }
func (v Value) Number() float64 { return v.number }
func (v Value) Boolean() bool { return v.boolean }
func (v Value) DateTime() time.Time { return v.datetime }
func (v Value) Array() []Value { return v.array }
func (v Value) Object() map[string]Value { return v.object }

// String renders the value the way §4.3 step 4 requires for the synthesized
// full-text field: numbers as decimal, dates as yyyy-MM-dd, booleans
// lowercased, recursing over arrays/objects.
func (v Value) String() string {
	switch v.Type {
	case TypeNull:
		return ""
	case TypeText, TypeGuid:
		return v.text
	case TypeNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case TypeBoolean:
		if v.boolean {
			return "true"
		}
		return "false"
	case TypeDateTime:
		return v.datetime.Format("2006-01-02")
	case TypeArray:
		parts := make([]string, 0, len(v.array))
		for _, e := range v.array {
			if s := e.String(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case TypeObject:
		keys := make([]string, 0, len(v.object))
		for k := range v.object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := v.object[k].String(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// ValueFromAny converts a generic JSON-decoded value (as produced by
// encoding/json.Unmarshal into interface{} — nil, string, float64, bool,
// []interface{}, map[string]interface{}, or a time.Time already parsed by
// the caller) into a Value. Guid detection is left to the caller: the raw
// decoder never distinguishes a Guid from a Text string, so the document
// mapper decides based on the target schema field (see document_mapper.go).
func ValueFromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case string:
		return NewText(t)
	case float64:
		return NewNumber(t)
	case int:
		return NewNumber(float64(t))
	case int64:
		return NewNumber(float64(t))
	case bool:
		return NewBoolean(t)
	case time.Time:
		return NewDateTime(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = ValueFromAny(e)
		}
		return NewArray(vs)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = ValueFromAny(e)
		}
		return NewObject(m)
	default:
		return NewText(fmt.Sprintf("%v", t))
	}
}
