package expandodb

import (
	"strings"
	"time"
)

// maxSortGroupBytes bounds the truncated Text sort/grouping columns (§4.2).
const maxSortGroupBytes = 256

// fieldMapper maps a single (value, schema field) pair to the flat set of
// index entries described by the table in §4.2. It never touches the
// schema registry itself — callers (document_mapper.go) are responsible for
// installing new fields and recursing into Array/Object children.
type fieldMapper struct {
	log Logger
}

func newFieldMapper(log Logger) *fieldMapper {
	if log == nil {
		log = defaultLogger{}
	}
	return &fieldMapper{log: log}
}

// validateAndUpdateDataType implements §4.2's type-narrowing rule. It
// mutates field in place the first time a concrete type is observed and
// reports false (without mutating) when the observed type conflicts with
// an already-settled field.
func (m *fieldMapper) validateAndUpdateDataType(field *Field, observed DataType) bool {
	if observed == TypeNull {
		return true
	}
	if field.DataType == TypeNull {
		field.DataType = observed
		field.IsTokenized = observed == TypeText
		if observed == TypeDateTime && field.FacetSettings != nil {
			field.FacetSettings.IsHierarchical = true
			field.FacetSettings.FormatString = defaultDateTimeFacetFormat
			field.FacetSettings.HierarchySeparator = defaultHierarchySeparator
		}
		return true
	}
	return field.DataType == observed
}

// MapScalar maps one non-container value under field into the flat set of
// keys to merge into the index document. ok is false when the value was
// dropped (type conflict); the caller must skip it without mutating the
// schema or the document.
func (m *fieldMapper) MapScalar(field *Field, v Value) (out map[string]any, ok bool) {
	if v.IsNull() {
		return map[string]any{NullMarkerColumn(field.Name): 1}, true
	}
	if !m.validateAndUpdateDataType(field, v.Type) {
		m.log.Trace("type conflict, dropping value", map[string]any{
			"field": field.Name, "schemaType": string(field.DataType), "observed": string(v.Type),
		})
		return nil, false
	}

	sortable := field.IsSortable()
	out = map[string]any{}

	switch field.DataType {
	case TypeNumber:
		out[field.Name] = v.Number()
		if sortable {
			out[SortColumn(field.Name)] = v.Number()
		}
		out[GroupingColumn(field.Name)] = v.Number()
	case TypeBoolean:
		n := 0.0
		if v.Boolean() {
			n = 1.0
		}
		out[field.Name] = n
		if sortable {
			out[SortColumn(field.Name)] = n
		}
		out[GroupingColumn(field.Name)] = n
	case TypeDateTime:
		ticks := float64(toTicks(v.DateTime()))
		out[field.Name] = v.DateTime()
		if sortable {
			out[SortColumn(field.Name)] = ticks
		}
		out[GroupingColumn(field.Name)] = ticks
	case TypeText:
		out[field.Name] = v.Text()
		if sortable {
			out[SortColumn(field.Name)] = truncateLower(v.Text())
		}
		out[GroupingColumn(field.Name)] = truncateRaw(v.Text())
	case TypeGuid:
		lower := strings.ToLower(v.Text())
		out[field.Name] = lower
		if sortable {
			out[SortColumn(field.Name)] = lower
		}
		out[GroupingColumn(field.Name)] = lower
	default:
		return nil, false
	}
	return out, true
}

func truncateLower(s string) string {
	s = strings.ToLower(s)
	b := []byte(s)
	if len(b) > maxSortGroupBytes {
		b = b[:maxSortGroupBytes]
	}
	return string(b)
}

func truncateRaw(s string) string {
	b := []byte(s)
	if len(b) > maxSortGroupBytes {
		b = b[:maxSortGroupBytes]
	}
	return string(b)
}

// ticksPerSecond matches .NET's DateTime.Ticks resolution (100ns ticks)
// referenced by §6.3's encoded-format note; Go's time.Time is nanosecond
// resolution so we divide by 100 rather than reimplementing a tick clock.
const ticksPerSecond = 10_000_000

// ticksEpochOffset is the number of ticks between year 1 (the .NET epoch)
// and the Unix epoch (1970-01-01), used so toTicks produces values
// comparable to a real DateTime.Ticks encoding.
const ticksEpochOffset = 621355968000000000

func toTicks(t time.Time) int64 {
	unixNanos := t.UTC().UnixNano()
	return ticksEpochOffset + unixNanos/100
}

func fromTicks(ticks int64) time.Time {
	unixNanos := (ticks - ticksEpochOffset) * 100
	return time.Unix(0, unixNanos).UTC()
}
