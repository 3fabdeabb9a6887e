package expandodb

import "strings"

// PatchOp is one operation in a PATCH request body (§6.1). Path uses the
// same dotted-name convention as a schema field ("address.city") rather
// than RFC 6901 JSON Pointer array indices — consistent with the rest of
// the engine, which never supports indexing into a specific array element.
type PatchOp struct {
	Op    string // "add", "remove", or "replace"
	Path  string
	Value any
}

// ApplyPatch applies ops in order against doc, mutating it in place. It
// rejects any op that targets a reserved field (§6.1: "_id,
// _createdTimestamp, _modifiedTimestamp and _full_text_ may never be
// patched").
func ApplyPatch(doc Document, ops []PatchOp) error {
	for _, op := range ops {
		if IsReservedField(op.Path) || strings.HasPrefix(op.Path, "_") {
			return NewError("cannot patch reserved field "+op.Path, WithCode(ErrValidation))
		}
		if !ValidFieldName(firstSegment(op.Path)) {
			return NewError("invalid patch path "+op.Path, WithCode(ErrValidation))
		}
		var err error
		switch op.Op {
		case "add", "replace":
			err = setPath(doc, op.Path, op.Value)
		case "remove":
			err = removePath(doc, op.Path)
		default:
			err = NewError("unsupported patch op "+op.Op, WithCode(ErrValidation))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func firstSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// setPath walks path's dotted segments, creating intermediate
// map[string]any nodes as needed, and sets the final segment to value.
func setPath(doc Document, path string, value any) error {
	segs := strings.Split(path, ".")
	cur := map[string]any(doc)
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = value
			return nil
		}
		next, ok := cur[seg]
		if !ok || next == nil {
			created := map[string]any{}
			cur[seg] = created
			cur = created
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return NewError("patch path traverses a non-object field: "+path, WithCode(ErrValidation))
		}
		cur = m
	}
	return nil
}

// removePath deletes the value at path, erroring if any intermediate
// segment is missing or not an object.
func removePath(doc Document, path string) error {
	segs := strings.Split(path, ".")
	cur := map[string]any(doc)
	for i, seg := range segs {
		if i == len(segs)-1 {
			if _, ok := cur[seg]; !ok {
				return NewError("patch remove target not found: "+path, WithCode(ErrValidation))
			}
			delete(cur, seg)
			return nil
		}
		next, ok := cur[seg]
		if !ok {
			return NewError("patch remove target not found: "+path, WithCode(ErrValidation))
		}
		m, ok := next.(map[string]any)
		if !ok {
			return NewError("patch path traverses a non-object field: "+path, WithCode(ErrValidation))
		}
		cur = m
	}
	return nil
}
