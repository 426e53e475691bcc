package store

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case Document:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	}
	return v
}

// MergeInto copies every top-level key of patch over dst and returns dst.
// The identifier of dst is never overwritten.
func MergeInto(dst, patch Document) Document {
	if dst == nil {
		dst = Document{}
	}
	id, hasID := dst[IDField]
	for k, v := range patch {
		dst[k] = cloneValue(v)
	}
	if hasID {
		dst[IDField] = id
	}
	return dst
}

// entries returns the array field of doc, nil when missing or not an array.
func entries(doc Document, field string) []any {
	arr, _ := doc[field].([]any)
	return arr
}
