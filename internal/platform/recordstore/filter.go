package recordstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Filter selects documents. All parts are ANDed together; an empty Filter
// matches every document in the collection. Only scalar values are compared.
type Filter struct {
	// Where requires every field to equal its value.
	Where map[string]any
	// AnyOf requires at least one group to match entirely.
	AnyOf []map[string]any
	// In requires the field's string value to be one of the listed values.
	In map[string][]string
}

func Eq(field string, value any) Filter {
	return Filter{Where: map[string]any{field: value}}
}

func (f Filter) Matches(doc map[string]any) bool {
	if !matchAll(doc, f.Where) {
		return false
	}
	if len(f.AnyOf) > 0 {
		hit := false
		for _, group := range f.AnyOf {
			if matchAll(doc, group) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for field, values := range f.In {
		got, ok := doc[field].(string)
		if !ok || !containsString(values, got) {
			return false
		}
	}
	return true
}

func matchAll(doc map[string]any, want map[string]any) bool {
	for field, expected := range want {
		if !reflect.DeepEqual(doc[field], normalize(expected)) {
			return false
		}
	}
	return true
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// normalize converts v to the shape encoding/json produces when decoding into any,
// so Go values compare equal to decoded documents.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func decodeDoc(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func docID(raw []byte) (string, map[string]any, error) {
	doc, err := decodeDoc(raw)
	if err != nil {
		return "", nil, err
	}
	id, _ := doc["id"].(string)
	if id == "" {
		return "", nil, ErrMissingID
	}
	return id, doc, nil
}

// merge applies patch onto a copy of base and pins the id field.
func merge(base map[string]any, patch Patch, id string) map[string]any {
	out := make(map[string]any, len(base)+len(patch)+1)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		n := normalize(v)
		if n == nil {
			delete(out, k)
			continue
		}
		out[k] = n
	}
	out["id"] = id
	return out
}

// splitPatch separates fields to set from fields to remove.
func splitPatch(patch Patch, id string) (map[string]any, []string) {
	set := make(map[string]any, len(patch)+1)
	unset := []string{}
	for k, v := range patch {
		n := normalize(v)
		if n == nil {
			unset = append(unset, k)
			continue
		}
		set[k] = n
	}
	sort.Strings(unset)
	set["id"] = id
	return set, unset
}
