package scim

import "strings"

// Projection applies the attributes / excludedAttributes query parameters
// (RFC 7644 §3.4.2.5). attributes wins when both are present; schemas, id
// and meta are always returned either way.

type attrPath struct {
	name string
	sub  string
}

func parseAttrList(items []string) []attrPath {
	var out []attrPath
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, sub, _ := strings.Cut(part, ".")
			out = append(out, attrPath{name: name, sub: sub})
		}
	}
	return out
}

var alwaysReturned = []string{"schemas", "id", "meta"}

func isAlwaysReturned(key string) bool {
	for _, a := range alwaysReturned {
		if strings.EqualFold(key, a) {
			return true
		}
	}
	return false
}

// Project returns a copy of doc narrowed per the projection rules. With no
// projection requested the document is returned as-is.
func Project(doc map[string]any, attributes, excluded []string) map[string]any {
	include := parseAttrList(attributes)
	exclude := parseAttrList(excluded)
	if len(include) == 0 && len(exclude) == 0 {
		return doc
	}

	if len(include) > 0 {
		out := map[string]any{}
		for _, a := range alwaysReturned {
			if v, ok := ciGet(doc, a); ok {
				k, _ := ciKey(doc, a)
				out[k] = v
			}
		}
		for _, ap := range include {
			k, ok := ciKey(doc, ap.name)
			if !ok {
				continue
			}
			if ap.sub == "" {
				// A parent selection includes all sub-attributes.
				out[k] = doc[k]
				continue
			}
			merged, _ := out[k]
			out[k] = narrowTo(doc[k], merged, ap.sub)
		}
		return out
	}

	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, ap := range exclude {
		if isAlwaysReturned(ap.name) {
			continue
		}
		k, ok := ciKey(out, ap.name)
		if !ok {
			continue
		}
		if ap.sub == "" {
			delete(out, k)
			continue
		}
		out[k] = dropSub(out[k], ap.sub)
	}
	return out
}

// narrowTo keeps only sub inside v, merging into prior (an earlier narrow
// of the same attribute, so attributes=name.givenName,name.familyName
// accumulates).
func narrowTo(v, prior any, sub string) any {
	switch t := v.(type) {
	case map[string]any:
		out, ok := prior.(map[string]any)
		if !ok {
			out = map[string]any{}
		}
		if sv, ok := ciGet(t, sub); ok {
			k, _ := ciKey(t, sub)
			out[k] = sv
		}
		return out
	case []any:
		prevArr, _ := prior.([]any)
		out := make([]any, len(t))
		for i, elem := range t {
			var prev any
			if i < len(prevArr) {
				prev = prevArr[i]
			}
			out[i] = narrowTo(elem, prev, sub)
		}
		return out
	default:
		return v
	}
}

func dropSub(v any, sub string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if strings.EqualFold(k, sub) {
				continue
			}
			out[k] = val
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = dropSub(elem, sub)
		}
		return out
	default:
		return v
	}
}
