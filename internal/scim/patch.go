package scim

import (
	"strconv"
	"strings"
)

// The PATCH path grammar has four shapes:
//
//	(none)                                  merge value into the root
//	displayName, name.givenName             simple attribute path
//	emails[type eq "work"].value            value-filter path
//	urn:...:enterprise:2.0:User:manager     extension-URN path
//
// Operations are applied in request order against the payload document;
// later operations observe the effect of earlier ones.

type pathKind int

const (
	pathNone pathKind = iota
	pathSimple
	pathFilter
	pathExtension
)

// Path is a parsed PATCH path.
type Path struct {
	Kind pathKind

	// Simple paths.
	Segments []string

	// Value-filter paths: Attr[FilterAttr FilterOp "FilterValue"].Sub
	Attr        string
	FilterAttr  string
	FilterOp    string
	FilterValue string
	Sub         string

	// Extension paths. URN carries the canonical casing, Rest the attribute
	// path inside the namespace with its original casing.
	URN  string
	Rest []string
}

// ParsePath parses a PATCH path. An empty path yields Kind == pathNone.
func ParsePath(raw string) (*Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Path{Kind: pathNone}, nil
	}

	if urn, rest, ok := matchExtensionURN(raw); ok {
		p := &Path{Kind: pathExtension, URN: urn}
		if rest != "" {
			p.Rest = strings.Split(rest, ".")
		}
		return p, nil
	}

	if open := strings.IndexByte(raw, '['); open >= 0 {
		return parseFilterPath(raw, open)
	}

	return &Path{Kind: pathSimple, Segments: strings.Split(raw, ".")}, nil
}

// matchExtensionURN checks raw against the known extension namespaces,
// case-insensitively. The trailing attribute path keeps its casing.
func matchExtensionURN(raw string) (urn, rest string, ok bool) {
	for _, u := range extensionURNs {
		if strings.EqualFold(raw, u) {
			return u, "", true
		}
		if len(raw) > len(u)+1 && raw[len(u)] == ':' && strings.EqualFold(raw[:len(u)], u) {
			return u, raw[len(u)+1:], true
		}
	}
	return "", "", false
}

var filterOps = map[string]bool{
	"eq": true, "ne": true, "co": true, "sw": true, "ew": true,
	"gt": true, "ge": true, "lt": true, "le": true,
}

func parseFilterPath(raw string, open int) (*Path, error) {
	closing := strings.IndexByte(raw, ']')
	if closing < open {
		return nil, InvalidPath("unterminated value filter in path: " + raw)
	}
	attr := raw[:open]
	if attr == "" {
		return nil, InvalidPath("value filter without attribute: " + raw)
	}

	inner := strings.TrimSpace(raw[open+1 : closing])
	fAttr, rest, ok := cutToken(inner)
	if !ok {
		return nil, InvalidPath("empty value filter: " + raw)
	}
	fOp, rest, ok := cutToken(rest)
	if !ok {
		return nil, InvalidPath("value filter missing operator: " + raw)
	}
	fOp = strings.ToLower(fOp)
	if !filterOps[fOp] {
		return nil, InvalidPath("unknown filter operator " + fOp + " in path: " + raw)
	}
	fValue, rest, err := cutQuoted(rest)
	if err != nil {
		return nil, InvalidPath("malformed filter value in path: " + raw)
	}
	if strings.TrimSpace(rest) != "" {
		return nil, InvalidPath("trailing filter content in path: " + raw)
	}

	p := &Path{
		Kind:        pathFilter,
		Attr:        attr,
		FilterAttr:  fAttr,
		FilterOp:    fOp,
		FilterValue: fValue,
	}

	tail := raw[closing+1:]
	if tail != "" {
		if !strings.HasPrefix(tail, ".") || len(tail) == 1 {
			return nil, InvalidPath("malformed sub-attribute in path: " + raw)
		}
		p.Sub = tail[1:]
	}
	return p, nil
}

// ApplyPatch applies ops to doc in order, mutating doc. doc is the payload
// document (server-managed fields already stripped).
func ApplyPatch(doc map[string]any, ops []PatchOperation) error {
	for _, op := range ops {
		if err := applyOne(doc, op); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(doc map[string]any, op PatchOperation) error {
	name := strings.ToLower(strings.TrimSpace(op.Op))
	switch name {
	case "add", "replace", "remove":
	default:
		return InvalidValue("unsupported patch op: " + op.Op)
	}

	p, err := ParsePath(op.Path)
	if err != nil {
		return err
	}

	switch p.Kind {
	case pathNone:
		return applyNoPath(doc, name, op.Value)
	case pathSimple:
		return applySimple(doc, p.Segments, name, op.Value)
	case pathFilter:
		return applyFilterPath(doc, p, name, op.Value)
	default:
		return applyExtension(doc, p, name, op.Value)
	}
}

// --- no-path merge ---

func applyNoPath(doc map[string]any, op string, value any) error {
	if op == "remove" {
		return NoTarget("remove requires a path")
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return InvalidValue("value must be an object when no path is given")
	}
	for k, v := range obj {
		if urn, rest, ok := matchExtensionURN(k); ok {
			if rest == "" {
				ns, ok := v.(map[string]any)
				if !ok {
					return InvalidValue("extension value for " + urn + " must be an object")
				}
				target := namespaceOf(doc, urn, true)
				for nk, nv := range ns {
					setExtensionAttr(target, urn, []string{nk}, nv)
				}
			} else {
				target := namespaceOf(doc, urn, true)
				setExtensionAttr(target, urn, strings.Split(rest, "."), v)
			}
			continue
		}
		if strings.Contains(k, ".") {
			segs := strings.Split(k, ".")
			if err := applySimple(doc, segs, "replace", v); err != nil {
				return err
			}
			continue
		}
		ciSet(doc, k, v)
	}
	return nil
}

// --- simple paths ---

func applySimple(doc map[string]any, segs []string, op string, value any) error {
	parent := doc
	for _, seg := range segs[:len(segs)-1] {
		child, ok := ciGet(parent, seg)
		if !ok {
			if op == "remove" {
				return nil
			}
			next := map[string]any{}
			ciSet(parent, seg, next)
			parent = next
			continue
		}
		m, ok := child.(map[string]any)
		if !ok {
			if op == "remove" {
				return nil
			}
			m = map[string]any{}
			ciSet(parent, seg, m)
		}
		parent = m
	}

	leaf := segs[len(segs)-1]
	switch op {
	case "remove":
		ciDelete(parent, leaf)
	case "add":
		if existing, ok := ciGet(parent, leaf); ok {
			if arr, ok := existing.([]any); ok {
				ciSet(parent, leaf, appendDeduped(arr, value))
				return nil
			}
		}
		ciSet(parent, leaf, value)
	default: // replace
		ciSet(parent, leaf, value)
	}
	return nil
}

// appendDeduped appends value (an element or a slice of elements) to arr,
// skipping elements whose "value" sub-attribute already occurs.
func appendDeduped(arr []any, value any) []any {
	add := func(out []any, elem any) []any {
		if m, ok := elem.(map[string]any); ok {
			if v, ok := ciGet(m, "value"); ok {
				key := canonicalString(v)
				for _, e := range out {
					em, ok := e.(map[string]any)
					if !ok {
						continue
					}
					if ev, ok := ciGet(em, "value"); ok && strings.EqualFold(canonicalString(ev), key) {
						return out
					}
				}
			}
		}
		return append(out, elem)
	}

	if vs, ok := value.([]any); ok {
		for _, v := range vs {
			arr = add(arr, v)
		}
		return arr
	}
	return add(arr, value)
}

// --- value-filter paths ---

func applyFilterPath(doc map[string]any, p *Path, op string, value any) error {
	existing, ok := ciGet(doc, p.Attr)
	arr, isArr := existing.([]any)
	if !ok || !isArr {
		arr = nil
	}

	matched := false
	for i, elem := range arr {
		em, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if !matchElement(em, p) {
			continue
		}
		matched = true
		switch {
		case op == "remove" && p.Sub != "":
			ciDelete(em, p.Sub)
		case op == "remove":
			arr[i] = nil // compacted below
		case p.Sub != "":
			ciSet(em, p.Sub, value)
		case op == "replace":
			arr[i] = value
		default: // add, whole element
			if vm, ok := value.(map[string]any); ok {
				for k, v := range vm {
					ciSet(em, k, v)
				}
			} else {
				arr[i] = value
			}
		}
	}

	switch {
	case matched && op == "remove":
		kept := arr[:0]
		for _, e := range arr {
			if e != nil {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			ciDelete(doc, p.Attr)
		} else {
			ciSet(doc, p.Attr, append([]any{}, kept...))
		}
		return nil
	case matched:
		ciSet(doc, p.Attr, arr)
		return nil
	case op == "add":
		// Seed a new element from the filter criteria and the value.
		elem := map[string]any{p.FilterAttr: p.FilterValue}
		if p.Sub != "" {
			elem[p.Sub] = value
		} else if vm, ok := value.(map[string]any); ok {
			for k, v := range vm {
				ciSet(elem, k, v)
			}
		} else {
			elem["value"] = value
		}
		ciSet(doc, p.Attr, append(arr, elem))
		return nil
	default:
		return NoTarget("no element matches " + p.Attr + "[" + p.FilterAttr + " " + p.FilterOp + " \"" + p.FilterValue + "\"]")
	}
}

// matchElement evaluates the bracket filter against one array element.
// eq/ne/co/sw/ew compare case-insensitively on the canonical string form;
// the ordering operators fall back to strict string equality.
func matchElement(elem map[string]any, p *Path) bool {
	v, ok := ciGet(elem, p.FilterAttr)
	if !ok {
		return false
	}
	s := canonicalString(v)
	want := p.FilterValue
	switch p.FilterOp {
	case "eq":
		return strings.EqualFold(s, want)
	case "ne":
		return !strings.EqualFold(s, want)
	case "co":
		return strings.Contains(strings.ToLower(s), strings.ToLower(want))
	case "sw":
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(want))
	case "ew":
		return strings.HasSuffix(strings.ToLower(s), strings.ToLower(want))
	default:
		return s == want
	}
}

// --- extension paths ---

func applyExtension(doc map[string]any, p *Path, op string, value any) error {
	if op == "remove" {
		ns := namespaceOf(doc, p.URN, false)
		if ns == nil {
			return nil
		}
		if len(p.Rest) == 0 {
			ciDelete(doc, p.URN)
			return nil
		}
		parent := ns
		for _, seg := range p.Rest[:len(p.Rest)-1] {
			child, ok := ciGet(parent, seg)
			if !ok {
				return nil
			}
			m, ok := child.(map[string]any)
			if !ok {
				return nil
			}
			parent = m
		}
		ciDelete(parent, p.Rest[len(p.Rest)-1])
		return nil
	}

	if len(p.Rest) == 0 {
		obj, ok := value.(map[string]any)
		if !ok {
			return InvalidValue("extension value for " + p.URN + " must be an object")
		}
		target := namespaceOf(doc, p.URN, true)
		for k, v := range obj {
			setExtensionAttr(target, p.URN, []string{k}, v)
		}
		return nil
	}

	target := namespaceOf(doc, p.URN, true)
	setExtensionAttr(target, p.URN, p.Rest, value)
	return nil
}

// namespaceOf returns the extension object under urn, creating it with the
// canonical URN casing when create is set.
func namespaceOf(doc map[string]any, urn string, create bool) map[string]any {
	if v, ok := ciGet(doc, urn); ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	if !create {
		return nil
	}
	m := map[string]any{}
	ciSet(doc, urn, m)
	return m
}

// setExtensionAttr writes one attribute inside an extension namespace.
// A bare string assigned to the Enterprise manager attribute is wrapped as
// {"value": s}: manager is a complex attribute and identity providers send
// the referenced id as a plain string.
func setExtensionAttr(ns map[string]any, urn string, segs []string, value any) {
	if urn == EnterpriseUserURN && len(segs) == 1 && strings.EqualFold(segs[0], "manager") {
		if s, ok := value.(string); ok {
			value = map[string]any{"value": s}
		}
	}
	parent := ns
	for _, seg := range segs[:len(segs)-1] {
		child, ok := ciGet(parent, seg)
		m, isMap := child.(map[string]any)
		if !ok || !isMap {
			m = map[string]any{}
			ciSet(parent, seg, m)
		}
		parent = m
	}
	ciSet(parent, segs[len(segs)-1], value)
}

// --- case-insensitive map helpers (RFC 7643 §2.1) ---

func ciKey(m map[string]any, name string) (string, bool) {
	if _, ok := m[name]; ok {
		return name, true
	}
	for k := range m {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}

func ciGet(m map[string]any, name string) (any, bool) {
	k, ok := ciKey(m, name)
	if !ok {
		return nil, false
	}
	return m[k], true
}

// ciSet writes under the existing key casing when present, else under name.
func ciSet(m map[string]any, name string, value any) {
	if k, ok := ciKey(m, name); ok {
		m[k] = value
		return
	}
	m[name] = value
}

func ciDelete(m map[string]any, name string) {
	if k, ok := ciKey(m, name); ok {
		delete(m, k)
	}
}

// canonicalString coerces a JSON scalar to its canonical string form for
// filter comparison.
func canonicalString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return ""
	}
}
