package scim

import (
	"strings"
)

// Filter is the supported filter subset: a single case-insensitive equality
// on one attribute. The store pushes it down as a WHERE clause.
type Filter struct {
	// Attribute is the canonical attribute name (userName, displayName,
	// externalId, active, id).
	Attribute string
	Value     string
}

// filterableAttributes maps lower-cased attribute names to their canonical
// form. Anything else is rejected rather than silently ignored.
var filterableAttributes = map[string]string{
	"username":    "userName",
	"displayname": "displayName",
	"externalid":  "externalId",
	"active":      "active",
	"id":          "id",
}

// ParseFilter parses `<attr> eq "<value>"`. Compound expressions (and/or/
// not, parentheses) and every other operator produce invalidFilter: a
// partially applied filter would silently return the wrong rows.
func ParseFilter(raw string) (*Filter, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	if strings.ContainsAny(s, "()") {
		return nil, InvalidFilter("grouping is not supported")
	}

	attr, rest, ok := cutToken(s)
	if !ok {
		return nil, InvalidFilter("expected '<attribute> eq \"<value>\"'")
	}
	switch strings.ToLower(attr) {
	case "and", "or", "not":
		return nil, InvalidFilter("logical operators are not supported")
	}

	op, rest, ok := cutToken(rest)
	if !ok {
		return nil, InvalidFilter("missing operator")
	}
	if !strings.EqualFold(op, "eq") {
		return nil, InvalidFilter("unsupported operator: " + op)
	}

	value, rest, err := cutQuoted(rest)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rest) != "" {
		return nil, InvalidFilter("compound expressions are not supported")
	}

	canonical, ok := filterableAttributes[strings.ToLower(attr)]
	if !ok {
		return nil, InvalidFilter("unsupported filter attribute: " + attr)
	}

	return &Filter{Attribute: canonical, Value: value}, nil
}

// cutToken splits the next whitespace-delimited token off s.
func cutToken(s string) (token, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	if s == "" {
		return "", "", false
	}
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, "", true
	}
	return s[:i], s[i:], true
}

// cutQuoted reads a double-quoted string. Bare tokens are accepted too
// since some clients omit quotes around simple values.
func cutQuoted(s string) (value, rest string, err error) {
	s = strings.TrimLeft(s, " \t")
	if s == "" {
		return "", "", InvalidFilter("missing comparison value")
	}
	if s[0] != '"' {
		tok, rest, _ := cutToken(s)
		return tok, rest, nil
	}
	end := strings.IndexByte(s[1:], '"')
	if end < 0 {
		return "", "", InvalidFilter("unterminated string literal")
	}
	return s[1 : 1+end], s[2+end:], nil
}
