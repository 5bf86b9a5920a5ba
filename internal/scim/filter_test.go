package scim

import "testing"

func TestParseFilterEquality(t *testing.T) {
	cases := []struct {
		raw       string
		attribute string
		value     string
	}{
		{`userName eq "ada@example.com"`, "userName", "ada@example.com"},
		{`USERNAME EQ "Ada"`, "userName", "Ada"},
		{`displayName eq "Engineering"`, "displayName", "Engineering"},
		{`externalId eq "ext-1"`, "externalId", "ext-1"},
		{`active eq true`, "active", "true"},
		{`id eq "abc"`, "id", "abc"},
	}
	for _, tc := range cases {
		f, err := ParseFilter(tc.raw)
		if err != nil {
			t.Fatalf("ParseFilter(%q) failed: %v", tc.raw, err)
		}
		if f.Attribute != tc.attribute || f.Value != tc.value {
			t.Fatalf("ParseFilter(%q) = %+v", tc.raw, f)
		}
	}
}

func TestParseFilterEmpty(t *testing.T) {
	f, err := ParseFilter("")
	if err != nil || f != nil {
		t.Fatalf("empty filter: %v, %v", f, err)
	}
}

func TestParseFilterRejected(t *testing.T) {
	for _, raw := range []string{
		`userName co "ada"`,
		`userName eq "a" and active eq true`,
		`not (userName eq "a")`,
		`(userName eq "a")`,
		`title eq "boss"`,
		`userName eq`,
		`userName eq "unterminated`,
	} {
		_, err := ParseFilter(raw)
		if err == nil {
			t.Fatalf("ParseFilter(%q) should fail", raw)
		}
		se, ok := AsError(err)
		if !ok || se.ScimType != "invalidFilter" {
			t.Fatalf("ParseFilter(%q): expected invalidFilter, got %v", raw, err)
		}
	}
}
