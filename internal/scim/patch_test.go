package scim

import (
	"testing"
)

func mustApply(t *testing.T, doc map[string]any, ops ...PatchOperation) {
	t.Helper()
	if err := ApplyPatch(doc, ops); err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
}

func scimTypeOf(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	se, ok := AsError(err)
	if !ok {
		t.Fatalf("expected a protocol error, got %v", err)
	}
	return se.ScimType
}

func TestParsePathShapes(t *testing.T) {
	cases := []struct {
		raw  string
		kind pathKind
	}{
		{"", pathNone},
		{"displayName", pathSimple},
		{"name.givenName", pathSimple},
		{`emails[type eq "work"].value`, pathFilter},
		{`members[value eq "u-1"]`, pathFilter},
		{"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:department", pathExtension},
		{"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User", pathExtension},
	}
	for _, tc := range cases {
		p, err := ParsePath(tc.raw)
		if err != nil {
			t.Fatalf("ParsePath(%q) failed: %v", tc.raw, err)
		}
		if p.Kind != tc.kind {
			t.Fatalf("ParsePath(%q): kind %d, want %d", tc.raw, p.Kind, tc.kind)
		}
	}
}

func TestParsePathExtensionCaseInsensitive(t *testing.T) {
	p, err := ParsePath("URN:IETF:PARAMS:SCIM:SCHEMAS:EXTENSION:ENTERPRISE:2.0:USER:Manager")
	if err != nil {
		t.Fatalf("ParsePath failed: %v", err)
	}
	if p.URN != EnterpriseUserURN {
		t.Fatalf("URN not canonicalized: %s", p.URN)
	}
	if len(p.Rest) != 1 || p.Rest[0] != "Manager" {
		t.Fatalf("unexpected rest: %v", p.Rest)
	}
}

func TestParsePathMalformedFilter(t *testing.T) {
	for _, raw := range []string{
		`emails[type eq "work"`,
		`[type eq "work"]`,
		`emails[type]`,
		`emails[type xx "work"]`,
		`emails[type eq "work"].`,
	} {
		_, err := ParsePath(raw)
		if got := scimTypeOf(t, err); got != "invalidPath" {
			t.Fatalf("ParsePath(%q): scimType %s, want invalidPath", raw, got)
		}
	}
}

func TestPatchReplaceSimple(t *testing.T) {
	doc := map[string]any{"displayName": "Old"}
	mustApply(t, doc, PatchOperation{Op: "replace", Path: "displayName", Value: "New"})
	if doc["displayName"] != "New" {
		t.Fatalf("displayName = %v", doc["displayName"])
	}
}

func TestPatchCaseInsensitiveAttributeNames(t *testing.T) {
	doc := map[string]any{"displayName": "Old"}
	mustApply(t, doc, PatchOperation{Op: "Replace", Path: "DISPLAYNAME", Value: "New"})
	if doc["displayName"] != "New" {
		t.Fatalf("existing key casing not reused: %v", doc)
	}
	if _, ok := doc["DISPLAYNAME"]; ok {
		t.Fatal("duplicate key with different casing")
	}
}

func TestPatchNestedCreatesParents(t *testing.T) {
	doc := map[string]any{}
	mustApply(t, doc, PatchOperation{Op: "add", Path: "name.givenName", Value: "Ada"})
	name, ok := doc["name"].(map[string]any)
	if !ok {
		t.Fatalf("name parent not created: %v", doc)
	}
	if name["givenName"] != "Ada" {
		t.Fatalf("givenName = %v", name["givenName"])
	}
}

func TestPatchRemoveMissingAttributeIsNoop(t *testing.T) {
	doc := map[string]any{"userName": "ada"}
	mustApply(t, doc, PatchOperation{Op: "remove", Path: "nickName"})
	mustApply(t, doc, PatchOperation{Op: "remove", Path: "name.givenName"})
	if doc["userName"] != "ada" {
		t.Fatalf("unrelated attribute disturbed: %v", doc)
	}
}

func TestPatchRemoveWithoutPath(t *testing.T) {
	err := ApplyPatch(map[string]any{}, []PatchOperation{{Op: "remove"}})
	if got := scimTypeOf(t, err); got != "noTarget" {
		t.Fatalf("scimType %s, want noTarget", got)
	}
}

func TestPatchUnsupportedOp(t *testing.T) {
	err := ApplyPatch(map[string]any{}, []PatchOperation{{Op: "move", Path: "userName", Value: "x"}})
	if got := scimTypeOf(t, err); got != "invalidValue" {
		t.Fatalf("scimType %s, want invalidValue", got)
	}
}

func TestPatchNoPathMerge(t *testing.T) {
	doc := map[string]any{"displayName": "Old", "title": "Engineer"}
	mustApply(t, doc, PatchOperation{Op: "replace", Value: map[string]any{
		"displayName":    "New",
		"name.givenName": "Ada",
	}})
	if doc["displayName"] != "New" {
		t.Fatalf("displayName = %v", doc["displayName"])
	}
	if doc["title"] != "Engineer" {
		t.Fatal("untouched attribute lost")
	}
	name, _ := doc["name"].(map[string]any)
	if name["givenName"] != "Ada" {
		t.Fatalf("dotted key not applied: %v", doc)
	}
}

func TestPatchNoPathMergeFlatExtensionKey(t *testing.T) {
	doc := map[string]any{}
	mustApply(t, doc, PatchOperation{Op: "add", Value: map[string]any{
		EnterpriseUserURN + ":department": "R&D",
	}})
	ns, ok := doc[EnterpriseUserURN].(map[string]any)
	if !ok {
		t.Fatalf("extension namespace not created: %v", doc)
	}
	if ns["department"] != "R&D" {
		t.Fatalf("department = %v", ns["department"])
	}
}

func TestPatchNoPathRemoveRejected(t *testing.T) {
	err := ApplyPatch(map[string]any{}, []PatchOperation{{Op: "remove", Value: map[string]any{"x": 1}}})
	if got := scimTypeOf(t, err); got != "noTarget" {
		t.Fatalf("scimType %s, want noTarget", got)
	}
}

func TestPatchFilterReplaceSub(t *testing.T) {
	doc := map[string]any{"emails": []any{
		map[string]any{"type": "work", "value": "old@example.com"},
		map[string]any{"type": "home", "value": "home@example.com"},
	}}
	mustApply(t, doc, PatchOperation{
		Op: "replace", Path: `emails[type eq "work"].value`, Value: "new@example.com",
	})
	emails := doc["emails"].([]any)
	if emails[0].(map[string]any)["value"] != "new@example.com" {
		t.Fatalf("work email not replaced: %v", emails)
	}
	if emails[1].(map[string]any)["value"] != "home@example.com" {
		t.Fatalf("home email disturbed: %v", emails)
	}
}

func TestPatchFilterAddSeedsElement(t *testing.T) {
	doc := map[string]any{}
	mustApply(t, doc, PatchOperation{
		Op: "add", Path: `emails[type eq "work"].value`, Value: "ada@example.com",
	})
	emails, ok := doc["emails"].([]any)
	if !ok || len(emails) != 1 {
		t.Fatalf("element not seeded: %v", doc)
	}
	elem := emails[0].(map[string]any)
	if elem["type"] != "work" || elem["value"] != "ada@example.com" {
		t.Fatalf("seeded element = %v", elem)
	}
}

func TestPatchFilterRemoveElementCompacts(t *testing.T) {
	doc := map[string]any{"members": []any{
		map[string]any{"value": "u-1"},
		map[string]any{"value": "u-2"},
	}}
	mustApply(t, doc, PatchOperation{Op: "remove", Path: `members[value eq "u-1"]`})
	members := doc["members"].([]any)
	if len(members) != 1 || members[0].(map[string]any)["value"] != "u-2" {
		t.Fatalf("members = %v", members)
	}

	mustApply(t, doc, PatchOperation{Op: "remove", Path: `members[value eq "u-2"]`})
	if _, ok := doc["members"]; ok {
		t.Fatal("empty members array should be deleted")
	}
}

func TestPatchFilterUnmatchedReplaceFails(t *testing.T) {
	doc := map[string]any{"emails": []any{
		map[string]any{"type": "home", "value": "h@example.com"},
	}}
	err := ApplyPatch(doc, []PatchOperation{{
		Op: "replace", Path: `emails[type eq "work"].value`, Value: "x",
	}})
	if got := scimTypeOf(t, err); got != "noTarget" {
		t.Fatalf("scimType %s, want noTarget", got)
	}
}

func TestPatchFilterMatchesCaseInsensitively(t *testing.T) {
	doc := map[string]any{"emails": []any{
		map[string]any{"type": "WORK", "value": "a@example.com"},
	}}
	mustApply(t, doc, PatchOperation{
		Op: "replace", Path: `emails[type eq "work"].value`, Value: "b@example.com",
	})
	if doc["emails"].([]any)[0].(map[string]any)["value"] != "b@example.com" {
		t.Fatalf("case-insensitive match failed: %v", doc)
	}
}

func TestPatchAddMembersDeduplicates(t *testing.T) {
	doc := map[string]any{"members": []any{
		map[string]any{"value": "u-1"},
	}}
	mustApply(t, doc, PatchOperation{Op: "add", Path: "members", Value: []any{
		map[string]any{"value": "u-1"},
		map[string]any{"value": "u-2"},
	}})
	members := doc["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}
}

func TestPatchExtensionManagerStringWrapped(t *testing.T) {
	doc := map[string]any{}
	mustApply(t, doc, PatchOperation{
		Op:    "add",
		Path:  EnterpriseUserURN + ":manager",
		Value: "u-42",
	})
	ns := doc[EnterpriseUserURN].(map[string]any)
	mgr, ok := ns["manager"].(map[string]any)
	if !ok {
		t.Fatalf("manager not wrapped: %v", ns["manager"])
	}
	if mgr["value"] != "u-42" {
		t.Fatalf("manager.value = %v", mgr["value"])
	}
}

func TestPatchExtensionWholeNamespace(t *testing.T) {
	doc := map[string]any{}
	mustApply(t, doc, PatchOperation{
		Op:   "add",
		Path: EnterpriseUserURN,
		Value: map[string]any{
			"department": "R&D",
			"manager":    "u-42",
		},
	})
	ns := doc[EnterpriseUserURN].(map[string]any)
	if ns["department"] != "R&D" {
		t.Fatalf("department = %v", ns["department"])
	}
	if mgr, ok := ns["manager"].(map[string]any); !ok || mgr["value"] != "u-42" {
		t.Fatalf("manager = %v", ns["manager"])
	}
}

func TestPatchExtensionRemove(t *testing.T) {
	doc := map[string]any{
		EnterpriseUserURN: map[string]any{"department": "R&D", "division": "X"},
	}
	mustApply(t, doc, PatchOperation{Op: "remove", Path: EnterpriseUserURN + ":department"})
	ns := doc[EnterpriseUserURN].(map[string]any)
	if _, ok := ns["department"]; ok {
		t.Fatal("department not removed")
	}
	if ns["division"] != "X" {
		t.Fatal("sibling attribute disturbed")
	}

	mustApply(t, doc, PatchOperation{Op: "remove", Path: EnterpriseUserURN})
	if _, ok := doc[EnterpriseUserURN]; ok {
		t.Fatal("namespace not removed")
	}
}

func TestPatchOperationsApplyInOrder(t *testing.T) {
	doc := map[string]any{}
	mustApply(t, doc,
		PatchOperation{Op: "add", Path: "displayName", Value: "First"},
		PatchOperation{Op: "replace", Path: "displayName", Value: "Second"},
	)
	if doc["displayName"] != "Second" {
		t.Fatalf("displayName = %v", doc["displayName"])
	}
}
