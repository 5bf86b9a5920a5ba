package scim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dhawalhost/scimprobe/internal/endpoint"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the tenant-scoped resource engine: schema checks, uniqueness,
// optimistic concurrency, PATCH application, and meta stamping all live
// here. Handlers stay thin.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a new resource engine.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// View is a rendered resource ready for the HTTP layer.
type View struct {
	Resource *Resource
	Doc      map[string]any
	ETag     string
	Location string
}

// ETag renders the weak entity tag for a modification time. updated_at
// strictly advances on every mutation, so these compare monotonic.
func ETag(t time.Time) string {
	return `W/"` + t.UTC().Format(time.RFC3339Nano) + `"`
}

func schemaFor(resourceType string) string {
	if resourceType == TypeGroup {
		return GroupSchema
	}
	return UserSchema
}

// Create handles POST /{Users,Groups}.
func (s *Service) Create(ctx context.Context, scope endpoint.Scope, resourceType string, doc map[string]any) (*View, error) {
	if err := validateDocument(resourceType, doc); err != nil {
		return nil, err
	}

	scimID := uuid.NewString()
	if v, ok := ciGet(doc, "id"); ok {
		if s, ok := v.(string); ok && s != "" {
			scimID = s
		}
	}

	r := &Resource{
		EndpointID: scope.EndpointID,
		Type:       resourceType,
		ScimID:     scimID,
		Version:    1,
		Active:     activeFrom(doc),
	}
	fillIdentifiers(r, doc)

	if err := s.checkUniqueness(ctx, r, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := setPayload(r, doc); err != nil {
		return nil, err
	}

	err := s.store.Create(ctx, r, membersFrom(doc))
	if errors.Is(err, ErrDuplicate) {
		// Lost a race with a concurrent insert; the precheck above already
		// passed, so re-check to name the winner.
		return nil, s.duplicateError(ctx, r, "")
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", resourceType, err)
	}
	return s.view(ctx, scope, r)
}

// Get handles GET /{Users,Groups}/{id}.
func (s *Service) Get(ctx context.Context, scope endpoint.Scope, resourceType, scimID string) (*View, error) {
	r, err := s.store.Get(ctx, scope.EndpointID, resourceType, scimID)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFound("Resource " + scimID + " not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", resourceType, scimID, err)
	}
	return s.view(ctx, scope, r)
}

// Replace handles PUT /{Users,Groups}/{id}.
func (s *Service) Replace(ctx context.Context, scope endpoint.Scope, resourceType, scimID string, doc map[string]any, ifMatch string) (*View, error) {
	cur, err := s.store.Get(ctx, scope.EndpointID, resourceType, scimID)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFound("Resource " + scimID + " not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", resourceType, scimID, err)
	}
	if err := checkIfMatch(cur, ifMatch); err != nil {
		return nil, err
	}
	if err := validateDocument(resourceType, doc); err != nil {
		return nil, err
	}
	if v, ok := ciGet(doc, "id"); ok {
		if id, ok := v.(string); ok && id != "" && id != scimID {
			return nil, Mutability("id is immutable")
		}
	}

	next := &Resource{
		ID:         cur.ID,
		EndpointID: cur.EndpointID,
		Type:       cur.Type,
		ScimID:     cur.ScimID,
		Version:    cur.Version + 1,
		Active:     activeFrom(doc),
		CreatedAt:  cur.CreatedAt,
		UpdatedAt:  advance(cur.UpdatedAt),
	}
	fillIdentifiers(next, doc)
	if err := s.checkUniqueness(ctx, next, scimID); err != nil {
		return nil, err
	}
	if err := setPayload(next, doc); err != nil {
		return nil, err
	}

	err = s.store.Update(ctx, next, membersFrom(doc), resourceType == TypeGroup)
	if errors.Is(err, ErrDuplicate) {
		return nil, s.duplicateError(ctx, next, scimID)
	}
	if err != nil {
		return nil, fmt.Errorf("replace %s %s: %w", resourceType, scimID, err)
	}
	return s.view(ctx, scope, next)
}

// Patch handles PATCH /{Users,Groups}/{id}. Operations apply in request
// order inside one transaction; the merged payload, version bump, and meta
// rewrite commit atomically.
func (s *Service) Patch(ctx context.Context, scope endpoint.Scope, resourceType, scimID string, req PatchRequest, ifMatch string) (*View, error) {
	if !containsSchema(req.Schemas, PatchSchema) {
		return nil, InvalidSyntax("expected schema " + PatchSchema)
	}
	if len(req.Operations) == 0 {
		return nil, InvalidValue("Operations must not be empty")
	}

	cur, err := s.store.Get(ctx, scope.EndpointID, resourceType, scimID)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFound("Resource " + scimID + " not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", resourceType, scimID, err)
	}
	if err := checkIfMatch(cur, ifMatch); err != nil {
		return nil, err
	}

	doc := map[string]any{}
	if err := json.Unmarshal(cur.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", scimID, err)
	}
	before := membersFrom(doc)

	if resourceType == TypeGroup {
		if err := s.gateMemberOps(scope, req.Operations); err != nil {
			return nil, err
		}
	}

	if err := ApplyPatch(doc, req.Operations); err != nil {
		return nil, err
	}

	if v, ok := ciGet(doc, "id"); ok {
		if id, ok := v.(string); ok && id != "" && id != scimID {
			return nil, Mutability("id is immutable")
		}
	}
	if err := validateRequired(resourceType, doc); err != nil {
		return nil, err
	}

	next := &Resource{
		ID:         cur.ID,
		EndpointID: cur.EndpointID,
		Type:       cur.Type,
		ScimID:     cur.ScimID,
		Version:    cur.Version + 1,
		Active:     activeFrom(doc),
		CreatedAt:  cur.CreatedAt,
		UpdatedAt:  advance(cur.UpdatedAt),
	}
	fillIdentifiers(next, doc)
	if err := s.checkUniqueness(ctx, next, scimID); err != nil {
		return nil, err
	}
	if err := setPayload(next, doc); err != nil {
		return nil, err
	}

	after := membersFrom(doc)
	err = s.store.Update(ctx, next, after, resourceType == TypeGroup)
	if errors.Is(err, ErrDuplicate) {
		return nil, s.duplicateError(ctx, next, scimID)
	}
	if err != nil {
		return nil, fmt.Errorf("patch %s %s: %w", resourceType, scimID, err)
	}

	if resourceType == TypeGroup && scope.Config.Bool(endpoint.KeyVerbosePatch) {
		s.log(scope).Info("group membership patched",
			zap.String("endpointId", scope.EndpointID),
			zap.String("scimId", scimID),
			zap.Strings("before", memberValues(before)),
			zap.Strings("after", memberValues(after)))
	}
	return s.view(ctx, scope, next)
}

// Delete handles DELETE /{Users,Groups}/{id}. Deleting a group removes its
// member rows; deleting a user nulls member_resource_id on rows that
// referenced it. Both are schema-level cascades.
func (s *Service) Delete(ctx context.Context, scope endpoint.Scope, resourceType, scimID, ifMatch string) error {
	cur, err := s.store.Get(ctx, scope.EndpointID, resourceType, scimID)
	if errors.Is(err, ErrNotFound) {
		return NotFound("Resource " + scimID + " not found")
	}
	if err != nil {
		return fmt.Errorf("get %s %s: %w", resourceType, scimID, err)
	}
	if err := checkIfMatch(cur, ifMatch); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, scope.EndpointID, resourceType, scimID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFound("Resource " + scimID + " not found")
		}
		return fmt.Errorf("delete %s %s: %w", resourceType, scimID, err)
	}
	return nil
}

// List handles GET /{Users,Groups} and POST /{Users,Groups}/.search.
func (s *Service) List(ctx context.Context, scope endpoint.Scope, resourceType string, params ListParams) (*ListResponse, error) {
	f, err := ParseFilter(params.Filter)
	if err != nil {
		return nil, err
	}

	startIndex := params.StartIndex
	if startIndex < 1 {
		startIndex = 1
	}
	count := defaultCount
	if params.CountSet {
		count = params.Count
		if count < 0 {
			count = 0
		}
	}
	if count > maxCount {
		count = maxCount
	}

	rows, total, err := s.store.List(ctx, scope.EndpointID, resourceType, f, startIndex-1, count)
	if err != nil {
		if se, ok := AsError(err); ok {
			return nil, se
		}
		return nil, fmt.Errorf("list %s: %w", resourceType, err)
	}

	docs := make([]map[string]any, 0, len(rows))
	for i := range rows {
		v, err := s.view(ctx, scope, &rows[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, Project(v.Doc, params.Attributes, params.ExcludedAttributes))
	}

	return &ListResponse{
		Schemas:      []string{ListSchema},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: len(docs),
		Resources:    docs,
	}, nil
}

// gateMemberOps enforces the tenant flags around group-membership PATCH
// shapes before any op is applied.
func (s *Service) gateMemberOps(scope endpoint.Scope, ops []PatchOperation) error {
	addMembers := 0
	for _, op := range ops {
		p, err := ParsePath(op.Path)
		if err != nil {
			return err
		}
		bare := p.Kind == pathSimple && len(p.Segments) == 1 && strings.EqualFold(p.Segments[0], "members")
		targetsMembers := bare || (p.Kind == pathFilter && strings.EqualFold(p.Attr, "members"))

		switch strings.ToLower(strings.TrimSpace(op.Op)) {
		case "remove":
			if bare && !scope.Config.Bool(endpoint.KeyAllowRemoveAllMembers) {
				return NoTarget("removing all members requires the " + endpoint.KeyAllowRemoveAllMembers + " flag")
			}
		case "add":
			if targetsMembers {
				addMembers++
			}
		}
	}
	if addMembers > 1 && !scope.Config.Bool(endpoint.KeyMultiOpPatchAddMembers) {
		return InvalidValue("multiple add-member operations in one request require the " + endpoint.KeyMultiOpPatchAddMembers + " flag")
	}
	return nil
}

// view renders the stored row into the response document: payload plus the
// server-managed fields projected from the record. Group membership is read
// back from the member rows, which are the resolved edges.
func (s *Service) view(ctx context.Context, scope endpoint.Scope, r *Resource) (*View, error) {
	doc := map[string]any{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &doc); err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", r.ScimID, err)
		}
	}
	if _, ok := ciGet(doc, "schemas"); !ok {
		doc["schemas"] = []any{schemaFor(r.Type)}
	}
	if r.Type == TypeGroup {
		rows, err := s.store.Members(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("load members for %s: %w", r.ScimID, err)
		}
		if len(rows) == 0 {
			ciDelete(doc, "members")
		} else {
			ciSet(doc, "members", memberDocs(rows))
		}
	}

	location := scope.BaseURL + "/" + r.Type + "s/" + r.ScimID
	etag := ETag(r.UpdatedAt)
	doc["id"] = r.ScimID
	doc["meta"] = map[string]any{
		"resourceType": r.Type,
		"created":      r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"lastModified": r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"location":     location,
		"version":      etag,
	}
	return &View{Resource: r, Doc: doc, ETag: etag, Location: location}, nil
}

// log returns the tenant-scoped logger when the resolver attached one.
func (s *Service) log(scope endpoint.Scope) *zap.Logger {
	if scope.Logger != nil {
		return scope.Logger
	}
	return s.logger
}

// memberDocs renders member rows into their wire form.
func memberDocs(rows []Member) []any {
	out := make([]any, 0, len(rows))
	for _, m := range rows {
		elem := map[string]any{"value": m.Value, "type": m.Type}
		if m.Display != "" {
			elem["display"] = m.Display
		}
		out = append(out, elem)
	}
	return out
}

// duplicateError builds the 409 for an index-level unique violation. The
// precheck already passed, so re-run it to name the conflicting resource;
// when the winner vanished in the meantime the generic detail remains.
func (s *Service) duplicateError(ctx context.Context, r *Resource, excludeScimID string) error {
	if err := s.checkUniqueness(ctx, r, excludeScimID); err != nil {
		return err
	}
	return Uniqueness("a resource with a conflicting identifier was created concurrently")
}

// checkUniqueness enforces the per-tenant identifier rules, excluding the
// target record on update paths. The unique indexes remain the backstop
// for races.
func (s *Service) checkUniqueness(ctx context.Context, r *Resource, excludeScimID string) error {
	check := func(attribute, value string) error {
		if value == "" {
			return nil
		}
		conflict, err := s.store.FindConflict(ctx, r.EndpointID, r.Type, attribute, value, excludeScimID)
		if err != nil {
			return fmt.Errorf("uniqueness check %s: %w", attribute, err)
		}
		if conflict != "" {
			return Uniqueness(fmt.Sprintf("%s %q conflicts with resource %s", attribute, value, conflict))
		}
		return nil
	}

	if r.Type == TypeUser && r.UserName != nil {
		if err := check("userName", *r.UserName); err != nil {
			return err
		}
	}
	if r.Type == TypeGroup && r.DisplayName != nil {
		if err := check("displayName", *r.DisplayName); err != nil {
			return err
		}
	}
	if r.ExternalID != nil {
		if err := check("externalId", *r.ExternalID); err != nil {
			return err
		}
	}
	return nil
}

func checkIfMatch(cur *Resource, ifMatch string) error {
	if ifMatch == "" || ifMatch == "*" {
		return nil
	}
	if ifMatch != ETag(cur.UpdatedAt) {
		return VersionMismatch("supplied version does not match " + ETag(cur.UpdatedAt))
	}
	return nil
}

// advance returns a timestamp strictly after prev even under coarse or
// stepped clocks, keeping the weak ETag monotonic.
func advance(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func validateDocument(resourceType string, doc map[string]any) error {
	v, ok := ciGet(doc, "schemas")
	if !ok {
		return InvalidSyntax("schemas is required")
	}
	arr, ok := v.([]any)
	if !ok {
		return InvalidSyntax("schemas must be an array")
	}
	schemas := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			schemas = append(schemas, s)
		}
	}
	if !containsSchema(schemas, schemaFor(resourceType)) {
		return InvalidSyntax("expected schema " + schemaFor(resourceType))
	}
	return validateRequired(resourceType, doc)
}

func validateRequired(resourceType string, doc map[string]any) error {
	if resourceType == TypeUser {
		if docString(doc, "userName") == "" {
			return InvalidValue("userName is required")
		}
		return nil
	}
	if docString(doc, "displayName") == "" {
		return InvalidValue("displayName is required")
	}
	return nil
}

func containsSchema(schemas []string, want string) bool {
	for _, s := range schemas {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

func docString(doc map[string]any, key string) string {
	v, ok := ciGet(doc, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// activeFrom reads the active flag; absent means active. String spellings
// are tolerated since some providers send "True"/"False".
func activeFrom(doc map[string]any) bool {
	v, ok := ciGet(doc, "active")
	if !ok {
		return true
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return !strings.EqualFold(t, "false") && t != "0"
	default:
		return true
	}
}

func fillIdentifiers(r *Resource, doc map[string]any) {
	if s := docString(doc, "externalId"); s != "" {
		r.ExternalID = &s
	}
	if r.Type == TypeUser {
		if s := docString(doc, "userName"); s != "" {
			r.UserName = &s
		}
		return
	}
	if s := docString(doc, "displayName"); s != "" {
		r.DisplayName = &s
	}
}

// setPayload stores doc minus the server-managed fields, which are
// projected back from the record on reads.
func setPayload(r *Resource, doc map[string]any) error {
	payload := make(map[string]any, len(doc))
	for k, v := range doc {
		if strings.EqualFold(k, "id") || strings.EqualFold(k, "meta") {
			continue
		}
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	r.Payload = raw
	return nil
}

// membersFrom extracts the member edges from a group document.
func membersFrom(doc map[string]any) []Member {
	v, ok := ciGet(doc, "members")
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		value := canonicalString(mustGet(m, "value"))
		if value == "" {
			continue
		}
		member := Member{Value: value, Type: "User"}
		if t := canonicalString(mustGet(m, "type")); t != "" {
			member.Type = t
		}
		member.Display = canonicalString(mustGet(m, "display"))
		out = append(out, member)
	}
	return out
}

func mustGet(m map[string]any, key string) any {
	v, _ := ciGet(m, key)
	return v
}

func memberValues(members []Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Value
	}
	return out
}
