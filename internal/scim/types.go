package scim

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	UserSchema   = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchema  = "urn:ietf:params:scim:schemas:core:2.0:Group"
	ListSchema   = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	ErrorSchema  = "urn:ietf:params:scim:api:messages:2.0:Error"
	PatchSchema  = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	SearchSchema = "urn:ietf:params:scim:api:messages:2.0:SearchRequest"

	// EnterpriseUserURN is the well-known User extension namespace.
	EnterpriseUserURN = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"

	TypeUser  = "User"
	TypeGroup = "Group"

	// ContentType is sent on every SCIM response.
	ContentType = "application/scim+json; charset=utf-8"
)

// extensionURNs lists the schema-extension namespaces the PATCH path engine
// recognizes. Matching is case-insensitive; the canonical casing below is
// what gets written into payloads.
var extensionURNs = []string{
	EnterpriseUserURN,
}

// Resource is the persisted row backing a SCIM User or Group. The payload
// column holds the resource as received minus server-managed fields; the
// typed columns exist for uniqueness indexes and filter push-down.
type Resource struct {
	ID          string         `db:"id"`
	EndpointID  string         `db:"endpoint_id"`
	Type        string         `db:"resource_type"`
	ScimID      string         `db:"scim_id"`
	ExternalID  *string        `db:"external_id"`
	UserName    *string        `db:"user_name"`
	DisplayName *string        `db:"display_name"`
	Active      bool           `db:"active"`
	Payload     types.JSONText `db:"payload"`
	Version     int            `db:"version"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Member is one Group→member edge. MemberResourceID is null when the member
// value did not resolve to a resource in the same tenant.
type Member struct {
	ID               string    `db:"id"`
	GroupResourceID  string    `db:"group_resource_id"`
	MemberResourceID *string   `db:"member_resource_id"`
	Value            string    `db:"value"`
	Type             string    `db:"type"`
	Display          string    `db:"display"`
	CreatedAt        time.Time `db:"created_at"`
}

// ListResponse is the RFC 7644 §3.4.2 paged list envelope.
type ListResponse struct {
	Schemas      []string         `json:"schemas"`
	TotalResults int              `json:"totalResults"`
	StartIndex   int              `json:"startIndex"`
	ItemsPerPage int              `json:"itemsPerPage"`
	Resources    []map[string]any `json:"Resources"`
}

// ErrorResponse is the RFC 7644 §3.12 error envelope.
type ErrorResponse struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// PatchRequest is the RFC 7644 §3.5.2 PatchOp envelope.
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation is a single patch operation.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// SearchRequest is the POST /.search body.
type SearchRequest struct {
	Schemas            []string `json:"schemas"`
	Filter             string   `json:"filter,omitempty"`
	StartIndex         int      `json:"startIndex,omitempty"`
	Count              *int     `json:"count,omitempty"`
	Attributes         []string `json:"attributes,omitempty"`
	ExcludedAttributes []string `json:"excludedAttributes,omitempty"`
	SortBy             string   `json:"sortBy,omitempty"`
	SortOrder          string   `json:"sortOrder,omitempty"`
}

// ListParams carries normalized list/search inputs into the engine.
type ListParams struct {
	Filter             string
	StartIndex         int
	Count              int
	CountSet           bool
	Attributes         []string
	ExcludedAttributes []string
}

const (
	defaultCount = 100
	maxCount     = 200
)
