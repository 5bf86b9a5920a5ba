package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dhawalhost/scimprobe/pkg/logger"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
)

// Endpoint is one isolated SCIM service-provider instance (a tenant).
type Endpoint struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	DisplayName string         `json:"displayName" db:"display_name"`
	Description string         `json:"description" db:"description"`
	RawConfig   types.JSONText `json:"-" db:"config"`
	Config      Config         `json:"config" db:"-"`
	Active      bool           `json:"active" db:"active"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
}

// decodeConfig populates Config from the raw jsonb column.
func (e *Endpoint) decodeConfig() error {
	e.Config = Config{}
	if len(e.RawConfig) == 0 {
		return nil
	}
	return json.Unmarshal(e.RawConfig, &e.Config)
}

// Config is the per-tenant configuration map. Values arrive as strings or
// bools from the admin API.
type Config map[string]any

// Known config keys.
const (
	KeyMultiOpPatchAddMembers = "MultiOpPatchRequestAddMultipleMembersToGroup"
	KeyAllowRemoveAllMembers  = "PatchOpAllowRemoveAllMembers"
	KeyVerbosePatch           = "VerbosePatchSupported"
	KeyLogLevel               = "logLevel"
)

var boolKeys = map[string]bool{
	KeyMultiOpPatchAddMembers: true,
	KeyAllowRemoveAllMembers:  true,
	KeyVerbosePatch:           true,
}

// Bool reads a flag key, accepting bool values and the string spellings
// "True"/"False"/"true"/"false"/"1"/"0".
func (c Config) Bool(key string) bool {
	v, ok := c[key]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "true", "1":
			return true
		}
	}
	return false
}

// LogLevel returns the tenant log-level override, if any.
func (c Config) LogLevel() (string, bool) {
	v, ok := c[KeyLogLevel]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Validate rejects unknown value shapes for the known keys. Unknown keys
// pass through untouched so tenants can carry free-form annotations.
func (c Config) Validate() error {
	for key, v := range c {
		if boolKeys[key] {
			switch t := v.(type) {
			case bool:
			case string:
				switch strings.ToLower(t) {
				case "true", "false", "1", "0":
				default:
					return fmt.Errorf("config key %s: invalid value %q", key, t)
				}
			default:
				return fmt.Errorf("config key %s: expected boolean or string, got %T", key, v)
			}
			continue
		}
		if key == KeyLogLevel {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("config key %s: expected string, got %T", key, v)
			}
			if !logger.IsValidLevel(s) {
				return fmt.Errorf("config key %s: invalid level %q", key, s)
			}
		}
	}
	return nil
}

// nameRegex constrains endpoint names to URL-safe identifiers.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name is acceptable as an endpoint name.
func ValidName(name string) bool {
	return nameRegex.MatchString(name)
}

// Stats are the per-endpoint resource counts served by the admin API.
type Stats struct {
	Users       int `json:"users" db:"users"`
	Groups      int `json:"groups" db:"groups"`
	RequestLogs int `json:"requestLogs" db:"request_logs"`
}

// Scope is the per-request tenant context built by the resolver. It lives
// in the request context for the duration of the request only.
type Scope struct {
	EndpointID string
	// BaseURL is the externally visible URL prefix for this tenant's SCIM
	// root, honoring X-Forwarded-Proto / X-Forwarded-Host.
	BaseURL string
	Config  Config
	// Logger honors the tenant's logLevel override; nil means the process
	// logger applies.
	Logger *zap.Logger
}

type scopeContextKey struct{}

// WithScope stores the tenant scope on the context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// ScopeFromContext extracts the tenant scope, if any.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeContextKey{}).(Scope)
	return s, ok
}
