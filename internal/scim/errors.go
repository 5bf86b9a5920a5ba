package scim

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a SCIM protocol failure. It carries everything the HTTP layer
// needs to build the RFC 7644 §3.12 error envelope.
type Error struct {
	Status   int
	ScimType string
	Detail   string
}

func (e *Error) Error() string {
	if e.ScimType == "" {
		return fmt.Sprintf("scim: %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("scim: %d %s: %s", e.Status, e.ScimType, e.Detail)
}

// AsError unwraps err into a *Error if one is in the chain.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func NotFound(detail string) *Error {
	return &Error{Status: http.StatusNotFound, ScimType: "noTarget", Detail: detail}
}

func Uniqueness(detail string) *Error {
	return &Error{Status: http.StatusConflict, ScimType: "uniqueness", Detail: detail}
}

func InvalidSyntax(detail string) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: "invalidSyntax", Detail: detail}
}

func InvalidFilter(detail string) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: "invalidFilter", Detail: detail}
}

func InvalidPath(detail string) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: "invalidPath", Detail: detail}
}

func InvalidValue(detail string) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: "invalidValue", Detail: detail}
}

func Mutability(detail string) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: "mutability", Detail: detail}
}

func VersionMismatch(detail string) *Error {
	return &Error{Status: http.StatusPreconditionFailed, ScimType: "versionMismatch", Detail: detail}
}

func NoTarget(detail string) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: "noTarget", Detail: detail}
}

func TooMany(detail string) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: "tooMany", Detail: detail}
}

func InvalidToken(detail string) *Error {
	return &Error{Status: http.StatusUnauthorized, ScimType: "invalidToken", Detail: detail}
}

func Forbidden(detail string) *Error {
	return &Error{Status: http.StatusForbidden, Detail: detail}
}

// Envelope converts a *Error to its wire form.
func Envelope(e *Error) ErrorResponse {
	return ErrorResponse{
		Schemas:  []string{ErrorSchema},
		Status:   fmt.Sprintf("%d", e.Status),
		ScimType: e.ScimType,
		Detail:   e.Detail,
	}
}

// Sentinel errors surfaced by the store layer. The service translates them
// into protocol errors at the call site where the conflicting identifier is
// known.
var (
	ErrNotFound  = errors.New("resource not found")
	ErrDuplicate = errors.New("unique constraint violation")
)
