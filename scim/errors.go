package scim

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingEndpoint is returned when the client has no base URL
var ErrMissingEndpoint = errors.New("scim: missing endpoint")

// Error is a non 2xx response from the identity server
type Error struct {
	Status   int    `json:"-"`
	ScimType string `json:"scimType,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Method   string `json:"-"`
	Path     string `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("scim: %s %s returned %d", e.Method, e.Path, e.Status)
	if e.ScimType != "" {
		msg += " (" + e.ScimType + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the identity server
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the identity server
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// IsUnauthorized reports whether the server rejected our credentials
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized) || hasStatus(err, http.StatusForbidden)
}

func hasStatus(err error, status int) bool {
	var scimErr *Error
	if errors.As(err, &scimErr) {
		return scimErr.Status == status
	}
	return false
}
