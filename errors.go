package fathom

import (
	"errors"
	"fmt"
)

// ConfigError reports a fatal problem discovered while compiling a
// declaration tree into a route table, or while loading a configuration
// file (LoadConfig) or TLS material (LoadTLSConfig). Configuration errors
// are always discovered before an App transitions from configuring to
// running; the App refuses to start rather than risk an ambiguous route at
// request time.
type ConfigError struct {
	// Path is the route path the error was discovered at (the file path
	// for LoadConfig), if any.
	Path string

	// Reason describes what went wrong.
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("fathom: configuration error: %s", e.Reason)
	}

	return fmt.Sprintf("fathom: configuration error at %s: %s", e.Path, e.Reason)
}

// configErrorf builds a `*ConfigError` for the path.
func configErrorf(path, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Incident is a recoverable per-request condition that maps to a default
// HTTP status and may be overridden by an incident handler registered on an
// enclosing group. See the incident dispatcher in incident.go.
type Incident struct {
	// Status is the default HTTP status this incident maps to.
	Status int

	// Reason is a short machine-oriented description (e.g. "payload-too-large").
	Reason string

	// Cause is the underlying error, if the incident was triggered by one
	// (a decode failure, a producer error, ...). It may be nil.
	Cause error
}

func (inc *Incident) Error() string {
	if inc.Cause != nil {
		return fmt.Sprintf("fathom: incident %s (%d): %v", inc.Reason, inc.Status, inc.Cause)
	}

	return fmt.Sprintf("fathom: incident %s (%d)", inc.Reason, inc.Status)
}

func (inc *Incident) Unwrap() error {
	return inc.Cause
}

// newIncident builds an `*Incident` with the given status/reason and an
// optional cause.
func newIncident(status int, reason string, cause error) *Incident {
	return &Incident{Status: status, Reason: reason, Cause: cause}
}

// AsIncident reports whether err is (or wraps) an `*Incident`.
func AsIncident(err error) (*Incident, bool) {
	var inc *Incident
	if errors.As(err, &inc) {
		return inc, true
	}

	return nil, false
}

// Default incident reasons, one per built-in status.
const (
	ReasonBadRequest          = "bad-request"
	ReasonUnauthorized        = "unauthorized"
	ReasonForbidden           = "forbidden"
	ReasonNotFound            = "not-found"
	ReasonMethodNotAllowed    = "method-not-allowed"
	ReasonPayloadTooLarge     = "payload-too-large"
	ReasonInternalServerError = "internal-server-error"
)
