package fathom

import (
	"encoding/base64"
	"strings"
)

// BasicAuthValidator defines a function to validate Basic credentials.
type BasicAuthValidator func(username, password string) bool

// BasicAuth returns an AuthConstraint enforcing HTTP Basic authentication
// for every declaration under the group it is attached to. Requests with a
// missing, malformed, or rejected Authorization header are answered with
// 401 through the incident dispatcher.
func BasicAuth(validator BasicAuthValidator) AuthConstraint {
	return AuthConstraint{
		Required: true,
		Verify: func(req *Request) bool {
			username, password, ok := parseBasicAuth(req.Header("Authorization"))
			if !ok {
				return false
			}
			return validator(username, password)
		},
	}
}

const basicScheme = "Basic"

// parseBasicAuth decodes an `Authorization: Basic <base64>` header value
// into its username and password.
func parseBasicAuth(auth string) (username, password string, ok bool) {
	if len(auth) <= len(basicScheme) || !strings.EqualFold(auth[:len(basicScheme)], basicScheme) {
		return "", "", false
	}

	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(basicScheme):]))
	if err != nil {
		return "", "", false
	}

	cred := string(b)
	i := strings.IndexByte(cred, ':')
	if i < 0 {
		return "", "", false
	}

	return cred[:i], cred[i+1:], true
}
