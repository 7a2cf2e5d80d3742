package fathom

import (
	"net/http"
	"time"
)

// Cookie is an HTTP cookie, carried by a ResponsePlan so the response
// pipeline's public surface stays free of transport types.
type Cookie struct {
	Name     string
	Value    string
	Expires  time.Time
	MaxAge   int
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// newCookie copies an *http.Cookie into the core's transport-agnostic
// Cookie. The channel adapter does not parse request cookies, so nothing
// in the request path calls it.
func newCookie(sc *http.Cookie) *Cookie {
	return &Cookie{
		Name:     sc.Name,
		Value:    sc.Value,
		Expires:  sc.Expires,
		MaxAge:   sc.MaxAge,
		Domain:   sc.Domain,
		Path:     sc.Path,
		Secure:   sc.Secure,
		HTTPOnly: sc.HttpOnly,
	}
}

// String returns the Set-Cookie serialization of c, or "" when the cookie
// name is invalid. Attribute validation and sanitization are delegated to
// net/http's cookie writer rather than reimplemented here.
func (c *Cookie) String() string {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Expires:  c.Expires,
		MaxAge:   c.MaxAge,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	return hc.String()
}
