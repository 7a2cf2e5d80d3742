package fathom

import (
	"context"
	"io"
	"net"
)

// Request is the core's view of an in-flight HTTP request, assembled by
// the channel adapter from transport-specific state before the route table
// and response pipeline ever see it. It never references net/http types
// directly, so a future channel adapter over a different transport can
// populate one without importing net/http.
type Request struct {
	ctx context.Context

	Method string
	Host   string
	Path   string
	Query  string

	Headers    map[string][]string
	RemoteAddr net.Addr

	// Endpoint is the (address, port, protocol) binding the request
	// arrived on, resolved by the channel adapter from the listener it
	// was accepted on.
	Endpoint endpoint

	// ContentLength is the declared body length, or -1 if unknown.
	ContentLength int64

	// Body is the raw reader the channel adapter wraps each chunk-delivery
	// callback around; most declarations never touch this directly since
	// bodyIntake already consumes it.
	Body io.Reader

	// Values carries the matched declaration's resolved query values and
	// any intake result, set by the dispatcher right before the content
	// producer runs.
	Values map[string]interface{}
	Intake interface{}

	// Authorized is set by the dispatcher after evaluating the enclosing
	// group's AuthConstraint.
	Authorized bool
}

// Context returns the request's deadline/cancellation context, propagated
// from the channel adapter's accept loop.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Header returns the first value of the named header, or "".
func (r *Request) Header(name string) string {
	vs := r.Headers[name]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Bind binds the request's resolved query values into i via the package's
// default binder (not App.Binder). See binder.go.
func (r *Request) Bind(i interface{}) error {
	return defaultBinder.Bind(i, r.Values)
}

// reset clears r for reuse by the channel adapter's request pool.
func (r *Request) reset() {
	*r = Request{}
}
