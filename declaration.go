package fathom

import (
	"net/http"
)

// Arity is the cardinality contract of a query-item descriptor.
type Arity uint8

// Arities recognized by the query matcher.
const (
	// Required descriptors must be present exactly once and parse
	// successfully for their declaration to match.
	Required Arity = iota

	// Optional descriptors may be absent; their default is used instead.
	Optional

	// Bool descriptors are satisfied by presence alone, or by a value in
	// {"", "true", "false", "1", "0"}.
	Bool

	// Void descriptors accept presence-only; their parsed value is
	// always the empty struct.
	Void
)

// ValueParser converts the raw string value of a query item into a typed
// value, or reports a parse failure.
type ValueParser func(raw string) (interface{}, error)

// QueryItemDescriptor describes one named query item a dynamic declaration
// accepts.
type QueryItemDescriptor struct {
	Name    string
	Arity   Arity
	Parse   ValueParser
	Default interface{}
}

// TrailingSlashPolicy controls whether a terminal lookup treats a trailing
// slash as a distinguishing marker.
type TrailingSlashPolicy uint8

const (
	// CollapseTrailingSlash treats "/foo" and "/foo/" identically. This
	// is the default.
	CollapseTrailingSlash TrailingSlashPolicy = iota

	// StrictTrailingSlash treats "/foo" and "/foo/" as distinct routes.
	StrictTrailingSlash
)

// declarationKind tags the two shapes a response declaration can take.
// Modeled as a tagged variant rather than an interface hierarchy.
type declarationKind uint8

const (
	kindStatic declarationKind = iota
	kindDynamic
)

// ContentProducer is invoked once a dynamic declaration has uniquely
// matched a request's query and its body has been fully ingested. It
// receives the typed query values (keyed by descriptor name) and the
// intake result, and returns a response plan.
type ContentProducer func(req *Request, values map[string]interface{}, body interface{}) (*ResponsePlan, error)

// StaticProducer is invoked for a static declaration: a pure thunk with no
// query or body to parse.
type StaticProducer func(req *Request) (*ResponsePlan, error)

// declaration is one response declaration in the compositional model: a
// leaf of the user's group tree. It carries its fully-resolved group
// context once flattening completes.
type declaration struct {
	kind declarationKind

	// methods is the set of HTTP methods this declaration answers when
	// reached at its bucket (normally singular, but a BATCH-style
	// declaration may answer several).
	methods []string

	// subPath is an optional suffix appended to the enclosing group's
	// path prefix for this declaration alone.
	subPath string

	trailingSlash TrailingSlashPolicy

	// queryItems and rawQuery together describe the structured query.
	// They are mutually exclusive: a raw-query declaration owns its
	// bucket alone.
	queryItems []*QueryItemDescriptor
	rawQuery   bool

	intake *intakeDescriptor

	staticProducer StaticProducer
	producer       ContentProducer

	ctx *groupContext
}

// hostRule is one element of a group's host-matching configuration.
type hostRule struct {
	// exact, when non-empty, is a literal host this rule matches.
	exact string

	// optionalSubdomain, when non-empty, means the rule matches both
	// "<base>" and "<optionalSubdomain>.<base>" for the group's base
	// host.
	optionalSubdomain string
	base              string

	// any means this rule matches every host not otherwise claimed.
	any bool
}

// endpoint is a (address, port, protocol-set) binding.
type endpoint struct {
	Address   string
	Port      string
	Protocols []string
}

// groupContext is the accumulated, immutable-once-flattened tuple of
// constraints contributed by all enclosing groups of a declaration.
type groupContext struct {
	endpoints []endpoint

	hosts []hostRule

	pathPrefix string

	// methods is the intersection of all enclosing groups' allowed
	// method sets. A nil slice means "unrestricted" (no group along the
	// chain narrowed it).
	methods []string

	auth AuthConstraint

	bodyLengthLimit int64

	// incidentHandlers stacks innermost-first.
	incidentHandlers []*incidentHandlerEntry
}

// incidentHandlerEntry associates a default status with a custom handler
// registered on some enclosing group.
type incidentHandlerEntry struct {
	status  int
	handler IncidentHandler
}

// AuthConstraint describes the user-auth requirement contributed by a
// group. The core does not implement authentication itself (surrounding
// code supplies Verify); it only enforces the constraint's presence.
type AuthConstraint struct {
	// Required indicates whether a request must satisfy Verify to reach
	// declarations under this constraint.
	Required bool

	// Verify inspects the request and reports whether it is authorized.
	// Nil means "always authorized" even when Required is true (useful
	// for a constraint that exists purely to be overridden deeper in the
	// tree).
	Verify func(req *Request) bool
}

// clone returns a copy of ctx suitable for further merging by a child
// group without aliasing the parent's slices.
func (ctx *groupContext) clone() *groupContext {
	if ctx == nil {
		return &groupContext{}
	}

	c := *ctx
	c.endpoints = append([]endpoint(nil), ctx.endpoints...)
	c.hosts = append([]hostRule(nil), ctx.hosts...)
	c.methods = append([]string(nil), ctx.methods...)
	c.incidentHandlers = append([]*incidentHandlerEntry(nil), ctx.incidentHandlers...)
	return &c
}

// intersectMethods merges child's method restriction into the parent's.
// An empty intersection is a start-up error: no request could ever reach
// the declarations under it.
func intersectMethods(parent, child []string) ([]string, error) {
	if child == nil {
		return parent, nil
	}

	if parent == nil {
		return child, nil
	}

	set := make(map[string]bool, len(parent))
	for _, m := range parent {
		set[m] = true
	}

	var out []string
	for _, m := range child {
		if set[m] {
			out = append(out, m)
		}
	}

	if len(out) == 0 {
		return nil, configErrorf("", "empty method intersection")
	}

	return out, nil
}

// allMethods is the full method set BATCH-style declarations expand to.
var allMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}
