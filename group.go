package fathom

// Group is a fluent builder node in the declarative endpoint tree: it
// composes protocol/transport, host, subdomain, path, method, user-auth
// and incident-handling constraints, and accumulates a list of child
// declarations and child groups to be flattened once the tree is
// complete.
type Group struct {
	app    *App
	parent *Group

	endpoints []endpoint
	hosts     []hostRule
	pathSeg   string
	methods   []string
	hasAuth   bool
	auth      AuthConstraint

	hasBodyLimit    bool
	bodyLengthLimit int64

	incidentHandlers []*incidentHandlerEntry

	children    []*declaration
	childGroups []*Group
}

// Group returns the app's root group, creating it on first call. Every
// declaration tree hangs off this single root so Compile sees the whole
// description at once.
func (a *App) Group() *Group {
	if a.rootGroup == nil {
		a.rootGroup = &Group{app: a}
	}
	return a.rootGroup
}

// Group returns a new child group inheriting g's constraints.
func (g *Group) Group() *Group {
	child := &Group{app: g.app, parent: g}
	g.childGroups = append(g.childGroups, child)
	return child
}

// Endpoint restricts this group (and its descendants) to the given
// address/port/protocol-set binding. Multiple calls accumulate bindings.
func (g *Group) Endpoint(address, port string, protocols ...string) *Group {
	if len(protocols) == 0 {
		protocols = []string{"http/1.1", "h2"}
	}
	g.endpoints = append(g.endpoints, endpoint{Address: address, Port: port, Protocols: protocols})
	return g
}

// Host restricts this group to the exact host.
func (g *Group) Host(host string) *Group {
	g.hosts = append(g.hosts, hostRule{exact: host})
	return g
}

// Subdomain restricts this group to base and optionalSubdomain+"."+base:
// Subdomain("www", "example.com") answers for both "example.com" and
// "www.example.com".
func (g *Group) Subdomain(optionalSubdomain, base string) *Group {
	g.hosts = append(g.hosts, hostRule{optionalSubdomain: optionalSubdomain, base: base})
	return g
}

// AnyHost makes this group match any host not otherwise claimed.
func (g *Group) AnyHost() *Group {
	g.hosts = append(g.hosts, hostRule{any: true})
	return g
}

// Path appends prefix to the path accumulated by the enclosing groups.
func (g *Group) Path(prefix string) *Group {
	g.pathSeg = prefix
	return g
}

// Methods restricts this group to methods, intersected with any enclosing
// group's restriction at flatten time.
func (g *Group) Methods(methods ...string) *Group {
	g.methods = methods
	return g
}

// Auth attaches a user-auth constraint to this group.
func (g *Group) Auth(constraint AuthConstraint) *Group {
	g.hasAuth = true
	g.auth = constraint
	return g
}

// BodyLengthLimit sets this group's body-length limit. The innermost limit
// along a declaration's group chain wins.
func (g *Group) BodyLengthLimit(limit int64) *Group {
	g.hasBodyLimit = true
	g.bodyLengthLimit = limit
	return g
}

// IncidentHandler registers a custom handler for status on this group.
// Incident handlers stack innermost-first during dispatch.
func (g *Group) IncidentHandler(status int, handler IncidentHandler) *Group {
	g.incidentHandlers = append(g.incidentHandlers, &incidentHandlerEntry{status: status, handler: handler})
	return g
}

// Static registers a static response declaration (a pure thunk) under
// this group for the given methods.
func (g *Group) Static(methods []string, subPath string, producer StaticProducer) *Group {
	g.children = append(g.children, &declaration{
		kind:           kindStatic,
		methods:        methods,
		subPath:        subPath,
		staticProducer: producer,
	})
	return g
}

// Dynamic registers a dynamic response declaration (query items, optional
// body intake, and a content producer) under this group for the given
// methods.
func (g *Group) Dynamic(methods []string, subPath string, query []*QueryItemDescriptor, intake *intakeDescriptor, producer ContentProducer) *Group {
	g.children = append(g.children, &declaration{
		kind:       kindDynamic,
		methods:    methods,
		subPath:    subPath,
		queryItems: query,
		intake:     intake,
		producer:   producer,
	})
	return g
}

// RawQuery registers a dynamic declaration whose unnamed raw descriptor
// consumes the whole query as an ordered item list.
func (g *Group) RawQuery(methods []string, subPath string, intake *intakeDescriptor, producer ContentProducer) *Group {
	g.children = append(g.children, &declaration{
		kind:     kindDynamic,
		methods:  methods,
		subPath:  subPath,
		rawQuery: true,
		intake:   intake,
		producer: producer,
	})
	return g
}

// WithTrailingSlash marks the most recently registered declaration on this
// group as requiring StrictTrailingSlash semantics.
func (g *Group) WithTrailingSlash() *Group {
	if len(g.children) > 0 {
		g.children[len(g.children)-1].trailingSlash = StrictTrailingSlash
	}
	return g
}

// IncidentHandler is invoked by the incident dispatcher (incident.go) to
// attempt a custom response for a default-status incident.
type IncidentHandler func(req *Request, inc *Incident) (*ResponsePlan, error)
