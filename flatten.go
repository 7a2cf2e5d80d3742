package fathom

// flatten walks a Group tree depth-first, merging each group's contribution
// into its parent's groupContext, and inserts every reachable declaration
// into rt. It is the sole bridge between the fluent builder (group.go) and
// the route table (routetable.go), run once at App.Compile() time. It
// returns the root group's merged context so incidents raised before any
// declaration matches can still reach outermost incident handlers.
func flatten(root *Group, rt *routeTable, implicitLimit int64) (*groupContext, []error) {
	var errs []error
	rootCtx := flattenGroup(root, &groupContext{}, rt, implicitLimit, &errs)
	return rootCtx, errs
}

// flattenGroup merges g's own constraints onto inherited (the parent's
// already-merged context), inserts g's declarations under the result, and
// recurses into g's child groups.
func flattenGroup(g *Group, inherited *groupContext, rt *routeTable, implicitLimit int64, errs *[]error) *groupContext {
	ctx := inherited.clone()

	if len(g.endpoints) > 0 {
		ctx.endpoints = append(ctx.endpoints, g.endpoints...)
	}

	if len(g.hosts) > 0 {
		ctx.hosts = append(ctx.hosts, g.hosts...)
	}

	ctx.pathPrefix += g.pathSeg

	if merged, err := intersectMethods(ctx.methods, g.methods); err != nil {
		*errs = append(*errs, err)
	} else {
		ctx.methods = merged
	}

	if g.hasAuth {
		ctx.auth = g.auth
	}

	if g.hasBodyLimit {
		ctx.bodyLengthLimit = g.bodyLengthLimit
	}

	if len(g.incidentHandlers) > 0 {
		// Handlers registered deeper in the tree are tried before
		// shallower ones, so prepend.
		ctx.incidentHandlers = append(append([]*incidentHandlerEntry(nil), g.incidentHandlers...), ctx.incidentHandlers...)
	}

	for _, decl := range g.children {
		d := decl
		d.ctx = ctx

		methods := d.methods
		if len(methods) == 0 {
			methods = allMethods
		}
		if resolved, err := intersectMethods(ctx.methods, methods); err != nil {
			*errs = append(*errs, err)
			continue
		} else {
			d.methods = resolved
		}

		if d.intake != nil {
			// The effective per-request ceiling is the min of the
			// declaration's own limit, the innermost group limit, and
			// the server-wide implicit limit.
			d.intake.implicitLengthLimit = minNonzero(ctx.bodyLengthLimit, implicitLimit)
		}

		if err := rt.insert(d); err != nil {
			*errs = append(*errs, err)
		}
	}

	for _, child := range g.childGroups {
		flattenGroup(child, ctx, rt, implicitLimit, errs)
	}

	return ctx
}

// minNonzero returns the smaller of a and b, treating zero as "unset".
func minNonzero(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// Compile flattens the app's group tree into its route table and compiles
// every bucket's query matcher, transitioning the app from configuring to
// running. It must be called exactly once, before Serve.
func (a *App) Compile() error {
	if a.rootGroup == nil {
		a.rootGroup = a.Group()
	}

	a.routes = newRouteTable()

	rootCtx, errs := flatten(a.rootGroup, a.routes, a.ImplicitBodyLengthLimit)
	if len(errs) > 0 {
		return errs[0]
	}
	a.rootCtx = rootCtx

	return a.routes.compile()
}
