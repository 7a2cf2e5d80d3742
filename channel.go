package fathom

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
)

// App is the top-level declarative-routing application: the root of the
// Group tree and owner of the compiled route table. The net/http server
// bridge (ServeHTTP, Serve, Shutdown) lives in this file. Other files still
// use net/http: for method and status constants, header keys and dates,
// cookie serialization, the WebSocket upgrade and the HTTPS redirect.
type App struct {
	rootGroup *Group
	rootCtx   *groupContext
	routes    *routeTable
	pool      *pool

	Logger *Logger

	// Binder binds a matched declaration's resolved query values into
	// user structs. Request.Bind does not consult it: a Request holds no
	// reference to its App and always uses the package's default binder.
	Binder Binder

	// ImplicitBodyLengthLimit is the server-wide ceiling every
	// intakeDescriptor is clamped to regardless of its own declared
	// limit.
	ImplicitBodyLengthLimit int64

	// HTTPSEnforced makes Serve bind an extra cleartext listener on
	// HTTPSEnforcedPort that answers every request with a 301 to the
	// HTTPS origin.
	HTTPSEnforced     bool
	HTTPSEnforcedPort string

	// PROXYEnabled makes every endpoint listener opened by Serve (not the
	// HTTPS-redirect listener) speak the PROXY protocol (v1 and v2) ahead
	// of the TLS/HTTP handshake, so the
	// framework is deployable behind a TCP load balancer without losing
	// the original client address.
	PROXYEnabled            bool
	PROXYRelayerIPWhitelist []string
	PROXYReadHeaderTimeout  time.Duration

	listeners    []net.Listener
	servers      []*http.Server
	shutdownMu   sync.Mutex
	shutdownJobs []func()
}

// New returns an empty App ready for Group()/Compile()/Serve().
func New() *App {
	a := &App{
		Logger:                  NewLogger(),
		Binder:                  &binder{},
		ImplicitBodyLengthLimit: 32 << 20,
		HTTPSEnforcedPort:       "80",
	}
	a.pool = newPool(a)
	return a
}

// httpResponseWriter adapts a net/http.ResponseWriter to the core's
// transport-agnostic ResponseWriter.
type httpResponseWriter struct {
	rw http.ResponseWriter
}

func (w httpResponseWriter) Header() Header             { return Header(w.rw.Header()) }
func (w httpResponseWriter) WriteHeader(status int)     { w.rw.WriteHeader(status) }
func (w httpResponseWriter) Write(p []byte) (int, error) { return w.rw.Write(p) }

// ServeHTTP implements http.Handler, bridging a net/http request into the
// core's Request/ResponsePlan model: resolve the route, disambiguate the
// query, run body intake, invoke the producer, dispatch any incident, and
// write the result. The endpoint is inferred from the request's Host when
// ServeHTTP is driven directly (tests, a user-owned http.Server); Serve
// wraps the App per endpoint so the bound address takes precedence.
func (a *App) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var ep endpoint
	if host, port, err := net.SplitHostPort(r.Host); err == nil {
		ep = endpoint{Address: host, Port: port}
	}

	a.serveOn(ep, rw, r)
}

// endpointHandler pins the endpoint a request arrived on; Serve installs
// one per bound listener.
type endpointHandler struct {
	app *App
	ep  endpoint
}

func (h endpointHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.app.serveOn(h.ep, rw, r)
}

func (a *App) serveOn(ep endpoint, rw http.ResponseWriter, r *http.Request) {
	req := a.pool.Request()
	defer a.pool.Put(req)

	req.ctx = context.WithValue(r.Context(), transportKey{}, transportPair{rw: rw, r: r})
	req.Method = r.Method
	req.Host = r.Host
	req.Path = r.URL.Path
	req.Query = r.URL.RawQuery
	req.Headers = map[string][]string(r.Header)
	req.ContentLength = r.ContentLength
	req.Body = r.Body
	req.Endpoint = ep

	w := httpResponseWriter{rw: rw}

	defer func() {
		if rec := recover(); rec != nil {
			inc := recoverToIncident(rec)
			a.Logger.Error("panic recovered while serving request", map[string]interface{}{
				"path":  req.Path,
				"error": inc.Error(),
			})
			a.respondIncident(req, w, inc, a.rootChain())
		}
	}()

	// A trailing slash prefers the strict table, then falls back to the
	// default collapsing one.
	var bucket *methodBucket
	var lr *lookupResult
	if hasTrailingSlash(req.Path) {
		bucket, lr = a.routes.lookup(ep, req.Host, req.Method, req.Path, true)
	}
	if bucket == nil {
		b, l := a.routes.lookup(ep, req.Host, req.Method, req.Path, false)
		bucket = b
		if lr == nil {
			lr = l
		}
	}

	if bucket == nil {
		if lr != nil && r.Method == http.MethodOptions {
			rw.Header().Set("Allow", joinStrings(lr.allowed, ", "))
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		if lr != nil && lr.methodMiss {
			rw.Header().Set("Allow", joinStrings(lr.allowed, ", "))
			a.respondIncident(req, w, newIncident(http.StatusMethodNotAllowed, ReasonMethodNotAllowed, nil), a.rootChain())
			return
		}
		a.respondIncident(req, w, newIncident(http.StatusNotFound, ReasonNotFound, nil), a.rootChain())
		return
	}

	a.dispatchBucket(bucket, req, w)
}

// dispatchBucket resolves the single matching declaration in bucket (via
// its compiled query matcher, or trivially for a lone static declaration),
// runs body intake, invokes the producer, and writes the plan.
func (a *App) dispatchBucket(bucket *methodBucket, req *Request, w ResponseWriter) {
	var decl *declaration

	if len(bucket.declarations) == 1 && bucket.declarations[0].kind == kindStatic {
		decl = bucket.declarations[0]
	} else {
		items := parseRawQuery(req.Query)
		idx, values, outcome := bucket.matcher.match(items)

		switch outcome {
		case outcomeNoMatch:
			a.respondIncident(req, w, newIncident(http.StatusNotFound, ReasonNotFound, nil), a.rootChain())
			return
		case outcomeInvalid:
			a.respondIncident(req, w, newIncident(http.StatusBadRequest, ReasonBadRequest, fmt.Errorf("unparsable query item value")), a.rootChain())
			return
		case outcomeAmbiguous:
			a.respondIncident(req, w, newIncident(http.StatusBadRequest, ReasonBadRequest, fmt.Errorf("ambiguous query")), a.rootChain())
			return
		}

		decl = bucket.declarations[idx]
		req.Values = values
	}

	ctx := decl.ctx
	if ctx.auth.Required && ctx.auth.Verify != nil && !ctx.auth.Verify(req) {
		a.respondIncident(req, w, newIncident(http.StatusUnauthorized, ReasonUnauthorized, nil), declChain(ctx))
		return
	}
	req.Authorized = true

	if decl.kind == kindStatic {
		plan, err := decl.staticProducer(req)
		if err != nil {
			a.handleProducerErr(req, w, err, ctx)
			return
		}
		a.execute(plan, req, w, ctx)
		return
	}

	intake := newBodyIntake(decl.intake, req.ContentLength)
	if intake.state == stateAborted {
		a.respondIncident(req, w, intake.abortErr, declChain(ctx))
		return
	}

	if req.Body != nil {
		buf := a.pool.Chunk()
		for {
			n, err := req.Body.Read(buf)
			if n > 0 {
				if werr := intake.WriteChunk(buf[:n]); werr != nil {
					a.pool.PutChunk(buf)
					a.respondIncident(req, w, incidentFromErr(werr), declChain(ctx))
					return
				}
			}
			if err != nil {
				break
			}
		}
		a.pool.PutChunk(buf)
	}

	result, err := intake.End()
	if err != nil {
		a.respondIncident(req, w, incidentFromErr(err), declChain(ctx))
		return
	}
	req.Intake = result

	plan, err := decl.producer(req, req.Values, result)
	if err != nil {
		a.handleProducerErr(req, w, err, ctx)
		return
	}

	a.execute(plan, req, w, ctx)
}

// execute writes plan, routing any pre-commit failure (a static-file
// resolution incident, typically) back through the incident dispatcher.
func (a *App) execute(plan *ResponsePlan, req *Request, w ResponseWriter, ctx *groupContext) {
	if err := Execute(plan, req, w); err != nil {
		if inc, ok := AsIncident(err); ok {
			a.respondIncident(req, w, inc, declChain(ctx))
			return
		}
		a.Logger.Error("response write failed", map[string]interface{}{
			"path":  req.Path,
			"error": err.Error(),
		})
	}
}

func incidentFromErr(err error) *Incident {
	if inc, ok := AsIncident(err); ok {
		return inc
	}
	return newIncident(http.StatusInternalServerError, ReasonInternalServerError, err)
}

func (a *App) handleProducerErr(req *Request, w ResponseWriter, err error, ctx *groupContext) {
	a.respondIncident(req, w, incidentFromErr(err), declChain(ctx))
}

func (a *App) respondIncident(req *Request, w ResponseWriter, inc *Incident, chain []*groupContext) {
	plan := dispatchIncident(req, inc, chain)
	if err := Execute(plan, req, w); err != nil {
		a.Logger.Error("incident response write failed", map[string]interface{}{
			"path":  req.Path,
			"error": err.Error(),
		})
	}
}

// rootChain is the enclosing chain for incidents raised before any
// declaration matched (routing misses, panics): the root group's own
// context, so outermost incident handlers still intervene.
func (a *App) rootChain() []*groupContext {
	return declChain(a.rootCtx)
}

func declChain(ctx *groupContext) []*groupContext {
	if ctx == nil {
		return nil
	}
	return []*groupContext{ctx}
}

func joinStrings(ss []string, sep string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}

// AddShutdownJob registers a function to run concurrently with other
// shutdown jobs once Shutdown begins.
func (a *App) AddShutdownJob(job func()) {
	a.shutdownMu.Lock()
	defer a.shutdownMu.Unlock()
	a.shutdownJobs = append(a.shutdownJobs, job)
}

// Serve starts one net/http.Server per endpoint, bridging HTTP/2 over
// cleartext via h2c when no TLS config is present, and blocks until ctx is
// canceled or a server fails; either way every server is then shut down.
// Servers stopped by some other route do not end the call on their own.
func (a *App) Serve(ctx context.Context, endpoints []endpoint, tlsConfig *tls.Config) error {
	if a.routes == nil {
		return fmt.Errorf("fathom: App.Compile must be called before Serve")
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, ep := range endpoints {
		ep := ep
		addr := net.JoinHostPort(ep.Address, ep.Port)

		l := newListener(a)
		if err := l.listen(addr); err != nil {
			return err
		}
		var ln net.Listener = l
		a.listeners = append(a.listeners, ln)

		srv := &http.Server{Addr: addr, Handler: endpointHandler{app: a, ep: ep}}
		if tlsConfig != nil {
			srv.TLSConfig = tlsConfig.Clone()
			if err := http2.ConfigureServer(srv, nil); err != nil {
				return err
			}
			ln = tls.NewListener(ln, srv.TLSConfig)
		} else {
			h2s := &http2.Server{}
			srv.Handler = h2c.NewHandler(srv.Handler, h2s)
		}
		a.servers = append(a.servers, srv)

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		if tlsConfig != nil && a.HTTPSEnforced {
			redirectAddr := net.JoinHostPort(ep.Address, a.HTTPSEnforcedPort)
			rl, err := net.Listen("tcp", redirectAddr)
			if err != nil {
				return err
			}
			a.listeners = append(a.listeners, rl)

			rsrv := &http.Server{Addr: redirectAddr, Handler: http.HandlerFunc(httpsRedirect)}
			a.servers = append(a.servers, rsrv)

			g.Go(func() error {
				if err := rsrv.Serve(rl); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown gracefully shuts down every server started by Serve, then runs
// all registered shutdown jobs concurrently.
func (a *App) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, srv := range a.servers {
		srv := srv
		g.Go(func() error { return srv.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var jobs errgroup.Group
	a.shutdownMu.Lock()
	for _, job := range a.shutdownJobs {
		job := job
		jobs.Go(func() error { job(); return nil })
	}
	a.shutdownMu.Unlock()

	return jobs.Wait()
}
