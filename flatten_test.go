package fathom

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okStatic(req *Request) (*ResponsePlan, error) {
	return StringResponse(200, "text/plain", "ok"), nil
}

func okDynamic(req *Request, values map[string]interface{}, body interface{}) (*ResponsePlan, error) {
	return StringResponse(200, "text/plain", "ok"), nil
}

func TestFlattenPathPrefixesConcatenate(t *testing.T) {
	a := New()

	api := a.Group().Path("/api")
	v1 := api.Group().Path("/v1")
	v1.Static([]string{http.MethodGet}, "/users", okStatic)

	require.NoError(t, a.Compile())

	b, _ := a.routes.lookup(endpoint{}, "h", http.MethodGet, "/api/v1/users", false)
	assert.NotNil(t, b)

	b, _ = a.routes.lookup(endpoint{}, "h", http.MethodGet, "/users", false)
	assert.Nil(t, b)
}

func TestFlattenMethodIntersection(t *testing.T) {
	a := New()

	g := a.Group().Methods(http.MethodGet, http.MethodPost)
	child := g.Group().Methods(http.MethodPost)
	child.Static([]string{http.MethodPost}, "/submit", okStatic)

	require.NoError(t, a.Compile())

	b, _ := a.routes.lookup(endpoint{}, "h", http.MethodPost, "/submit", false)
	assert.NotNil(t, b)
	b, _ = a.routes.lookup(endpoint{}, "h", http.MethodGet, "/submit", false)
	assert.Nil(t, b)
}

func TestFlattenEmptyMethodIntersectionFails(t *testing.T) {
	a := New()

	g := a.Group().Methods(http.MethodGet)
	g.Group().Methods(http.MethodPost).Static([]string{http.MethodPost}, "/x", okStatic)

	err := a.Compile()
	require.Error(t, err)

	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestFlattenDeclarationDefaultsToGroupMethods(t *testing.T) {
	a := New()

	g := a.Group().Methods(http.MethodPut)
	g.Dynamic(nil, "/thing", nil, DataIntake(0), okDynamic)

	require.NoError(t, a.Compile())

	b, _ := a.routes.lookup(endpoint{}, "h", http.MethodPut, "/thing", false)
	assert.NotNil(t, b)
	b, _ = a.routes.lookup(endpoint{}, "h", http.MethodGet, "/thing", false)
	assert.Nil(t, b)
}

func TestFlattenBodyLimitInnermostWins(t *testing.T) {
	a := New()
	a.ImplicitBodyLengthLimit = 1 << 20

	outer := a.Group().BodyLengthLimit(512 << 10)
	inner := outer.Group().BodyLengthLimit(256 << 10)

	intake := DataIntake(0)
	inner.Dynamic([]string{http.MethodPost}, "/upload", nil, intake, okDynamic)

	require.NoError(t, a.Compile())

	assert.Equal(t, int64(256<<10), intake.implicitLengthLimit)
}

func TestFlattenImplicitLimitClampsGroupLimit(t *testing.T) {
	a := New()
	a.ImplicitBodyLengthLimit = 128 << 10

	g := a.Group().BodyLengthLimit(512 << 10)
	intake := DataIntake(0)
	g.Dynamic([]string{http.MethodPost}, "/upload", nil, intake, okDynamic)

	require.NoError(t, a.Compile())

	assert.Equal(t, int64(128<<10), intake.implicitLengthLimit)
}

func TestFlattenIncidentHandlersStackInnermostFirst(t *testing.T) {
	a := New()

	outer := a.Group().IncidentHandler(404, func(req *Request, inc *Incident) (*ResponsePlan, error) {
		return StringResponse(404, "text/plain", "outer"), nil
	})
	inner := outer.Group().IncidentHandler(404, func(req *Request, inc *Incident) (*ResponsePlan, error) {
		return StringResponse(404, "text/plain", "inner"), nil
	})

	inner.Static([]string{http.MethodGet}, "/leaf", okStatic)
	decl := inner.children[0]

	require.NoError(t, a.Compile())

	require.Len(t, decl.ctx.incidentHandlers, 2)

	plan := dispatchIncident(&Request{}, newIncident(404, ReasonNotFound, nil), []*groupContext{decl.ctx})
	assert.Equal(t, "inner", plan.str)
}

func TestFlattenHostAndEndpointAccumulate(t *testing.T) {
	a := New()

	g := a.Group().
		Endpoint("0.0.0.0", "8443").
		Host("api.example.com")
	g.Static([]string{http.MethodGet}, "/ping", okStatic)

	require.NoError(t, a.Compile())

	b, _ := a.routes.lookup(endpoint{Address: "0.0.0.0", Port: "8443"}, "api.example.com", http.MethodGet, "/ping", false)
	assert.NotNil(t, b)

	b, _ = a.routes.lookup(endpoint{Address: "0.0.0.0", Port: "8443"}, "other.example.com", http.MethodGet, "/ping", false)
	assert.Nil(t, b)
}

func TestCompileRecordsRootContext(t *testing.T) {
	a := New()

	a.Group().IncidentHandler(404, func(req *Request, inc *Incident) (*ResponsePlan, error) {
		return StringResponse(404, "text/plain", "custom"), nil
	})
	a.Group().Static([]string{http.MethodGet}, "/", okStatic)

	require.NoError(t, a.Compile())

	require.NotNil(t, a.rootCtx)
	assert.Len(t, a.rootCtx.incidentHandlers, 1)
}
