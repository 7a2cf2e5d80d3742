package fathom

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func getRequest(headers map[string]string) *Request {
	req := &Request{Method: http.MethodGet, Headers: map[string][]string{}}
	for k, v := range headers {
		req.Headers[k] = []string{v}
	}
	return req
}

func TestExecuteString(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := StringResponse(200, "text/plain", "hello")
	require.NoError(t, Execute(plan, getRequest(nil), httpResponseWriter{rec}))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
}

func TestExecuteBufferSniffsContentType(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := BufferResponse(200, "", []byte{0x00, 0x01, 0x02, 0x03})
	require.NoError(t, Execute(plan, getRequest(nil), httpResponseWriter{rec}))

	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestExecuteJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := JSONResponse(201, map[string]int{"n": 7})
	require.NoError(t, Execute(plan, getRequest(nil), httpResponseWriter{rec}))

	assert.Equal(t, 201, rec.Code)
	assert.JSONEq(t, `{"n":7}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestExecuteStructuredMsgpack(t *testing.T) {
	rec := httptest.NewRecorder()

	type payload struct {
		N int
	}

	plan := StructuredResponse(200, CodecMsgpack, &payload{N: 7})
	require.NoError(t, Execute(plan, getRequest(nil), httpResponseWriter{rec}))

	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

	var decoded payload
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, 7, decoded.N)
}

func TestExecuteETagNotModified(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := StringResponse(200, "text/plain", "body").WithETag(`"v1"`)
	req := getRequest(map[string]string{"If-None-Match": `"v1"`})
	require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	// A different validator passes through.
	rec = httptest.NewRecorder()
	req = getRequest(map[string]string{"If-None-Match": `"v2"`})
	require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "body", rec.Body.String())
}

func TestExecuteETagListMatch(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := StringResponse(200, "text/plain", "body").WithETag(`"v2"`)
	req := getRequest(map[string]string{"If-None-Match": `"v1", "v2"`})
	require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))

	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestExecuteIfModifiedSince(t *testing.T) {
	modTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	plan := StringResponse(200, "text/plain", "body").WithLastModified(modTime)
	req := getRequest(map[string]string{"If-Modified-Since": modTime.Format(http.TimeFormat)})
	require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))

	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = httptest.NewRecorder()
	req = getRequest(map[string]string{"If-Modified-Since": modTime.Add(-time.Hour).Format(http.TimeFormat)})
	require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "body", rec.Body.String())
}

func TestExecuteIfMatchPreconditionFailed(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := StringResponse(200, "text/plain", "updated").WithETag(`"v2"`)
	req := getRequest(map[string]string{"If-Match": `"v1"`})
	req.Method = http.MethodPut
	require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestExecuteIfUnmodifiedSincePreconditionFailed(t *testing.T) {
	modTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	plan := StringResponse(200, "text/plain", "updated").WithLastModified(modTime)
	req := getRequest(map[string]string{"If-Unmodified-Since": modTime.Add(-time.Hour).Format(http.TimeFormat)})
	req.Method = http.MethodPut
	require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestExecuteConditionalIdempotent(t *testing.T) {
	plan := StringResponse(200, "text/plain", "body").WithETag(`"v1"`)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := getRequest(map[string]string{"If-None-Match": `"v1"`})
		require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))
		assert.Equal(t, http.StatusNotModified, rec.Code)
	}
}

func TestExecuteHeadSuppressesBody(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := StringResponse(200, "text/plain", "hello")
	req := getRequest(nil)
	req.Method = http.MethodHead
	require.NoError(t, Execute(plan, req, httpResponseWriter{rec}))

	assert.Equal(t, 200, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
}

func TestExecuteStream(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := StreamResponse(200, "application/octet-stream", func(w io.Writer) error {
		if _, err := w.Write([]byte("chunk1")); err != nil {
			return err
		}
		_, err := w.Write([]byte("chunk2"))
		return err
	})
	require.NoError(t, Execute(plan, getRequest(nil), httpResponseWriter{rec}))

	assert.Equal(t, "chunk1chunk2", rec.Body.String())
}

func TestExecuteStreamHeadDrain(t *testing.T) {
	stream := func(w io.Writer) error {
		_, err := w.Write([]byte("0123456789"))
		return err
	}

	// Without the drain opt-in, HEAD emits no Content-Length.
	rec := httptest.NewRecorder()
	req := getRequest(nil)
	req.Method = http.MethodHead
	require.NoError(t, Execute(StreamResponse(200, "text/plain", stream), req, httpResponseWriter{rec}))
	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, Execute(StreamResponse(200, "text/plain", stream).WithHeadDrain(), req, httpResponseWriter{rec}))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestExecuteExtraHeadersAndCookies(t *testing.T) {
	rec := httptest.NewRecorder()

	plan := StringResponse(200, "text/plain", "ok").
		WithHeader("X-Request-ID", "abc123").
		WithCookie(&Cookie{Name: "sid", Value: "s1", Path: "/"})
	require.NoError(t, Execute(plan, getRequest(nil), httpResponseWriter{rec}))

	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "sid=s1; Path=/", rec.Header().Get("Set-Cookie"))
}
