package fathom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aofei/mimesniffer"
)

// Header is the core's transport-agnostic header map, kept distinct from
// net/http.Header so that the pipeline's public surface stays free of
// transport types. Its shape mirrors net/http.Header exactly, so the
// channel adapter's conversion is a free type conversion, not a copy, and
// like net/http.Header its accessors canonicalize the key.
type Header map[string][]string

// Set replaces any existing values for name with value.
func (h Header) Set(name, value string) { h[http.CanonicalHeaderKey(name)] = []string{value} }

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	vs := h[http.CanonicalHeaderKey(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Del removes name from the header map.
func (h Header) Del(name string) { delete(h, http.CanonicalHeaderKey(name)) }

// ResponseWriter is the minimal sink the response pipeline writes through.
// The channel adapter (channel.go) implements it over net/http's
// http.ResponseWriter.
type ResponseWriter interface {
	Header() Header
	WriteHeader(status int)
	Write(p []byte) (int, error)
}

// Execute runs plan against req, writing through w. It performs
// content-type sniffing, conditional-response evaluation, automatic HEAD
// suppression, and streaming: sniff, then conditionals, then body.
func Execute(plan *ResponsePlan, req *Request, w ResponseWriter) error {
	hdr := w.Header()
	for k, v := range plan.Headers {
		hdr.Set(k, v)
	}
	for _, c := range plan.cookies {
		hdr["Set-Cookie"] = append(hdr["Set-Cookie"], c.String())
	}

	if plan.etag != "" {
		hdr.Set("ETag", plan.etag)
	}
	if plan.hasLastMod {
		hdr.Set("Last-Modified", plan.lastModified.UTC().Format(http.TimeFormat))
	}

	switch plan.kind {
	case contentHijacked:
		// The producer took over the connection; nothing left to write.
		return nil
	case contentFile:
		return executeFile(plan, req, w)
	case contentStream:
		return executeStream(plan, req, w)
	case contentJSON:
		b, err := json.Marshal(plan.jsonValue)
		if err != nil {
			return err
		}
		return executeBuffer(plan.Status, plan.contentType, b, req, w)
	case contentStructured:
		b, err := plan.structuredEncode(plan.structuredValue)
		if err != nil {
			return err
		}
		return executeBuffer(plan.Status, plan.contentType, b, req, w)
	case contentBuffer:
		return executeBuffer(plan.Status, plan.contentType, plan.buf, req, w)
	case contentString:
		return executeBuffer(plan.Status, plan.contentType, []byte(plan.str), req, w)
	default:
		return fmt.Errorf("fathom: response plan has no content kind set")
	}
}

// executeBuffer writes a fully-buffered body, applying conditional-response
// evaluation against plan's validators if present.
func executeBuffer(status int, contentType string, body []byte, req *Request, w ResponseWriter) error {
	hdr := w.Header()

	if contentType == "" {
		contentType = mimesniffer.Sniff(body)
	}
	hdr.Set("Content-Type", contentType)

	etag := hdr.Get("ETag")
	var lastModified time.Time
	var hasLastMod bool
	if lmh := hdr.Get("Last-Modified"); lmh != "" {
		if t, err := http.ParseTime(lmh); err == nil {
			lastModified, hasLastMod = t, true
		}
	}

	if outcome, status2 := evaluateConditional(req, etag, lastModified, hasLastMod); outcome != conditionalPass {
		hdr.Del("Content-Type")
		hdr.Del("Content-Length")
		w.WriteHeader(status2)
		return nil
	}

	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)

	if req.Method == http.MethodHead {
		return nil
	}

	_, err := w.Write(body)
	return err
}

// executeStream writes a streamed body. Streaming responses forgo
// conditional negotiation since their length and validators aren't known
// up front.
func executeStream(plan *ResponsePlan, req *Request, w ResponseWriter) error {
	hdr := w.Header()
	if plan.contentType != "" {
		hdr.Set("Content-Type", plan.contentType)
	}

	if req.Method == http.MethodHead {
		// A HEAD answered by a stream of unknown length only learns its
		// Content-Length by draining the producer, which may be costly
		// for large streams, so it is opt-in via WithHeadDrain.
		if plan.drainOnHead && hdr.Get("Content-Length") == "" {
			var n int64
			if err := plan.stream(countingWriter{&n}); err != nil {
				return err
			}
			hdr.Set("Content-Length", strconv.FormatInt(n, 10))
		}
		w.WriteHeader(plan.Status)
		return nil
	}

	w.WriteHeader(plan.Status)

	return plan.stream(w)
}

// countingWriter discards bytes while tallying them, used by the HEAD
// drain path to learn a stream's length without emitting a body.
type countingWriter struct {
	n *int64
}

func (cw countingWriter) Write(p []byte) (int, error) {
	*cw.n += int64(len(p))
	return len(p), nil
}

// executeFile resolves plan.filePath through the static file resolver
// (staticfile.go) and serves it with full conditional support.
func executeFile(plan *ResponsePlan, req *Request, w ResponseWriter) error {
	asset, inc := resolveStaticAsset(plan.filePath)
	if inc != nil {
		return inc
	}

	hdr := w.Header()
	hdr.Set("Content-Type", asset.contentType)
	hdr.Set("ETag", asset.etag)
	hdr.Set("Last-Modified", asset.modTime.UTC().Format(http.TimeFormat))

	if outcome, status := evaluateConditional(req, asset.etag, asset.modTime, true); outcome != conditionalPass {
		hdr.Del("Content-Type")
		w.WriteHeader(status)
		return nil
	}

	hdr.Set("Content-Length", strconv.Itoa(len(asset.content)))
	w.WriteHeader(plan.Status)

	if req.Method == http.MethodHead {
		return nil
	}

	_, err := io.Copy(w, bytes.NewReader(asset.content))
	return err
}

type conditionalOutcome uint8

const (
	conditionalPass conditionalOutcome = iota
	conditionalShortCircuit
)

// evaluateConditional applies the If-Match/If-Unmodified-Since/
// If-None-Match/If-Modified-Since precedence: match-based preconditions
// are evaluated before modification-based ones, and a failed match
// precondition on a non-safe method yields 412 rather than falling through
// to the modification-based checks.
func evaluateConditional(req *Request, etag string, lastModified time.Time, hasLastMod bool) (conditionalOutcome, int) {
	safe := req.Method == http.MethodGet || req.Method == http.MethodHead

	if im := req.Header("If-Match"); im != "" && im != "*" {
		if etag == "" || !etagListContains(im, etag) {
			return conditionalShortCircuit, http.StatusPreconditionFailed
		}
	}

	if ius := req.Header("If-Unmodified-Since"); ius != "" && hasLastMod {
		if t, err := http.ParseTime(ius); err == nil && lastModified.After(t) {
			return conditionalShortCircuit, http.StatusPreconditionFailed
		}
	}

	if inm := req.Header("If-None-Match"); inm != "" {
		if etag != "" && etagListContains(inm, etag) {
			if safe {
				return conditionalShortCircuit, http.StatusNotModified
			}
			return conditionalShortCircuit, http.StatusPreconditionFailed
		}
	} else if ims := req.Header("If-Modified-Since"); ims != "" && hasLastMod && safe {
		if t, err := http.ParseTime(ims); err == nil && !lastModified.After(t) {
			return conditionalShortCircuit, http.StatusNotModified
		}
	}

	return conditionalPass, 0
}

// etagListContains reports whether header (a comma-separated If-Match/
// If-None-Match value, possibly "*") matches etag.
func etagListContains(header, etag string) bool {
	if header == "*" {
		return true
	}

	start := 0
	for i := 0; i <= len(header); i++ {
		if i == len(header) || header[i] == ',' {
			candidate := trimSpace(header[start:i])
			if candidate == etag {
				return true
			}
			start = i + 1
		}
	}

	return false
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}
