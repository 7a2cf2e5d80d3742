package fathom

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// contentKind tags the content-provider variants, switched over by
// responsepipeline.go rather than dispatched through an open interface
// hierarchy.
type contentKind uint8

const (
	contentString contentKind = iota
	contentBuffer
	contentStream
	contentFile
	contentJSON
	contentStructured
	contentHijacked
)

// StreamFunc is a streaming content provider: the pipeline calls it once
// with the response's underlying writer, and it is responsible for writing
// its own chunks. Write errors are terminal; the producer must stop.
type StreamFunc func(w io.Writer) error

// ResponsePlan is what a StaticProducer, ContentProducer or
// IncidentHandler returns: a fully-formed, not-yet-written response.
// Building it is side-effect free so a producer can be retried or
// inspected by tests without touching any transport.
type ResponsePlan struct {
	Status  int
	Headers map[string]string

	kind     contentKind
	str      string
	buf      []byte
	stream   StreamFunc
	filePath string

	jsonValue interface{}

	structuredCodec  Codec
	structuredValue  interface{}
	structuredEncode func(v interface{}) ([]byte, error)

	contentType string

	etag         string
	lastModified time.Time
	hasLastMod   bool

	drainOnHead bool

	cookies []*Cookie
}

func newPlan(status int, kind contentKind) *ResponsePlan {
	return &ResponsePlan{Status: status, Headers: map[string]string{}, kind: kind}
}

// StringResponse builds a plain-text content provider.
func StringResponse(status int, contentType, body string) *ResponsePlan {
	p := newPlan(status, contentString)
	p.str = body
	p.contentType = contentType
	return p
}

// BufferResponse builds a "binary buffer" content provider.
func BufferResponse(status int, contentType string, buf []byte) *ResponsePlan {
	p := newPlan(status, contentBuffer)
	p.buf = buf
	p.contentType = contentType
	return p
}

// StreamResponse builds a "binary stream" content provider, pulled from by
// the pipeline once headers are committed.
func StreamResponse(status int, contentType string, stream StreamFunc) *ResponsePlan {
	p := newPlan(status, contentStream)
	p.stream = stream
	p.contentType = contentType
	return p
}

// FileResponse builds a "file" content provider. The pipeline resolves
// path through the static file resolver (staticfile.go) for conditional
// support. Byte ranges are not supported: a Range header is ignored and
// the whole file is sent.
func FileResponse(path string) *ResponsePlan {
	p := newPlan(200, contentFile)
	p.filePath = path
	return p
}

// JSONResponse builds a JSON-encoded content provider.
func JSONResponse(status int, v interface{}) *ResponsePlan {
	p := newPlan(status, contentJSON)
	p.jsonValue = v
	p.contentType = "application/json; charset=utf-8"
	return p
}

// StructuredResponse builds a structured content provider for a non-JSON
// codec (msgpack or protobuf).
func StructuredResponse(status int, codec Codec, v interface{}) *ResponsePlan {
	p := newPlan(status, contentStructured)
	p.structuredCodec = codec
	p.structuredValue = v

	switch codec {
	case CodecMsgpack:
		p.contentType = "application/msgpack"
		p.structuredEncode = msgpack.Marshal
	case CodecProtobuf:
		p.contentType = "application/protobuf"
		p.structuredEncode = func(v interface{}) ([]byte, error) {
			m, ok := v.(proto.Message)
			if !ok {
				return nil, errors.New("fathom: structured protobuf response value does not implement proto.Message")
			}
			return proto.Marshal(m)
		}
	default:
		p.contentType = "application/json; charset=utf-8"
		p.structuredEncode = json.Marshal
	}

	return p
}

// WithHeader sets a response header and returns p for chaining.
func (p *ResponsePlan) WithHeader(name, value string) *ResponsePlan {
	p.Headers[name] = value
	return p
}

// WithETag attaches a strong validator for conditional-response
// handling.
func (p *ResponsePlan) WithETag(etag string) *ResponsePlan {
	p.etag = etag
	return p
}

// WithLastModified attaches a last-modified validator.
func (p *ResponsePlan) WithLastModified(t time.Time) *ResponsePlan {
	p.lastModified = t
	p.hasLastMod = true
	return p
}

// WithHeadDrain opts a streamed response into computing Content-Length
// for automatic HEAD answers by fully consuming the stream. Off by default
// since draining a large stream just to learn its length is rarely what a
// HEAD caller wants to pay for.
func (p *ResponsePlan) WithHeadDrain() *ResponsePlan {
	p.drainOnHead = true
	return p
}

// WithCookie appends c as a Set-Cookie header on the response.
func (p *ResponsePlan) WithCookie(c *Cookie) *ResponsePlan {
	p.cookies = append(p.cookies, c)
	return p
}
