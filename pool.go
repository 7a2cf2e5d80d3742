package fathom

import "sync"

// chunkSize is the read-buffer size the channel adapter feeds body chunks
// through.
const chunkSize = 32 * 1024

// pool holds the per-App object pools the channel adapter recycles across
// requests: Request values and body-chunk read buffers.
type pool struct {
	requestPool *sync.Pool
	chunkPool   *sync.Pool
}

// newPool returns a new instance of `pool` bound to a.
func newPool(a *App) *pool {
	return &pool{
		requestPool: &sync.Pool{
			New: func() interface{} {
				return &Request{}
			},
		},
		chunkPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, chunkSize)
			},
		},
	}
}

// Request returns an empty instance of `Request` from p.
func (p *pool) Request() *Request {
	return p.requestPool.Get().(*Request)
}

// Chunk returns a body-chunk read buffer from p.
func (p *pool) Chunk() []byte {
	return p.chunkPool.Get().([]byte)
}

// PutChunk puts a chunk buffer back to p.
func (p *pool) PutChunk(b []byte) {
	p.chunkPool.Put(b[:chunkSize])
}

// Put puts x back to p.
func (p *pool) Put(x interface{}) {
	switch v := x.(type) {
	case *Request:
		v.reset()
		p.requestPool.Put(v)
	}
}
