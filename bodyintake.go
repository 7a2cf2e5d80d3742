package fathom

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// intakeMode tags the five body-intake shapes. Modeled as a tagged variant
// switched over in the automaton, not an interface hierarchy.
type intakeMode uint8

const (
	// intakeNone means HEAD-only: no body is expected or read.
	intakeNone intakeMode = iota

	// intakeData collects the body into a growable buffer.
	intakeData

	// intakeReduce folds chunks into an accumulator the automaton owns.
	intakeReduce

	// intakeIgnore discards chunks but still enforces limits.
	intakeIgnore

	// intakeStructured collects, then decodes via the descriptor's Codec
	// once intake completes.
	intakeStructured
)

// Codec names a structured encoding for intakeStructured/producerStructured.
type Codec uint8

const (
	CodecJSON Codec = iota
	CodecMsgpack
	CodecProtobuf
)

// ReduceFunc folds one body chunk into an accumulator the automaton owns
// exclusively: no aliasing. The fold receives the current accumulator value
// and the chunk, and returns the next accumulator value.
type ReduceFunc func(acc interface{}, chunk []byte) (interface{}, error)

// intakeDescriptor describes how a dynamic declaration ingests its request
// body, together with the limits enforced while doing so.
type intakeDescriptor struct {
	mode intakeMode

	// contentLengthLimit is the declared explicit limit. Zero means
	// "use implicitLengthLimit only".
	contentLengthLimit int64

	// implicitLengthLimit is the ceiling flatten derives from the innermost
	// group limit and the server-wide limit (the smaller non-zero one),
	// applied regardless of what the declaration asks for.
	implicitLengthLimit int64

	reduce ReduceFunc
	seed   func() interface{}

	codec  Codec
	decode func(b []byte) (interface{}, error)
}

// DataIntake declares a "data" body-intake descriptor: collect the whole
// body into a buffer, bounded by limit (0 disables the declared limit,
// leaving only the implicit server-wide ceiling).
func DataIntake(limit int64) *intakeDescriptor {
	return &intakeDescriptor{mode: intakeData, contentLengthLimit: limit}
}

// ReduceIntake declares a "reduce" body-intake descriptor: fold chunks into
// an accumulator seeded by seed.
func ReduceIntake(limit int64, seed func() interface{}, fold ReduceFunc) *intakeDescriptor {
	return &intakeDescriptor{mode: intakeReduce, contentLengthLimit: limit, seed: seed, reduce: fold}
}

// IgnoreIntake declares an "ignore" body-intake descriptor: discard the body
// but still enforce limit.
func IgnoreIntake(limit int64) *intakeDescriptor {
	return &intakeDescriptor{mode: intakeIgnore, contentLengthLimit: limit}
}

// JSONIntake declares a "json-of(T)" body-intake descriptor: collect the
// body, then decode it as JSON into a fresh value produced by newT.
func JSONIntake(limit int64, newT func() interface{}) *intakeDescriptor {
	return &intakeDescriptor{
		mode:                intakeStructured,
		contentLengthLimit:  limit,
		codec:               CodecJSON,
		decode: func(b []byte) (interface{}, error) {
			v := newT()
			if err := json.Unmarshal(b, v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// StructuredIntake declares a structured body-intake descriptor for a
// non-JSON codec (msgpack or protobuf).
func StructuredIntake(limit int64, codec Codec, newT func() interface{}) *intakeDescriptor {
	d := &intakeDescriptor{mode: intakeStructured, contentLengthLimit: limit, codec: codec}
	switch codec {
	case CodecMsgpack:
		d.decode = func(b []byte) (interface{}, error) {
			v := newT()
			if err := msgpack.Unmarshal(b, v); err != nil {
				return nil, err
			}
			return v, nil
		}
	case CodecProtobuf:
		d.decode = func(b []byte) (interface{}, error) {
			v := newT()
			m, ok := v.(proto.Message)
			if !ok {
				return nil, fmt.Errorf("fathom: protobuf intake target does not implement proto.Message")
			}
			if err := proto.Unmarshal(b, m); err != nil {
				return nil, err
			}
			return m, nil
		}
	default:
		panic("fathom: unsupported structured intake codec")
	}
	return d
}

// intakeState is the automaton's current stage.
type intakeState uint8

const (
	stateAwaitingHead intakeState = iota
	stateAwaitingBody
	stateComplete
	stateAborted
)

// bodyIntake is the per-request body-intake automaton. Exactly one worker
// task owns it for the lifetime of the request.
type bodyIntake struct {
	descriptor *intakeDescriptor
	state      intakeState

	limit    int64
	received int64

	buf []byte
	acc interface{}

	result interface{}
	abortErr *Incident
}

// newBodyIntake instantiates the automaton for descriptor given the
// request's declared Content-Length (-1 if unknown). A declared length
// already over the effective limit aborts before any chunk arrives.
func newBodyIntake(descriptor *intakeDescriptor, contentLength int64) *bodyIntake {
	if descriptor == nil {
		descriptor = &intakeDescriptor{mode: intakeNone}
	}

	bi := &bodyIntake{descriptor: descriptor, state: stateAwaitingHead}

	limit := descriptor.implicitLengthLimit
	if descriptor.contentLengthLimit > 0 && (limit == 0 || descriptor.contentLengthLimit < limit) {
		limit = descriptor.contentLengthLimit
	}
	bi.limit = limit

	if descriptor.mode == intakeReduce && descriptor.seed != nil {
		bi.acc = descriptor.seed()
	}

	if bi.limit > 0 && contentLength >= 0 && contentLength > bi.limit {
		bi.state = stateAborted
		bi.abortErr = newIncident(413, ReasonPayloadTooLarge, errors.New("declared content-length exceeds limit"))
		return bi
	}

	bi.state = stateAwaitingBody

	return bi
}

// WriteChunk delivers the next body chunk to the automaton, in arrival
// order. Chunks must never be reordered; the caller (the channel adapter)
// is responsible for that guarantee.
func (bi *bodyIntake) WriteChunk(chunk []byte) error {
	if bi.state == stateAborted {
		return bi.abortErr
	}

	if bi.state != stateAwaitingBody {
		return fmt.Errorf("fathom: body chunk delivered outside awaiting-body state")
	}

	bi.received += int64(len(chunk))
	if bi.limit > 0 && bi.received > bi.limit {
		bi.state = stateAborted
		bi.abortErr = newIncident(413, ReasonPayloadTooLarge, errors.New("body exceeded limit"))
		return bi.abortErr
	}

	switch bi.descriptor.mode {
	case intakeNone:
		// No body expected; arriving chunks are simply not retained.
	case intakeData, intakeStructured:
		bi.buf = append(bi.buf, chunk...)
	case intakeReduce:
		acc, err := bi.descriptor.reduce(bi.acc, chunk)
		if err != nil {
			bi.state = stateAborted
			bi.abortErr = newIncident(400, ReasonBadRequest, err)
			return bi.abortErr
		}
		bi.acc = acc
	case intakeIgnore:
		// Discarded; limit already enforced above.
	}

	return nil
}

// End finalizes the automaton and yields the mode's result.
func (bi *bodyIntake) End() (interface{}, error) {
	if bi.state == stateAborted {
		return nil, bi.abortErr
	}

	switch bi.descriptor.mode {
	case intakeNone:
		bi.result = nil
	case intakeData:
		bi.result = bi.buf
	case intakeReduce:
		bi.result = bi.acc
	case intakeIgnore:
		bi.result = struct{}{}
	case intakeStructured:
		v, err := bi.descriptor.decode(bi.buf)
		if err != nil {
			bi.state = stateAborted
			bi.abortErr = newIncident(400, ReasonBadRequest, fmt.Errorf("body decode failed: %w", err))
			return nil, bi.abortErr
		}
		bi.result = v
	}

	bi.state = stateComplete

	return bi.result, nil
}

// Abort transitions the automaton to aborted without attempting a
// response, for transport resets and cancellations.
func (bi *bodyIntake) Abort() {
	if bi.state == stateComplete || bi.state == stateAborted {
		return
	}

	bi.state = stateAborted
	bi.abortErr = newIncident(0, "client-closed", nil)
}
