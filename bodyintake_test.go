package fathom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestBodyIntakeDataMode(t *testing.T) {
	bi := newBodyIntake(DataIntake(64), -1)
	require.Equal(t, stateAwaitingBody, bi.state)

	require.NoError(t, bi.WriteChunk([]byte("hello, ")))
	require.NoError(t, bi.WriteChunk([]byte("world")))

	result, err := bi.End()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello, world"), result)
	assert.Equal(t, stateComplete, bi.state)
}

func TestBodyIntakeEmptyBody(t *testing.T) {
	bi := newBodyIntake(DataIntake(64), -1)

	result, err := bi.End()
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestBodyIntakeContentLengthOverLimit(t *testing.T) {
	bi := newBodyIntake(DataIntake(16), 32)

	require.Equal(t, stateAborted, bi.state)
	require.NotNil(t, bi.abortErr)
	assert.Equal(t, 413, bi.abortErr.Status)
}

func TestBodyIntakeChunkOverLimit(t *testing.T) {
	bi := newBodyIntake(DataIntake(8), -1)

	require.NoError(t, bi.WriteChunk([]byte("12345678")))

	err := bi.WriteChunk([]byte("9"))
	require.Error(t, err)

	inc, ok := AsIncident(err)
	require.True(t, ok)
	assert.Equal(t, 413, inc.Status)
	assert.Equal(t, stateAborted, bi.state)

	_, err = bi.End()
	assert.Error(t, err)
}

func TestBodyIntakeReceivedNeverExceedsLimit(t *testing.T) {
	bi := newBodyIntake(DataIntake(10), -1)

	bi.WriteChunk([]byte("12345"))
	bi.WriteChunk([]byte("67890"))

	_, err := bi.End()
	require.NoError(t, err)
	assert.LessOrEqual(t, bi.received, bi.limit)
}

func TestBodyIntakeReduceMode(t *testing.T) {
	d := ReduceIntake(
		64,
		func() interface{} { return 0 },
		func(acc interface{}, chunk []byte) (interface{}, error) {
			return acc.(int) + len(chunk), nil
		},
	)

	bi := newBodyIntake(d, -1)
	require.NoError(t, bi.WriteChunk([]byte("abc")))
	require.NoError(t, bi.WriteChunk([]byte("defg")))

	result, err := bi.End()
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestBodyIntakeReduceFoldError(t *testing.T) {
	d := ReduceIntake(
		64,
		func() interface{} { return 0 },
		func(acc interface{}, chunk []byte) (interface{}, error) {
			return nil, assert.AnError
		},
	)

	bi := newBodyIntake(d, -1)
	err := bi.WriteChunk([]byte("abc"))
	require.Error(t, err)

	inc, ok := AsIncident(err)
	require.True(t, ok)
	assert.Equal(t, 400, inc.Status)
}

func TestBodyIntakeIgnoreMode(t *testing.T) {
	bi := newBodyIntake(IgnoreIntake(8), -1)

	require.NoError(t, bi.WriteChunk([]byte("1234")))

	result, err := bi.End()
	require.NoError(t, err)
	assert.Equal(t, struct{}{}, result)

	// Ignored bodies still enforce the limit.
	bi = newBodyIntake(IgnoreIntake(8), -1)
	require.NoError(t, bi.WriteChunk([]byte("12345678")))
	assert.Error(t, bi.WriteChunk([]byte("9")))
}

func TestBodyIntakeJSONMode(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	d := JSONIntake(64, func() interface{} { return &payload{} })

	bi := newBodyIntake(d, -1)
	require.NoError(t, bi.WriteChunk([]byte(`{"name":`)))
	require.NoError(t, bi.WriteChunk([]byte(`"tea"}`)))

	result, err := bi.End()
	require.NoError(t, err)
	assert.Equal(t, &payload{Name: "tea"}, result)
}

func TestBodyIntakeJSONDecodeFailure(t *testing.T) {
	d := JSONIntake(64, func() interface{} { return &struct{}{} })

	bi := newBodyIntake(d, -1)
	require.NoError(t, bi.WriteChunk([]byte("not json")))

	_, err := bi.End()
	require.Error(t, err)

	inc, ok := AsIncident(err)
	require.True(t, ok)
	assert.Equal(t, 400, inc.Status)
}

func TestBodyIntakeMsgpackMode(t *testing.T) {
	type payload struct {
		N int
	}

	b, err := msgpack.Marshal(&payload{N: 7})
	require.NoError(t, err)

	d := StructuredIntake(64, CodecMsgpack, func() interface{} { return &payload{} })

	bi := newBodyIntake(d, -1)
	require.NoError(t, bi.WriteChunk(b))

	result, rerr := bi.End()
	require.NoError(t, rerr)
	assert.Equal(t, &payload{N: 7}, result)
}

func TestBodyIntakeImplicitLimit(t *testing.T) {
	d := DataIntake(0)
	d.implicitLengthLimit = 4

	bi := newBodyIntake(d, -1)
	assert.Error(t, bi.WriteChunk([]byte("12345")))

	// The declared limit clamps below the implicit one.
	d = DataIntake(2)
	d.implicitLengthLimit = 4

	bi = newBodyIntake(d, -1)
	assert.Equal(t, int64(2), bi.limit)
}

func TestBodyIntakeNilDescriptor(t *testing.T) {
	bi := newBodyIntake(nil, -1)
	require.NoError(t, bi.WriteChunk([]byte("anything")))

	result, err := bi.End()
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestBodyIntakeAbort(t *testing.T) {
	bi := newBodyIntake(DataIntake(64), -1)
	require.NoError(t, bi.WriteChunk([]byte("partial")))

	bi.Abort()
	assert.Equal(t, stateAborted, bi.state)

	_, err := bi.End()
	assert.Error(t, err)

	// Aborting a completed automaton is a no-op.
	bi = newBodyIntake(DataIntake(64), -1)
	_, err = bi.End()
	require.NoError(t, err)
	bi.Abort()
	assert.Equal(t, stateComplete, bi.state)
}
