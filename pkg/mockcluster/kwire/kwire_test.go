package kwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kbin"
)

func TestWriterReader_RoundTrip_Standard(t *testing.T) {
	w := NewWriter(false)
	w.Int8(-1)
	w.Int16(300)
	w.Int32(-70000)
	w.Int64(1 << 40)
	w.Bool(true)
	w.String("hello")
	w.NullableString(nil)
	s := "world"
	w.NullableString(&s)
	w.Bytes([]byte("payload"))
	w.ArrayLen(3)

	r := NewReader(w.Bytes(), false)
	assert.EqualValues(t, -1, r.Int8())
	assert.EqualValues(t, 300, r.Int16())
	assert.EqualValues(t, -70000, r.Int32())
	assert.EqualValues(t, 1<<40, r.Int64())
	assert.Equal(t, true, r.Bool())
	assert.Equal(t, "hello", r.String())
	assert.Nil(t, r.NullableString())
	got := r.NullableString()
	require.NotNil(t, got)
	assert.Equal(t, "world", *got)
	assert.Equal(t, []byte("payload"), r.Bytes())
	assert.Equal(t, 3, r.ArrayLen())
	require.NoError(t, r.Complete())
}

func TestWriterReader_RoundTrip_Compact(t *testing.T) {
	w := NewWriter(true)
	w.String("flex")
	w.ArrayLen(2)
	w.EmptyTagSection()

	r := NewReader(w.Bytes(), true)
	assert.Equal(t, "flex", r.String())
	assert.Equal(t, 2, r.ArrayLen())
	r.TagSection()
	require.NoError(t, r.Complete())
}

func TestReader_NullableArrayLen_DistinguishesNullFromEmpty(t *testing.T) {
	w := NewWriter(false)
	w.ArrayLen(0)
	r := NewReader(w.Bytes(), false)
	n, isNull := r.NullableArrayLen()
	assert.Equal(t, 0, n)
	assert.False(t, isNull)

	raw := make([]byte, 4)
	for i := range raw {
		raw[i] = 0xFF // -1 big-endian
	}
	r2 := NewReader(raw, false)
	n, isNull = r2.NullableArrayLen()
	assert.Equal(t, 0, n)
	assert.True(t, isNull)
}

func TestReader_Complete_ReportsTrailingBytes(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5}, false)
	_ = r.Int8()
	assert.Error(t, r.Complete())
}

func TestFrameResponse_PrependsLengthAndCorrelationID(t *testing.T) {
	frame := FrameResponse(42, []byte("body"))
	require.Len(t, frame, 4+4+4)

	var lenField, corrID uint32
	lenField = uint32(frame[0])<<24 | uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3])
	corrID = uint32(frame[4])<<24 | uint32(frame[5])<<16 | uint32(frame[6])<<8 | uint32(frame[7])
	assert.EqualValues(t, 4+len("body"), lenField)
	assert.EqualValues(t, 42, corrID)
	assert.Equal(t, "body", string(frame[8:]))
}

func TestReadRequestFrame_HeaderV1(t *testing.T) {
	// Hand-assemble a request body: ApiKey, ApiVersion, CorrelationId,
	// ClientId (header v1), then one body field.
	body := []byte{0, 3, 0, 1, 0, 0, 0, 7}
	body = kbin.AppendString(body, "my-client")
	body = append(body, []byte("rest")...)

	apiKey, apiVersion, correlationID, clientID, rest, err := ReadRequestFrame(body, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, apiKey)
	assert.EqualValues(t, 1, apiVersion)
	assert.EqualValues(t, 7, correlationID)
	require.NotNil(t, clientID)
	assert.Equal(t, "my-client", *clientID)
	assert.Equal(t, []byte("rest"), rest)
}

func TestReadRequestFrame_TruncatedHeader(t *testing.T) {
	_, _, _, _, _, err := ReadRequestFrame([]byte{0, 1}, 1)
	assert.Error(t, err)
}
