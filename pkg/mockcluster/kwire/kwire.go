// Package kwire is a thin layer over franz-go's wire codec (kbin) that adds
// Kafka request/response framing (length prefix, correlation id).
//
// Handlers never touch net.Conn directly; they read a Reader built from the
// already-framed request body and write fields into a Writer, whose body
// FrameResponse turns into a ready-to-send frame.
package kwire

import (
	"encoding/binary"
	"fmt"

	"github.com/twmb/franz-go/pkg/kbin"
)

// Reader decodes Kafka primitive types from a request body. It wraps
// kbin.Reader, which already implements int8/16/32/64, varint, nullable and
// compact strings/bytes, and array-length decoding.
type Reader struct {
	kbin.Reader
	// flex indicates the request uses the compact/flexible encoding
	// (tagged fields, compact strings/arrays) introduced by KIP-482.
	flex bool
}

// NewReader wraps src for decoding. flex selects compact vs. standard
// string/array/bytes encoding for the String/Bytes/ArrayLen helpers below.
func NewReader(src []byte, flex bool) *Reader {
	return &Reader{Reader: kbin.Reader{Src: src}, flex: flex}
}

// String reads a string using the version-appropriate encoding.
func (r *Reader) String() string {
	if r.flex {
		return r.Reader.CompactString()
	}
	return r.Reader.String()
}

// NullableString reads a nullable string using the version-appropriate encoding.
func (r *Reader) NullableString() *string {
	if r.flex {
		return r.Reader.CompactNullableString()
	}
	return r.Reader.NullableString()
}

// Bytes reads a byte slice using the version-appropriate encoding.
func (r *Reader) Bytes() []byte {
	if r.flex {
		return r.Reader.CompactBytes()
	}
	return r.Reader.Bytes()
}

// NullableBytes reads a nullable byte slice using the version-appropriate encoding.
func (r *Reader) NullableBytes() []byte {
	if r.flex {
		return r.Reader.CompactNullableBytes()
	}
	return r.Reader.NullableBytes()
}

// ArrayLen reads an array length using the version-appropriate encoding.
// A compact array length of 0 means null; this mirrors real broker
// behavior of treating a null compact array as empty.
func (r *Reader) ArrayLen() int {
	n, _ := r.NullableArrayLen()
	return n
}

// NullableArrayLen reads an array-length header and additionally reports
// whether the wire value was the null marker (standard encoding: -1;
// compact encoding: 0), which some requests (Metadata's topic array) use to
// distinguish "no topics" from "all topics" — information ArrayLen alone
// discards by clamping both cases to 0.
func (r *Reader) NullableArrayLen() (n int, isNull bool) {
	if r.flex {
		v := r.Reader.CompactArrayLen()
		if v < 0 {
			return 0, true
		}
		return int(v), false
	}
	v := r.Reader.ArrayLen()
	if v < 0 {
		return 0, true
	}
	return int(v), false
}

// TagSection consumes a tagged-field section (flex encoding only). The mock
// does not understand any tags, so it skips each one by length.
func (r *Reader) TagSection() {
	if !r.flex {
		return
	}
	n := r.Reader.Uvarint()
	for i := uint32(0); i < n; i++ {
		r.Reader.Uvarint() // tag
		l := r.Reader.Uvarint()
		r.Reader.Span(int(l))
	}
}

// Complete returns an error if the reader has leftover or overread bytes,
// which signals a malformed request to the caller.
func (r *Reader) Complete() error {
	return r.Reader.Complete()
}

// Writer accumulates an outgoing Kafka response body. It wraps the
// kbin.AppendXxx free functions, which is franz-go's append-style encoder.
type Writer struct {
	dst  []byte
	flex bool
}

// NewWriter returns a Writer. flex selects the compact encoding for
// strings/bytes/arrays, matching the negotiated ApiVersion.
func NewWriter(flex bool) *Writer {
	return &Writer{flex: flex}
}

func (w *Writer) Int8(v int8)   { w.dst = kbin.AppendInt8(w.dst, v) }
func (w *Writer) Int16(v int16) { w.dst = kbin.AppendInt16(w.dst, v) }
func (w *Writer) Int32(v int32) { w.dst = kbin.AppendInt32(w.dst, v) }
func (w *Writer) Int64(v int64) { w.dst = kbin.AppendInt64(w.dst, v) }
func (w *Writer) Bool(v bool)   { w.dst = kbin.AppendBool(w.dst, v) }

func (w *Writer) String(s string) {
	if w.flex {
		w.dst = kbin.AppendCompactString(w.dst, s)
		return
	}
	w.dst = kbin.AppendString(w.dst, s)
}

func (w *Writer) NullableString(s *string) {
	if w.flex {
		w.dst = kbin.AppendCompactNullableString(w.dst, s)
		return
	}
	w.dst = kbin.AppendNullableString(w.dst, s)
}

func (w *Writer) Bytes(b []byte) {
	if w.flex {
		w.dst = kbin.AppendCompactBytes(w.dst, b)
		return
	}
	w.dst = kbin.AppendBytes(w.dst, b)
}

func (w *Writer) NullableBytes(b []byte) {
	if w.flex {
		w.dst = kbin.AppendCompactNullableBytes(w.dst, b)
		return
	}
	w.dst = kbin.AppendNullableBytes(w.dst, b)
}

// ArrayLen writes an array-length header for n upcoming elements.
func (w *Writer) ArrayLen(n int) {
	if w.flex {
		w.dst = kbin.AppendCompactArrayLen(w.dst, n)
		return
	}
	w.dst = kbin.AppendArrayLen(w.dst, n)
}

// EmptyTagSection writes a zero-length tagged-field section; the mock never
// emits tagged fields of its own but must still terminate the section in
// flex-encoded responses.
func (w *Writer) EmptyTagSection() {
	if !w.flex {
		return
	}
	w.dst = kbin.AppendUvarint(w.dst, 0)
}

// Raw appends already-encoded bytes verbatim (used for opaque MessageSet
// payloads, which the cluster never re-encodes).
func (w *Writer) Raw(b []byte) { w.dst = append(w.dst, b...) }

// Bytes returns the accumulated body, excluding any outer framing.
func (w *Writer) Bytes() []byte { return w.dst }

// FrameResponse prepends the correlation id and the 4-byte big-endian
// length prefix required by a Kafka response frame:
//
//	int32 length | int32 CorrelationId | body
func FrameResponse(correlationID int32, body []byte) []byte {
	frame := make([]byte, 4+4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(4+len(body)))
	binary.BigEndian.PutUint32(frame[4:8], uint32(correlationID))
	copy(frame[8:], body)
	return frame
}

// ReadRequestFrame splits a length-prefixed request frame's body into the
// common header fields (ApiKey, ApiVersion, CorrelationId, ClientId) and the
// remaining API-specific bytes:
//
//	int16 ApiKey | int16 ApiVersion | int32 CorrelationId | string ClientId | body
//
// headerVersion selects whether the client-id string and a trailing tag
// section (flex headers, header version 2) are present.
func ReadRequestFrame(body []byte, headerVersion int16) (apiKey, apiVersion int16, correlationID int32, clientID *string, rest []byte, err error) {
	if len(body) < 8 {
		return 0, 0, 0, nil, nil, fmt.Errorf("kwire: request header truncated: got %d bytes, need at least 8", len(body))
	}
	apiKey = int16(binary.BigEndian.Uint16(body[0:2]))
	apiVersion = int16(binary.BigEndian.Uint16(body[2:4]))
	correlationID = int32(binary.BigEndian.Uint32(body[4:8]))

	r := kbin.Reader{Src: body[8:]}
	if headerVersion >= 1 {
		clientID = r.NullableString()
	}
	if headerVersion >= 2 {
		n := r.Uvarint()
		for i := uint32(0); i < n; i++ {
			r.Uvarint()
			l := r.Uvarint()
			r.Span(int(l))
		}
	}
	return apiKey, apiVersion, correlationID, clientID, r.Src, nil
}
