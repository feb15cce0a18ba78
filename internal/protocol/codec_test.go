package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip verifies that decoding an encoded message yields
// the original header and body for every message type.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	arrival := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name string
		msg  *Message
	}{
		{"register with port body", NewText(TypeRegister, 1, arrival, "9001")},
		{"deregister with empty body", New(TypeDeregister, 2, arrival, nil)},
		{"disconnect max pid", New(TypeDisconnect, 0xFFFF, arrival, nil)},
		{"msend utf-8 text", NewText(TypeMSend, 7, arrival, "héllo wörld")},
		{"multi message large body", New(TypeMultiMessage, 3, arrival, bytes.Repeat([]byte("x"), 64*1024))},
		{"ack zero arrival", New(TypeAck, 9, time.Time{}, nil)},
		{"negative arrival", &Message{Header: Header{Type: TypeNack, PID: 4, ArrivalTime: -5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := Decode(Encode(tt.msg))
			require.NoError(t, err)

			assert.Equal(t, tt.msg.Type, decoded.Type)
			assert.Equal(t, tt.msg.PID, decoded.PID)
			assert.Equal(t, uint32(len(tt.msg.Body)), decoded.BodySize)
			assert.Equal(t, tt.msg.ArrivalTime, decoded.ArrivalTime)
			assert.True(t, bytes.Equal(tt.msg.Body, decoded.Body), "body mismatch")
		})
	}
}

// TestEncodeLayout pins the byte layout so other implementations can interoperate.
func TestEncodeLayout(t *testing.T) {
	msg := NewText(TypeMSend, 0x0102, time.Unix(0x0A0B0C0D, 0), "hi")
	buf := Encode(msg)

	require.Len(t, buf, HeaderSize+2)
	assert.Equal(t, byte(TypeMSend), buf[0])
	assert.Equal(t, []byte{0x01, 0x02}, buf[1:3])
	assert.Equal(t, []byte{0, 0, 0, 2}, buf[3:7])
	assert.Equal(t, []byte{0, 0, 0, 0, 0x0A, 0x0B, 0x0C, 0x0D}, buf[7:15])
	assert.Equal(t, "hi", string(buf[15:]))
}

// TestEncodeMirrorsBodySize checks that a stale BodySize is corrected on encode.
func TestEncodeMirrorsBodySize(t *testing.T) {
	msg := &Message{Header: Header{Type: TypeMSend, PID: 1, BodySize: 99}, Body: []byte("abc")}

	h, err := DecodeHeader(Encode(msg))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.BodySize)
}

func TestDecodeHeaderTooShort(t *testing.T) {
	for _, n := range []int{0, 1, HeaderSize - 1} {
		_, err := DecodeHeader(make([]byte, n))
		assert.True(t, errors.Is(err, ErrShortHeader), "len %d: got %v", n, err)
	}
}

func TestDecodeBodyTooShort(t *testing.T) {
	msg := NewText(TypeMSend, 1, time.Now(), "hello")
	buf := Encode(msg)

	_, err := Decode(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrShortBody)

	body, err := DecodeBody([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Empty(t, body)
}

// TestUnknownTypeDecodesInvalid verifies that out-of-range types map onto the
// INVALID sentinel instead of failing.
func TestUnknownTypeDecodesInvalid(t *testing.T) {
	buf := Encode(New(TypeAck, 5, time.Now(), nil))
	buf[0] = 200

	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, TypeInvalid, h.Type)
	assert.Equal(t, uint16(5), h.PID)
}

func TestTypeHelpers(t *testing.T) {
	assert.Equal(t, "MSEND", TypeMSend.String())
	assert.Equal(t, "Type(42)", Type(42).String())
	assert.True(t, TypeRegister.IsRequest())
	assert.True(t, TypeMSend.IsRequest())
	assert.False(t, TypeQuit.IsRequest())
	assert.False(t, TypeAck.IsRequest())
	assert.Equal(t, TypeMultiMessage, ParseType(9))
	assert.Equal(t, TypeInvalid, ParseType(10))
	assert.Equal(t, "Message(type=REGISTER, pid=3, size=4)",
		NewText(TypeRegister, 3, time.Time{}, "9001").Header.String())
}
