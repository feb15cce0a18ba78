package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("protocol: short header")
	// ErrShortBody is returned when fewer body bytes than declared are available.
	ErrShortBody = errors.New("protocol: short body")
	// ErrBodyTooLarge is returned when a header declares a body above the
	// reader's limit.
	ErrBodyTooLarge = errors.New("protocol: body too large")
)

// PutHeader writes h into the first HeaderSize bytes of dst in network byte
// order. dst must be at least HeaderSize long.
func PutHeader(dst []byte, h Header) {
	dst[0] = byte(h.Type)
	binary.BigEndian.PutUint16(dst[1:3], h.PID)
	binary.BigEndian.PutUint32(dst[3:7], h.BodySize)
	binary.BigEndian.PutUint64(dst[7:15], uint64(h.ArrivalTime))
}

// Encode serializes a message into a single buffer: header then body.
func Encode(msg *Message) []byte {
	buf := make([]byte, HeaderSize+len(msg.Body))
	h := msg.Header
	h.BodySize = uint32(len(msg.Body))
	PutHeader(buf, h)
	copy(buf[HeaderSize:], msg.Body)
	return buf
}

// DecodeHeader reads the HeaderSize-byte prefix of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes (need %d)", ErrShortHeader, len(data), HeaderSize)
	}
	return Header{
		Type:        ParseType(data[0]),
		PID:         binary.BigEndian.Uint16(data[1:3]),
		BodySize:    binary.BigEndian.Uint32(data[3:7]),
		ArrivalTime: int64(binary.BigEndian.Uint64(data[7:15])),
	}, nil
}

// DecodeBody copies exactly size bytes from data.
func DecodeBody(data []byte, size uint32) ([]byte, error) {
	if uint64(len(data)) < uint64(size) {
		return nil, fmt.Errorf("%w: %d bytes (need %d)", ErrShortBody, len(data), size)
	}
	body := make([]byte, size)
	copy(body, data[:size])
	return body, nil
}

// Decode parses a complete message from data. Trailing bytes beyond the
// declared body are ignored.
func Decode(data []byte) (*Message, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	body, err := DecodeBody(data[HeaderSize:], h.BodySize)
	if err != nil {
		return nil, err
	}
	return &Message{Header: h, Body: body}, nil
}
