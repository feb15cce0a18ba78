// Package protocol defines the envelope exchanged between participants and the
// coordinator: a fixed 15-byte header followed by an opaque body.
package protocol

import (
	"fmt"
	"time"
)

// Type identifies the purpose of a message.
type Type uint8

// Message types. The numbering is part of the wire format.
const (
	TypeInvalid      Type = iota // Unknown or undecodable type
	TypeAck                      // Request accepted
	TypeNack                     // Request rejected
	TypeRegister                 // Join the group; body is the delivery port
	TypeDeregister               // Leave the group
	TypeDisconnect               // Go offline; messages are buffered
	TypeReconnect                // Come back online; body is the delivery port
	TypeMSend                    // Broadcast the body to the group
	TypeQuit                     // Participant-local; never acted on by the coordinator
	TypeMultiMessage             // Delivery of a broadcast to a participant
)

var typeNames = map[Type]string{
	TypeInvalid:      "INVALID",
	TypeAck:          "ACKNOWLEDGEMENT",
	TypeNack:         "NEGATIVE_ACKNOWLEDGEMENT",
	TypeRegister:     "REGISTER",
	TypeDeregister:   "DEREGISTER",
	TypeDisconnect:   "DISCONNECT",
	TypeReconnect:    "RECONNECT",
	TypeMSend:        "MSEND",
	TypeQuit:         "QUIT",
	TypeMultiMessage: "MULTI_MESSAGE",
}

// ParseType maps a raw type byte onto the enumeration. Values outside the
// enumeration become TypeInvalid rather than an error.
func ParseType(b byte) Type {
	t := Type(b)
	if t > TypeMultiMessage {
		return TypeInvalid
	}
	return t
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsRequest reports whether t is one of the five requests the coordinator
// has a handler for.
func (t Type) IsRequest() bool {
	return t >= TypeRegister && t <= TypeMSend
}

// HeaderSize is the fixed header size:
// Type(1) + PID(2) + BodySize(4) + ArrivalTime(8).
const HeaderSize = 15

// Header is the fixed-layout prefix of every message.
type Header struct {
	Type        Type
	PID         uint16 // Sender, or the original sender for MULTI_MESSAGE
	BodySize    uint32 // Number of body bytes following the header
	ArrivalTime int64  // Unix seconds, stamped by the coordinator at receipt
}

func (h Header) String() string {
	return fmt.Sprintf("Message(type=%s, pid=%d, size=%d)", h.Type, h.PID, h.BodySize)
}

// Message is a header plus its body. BodySize always mirrors len(Body) for
// messages built with New.
type Message struct {
	Header
	Body []byte
}

// New builds a message whose header size field matches body.
func New(t Type, pid uint16, arrival time.Time, body []byte) *Message {
	var ts int64
	if !arrival.IsZero() {
		ts = arrival.Unix()
	}
	return &Message{
		Header: Header{
			Type:        t,
			PID:         pid,
			BodySize:    uint32(len(body)),
			ArrivalTime: ts,
		},
		Body: body,
	}
}

// NewText is New with a string body.
func NewText(t Type, pid uint16, arrival time.Time, text string) *Message {
	return New(t, pid, arrival, []byte(text))
}

// Text returns the body as a string.
func (m *Message) Text() string {
	return string(m.Body)
}

// Arrival returns ArrivalTime as a time.Time.
func (m *Message) Arrival() time.Time {
	return time.Unix(m.ArrivalTime, 0)
}
