// Package codec maps the 32-byte inline area of a message onto typed command
// and ack structures.
//
// Each structure is a fixed-size, padding-free Go struct whose encoding is exactly
// protocol.InlineSize bytes. The variant used for a message is chosen by the key
// (class, subtype, ack):
//
//	┌──────────┬─────────┬─────┐      ┌────────────────────────────┐
//	│  class   │ subtype │ ack │ ───▶ │ *EthOpenCmd / *EthOpenAck  │
//	└──────────┴─────────┴─────┘      └────────────────────────────┘
//
// Keys without a registered variant decode to *AckInline (acks) or *RawInline
// (commands), so every message can be decoded.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"noc-rpc/protocol"
)

// Key selects an inline variant.
type Key struct {
	Class   protocol.Class
	Subtype protocol.Subtype
	Ack     bool
}

// KeyOf returns the key of m.
func KeyOf(m *protocol.Message) Key {
	return Key{m.Class, m.Subtype, m.Flags.Ack()}
}

func (k Key) String() string {
	kind := "cmd"
	if k.Ack {
		kind = "ack"
	}
	return fmt.Sprintf("%s/%d/%s", k.Class, k.Subtype, kind)
}

// Payload is an inline variant.
type Payload interface {
	inline()
}

var variants = map[Key]reflect.Type{}

func register[T any, P interface {
	*T
	Payload
}](keys ...Key) {
	typ := reflect.TypeFor[T]()
	if n := binary.Size(new(T)); n != protocol.InlineSize {
		panic(fmt.Sprintf("codec: %s encodes to %d bytes", typ, n))
	}
	for _, k := range keys {
		variants[k] = typ
	}
}

// New returns a zero value of the variant registered for k.
func New(k Key) Payload {
	typ, ok := variants[k]
	if !ok {
		if k.Ack {
			return &AckInline{}
		}
		return &RawInline{}
	}
	return reflect.New(typ).Interface().(Payload)
}

// Encode writes p into the inline area of m.
func Encode(m *protocol.Message, p Payload) error {
	n, err := binary.Encode(m.Inline[:], binary.LittleEndian, p)
	if err != nil {
		return fmt.Errorf("encode %T: %w", p, err)
	}
	clear(m.Inline[n:])
	return nil
}

// Unmarshal reads the inline area of m into p.
func Unmarshal(m *protocol.Message, p Payload) error {
	if _, err := binary.Decode(m.Inline[:], binary.LittleEndian, p); err != nil {
		return fmt.Errorf("decode %T: %w", p, err)
	}
	return nil
}

// Decode returns the inline area of m as the variant selected by its key.
func Decode(m *protocol.Message) (Payload, error) {
	p := New(KeyOf(m))
	if err := Unmarshal(m, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Status returns the status byte of an ack.
func Status(m *protocol.Message) uint8 {
	return m.Inline[0]
}

// SetStatus sets the status byte of an ack.
func SetStatus(m *protocol.Message, status uint8) {
	m.Inline[0] = status
}

// Fail turns the answer m into an error answer: status 1, err_str set and a
// NUL-terminated "<mod> Error:<text>" payload. The text is truncated to fit.
func Fail(m *protocol.Message, mod string, format string, args ...any) {
	msg := fmt.Sprintf("%s Error:"+format, append([]any{mod}, args...)...)
	if len(msg) > protocol.MaxPayload-1 {
		msg = msg[:protocol.MaxPayload-1]
	}
	SetStatus(m, 1)
	m.Flags |= protocol.FlagErrStr
	_ = m.SetPayload(append([]byte(msg), 0))
}

// ErrorString returns the text of an error answer, or "" when m carries none.
func ErrorString(m *protocol.Message) string {
	if !m.Flags.ErrStr() {
		return ""
	}
	s, _, _ := bytes.Cut(m.Payload, []byte{0})
	return string(s)
}

// NewCommand builds a command of class c with the current class version and p as its
// inline area. p may be nil.
func NewCommand(c protocol.Class, s protocol.Subtype, p Payload) (*protocol.Message, error) {
	m := &protocol.Message{Header: protocol.Header{Class: c, Subtype: s, Version: c.Version()}}
	if p != nil {
		if err := Encode(m, p); err != nil {
			return nil, err
		}
	}
	return m, nil
}
