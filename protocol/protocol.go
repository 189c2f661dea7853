// Package protocol implements the wire format of RPC messages exchanged between
// compute clusters and the I/O controllers over the network on chip.
//
// Every message starts with a fixed 10-byte header and a 32-byte inline area,
// optionally followed by a payload of header.data_len bytes. All multi-byte
// fields are little-endian.
//
//	0     1     2         4          6     7     8         10                 42
//	┌─────┬─────┬─────────┬──────────┬─────┬─────┬─────────┬──────────────────┬──────────────┐
//	│class│ sub │ version │ data_len │ dma │ tag │  flags  │   inline (32)    │ payload ...  │
//	│ u8  │ u8  │   u16   │   u16    │ u8  │ u8  │   u16   │ command specific │ data_len     │
//	└─────┴─────┴─────────┴──────────┴─────┴─────┴─────────┴──────────────────┴──────────────┘
//
// flags: bit 0 ack, bit 1 err_str, bits 2..5 rpc_err.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize  = 10
	InlineSize  = 32
	MessageSize = HeaderSize + InlineSize
	MaxPayload  = 1344 // largest data_len accepted on either side
)

// ErrDataLen is returned for a message whose data_len exceeds MaxPayload or its payload.
var ErrDataLen = errors.New("protocol: bad data_len")

// Flags is the flags field of a message header.
type Flags uint16

const (
	FlagAck    Flags = 1 << 0 // message is an answer
	FlagErrStr Flags = 1 << 1 // payload carries an error string
	errShift         = 2
	errMask    Flags = 0xF << errShift
)

// Ack reports whether the ack bit is set.
func (f Flags) Ack() bool { return f&FlagAck != 0 }

// ErrStr reports whether the err_str bit is set.
func (f Flags) ErrStr() bool { return f&FlagErrStr != 0 }

// Code returns the rpc_err field.
func (f Flags) Code() Code { return Code((f & errMask) >> errShift) }

// WithCode returns f with rpc_err replaced by c.
func (f Flags) WithCode(c Code) Flags {
	return f&^errMask | (Flags(c)&codeMax)<<errShift
}

// Header is the fixed 10-byte message header.
type Header struct {
	Class   Class
	Subtype Subtype
	Version uint16
	DataLen uint16 // payload length following the inline area
	DMA     uint8  // sender DMA interface, where the answer goes
	Tag     uint8  // sender rx tag, where the answer goes
	Flags   Flags
}

// Message is a header, its inline area and the optional payload.
type Message struct {
	Header
	Inline  [InlineSize]byte
	Payload []byte // len(Payload) == DataLen after Decode
}

// Reset clears m for reuse, keeping the payload buffer capacity.
func (m *Message) Reset() {
	m.Header = Header{}
	m.Inline = [InlineSize]byte{}
	m.Payload = m.Payload[:0]
}

// Answer prepares m as the answer to req: the routing fields are copied, the
// ack bit is set, and the inline area and payload are cleared.
func (m *Message) Answer(req *Message) {
	m.Reset()
	m.Class = req.Class
	m.Subtype = req.Subtype
	m.Version = req.Version
	m.DMA = req.DMA
	m.Tag = req.Tag
	m.Flags = FlagAck
}

// SetPayload copies p into the message payload and updates DataLen.
func (m *Message) SetPayload(p []byte) error {
	if len(p) > MaxPayload {
		return fmt.Errorf("payload too large: %d > %d", len(p), MaxPayload)
	}
	m.Payload = append(m.Payload[:0], p...)
	m.DataLen = uint16(len(p))
	return nil
}

// CheckDataLen verifies that DataLen is within MaxPayload and covered by Payload.
func (m *Message) CheckDataLen() error {
	if int(m.DataLen) > MaxPayload || int(m.DataLen) > len(m.Payload) {
		return fmt.Errorf("%w %d (payload %d bytes)", ErrDataLen, m.DataLen, len(m.Payload))
	}
	return nil
}

// Size returns the encoded length of m.
func (m *Message) Size() int {
	return MessageSize + int(m.DataLen)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	return &c
}

// Validate checks the class, then the version, then the subtype.
// The first failing check determines the returned Code.
func (m *Message) Validate() error {
	if !m.Class.Known() {
		return ErrBadClass
	}
	if m.Version != m.Class.Version() {
		return ErrVersionMismatch
	}
	if m.Subtype >= m.Class.NbSubtypes() {
		return ErrBadSubtype
	}
	return nil
}

func (m *Message) String() string {
	return fmt.Sprintf("%s/%d v%d len=%d dma=%d tag=%d ack=%t err=%d",
		m.Class, m.Subtype, m.Version, m.DataLen, m.DMA, m.Tag, m.Flags.Ack(), m.Flags.Code())
}

func putHeader(buf []byte, h *Header) {
	buf[0] = byte(h.Class)
	buf[1] = byte(h.Subtype)
	binary.LittleEndian.PutUint16(buf[2:4], h.Version)
	binary.LittleEndian.PutUint16(buf[4:6], h.DataLen)
	buf[6] = h.DMA
	buf[7] = h.Tag
	binary.LittleEndian.PutUint16(buf[8:10], uint16(h.Flags))
}

func parseHeader(buf []byte) (h Header) {
	h.Class = Class(buf[0])
	h.Subtype = Subtype(buf[1])
	h.Version = binary.LittleEndian.Uint16(buf[2:4])
	h.DataLen = binary.LittleEndian.Uint16(buf[4:6])
	h.DMA = buf[6]
	h.Tag = buf[7]
	h.Flags = Flags(binary.LittleEndian.Uint16(buf[8:10]))
	return h
}

// AppendMessage appends the encoding of m to dst.
func AppendMessage(dst []byte, m *Message) ([]byte, error) {
	if err := m.CheckDataLen(); err != nil {
		return dst, err
	}
	var hdr [HeaderSize]byte
	putHeader(hdr[:], &m.Header)
	dst = append(dst, hdr[:]...)
	dst = append(dst, m.Inline[:]...)
	return append(dst, m.Payload[:m.DataLen]...), nil
}

// ParseMessage decodes a message from buf, which must hold the whole message.
// The payload aliases buf.
func ParseMessage(buf []byte) (*Message, error) {
	if len(buf) < MessageSize {
		return nil, fmt.Errorf("short message: %d bytes", len(buf))
	}
	m := &Message{Header: parseHeader(buf)}
	copy(m.Inline[:], buf[HeaderSize:MessageSize])
	if int(m.DataLen) > MaxPayload {
		return nil, fmt.Errorf("data_len %d exceeds %d", m.DataLen, MaxPayload)
	}
	if len(buf) < MessageSize+int(m.DataLen) {
		return nil, fmt.Errorf("truncated payload: want %d bytes, have %d", m.DataLen, len(buf)-MessageSize)
	}
	m.Payload = buf[MessageSize : MessageSize+int(m.DataLen)]
	return m, nil
}

// Encode writes m to w in a single Write call.
// The caller must serialize concurrent writers sharing w.
func Encode(w io.Writer, m *Message) error {
	buf, err := AppendMessage(make([]byte, 0, m.Size()), m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Decode reads exactly one message from r.
// It does not check class, version or subtype; see Message.Validate.
func Decode(r io.Reader) (*Message, error) {
	var fixed [MessageSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, err
	}
	m := &Message{Header: parseHeader(fixed[:])}
	copy(m.Inline[:], fixed[HeaderSize:])
	if int(m.DataLen) > MaxPayload {
		return nil, fmt.Errorf("data_len %d exceeds %d", m.DataLen, MaxPayload)
	}
	m.Payload = make([]byte, m.DataLen)
	if _, err := io.ReadFull(r, m.Payload); err != nil {
		return nil, err
	}
	return m, nil
}
