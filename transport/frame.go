package transport

import (
	"fmt"
	"io"

	"noc-rpc/protocol"
)

// Bridge frames carry NoC traffic between processes over a byte stream.
//
//	0      3     4     5     6
//	┌──────┬─────┬─────┬─────┬──────────────────────────┐
//	│magic │kind │ dma │ tag │ message (kind data only) │
//	│ noc  │     │     │     │ protocol encoding        │
//	└──────┴─────┴─────┴─────┴──────────────────────────┘
const (
	magic0, magic1, magic2 byte = 'n', 'o', 'c'
	frameHeaderSize             = 6
)

type frameKind byte

const (
	frameData      frameKind = 0 // message for the endpoint at (dma, tag)
	frameBind      frameKind = 1 // sender serves (dma, tag)
	frameUnbind    frameKind = 2 // sender no longer serves (dma, tag)
	frameHeartbeat frameKind = 3 // keepalive, no address
)

type frame struct {
	kind frameKind
	addr Addr
	msg  *protocol.Message
}

// writeFrame writes f in a single Write call.
// The caller must hold the connection's write lock.
func writeFrame(w io.Writer, f frame) error {
	buf := []byte{magic0, magic1, magic2, byte(f.kind), f.addr.DMA, f.addr.Tag}
	if f.kind == frameData {
		var err error
		if buf, err = protocol.AppendMessage(buf, f.msg); err != nil {
			return err
		}
	}
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (f frame, e error) {
	var hdr [frameHeaderSize]byte
	if _, e = io.ReadFull(r, hdr[:]); e != nil {
		return f, e
	}
	if hdr[0] != magic0 || hdr[1] != magic1 || hdr[2] != magic2 {
		return f, fmt.Errorf("invalid magic number: %x", hdr[0:3])
	}
	f.kind = frameKind(hdr[3])
	f.addr = Addr{hdr[4], hdr[5]}
	switch f.kind {
	case frameData:
		f.msg, e = protocol.Decode(r)
	case frameBind, frameUnbind, frameHeartbeat:
	default:
		e = fmt.Errorf("unsupported frame kind: %d", f.kind)
	}
	return f, e
}
