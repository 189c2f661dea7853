// Package rnd implements the random class of service: clusters without an entropy source
// get random bytes from the I/O controller.
package rnd

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"noc-rpc/client"
	"noc-rpc/codec"
	"noc-rpc/protocol"
	"noc-rpc/registry"
	"noc-rpc/transport"
)

// MaxLen is the largest request, what fits in an ack inline area after the status.
const MaxLen = protocol.InlineSize - 1

// Service answers RND commands from Source.
type Service struct {
	Source io.Reader // crypto/rand.Reader if nil
}

// Entry implements server.Service.
func (s *Service) Entry() registry.Entry {
	return registry.Entry{
		Class:    protocol.ClassRND,
		Name:     "RND",
		Subtypes: []string{"GET"},
		Handler:  s.handle,
	}
}

func (s *Service) handle(ctx context.Context, req *registry.Request) error {
	var cmd codec.RndCmd
	if err := codec.Unmarshal(req.Msg, &cmd); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInternal, err)
	}
	if cmd.Len > MaxLen {
		codec.Fail(req.Answer, "[RND]", "Requested %d bytes, at most %d", cmd.Len, MaxLen)
		return nil
	}

	src := s.Source
	if src == nil {
		src = rand.Reader
	}
	var ack codec.RndAck
	if _, err := io.ReadFull(src, ack.Data[:cmd.Len]); err != nil {
		return fmt.Errorf("%w: read entropy: %v", protocol.ErrInternal, err)
	}
	return codec.Encode(req.Answer, &ack)
}

// Get returns n random bytes, n at most MaxLen.
func Get(ctx context.Context, c client.Caller, to transport.Addr, n int) ([]byte, error) {
	if n < 0 || n > MaxLen {
		return nil, fmt.Errorf("rnd: length %d out of range [0,%d]", n, MaxLen)
	}
	var ack codec.RndAck
	if _, err := client.Invoke(ctx, c, to, protocol.ClassRND, protocol.RndGet, &codec.RndCmd{Len: uint8(n)}, &ack); err != nil {
		return nil, err
	}
	return append([]byte(nil), ack.Data[:n]...), nil
}
