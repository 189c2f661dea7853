// Package bas implements the basic class of service: a ping to check that an I/O
// controller answers.
package bas

import (
	"context"

	"noc-rpc/client"
	"noc-rpc/codec"
	"noc-rpc/protocol"
	"noc-rpc/registry"
	"noc-rpc/transport"
)

// Service answers BAS commands.
type Service struct{}

// Entry implements server.Service.
func (Service) Entry() registry.Entry {
	return registry.Entry{
		Class:    protocol.ClassBAS,
		Name:     "BAS",
		Subtypes: []string{"INVALID", "PING"},
		Handler:  handle,
	}
}

func handle(ctx context.Context, req *registry.Request) error {
	switch req.Msg.Subtype {
	case protocol.BasPing:
		codec.SetStatus(req.Answer, 0)
		return nil
	}
	return protocol.ErrBadSubtype
}

// Ping sends a PING to the server at to.
func Ping(ctx context.Context, c client.Caller, to transport.Addr) error {
	_, err := client.Invoke(ctx, c, to, protocol.ClassBAS, protocol.BasPing, nil, nil)
	return err
}
