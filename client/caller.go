package client

import (
	"context"
	"fmt"

	"noc-rpc/codec"
	"noc-rpc/protocol"
	"noc-rpc/transport"
)

// Caller sends a command and returns its answer. *Client implements it.
type Caller interface {
	Call(ctx context.Context, to transport.Addr, msg *protocol.Message) (*protocol.Message, error)
}

var _ Caller = (*Client)(nil)

// RemoteError is a command refused by its handler, e.g. "[C2C] Error:... already opened".
type RemoteError struct {
	Class   protocol.Class
	Subtype protocol.Subtype
	Status  uint8
	Text    string
}

func (e *RemoteError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("%s/%d refused with status %d", e.Class, e.Subtype, e.Status)
	}
	return e.Text
}

// CheckStatus returns a *RemoteError when ack carries a non-zero status.
func CheckStatus(ack *protocol.Message) error {
	if st := codec.Status(ack); st != 0 {
		return &RemoteError{Class: ack.Class, Subtype: ack.Subtype, Status: st, Text: codec.ErrorString(ack)}
	}
	return nil
}

// Invoke builds a command from p, calls it on to and checks the answer status.
// The returned ack is decoded into out when out is not nil.
func Invoke(ctx context.Context, c Caller, to transport.Addr, class protocol.Class, subtype protocol.Subtype,
	p codec.Payload, out codec.Payload) (*protocol.Message, error) {
	msg, err := codec.NewCommand(class, subtype, p)
	if err != nil {
		return nil, err
	}
	ack, err := c.Call(ctx, to, msg)
	if err != nil {
		return ack, err
	}
	if err := CheckStatus(ack); err != nil {
		return ack, err
	}
	if out != nil {
		if err := codec.Unmarshal(ack, out); err != nil {
			return ack, err
		}
	}
	return ack, nil
}
