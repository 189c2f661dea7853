// Package fp implements the fast path command line class of service.
//
// An operator posts a command line for a cluster into its mailbox; the cluster polls and
// receives it once. Each cluster has a single slot: a newer post replaces an unread one.
package fp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"noc-rpc/client"
	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/protocol"
	"noc-rpc/registry"
	"noc-rpc/transport"
)

// MaxCommand is the longest command line, NUL terminator included.
const MaxCommand = protocol.MaxPayload

// ErrInvalidCluster is returned by Post for an id outside the addressable ranges.
var ErrInvalidCluster = errors.New("fp: invalid cluster")

// Mailbox holds one pending command line per cluster.
type Mailbox struct {
	mu    sync.Mutex
	slots [cluster.MaxClients][]byte
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Entry implements server.Service.
func (mb *Mailbox) Entry() registry.Entry {
	return registry.Entry{
		Class:    protocol.ClassFP,
		Name:     "FP",
		Subtypes: []string{"CLI"},
		Handler:  mb.handle,
	}
}

// Post stores cmd for cluster id, truncated to MaxCommand bytes. The answer carries
// the line up to its first NUL, at most MaxCommand-1 bytes, plus a terminator.
func (mb *Mailbox) Post(id cluster.ID, cmd []byte) error {
	if !id.Valid() {
		return fmt.Errorf("%w %d", ErrInvalidCluster, id)
	}
	if len(cmd) > MaxCommand {
		cmd = cmd[:MaxCommand]
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.slots[id.Densify()] = append(mb.slots[id.Densify()][:0], cmd...)
	logger.Info("command posted", zap.Int("cluster", int(id)), zap.Int("len", len(cmd)))
	return nil
}

// Pending reports whether cluster id has an unread command.
func (mb *Mailbox) Pending(id cluster.ID) bool {
	if !id.Valid() {
		return false
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.slots[id.Densify()]) > 0 && mb.slots[id.Densify()][0] != 0
}

func (mb *Mailbox) handle(ctx context.Context, req *registry.Request) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	slot := mb.slots[req.Sender]
	if len(slot) == 0 || slot[0] == 0 {
		codec.SetStatus(req.Answer, 0)
		return nil
	}

	line, _, _ := bytes.Cut(slot, []byte{0})
	if len(line) > MaxCommand-1 {
		line = line[:MaxCommand-1]
	}
	codec.SetStatus(req.Answer, 1)
	if err := req.Answer.SetPayload(append(line, 0)); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInternal, err)
	}
	mb.slots[req.Sender] = slot[:0]
	return nil
}

// Poll fetches the pending command line of the calling cluster, without its NUL
// terminator. ok is false when the mailbox was empty.
func Poll(ctx context.Context, c client.Caller, to transport.Addr) (cmd string, ok bool, e error) {
	msg, err := codec.NewCommand(protocol.ClassFP, protocol.FpCLI, nil)
	if err != nil {
		return "", false, err
	}
	ack, err := c.Call(ctx, to, msg)
	if err != nil {
		return "", false, err
	}
	if codec.Status(ack) == 0 {
		return "", false, nil
	}
	line, _, _ := bytes.Cut(ack.Payload, []byte{0})
	return string(line), true, nil
}
