// Package transport moves RPC messages across the network on chip.
//
// An endpoint is addressed by the DMA interface it lives on and an rx tag on that
// interface. Receiving is by polling: nothing in this package blocks a receiver.
//
//	cluster 3 ──Send(Addr{160,193})──┐
//	cluster 7 ──Send(Addr{160,193})──┼──→ rx queue {160,193} ──Poll──→ I/O controller
//	cluster 9 ──Send(Addr{161,194})──┘
//
// Mesh connects endpoints inside one process. Link and Serve extend a Mesh to
// other processes over TCP.
package transport

import (
	"errors"
	"fmt"

	"noc-rpc/protocol"
)

// Addr is a NoC endpoint.
type Addr struct {
	DMA uint8 // DMA interface id
	Tag uint8 // rx tag on that interface
}

func (a Addr) String() string {
	return fmt.Sprintf("%d:%d", a.DMA, a.Tag)
}

// Transport errors.
var (
	ErrNoEndpoint = errors.New("transport: no endpoint at address")
	ErrInUse      = errors.New("transport: address in use")
	ErrQueueFull  = errors.New("transport: rx queue full")
	ErrNoTag      = errors.New("transport: no free rx tag")
	ErrClosed     = errors.New("transport: closed")
)

// Rx is a receive endpoint.
type Rx interface {
	Addr() Addr
	// Poll returns the next message if one is queued.
	// The message is owned by the caller.
	Poll() (*protocol.Message, bool)
	Close() error
}

// Fabric opens endpoints and delivers messages to them.
type Fabric interface {
	// Open creates an rx endpoint at a fixed address.
	Open(addr Addr, depth int) (Rx, error)
	// Alloc creates an rx endpoint on any free tag of the given DMA interface.
	Alloc(dma uint8, depth int) (Rx, error)
	// Send copies msg into the endpoint at to.
	Send(to Addr, msg *protocol.Message) error
}
