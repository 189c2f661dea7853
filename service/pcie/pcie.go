// Package pcie implements the PCIe class of service: a cluster asks the I/O controller to
// forward the traffic of a host PCIe network interface to it, and gets a contiguous range
// of rx tags to send its own packets to the host through.
package pcie

import (
	"context"
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

// Table sizes.
const (
	NbHostIf  = 4  // host network interfaces
	NbDMAIf   = 4  // local DMA interfaces usable for PCIe forwarding
	NbRxTags  = 10 // contiguous rx tags given to each cluster
	rxTagsEnd = cluster.RxBase
)

const mod = "[PCIE]"

type forward struct {
	opened   bool
	hostIf   uint8
	mtu      uint16
	firstTag int
}

// Service keeps the PCIe forwarding tables of one I/O controller.
type Service struct {
	self cluster.ID // first NoC address of the controller

	mu       sync.Mutex
	tags     [NbDMAIf][rxTagsEnd]bool
	forwards [cluster.MaxClients]forward
	macs     [NbHostIf][6]byte
}

// New creates a Service for the controller on port.
func New(port cluster.Port) *Service {
	s := &Service{self: cluster.NorthBase}
	if port == cluster.South {
		s.self = cluster.SouthBase
	}
	for i := range s.macs {
		s.macs[i] = [6]byte{0x02, 0x50, 0x43, byte(s.self), byte(i), 0x00}
	}
	return s
}

// Entry implements server.Service.
func (s *Service) Entry() registry.Entry {
	return registry.Entry{
		Class:    protocol.ClassPCIE,
		Name:     "PCIE",
		Subtypes: []string{"OPEN", "CLOSE"},
		Handler:  s.handle,
	}
}

func (s *Service) handle(ctx context.Context, req *registry.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := codec.Decode(req.Msg)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInternal, err)
	}
	switch cmd := p.(type) {
	case *codec.PcieOpenCmd:
		s.open(req, cmd)
	case *codec.PcieCloseCmd:
		s.release(req.Sender)
	default:
		return protocol.ErrBadSubtype
	}
	return nil
}

func (s *Service) open(req *registry.Request, cmd *codec.PcieOpenCmd) {
	d := req.Sender
	ifID := int(d) % NbDMAIf
	if cmd.PcieEthIfID >= NbHostIf {
		codec.Fail(req.Answer, mod, "Invalid PCIe interface %d", cmd.PcieEthIfID)
		return
	}
	if s.forwards[d].opened {
		codec.Fail(req.Answer, mod, "PCIe forwarding is already opened for cluster %d", d)
		return
	}

	first := s.allocTags(ifID)
	if first < 0 {
		codec.Fail(req.Answer, mod, "Failed to allocate %d contiguous Rx ports", NbRxTags)
		return
	}
	s.forwards[d] = forward{opened: true, hostIf: cmd.PcieEthIfID, mtu: cmd.PktSize, firstTag: first}

	_ = codec.Encode(req.Answer, &codec.PcieOpenAck{
		TxIf:     uint16(cluster.Default.ExternalAddress(s.self, ifID)),
		MinTxTag: uint8(first),
		MaxTxTag: uint8(first + NbRxTags - 1),
		MAC:      s.macs[cmd.PcieEthIfID],
		MTU:      cmd.PktSize,
	})
	logger.Debug("pcie forward opened",
		zap.Int("sender", int(d)),
		zap.Int("if", ifID),
		zap.Int("first-tag", first),
	)
}

// allocTags reserves NbRxTags contiguous tags on ifID and returns the first, or -1.
func (s *Service) allocTags(ifID int) int {
	used := &s.tags[ifID]
	for first := 0; first+NbRxTags <= len(used); first++ {
		free := true
		for t := first; t < first+NbRxTags; t++ {
			if used[t] {
				free, first = false, t
				break
			}
		}
		if free {
			for t := first; t < first+NbRxTags; t++ {
				used[t] = true
			}
			return first
		}
	}
	return -1
}

func (s *Service) release(d cluster.Dense) {
	fw := s.forwards[d]
	if !fw.opened {
		return
	}
	used := &s.tags[int(d)%NbDMAIf]
	for t := fw.firstTag; t < fw.firstTag+NbRxTags; t++ {
		used[t] = false
	}
	s.forwards[d] = forward{}
}

// Open asks the server at to for forwarding of host interface cmd.PcieEthIfID.
func Open(ctx context.Context, c client.Caller, to transport.Addr, cmd codec.PcieOpenCmd) (ack codec.PcieOpenAck, e error) {
	_, e = client.Invoke(ctx, c, to, protocol.ClassPCIE, protocol.PcieOpen, &cmd, &ack)
	return ack, e
}

// Close stops forwarding to the calling cluster.
func Close(ctx context.Context, c client.Caller, to transport.Addr, ifID uint8) error {
	_, err := client.Invoke(ctx, c, to, protocol.ClassPCIE, protocol.PcieClose, &codec.PcieCloseCmd{IfID: ifID}, nil)
	return err
}
