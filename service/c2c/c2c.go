// Package c2c implements the cluster to cluster class of service. The I/O controller
// keeps, for every ordered pair of clusters, whether the sender declared itself ready to
// exchange with the peer, so that each side can learn the other's rx configuration.
package c2c

import (
	"context"
	"fmt"
	"sync"

	"noc-rpc/client"
	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/protocol"
	"noc-rpc/registry"
	"noc-rpc/transport"
)

const mod = "[C2C]"

// Link is one direction of a cluster pair.
type Link struct {
	Opened bool   `json:"opened"`
	Rx     bool   `json:"rx"`
	Tx     bool   `json:"tx"`
	MinRx  uint8  `json:"minRx"`
	MaxRx  uint8  `json:"maxRx"`
	CnocRx uint8  `json:"cnocRx"`
	MTU    uint16 `json:"mtu"`
}

// Service keeps the link matrix, indexed by dense sender then dense peer.
type Service struct {
	mu    sync.Mutex
	links [cluster.MaxClients][cluster.MaxClients]Link
}

// New creates a Service with every link closed.
func New() *Service {
	return &Service{}
}

// Entry implements server.Service.
func (s *Service) Entry() registry.Entry {
	return registry.Entry{
		Class:    protocol.ClassC2C,
		Name:     "C2C",
		Subtypes: []string{"OPEN", "CLOSE", "QUERY"},
		Handler:  s.handle,
	}
}

// Link returns the src → dst link state.
func (s *Service) Link(src, dst cluster.Dense) Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[src][dst]
}

func (s *Service) handle(ctx context.Context, req *registry.Request) error {
	p, err := codec.Decode(req.Msg)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInternal, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	src := req.Sender
	switch cmd := p.(type) {
	case *codec.C2COpenCmd:
		dst, ok := peer(req, cmd.ClusterID)
		if !ok {
			return nil
		}
		l := &s.links[src][dst]
		if l.Opened {
			codec.Fail(req.Answer, mod, "Cluster2Cluster link %d => %d is already opened", src, dst)
			return nil
		}
		*l = Link{
			Opened: true,
			Rx:     cmd.Flags&codec.C2CRx != 0,
			Tx:     cmd.Flags&codec.C2CTx != 0,
			MinRx:  cmd.MinRx,
			MaxRx:  cmd.MaxRx,
			CnocRx: cmd.CnocRx,
			MTU:    cmd.MTU,
		}

	case *codec.C2CClusterCmd:
		dst, ok := peer(req, cmd.ClusterID)
		if !ok {
			return nil
		}
		if req.Msg.Subtype == protocol.C2CClose {
			if !s.links[src][dst].Opened {
				codec.Fail(req.Answer, mod, "Cluster2Cluster link %d => %d is not open", src, dst)
				return nil
			}
			s.links[src][dst] = Link{}
			return nil
		}
		s.query(req, src, dst)

	default:
		return protocol.ErrBadSubtype
	}
	return nil
}

// peer converts the peer cluster id of a command to its dense index.
func peer(req *registry.Request, id uint8) (cluster.Dense, bool) {
	if !cluster.ID(id).Valid() {
		codec.Fail(req.Answer, mod, "Invalid cluster id %d", id)
		return 0, false
	}
	return cluster.ID(id).Densify(), true
}

func (s *Service) query(req *registry.Request, src, dst cluster.Dense) {
	s2d, d2s := s.links[src][dst], s.links[dst][src]
	var ack codec.C2CQueryAck
	switch {
	case !s2d.Opened || !d2s.Opened:
		ack.Status, ack.Flags = 1, codec.C2CClosed
	case !s2d.Tx || !d2s.Rx:
		ack.Status, ack.Flags = 1, codec.C2CEAcces
	default:
		ack.MTU = min(d2s.MTU, s2d.MTU)
		ack.MinRx, ack.MaxRx, ack.CnocRx = d2s.MinRx, d2s.MaxRx, d2s.CnocRx
	}
	_ = codec.Encode(req.Answer, &ack)
}

// Open declares the calling cluster ready to exchange with cmd.ClusterID.
func Open(ctx context.Context, c client.Caller, to transport.Addr, cmd codec.C2COpenCmd) error {
	_, err := client.Invoke(ctx, c, to, protocol.ClassC2C, protocol.C2COpen, &cmd, nil)
	return err
}

// Close withdraws an Open.
func Close(ctx context.Context, c client.Caller, to transport.Addr, peer cluster.ID) error {
	_, err := client.Invoke(ctx, c, to, protocol.ClassC2C, protocol.C2CClose, &codec.C2CClusterCmd{ClusterID: uint8(peer)}, nil)
	return err
}

// Query returns how to send to peer. A link that is not usable yet is reported through
// the C2CClosed or C2CEAcces flag with a nil error.
func Query(ctx context.Context, c client.Caller, to transport.Addr, peer cluster.ID) (ack codec.C2CQueryAck, e error) {
	msg, err := codec.NewCommand(protocol.ClassC2C, protocol.C2CQuery, &codec.C2CClusterCmd{ClusterID: uint8(peer)})
	if err != nil {
		return ack, err
	}
	reply, err := c.Call(ctx, to, msg)
	if err != nil {
		return ack, err
	}
	if reply.Flags.ErrStr() {
		return ack, client.CheckStatus(reply)
	}
	return ack, codec.Unmarshal(reply, &ack)
}
