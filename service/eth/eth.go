// Package eth implements the Ethernet class of service: clusters open lanes of the I/O
// controller's Ethernet ports, get the NoC endpoint to transmit to, and query link state.
//
// Lanes 0..3 are 1/10G lanes. Lane id 4 selects the four lanes bonded as one 40G port;
// a lane is in one mode at a time, shared by every cluster that opened it:
//
//	        lane 0   lane 1   lane 2   lane 3
//	off       ·        ·        ·        ·
//	1/10G   c3,c7     c4        ·        ·      Open(ifID 0..3)
//	40G     c5 ─────────────────────────────    Open(ifID 4), exclusive with 1/10G
package eth

import (
	"context"
	"encoding/binary"
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

// Lane ids and frame sizes.
const (
	NbLanes = 4
	Lane40G = 4 // bonds the four lanes

	MTU      = 1600
	JumboMTU = 9000

	// TxTagBase is the first rx tag the controller assigns to cluster transmit queues.
	TxTagBase = 64
)

const mod = "[ETH]"

type laneMode uint8

const (
	modeOff laneMode = iota
	mode1G
	mode40G
)

type clusterState struct {
	mode    laneMode
	rx, tx  bool
	jumbo   bool
	enabled bool
	promisc bool
}

type lane struct {
	mode     laneMode
	mac      [2][6]byte // regular, dual-MAC
	stats    codec.EthStats
	clusters [cluster.MaxClients]clusterState
}

func (l *lane) users() (n int) {
	for _, cs := range l.clusters {
		if cs.mode != modeOff {
			n++
		}
	}
	return n
}

// Config contains Service settings.
type Config struct {
	Port   cluster.Port
	Layout cluster.Layout
	// LbTimestamp is reported to clusters opening a lane, for loopback timestamping.
	LbTimestamp uint64
}

// Service keeps the lane table of one I/O controller.
type Service struct {
	cfg     Config
	mu      sync.Mutex
	lanes   [NbLanes]lane
	dualMAC bool
}

// New creates a Service with every lane off.
func New(cfg Config) *Service {
	s := &Service{cfg: cfg}
	dma := cluster.NorthDMA
	if cfg.Port == cluster.South {
		dma = cluster.SouthDMA
	}
	for i := range s.lanes {
		mac := [6]byte{0x02, 0x4b, 0x31, byte(dma), byte(i), 0x00}
		s.lanes[i].mac[0] = mac
		mac[5] |= 1
		s.lanes[i].mac[1] = mac
	}
	return s
}

// Entry implements server.Service.
func (s *Service) Entry() registry.Entry {
	return registry.Entry{
		Class: protocol.ClassETH,
		Name:  "ETH",
		Subtypes: []string{
			"OPEN", "CLOSE", "PROMISC", "OPEN_DEF", "CLOSE_DEF", "DUAL_MAC", "STATE", "GET_STAT",
		},
		Handler: s.handle,
	}
}

func (s *Service) handle(ctx context.Context, req *registry.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := codec.Decode(req.Msg)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInternal, err)
	}
	d := req.Sender
	switch cmd := p.(type) {
	case *codec.EthOpenCmd:
		s.open(req, cmd, req.Msg.Subtype == protocol.EthOpenDefault)
	case *codec.EthIfCmd:
		s.close(req, cmd.IfID)
	case *codec.EthToggleCmd:
		if req.Msg.Subtype == protocol.EthPromisc {
			s.toggle(req, cmd, func(cs *clusterState) { cs.promisc = cmd.Enabled != 0 })
		} else {
			s.toggle(req, cmd, func(cs *clusterState) { cs.enabled = cmd.Enabled != 0 })
		}
	case *codec.EthDualMACCmd:
		s.setDualMAC(req, cmd.Enabled != 0)
	case *codec.EthGetStatCmd:
		s.getStat(req, cmd)
	default:
		return protocol.ErrBadSubtype
	}
	if codec.Status(req.Answer) != 0 {
		logger.Info("command refused", zap.Int("sender", int(d)), zap.String("reason", codec.ErrorString(req.Answer)))
	}
	return nil
}

func badLane(id uint8) bool {
	return id != Lane40G && id >= NbLanes
}

func (s *Service) open(req *registry.Request, cmd *codec.EthOpenCmd, isDefault bool) {
	d := req.Sender
	if badLane(cmd.IfID) {
		codec.Fail(req.Answer, mod, "Bad lane id %d", cmd.IfID)
		return
	}
	idx := int(cmd.IfID % NbLanes)

	if cmd.IfID == Lane40G {
		for i := range s.lanes {
			if s.lanes[i].clusters[d].mode != modeOff {
				codec.Fail(req.Answer, mod, "Lane %d is already opened for cluster %d", i, d)
				return
			}
			if s.lanes[i].mode == mode1G {
				codec.Fail(req.Answer, mod, "Lane %d is opened in 1/10G mode", i)
				return
			}
		}
	} else {
		l := &s.lanes[idx]
		if l.clusters[d].mode != modeOff {
			codec.Fail(req.Answer, mod, "Lane %d is already opened for cluster %d", idx, d)
			return
		}
		if l.mode == mode40G {
			codec.Fail(req.Answer, mod, "Lane %d is opened in 40G mode", idx)
			return
		}
		if cmd.Flags&codec.EthJumbo != 0 {
			codec.Fail(req.Answer, mod, "Trying to enable Jumbo on 1/10G lane %d", idx)
			return
		}
	}
	if isDefault && !s.dualMAC {
		codec.Fail(req.Answer, mod, "Trying to open in fallthrough with Dual-MAC mode disabled")
		return
	}
	if cmd.NbRules > 0 && len(req.Msg.Payload) == 0 {
		codec.Fail(req.Answer, mod, "Expected %d hash rules in payload", cmd.NbRules)
		return
	}

	st := clusterState{
		mode:  mode1G,
		rx:    cmd.Flags&codec.EthRx != 0,
		tx:    cmd.Flags&codec.EthTx != 0,
		jumbo: cmd.Flags&codec.EthJumbo != 0,
	}
	if cmd.IfID == Lane40G {
		st.mode = mode40G
		for i := range s.lanes {
			s.lanes[i].mode = mode40G
			s.lanes[i].clusters[d] = st
		}
	} else {
		s.lanes[idx].mode = mode1G
		s.lanes[idx].clusters[d] = st
	}

	id := d.Undensify()
	ack := codec.EthOpenAck{
		TxIf:    uint16(s.cfg.Layout.IODMAID(s.cfg.Port, id)),
		TxTag:   uint8(TxTagBase + int(d)),
		MTU:     MTU,
		LbTsOff: s.cfg.LbTimestamp,
	}
	if st.jumbo {
		ack.MTU = JumboMTU
	}
	if !s.dualMAC || isDefault {
		ack.MAC = s.lanes[idx].mac[0]
	} else {
		ack.MAC = s.lanes[idx].mac[1]
	}
	_ = codec.Encode(req.Answer, &ack)
	logger.Debug("lane opened",
		zap.Int("sender", int(d)),
		zap.Uint8("lane", cmd.IfID),
		zap.Bool("fallthrough", isDefault),
	)
}

// opened checks that the sender has ifID open in the matching mode.
func (s *Service) opened(req *registry.Request, ifID uint8, what string) bool {
	if badLane(ifID) {
		codec.Fail(req.Answer, mod, "Bad lane id %d", ifID)
		return false
	}
	cs := s.lanes[ifID%NbLanes].clusters[req.Sender]
	if ifID == Lane40G && cs.mode != mode40G {
		codec.Fail(req.Answer, mod, "Trying to %s 40G lane while lane is closed or in a different mode", what)
		return false
	}
	if ifID != Lane40G && cs.mode != mode1G {
		codec.Fail(req.Answer, mod, "Trying to %s 1/10G lane while lane is closed or in 40G", what)
		return false
	}
	return true
}

func (s *Service) close(req *registry.Request, ifID uint8) {
	if !s.opened(req, ifID, "close") {
		return
	}
	lanes := s.lanes[ifID%NbLanes : ifID%NbLanes+1]
	if ifID == Lane40G {
		lanes = s.lanes[:]
	}
	for i := range lanes {
		lanes[i].clusters[req.Sender] = clusterState{}
		if lanes[i].users() == 0 {
			lanes[i].mode = modeOff
		}
	}
}

func (s *Service) toggle(req *registry.Request, cmd *codec.EthToggleCmd, set func(cs *clusterState)) {
	if !s.opened(req, cmd.IfID, "set state for") {
		return
	}
	if cmd.IfID == Lane40G {
		for i := range s.lanes {
			set(&s.lanes[i].clusters[req.Sender])
		}
		return
	}
	set(&s.lanes[cmd.IfID].clusters[req.Sender])
}

func (s *Service) setDualMAC(req *registry.Request, enabled bool) {
	for i := range s.lanes {
		if s.lanes[i].mode != modeOff && enabled != s.dualMAC {
			codec.Fail(req.Answer, mod, "Cannot change Dual-MAC mode while lane %d is opened", i)
			return
		}
	}
	s.dualMAC = enabled
}

func (s *Service) getStat(req *registry.Request, cmd *codec.EthGetStatCmd) {
	if badLane(cmd.IfID) {
		codec.Fail(req.Answer, mod, "Bad lane id %d", cmd.IfID)
		return
	}
	l := &s.lanes[cmd.IfID%NbLanes]
	if cmd.IfID == Lane40G && l.mode != mode40G {
		codec.Fail(req.Answer, mod, "Trying to get stats on 40G lane while lane is closed or in a different mode")
		return
	}
	if cmd.IfID != Lane40G && l.mode != mode1G {
		codec.Fail(req.Answer, mod, "Trying to get stats for 1/10G lane while lane is closed or in 40G")
		return
	}

	_ = codec.Encode(req.Answer, &codec.EthGetStatAck{LinkStatus: 1})
	if cmd.LinkStats != 0 {
		stats := l.stats
		if cmd.IfID == Lane40G {
			stats = s.sum()
		}
		buf, _ := binary.Append(nil, binary.LittleEndian, &stats)
		_ = req.Answer.SetPayload(buf)
	}
}

func (s *Service) sum() (t codec.EthStats) {
	for i := range s.lanes {
		st := &s.lanes[i].stats
		t.InOctets += st.InOctets
		t.InUcastPkts += st.InUcastPkts
		t.InDiscards += st.InDiscards
		t.InErrors += st.InErrors
		t.OutOctets += st.OutOctets
		t.OutUcastPkts += st.OutUcastPkts
		t.OutDiscards += st.OutDiscards
		t.OutErrors += st.OutErrors
	}
	return t
}

// Account adds traffic counters to a lane.
func (s *Service) Account(laneID int, delta codec.EthStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.lanes[laneID%NbLanes].stats
	st.InOctets += delta.InOctets
	st.InUcastPkts += delta.InUcastPkts
	st.InDiscards += delta.InDiscards
	st.InErrors += delta.InErrors
	st.OutOctets += delta.OutOctets
	st.OutUcastPkts += delta.OutUcastPkts
	st.OutDiscards += delta.OutDiscards
	st.OutErrors += delta.OutErrors
}

// Open opens lane cmd.IfID for the calling cluster. rules, if any, are the hash rules
// announced by cmd.NbRules.
func Open(ctx context.Context, c client.Caller, to transport.Addr, cmd codec.EthOpenCmd, rules []byte) (ack codec.EthOpenAck, e error) {
	return open(ctx, c, to, protocol.EthOpen, cmd, rules)
}

// OpenDefault opens lane cmd.IfID as the fallthrough path for unmatched traffic.
func OpenDefault(ctx context.Context, c client.Caller, to transport.Addr, cmd codec.EthOpenCmd, rules []byte) (ack codec.EthOpenAck, e error) {
	return open(ctx, c, to, protocol.EthOpenDefault, cmd, rules)
}

func open(ctx context.Context, c client.Caller, to transport.Addr, sub protocol.Subtype, cmd codec.EthOpenCmd, rules []byte) (ack codec.EthOpenAck, e error) {
	msg, err := codec.NewCommand(protocol.ClassETH, sub, &cmd)
	if err != nil {
		return ack, err
	}
	if err := msg.SetPayload(rules); err != nil {
		return ack, err
	}
	reply, err := c.Call(ctx, to, msg)
	if err != nil {
		return ack, err
	}
	if err := client.CheckStatus(reply); err != nil {
		return ack, err
	}
	return ack, codec.Unmarshal(reply, &ack)
}

// Close closes a lane opened with Open.
func Close(ctx context.Context, c client.Caller, to transport.Addr, ifID uint8) error {
	_, err := client.Invoke(ctx, c, to, protocol.ClassETH, protocol.EthClose, &codec.EthIfCmd{IfID: ifID}, nil)
	return err
}

// CloseDefault closes a lane opened with OpenDefault.
func CloseDefault(ctx context.Context, c client.Caller, to transport.Addr, ifID uint8) error {
	_, err := client.Invoke(ctx, c, to, protocol.ClassETH, protocol.EthCloseDefault, &codec.EthIfCmd{IfID: ifID}, nil)
	return err
}

func toggle(ctx context.Context, c client.Caller, to transport.Addr, sub protocol.Subtype, ifID uint8, on bool) error {
	cmd := codec.EthToggleCmd{IfID: ifID}
	if on {
		cmd.Enabled = 1
	}
	_, err := client.Invoke(ctx, c, to, protocol.ClassETH, sub, &cmd, nil)
	return err
}

// Promisc switches promiscuous reception on an opened lane.
func Promisc(ctx context.Context, c client.Caller, to transport.Addr, ifID uint8, on bool) error {
	return toggle(ctx, c, to, protocol.EthPromisc, ifID, on)
}

// SetState starts or stops traffic of the calling cluster on an opened lane.
func SetState(ctx context.Context, c client.Caller, to transport.Addr, ifID uint8, on bool) error {
	return toggle(ctx, c, to, protocol.EthState, ifID, on)
}

// DualMAC switches dual-MAC mode, where the fallthrough path keeps the lane MAC and
// regular opens get the MAC with its last bit set.
func DualMAC(ctx context.Context, c client.Caller, to transport.Addr, on bool) error {
	cmd := codec.EthDualMACCmd{}
	if on {
		cmd.Enabled = 1
	}
	_, err := client.Invoke(ctx, c, to, protocol.ClassETH, protocol.EthDualMAC, &cmd, nil)
	return err
}

// GetStat returns the link status of a lane and, with withStats, its counters.
func GetStat(ctx context.Context, c client.Caller, to transport.Addr, ifID uint8, withStats bool) (link uint16, stats *codec.EthStats, e error) {
	cmd := codec.EthGetStatCmd{IfID: ifID}
	if withStats {
		cmd.LinkStats = 1
	}
	var ack codec.EthGetStatAck
	reply, err := client.Invoke(ctx, c, to, protocol.ClassETH, protocol.EthGetStat, &cmd, &ack)
	if err != nil {
		return 0, nil, err
	}
	if withStats {
		stats = &codec.EthStats{}
		if _, err := binary.Decode(reply.Payload, binary.LittleEndian, stats); err != nil {
			return ack.LinkStatus, nil, fmt.Errorf("decode stats: %w", err)
		}
	}
	return ack.LinkStatus, stats, nil
}
