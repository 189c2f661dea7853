package codec

import (
	"unsafe"

	"noc-rpc/protocol"
)

// RawInline is the inline area of a command without a dedicated variant.
type RawInline struct {
	Data [protocol.InlineSize]byte
}

// AckInline is the generic ack: a status byte then 31 bytes of class data.
type AckInline struct {
	Status uint8
	Data   [protocol.InlineSize - 1]byte
}

// EthOpenFlags are the option bits of EthOpenCmd.
type EthOpenFlags uint8

const (
	EthLoopback EthOpenFlags = 1 << iota // no MAC, frames looped back
	EthRx                                // eth to cluster traffic
	EthTx                                // cluster to eth traffic
	EthJumbo                             // jumbo frames, 40G only
	EthVerbose                           // firmware logs lane configuration
)

// EthOpenCmd opens a lane, or the fallthrough path with EthOpenDefault.
type EthOpenCmd struct {
	IfID       uint8 // lane 0..3, 4 for 40G
	DMAIf      uint8 // external address of the cluster DMA
	MinRx      uint8
	MaxRx      uint8
	Flags      EthOpenFlags
	NbRules    uint8 // hash rules carried in the payload
	MinPayload uint8 // 0 means default
	MaxPayload uint8 // 0 means default
	_          [24]byte
}

// EthIfCmd carries only a lane: EthClose and EthCloseDefault.
type EthIfCmd struct {
	IfID uint8
	_    [31]byte
}

// EthToggleCmd is used by EthPromisc and EthState.
type EthToggleCmd struct {
	IfID    uint8
	Enabled uint8
	_       [30]byte
}

// EthDualMACCmd enables dual-MAC mode.
type EthDualMACCmd struct {
	Enabled uint8
	_       [31]byte
}

// EthGetStatCmd requests link status and, with LinkStats set, the counters.
type EthGetStatCmd struct {
	IfID      uint8
	LinkStats uint8
	_         [30]byte
}

// EthOpenAck answers EthOpen and EthOpenDefault.
type EthOpenAck struct {
	Status  uint8
	_       uint8
	TxIf    uint16 // I/O controller DMA id
	TxTag   uint8  // I/O controller rx tag
	MAC     [6]byte
	_       uint8
	MTU     uint16
	_       [2]byte
	LbTsOff uint64 // loopback timestamp offset
	_       [8]byte
}

// EthGetStatAck answers EthGetStat.
type EthGetStatAck struct {
	Status     uint8
	_          uint8
	LinkStatus uint16
	_          [28]byte
}

// EthStats is the payload of an EthGetStat ack when counters are requested.
type EthStats struct {
	InOctets     uint64
	InUcastPkts  uint64
	InDiscards   uint64
	InErrors     uint64
	OutOctets    uint64
	OutUcastPkts uint64
	OutDiscards  uint64
	OutErrors    uint64
}

// EthStatsSize is the encoded size of EthStats.
const EthStatsSize = int(unsafe.Sizeof(EthStats{}))

// PcieOpenCmd forwards host traffic of a PCIe interface to a cluster.
type PcieOpenCmd struct {
	PktSize     uint16
	PcieEthIfID uint8
	MinRx       uint8
	MaxRx       uint8
	CnocRx      uint8
	_           [26]byte
}

// PcieCloseCmd stops forwarding.
type PcieCloseCmd struct {
	IfID uint8
	_    [31]byte
}

// PcieOpenAck answers PcieOpen.
type PcieOpenAck struct {
	Status   uint8
	_        uint8
	TxIf     uint16
	MinTxTag uint8
	MaxTxTag uint8
	MAC      [6]byte
	MTU      uint16
	_        [18]byte
}

// C2CFlags are the direction bits of C2COpenCmd.
type C2CFlags uint8

const (
	C2CRx C2CFlags = 1 << iota
	C2CTx
)

// C2COpenCmd declares the sender ready to exchange with ClusterID.
type C2COpenCmd struct {
	ClusterID uint8
	MinRx     uint8
	MaxRx     uint8
	Flags     C2CFlags
	CnocRx    uint8
	_         uint8
	MTU       uint16
	_         [24]byte
}

// C2CClusterCmd names the peer of C2CClose and C2CQuery.
type C2CClusterCmd struct {
	ClusterID uint8
	_         [31]byte
}

// C2CQueryFlags are the state bits of C2CQueryAck.
type C2CQueryFlags uint8

const (
	C2CClosed C2CQueryFlags = 1 << iota // peer has not opened toward the sender
	C2CEAcces                           // peer refuses reception from the sender
)

// C2CQueryAck answers C2CQuery with the peer's receive configuration.
type C2CQueryAck struct {
	Status uint8
	Flags  C2CQueryFlags
	MinRx  uint8
	MaxRx  uint8
	CnocRx uint8
	_      uint8
	MTU    uint16
	_      [24]byte
}

// RndCmd asks for Len random bytes, returned in RndAck.
type RndCmd struct {
	Data [31]byte
	Len  uint8
}

// RndAck carries up to 31 random bytes.
type RndAck struct {
	Status uint8
	Data   [31]byte
}

func (*RawInline) inline()     {}
func (*AckInline) inline()     {}
func (*EthOpenCmd) inline()    {}
func (*EthIfCmd) inline()      {}
func (*EthToggleCmd) inline()  {}
func (*EthDualMACCmd) inline() {}
func (*EthGetStatCmd) inline() {}
func (*EthOpenAck) inline()    {}
func (*EthGetStatAck) inline() {}
func (*PcieOpenCmd) inline()   {}
func (*PcieCloseCmd) inline()  {}
func (*PcieOpenAck) inline()   {}
func (*C2COpenCmd) inline()    {}
func (*C2CClusterCmd) inline() {}
func (*C2CQueryAck) inline()   {}
func (*RndCmd) inline()        {}
func (*RndAck) inline()        {}

// Every variant must be exactly InlineSize bytes: either array length below goes
// negative (or overflows) otherwise.
var (
	_ [protocol.InlineSize - unsafe.Sizeof(RawInline{})]byte
	_ [unsafe.Sizeof(RawInline{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(AckInline{})]byte
	_ [unsafe.Sizeof(AckInline{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(EthOpenCmd{})]byte
	_ [unsafe.Sizeof(EthOpenCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(EthIfCmd{})]byte
	_ [unsafe.Sizeof(EthIfCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(EthToggleCmd{})]byte
	_ [unsafe.Sizeof(EthToggleCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(EthDualMACCmd{})]byte
	_ [unsafe.Sizeof(EthDualMACCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(EthGetStatCmd{})]byte
	_ [unsafe.Sizeof(EthGetStatCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(EthOpenAck{})]byte
	_ [unsafe.Sizeof(EthOpenAck{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(EthGetStatAck{})]byte
	_ [unsafe.Sizeof(EthGetStatAck{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(PcieOpenCmd{})]byte
	_ [unsafe.Sizeof(PcieOpenCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(PcieCloseCmd{})]byte
	_ [unsafe.Sizeof(PcieCloseCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(PcieOpenAck{})]byte
	_ [unsafe.Sizeof(PcieOpenAck{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(C2COpenCmd{})]byte
	_ [unsafe.Sizeof(C2COpenCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(C2CClusterCmd{})]byte
	_ [unsafe.Sizeof(C2CClusterCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(C2CQueryAck{})]byte
	_ [unsafe.Sizeof(C2CQueryAck{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(RndCmd{})]byte
	_ [unsafe.Sizeof(RndCmd{}) - protocol.InlineSize]byte
	_ [protocol.InlineSize - unsafe.Sizeof(RndAck{})]byte
	_ [unsafe.Sizeof(RndAck{}) - protocol.InlineSize]byte
)

func init() {
	cmd := func(c protocol.Class, s protocol.Subtype) Key { return Key{c, s, false} }
	ack := func(c protocol.Class, s protocol.Subtype) Key { return Key{c, s, true} }

	register[EthOpenCmd](cmd(protocol.ClassETH, protocol.EthOpen), cmd(protocol.ClassETH, protocol.EthOpenDefault))
	register[EthIfCmd](cmd(protocol.ClassETH, protocol.EthClose), cmd(protocol.ClassETH, protocol.EthCloseDefault))
	register[EthToggleCmd](cmd(protocol.ClassETH, protocol.EthPromisc), cmd(protocol.ClassETH, protocol.EthState))
	register[EthDualMACCmd](cmd(protocol.ClassETH, protocol.EthDualMAC))
	register[EthGetStatCmd](cmd(protocol.ClassETH, protocol.EthGetStat))
	register[EthOpenAck](ack(protocol.ClassETH, protocol.EthOpen), ack(protocol.ClassETH, protocol.EthOpenDefault))
	register[EthGetStatAck](ack(protocol.ClassETH, protocol.EthGetStat))

	register[PcieOpenCmd](cmd(protocol.ClassPCIE, protocol.PcieOpen))
	register[PcieCloseCmd](cmd(protocol.ClassPCIE, protocol.PcieClose))
	register[PcieOpenAck](ack(protocol.ClassPCIE, protocol.PcieOpen))

	register[C2COpenCmd](cmd(protocol.ClassC2C, protocol.C2COpen))
	register[C2CClusterCmd](cmd(protocol.ClassC2C, protocol.C2CClose), cmd(protocol.ClassC2C, protocol.C2CQuery))
	register[C2CQueryAck](ack(protocol.ClassC2C, protocol.C2CQuery))

	register[RndCmd](cmd(protocol.ClassRND, protocol.RndGet))
	register[RndAck](ack(protocol.ClassRND, protocol.RndGet))
}
