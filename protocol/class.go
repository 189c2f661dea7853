package protocol

import "fmt"

// Class identifies a class of service.
type Class uint8

// Classes of service.
const (
	ClassBAS Class = iota // basic: ping
	ClassETH              // Ethernet lanes of the I/O controller
	ClassPCIE             // PCIe host interfaces
	ClassC2C              // cluster to cluster links
	ClassRND              // random numbers generated on the I/O controller
	ClassFP               // fast path command line mailbox
	NbClass
)

// Subtype identifies a command within a class of service.
type Subtype uint8

// BAS subtypes.
const (
	BasInvalid Subtype = iota
	BasPing
	nbBas
)

// ETH subtypes.
const (
	EthOpen Subtype = iota
	EthClose
	EthPromisc
	EthOpenDefault
	EthCloseDefault
	EthDualMAC
	EthState
	EthGetStat
	nbEth
)

// PCIE subtypes.
const (
	PcieOpen Subtype = iota
	PcieClose
	nbPcie
)

// C2C subtypes.
const (
	C2COpen Subtype = iota
	C2CClose
	C2CQuery
	nbC2C
)

// RND subtypes.
const (
	RndGet Subtype = iota
	nbRnd
)

// FP subtypes.
const (
	FpCLI Subtype = iota
	nbFp
)

type classInfo struct {
	name       string
	version    uint16
	nbSubtypes Subtype
}

var classes = [NbClass]classInfo{
	ClassBAS:  {"BAS", 0x2, nbBas},
	ClassETH:  {"ETH", 0x4, nbEth},
	ClassPCIE: {"PCIE", 0x2, nbPcie},
	ClassC2C:  {"C2C", 0x2, nbC2C},
	ClassRND:  {"RND", 0x2, nbRnd},
	ClassFP:   {"FP", 0x2, nbFp},
}

// Known reports whether c is a defined class of service.
func (c Class) Known() bool {
	return c < NbClass
}

// Version returns the protocol version of the class, or 0 for an unknown class.
func (c Class) Version() uint16 {
	if !c.Known() {
		return 0
	}
	return classes[c].version
}

// NbSubtypes returns how many subtypes the class defines.
func (c Class) NbSubtypes() Subtype {
	if !c.Known() {
		return 0
	}
	return classes[c].nbSubtypes
}

func (c Class) String() string {
	if !c.Known() {
		return fmt.Sprintf("class(%d)", uint8(c))
	}
	return classes[c].name
}
