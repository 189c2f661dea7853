// Package cluster derives NoC addressing from cluster identifiers.
//
// Hardware cluster ids are sparse: compute clusters are 0..15 and the I/O controllers
// expose four addressable DMA interfaces each at 128..131 (north) and 192..195 (south).
// Densifying folds the two I/O blocks right after the compute clusters:
//
//	id     0 ... 15 | 128 129 130 131 | 192 193 194 195
//	dense  0 ... 15 |  16  17  18  19 |  20  21  22  23
//
// Every other value is derived from the dense id with integer arithmetic, so any two
// subsystems computing an address for the same cluster agree without coordination.
// None of these functions validate their input; callers pass ids from the ranges above.
package cluster

import "fmt"

// ID is a raw hardware cluster identifier.
type ID int

// Dense is a gap-free cluster index in [0, MaxClients).
type Dense int

// Cluster ranges and NoC constants.
const (
	NbCompute  = 16  // compute clusters 0..NbCompute-1
	NorthBase  = 128 // first north I/O interface id
	SouthBase  = 192 // first south I/O interface id
	NbIOIf     = 4   // addressable interfaces per I/O controller
	MaxClients = NbCompute + 2*NbIOIf

	NbDMA      = 4   // DMA engines per I/O controller
	NorthDMA   = 160 // DMA id of the first north I/O engine
	SouthDMA   = 224 // DMA id of the first south I/O engine
	RxBase     = 192 // first receive tag reserved for RPC on the I/O controller
	IfBase     = 4   // local index of the first DMA interface serving RPC on an I/O controller
	InvalidDMA = -1
)

// Port selects one of the two I/O controllers.
type Port int

// I/O controller ports.
const (
	North Port = 0
	South Port = 1
)

func (p Port) String() string {
	switch p {
	case North:
		return "north"
	case South:
		return "south"
	}
	return fmt.Sprintf("port(%d)", int(p))
}

// Valid reports whether id belongs to one of the addressable ranges.
func (id ID) Valid() bool {
	return (id >= 0 && id < NbCompute) ||
		(id >= NorthBase && id < NorthBase+NbIOIf) ||
		(id >= SouthBase && id < SouthBase+NbIOIf)
}

// Densify maps a cluster id to its dense index. Ids outside the I/O blocks are unchanged.
func (id ID) Densify() Dense {
	switch {
	case id >= NorthBase && id < NorthBase+NbIOIf:
		return Dense(NbCompute + int(id-NorthBase))
	case id >= SouthBase && id < SouthBase+NbIOIf:
		return Dense(NbCompute + NbIOIf + int(id-SouthBase))
	}
	return Dense(id)
}

// Undensify is the inverse of Densify.
func (d Dense) Undensify() ID {
	switch {
	case d >= NbCompute && d < NbCompute+NbIOIf:
		return ID(NorthBase + int(d-NbCompute))
	case d >= NbCompute+NbIOIf && d < NbCompute+2*NbIOIf:
		return ID(SouthBase + int(d-NbCompute-NbIOIf))
	}
	return ID(d)
}

// Densify maps a cluster id to its dense index.
func Densify(id ID) Dense { return id.Densify() }

// Undensify maps a dense index back to its cluster id.
func Undensify(d Dense) ID { return d.Undensify() }

// Layout describes how many DMA engines a board exposes to RPC traffic.
type Layout struct {
	// SingleDMA is set on boards where only one I/O DMA engine serves clusters.
	// Traffic then always uses engine 0 and each cluster gets its own tag.
	SingleDMA bool
}

// Board layouts.
var (
	Default  = Layout{}
	Explorer = Layout{SingleDMA: true}
)

// DMAOffset returns which I/O DMA engine id should address.
func (l Layout) DMAOffset(id ID) int {
	if l.SingleDMA {
		return 0
	}
	return (int(id.Densify()) / 4) % NbDMA
}

// TagOffset returns the receive tag group of id on its I/O DMA engine.
func (l Layout) TagOffset(id ID) int {
	d := int(id.Densify())
	if l.SingleDMA {
		return d
	}
	return (d/16)*4 + d%4
}

// IODMAID returns the DMA id of the I/O controller on port as seen from id,
// or InvalidDMA for an unknown port.
func (l Layout) IODMAID(port Port, id ID) int {
	off := l.DMAOffset(id)
	switch port {
	case North:
		return NorthDMA + off
	case South:
		return SouthDMA + off
	}
	return InvalidDMA
}

// IOTagID returns the receive tag the I/O controller listens on for messages from id.
func (l Layout) IOTagID(id ID) int {
	return RxBase + l.TagOffset(id)
}

// LocalInterface returns the I/O controller's local DMA interface that receives
// messages from id.
func (l Layout) LocalInterface(id ID) int {
	return l.IODMAID(North, id) - NorthDMA + IfBase
}

// SenderOf returns the dense id of the cluster whose messages arrive on the I/O
// controller's local interface localIf with receive tag tag.
func (l Layout) SenderOf(localIf, tag int) Dense {
	t := tag - RxBase
	if l.SingleDMA {
		return Dense(t)
	}
	return Dense(4*(localIf-IfBase) + t/4*16 + t%4)
}

// DMAOffset uses the Default layout.
func DMAOffset(id ID) int { return Default.DMAOffset(id) }

// TagOffset uses the Default layout.
func TagOffset(id ID) int { return Default.TagOffset(id) }

// IODMAID uses the Default layout.
func IODMAID(port Port, id ID) int { return Default.IODMAID(port, id) }

// IOTagID uses the Default layout.
func IOTagID(id ID) int { return Default.IOTagID(id) }

// ExternalAddress returns the NoC address of the localIf-th DMA interface of cluster self.
// Interfaces 4 and above live on the second half of an I/O controller.
func (l Layout) ExternalAddress(self ID, localIf int) ID {
	base := int(self)/64*64 + int(self)%32
	if l.SingleDMA {
		localIf %= 4
	}
	if localIf >= 4 {
		return ID(base + 32 + localIf - 4)
	}
	return ID(base + localIf)
}

// IOPortOf returns the I/O controller port that owns the DMA id dma, if any.
func IOPortOf(dma int) (Port, bool) {
	switch {
	case dma >= NorthDMA && dma < NorthDMA+NbDMA:
		return North, true
	case dma >= SouthDMA && dma < SouthDMA+NbDMA:
		return South, true
	}
	return 0, false
}

// All returns every valid cluster id in dense order.
func All() []ID {
	ids := make([]ID, MaxClients)
	for d := range ids {
		ids[d] = Dense(d).Undensify()
	}
	return ids
}
