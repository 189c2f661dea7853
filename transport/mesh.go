package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"noc-rpc/protocol"
	"noc-rpc/ring"
)

// Sink receives messages for addresses served outside the Mesh, e.g. by a bridge link.
type Sink func(to Addr, msg *protocol.Message) error

// Mesh is an in-process Fabric. Each endpoint is a lock-free ring of messages, so any
// number of goroutines may send while the owner polls. An endpoint depth of zero or
// less selects ring.DefaultCapacity-1 slots.
type Mesh struct {
	mu     sync.RWMutex
	ports  map[Addr]*port
	routes map[Addr]Sink

	sent    atomic.Uint64
	dropped atomic.Uint64
}

var _ Fabric = (*Mesh)(nil)

// NewMesh creates an empty Mesh.
func NewMesh() *Mesh {
	return &Mesh{
		ports:  map[Addr]*port{},
		routes: map[Addr]Sink{},
	}
}

type port struct {
	mesh *Mesh
	addr Addr
	q    *ring.Ring[*protocol.Message]
	buf  [1]*protocol.Message
}

func (p *port) Addr() Addr {
	return p.addr
}

// Poll is called by the endpoint owner only.
func (p *port) Poll() (*protocol.Message, bool) {
	if n, _ := p.q.PopMulti(p.buf[:]); n == 0 {
		return nil, false
	}
	msg := p.buf[0]
	p.buf[0] = nil
	return msg, true
}

func (p *port) Close() error {
	return p.mesh.Close(p.addr)
}

func (m *Mesh) newPort(addr Addr, depth int) (*port, error) {
	size := ring.DefaultCapacity
	if depth > 0 {
		size = ring.AlignCapacity(depth + 1)
	}
	q, err := ring.New[*protocol.Message](ring.Config{Size: size})
	if err != nil {
		return nil, err
	}
	return &port{mesh: m, addr: addr, q: q}, nil
}

// Open implements Fabric.
func (m *Mesh) Open(addr Addr, depth int) (Rx, error) {
	p, err := m.newPort(addr, depth)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ports[addr]; ok {
		return nil, fmt.Errorf("open %s: %w", addr, ErrInUse)
	}
	m.ports[addr] = p
	logger.Debug("endpoint opened", zap.Stringer("addr", addr), zap.Int("depth", p.q.Capacity()))
	return p, nil
}

// Alloc implements Fabric. Tags are scanned from the top down, leaving the low
// tags for fixed endpoints.
func (m *Mesh) Alloc(dma uint8, depth int) (Rx, error) {
	p, err := m.newPort(Addr{DMA: dma}, depth)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for tag := 255; tag >= 0; tag-- {
		addr := Addr{dma, uint8(tag)}
		if _, used := m.ports[addr]; used {
			continue
		}
		p.addr = addr
		m.ports[addr] = p
		logger.Debug("endpoint allocated", zap.Stringer("addr", addr))
		return p, nil
	}
	return nil, fmt.Errorf("alloc on dma %d: %w", dma, ErrNoTag)
}

// Close removes the endpoint at addr. Queued messages are discarded.
func (m *Mesh) Close(addr Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ports[addr]; !ok {
		return fmt.Errorf("close %s: %w", addr, ErrNoEndpoint)
	}
	delete(m.ports, addr)
	return nil
}

// Route forwards messages for addr, when no local endpoint exists there, to sink.
// A nil sink removes the route.
func (m *Mesh) Route(addr Addr, sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sink == nil {
		delete(m.routes, addr)
		return
	}
	m.routes[addr] = sink
}

func (m *Mesh) serves(addr Addr) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ports[addr]
	return ok
}

// Send implements Fabric. Local endpoints take precedence over routes.
// Local endpoints receive the first DataLen bytes of the payload, as a bridged peer would.
func (m *Mesh) Send(to Addr, msg *protocol.Message) error {
	if err := msg.CheckDataLen(); err != nil {
		m.dropped.Add(1)
		return fmt.Errorf("send %s: %w", to, err)
	}

	m.mu.RLock()
	p, local := m.ports[to]
	sink := m.routes[to]
	m.mu.RUnlock()

	switch {
	case local:
		cp := msg.Clone()
		cp.Payload = cp.Payload[:cp.DataLen]
		if !p.q.TryPushMulti([]*protocol.Message{cp}) {
			m.dropped.Add(1)
			return fmt.Errorf("send %s: %w", to, ErrQueueFull)
		}
	case sink != nil:
		if err := sink(to, msg); err != nil {
			m.dropped.Add(1)
			return err
		}
	default:
		m.dropped.Add(1)
		return fmt.Errorf("send %s: %w", to, ErrNoEndpoint)
	}
	m.sent.Add(1)
	return nil
}

// Counters returns the number of messages delivered and refused.
func (m *Mesh) Counters() (sent, dropped uint64) {
	return m.sent.Load(), m.dropped.Load()
}
