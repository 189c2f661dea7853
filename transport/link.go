package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"noc-rpc/protocol"
)

// LinkConfig contains Link settings.
type LinkConfig struct {
	// Heartbeat is the keepalive interval. Zero disables heartbeats.
	Heartbeat time.Duration
	// RedialMin and RedialMax bound the reconnect backoff.
	RedialMin time.Duration
	RedialMax time.Duration
}

func (cfg *LinkConfig) applyDefaults() {
	if cfg.RedialMin <= 0 {
		cfg.RedialMin = 100 * time.Millisecond
	}
	if cfg.RedialMax < cfg.RedialMin {
		cfg.RedialMax = 10 * time.Second
	}
}

// Link is a Fabric in a remote process, attached to a Bridge over TCP.
// Endpoints opened on the Link live in a local Mesh and are bound on the Bridge, so
// the Bridge side can reach them; sends to any other address cross the connection.
//
// When the connection breaks, the Link redials with exponential backoff and binds
// its endpoints again. Messages sent while disconnected fail with ErrClosed.
type Link struct {
	cfg   LinkConfig
	raddr string
	local *Mesh

	sending sync.Mutex // serializes frame writes
	conn    net.Conn   // protected by sending
	bound   map[Addr]struct{}

	closed atomic.Bool
	done   chan struct{}
}

var _ Fabric = (*Link)(nil)

// Dial connects to a Bridge at raddr.
func Dial(ctx context.Context, raddr string, cfg LinkConfig) (*Link, error) {
	cfg.applyDefaults()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", raddr)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", raddr, err)
	}

	l := &Link{
		cfg:   cfg,
		raddr: raddr,
		local: NewMesh(),
		conn:  conn,
		bound: map[Addr]struct{}{},
		done:  make(chan struct{}),
	}
	go l.recvLoop(conn)
	if cfg.Heartbeat > 0 {
		go l.heartbeatLoop(cfg.Heartbeat)
	}
	return l, nil
}

func (l *Link) write(f frame) error {
	l.sending.Lock()
	defer l.sending.Unlock()
	if l.conn == nil {
		return ErrClosed
	}
	return writeFrame(l.conn, f)
}

func (l *Link) bind(rx Rx) (Rx, error) {
	addr := rx.Addr()
	l.sending.Lock()
	l.bound[addr] = struct{}{}
	l.sending.Unlock()
	if err := l.write(frame{kind: frameBind, addr: addr}); err != nil {
		logger.Warn("bind deferred until reconnect", zap.Stringer("addr", addr), zap.Error(err))
	}
	return &linkPort{Rx: rx, link: l}, nil
}

// Open implements Fabric.
func (l *Link) Open(addr Addr, depth int) (Rx, error) {
	rx, err := l.local.Open(addr, depth)
	if err != nil {
		return nil, err
	}
	return l.bind(rx)
}

// Alloc implements Fabric. Uniqueness is only enforced within this process.
func (l *Link) Alloc(dma uint8, depth int) (Rx, error) {
	rx, err := l.local.Alloc(dma, depth)
	if err != nil {
		return nil, err
	}
	return l.bind(rx)
}

// Send implements Fabric.
func (l *Link) Send(to Addr, msg *protocol.Message) error {
	if l.local.serves(to) {
		return l.local.Send(to, msg)
	}
	if err := l.write(frame{kind: frameData, addr: to, msg: msg}); err != nil {
		return fmt.Errorf("send %s: %w", to, err)
	}
	return nil
}

type linkPort struct {
	Rx
	link *Link
}

func (p *linkPort) Close() error {
	addr := p.Addr()
	p.link.sending.Lock()
	delete(p.link.bound, addr)
	p.link.sending.Unlock()
	_ = p.link.write(frame{kind: frameUnbind, addr: addr})
	return p.Rx.Close()
}

// recvLoop reads frames sequentially and delivers data frames locally.
func (l *Link) recvLoop(conn net.Conn) {
	for {
		f, err := readFrame(conn)
		if err != nil {
			if l.closed.Load() {
				return
			}
			logger.Warn("bridge connection lost", zap.String("remote", l.raddr), zap.Error(err))
			if conn = l.redial(); conn == nil {
				return
			}
			continue
		}
		if f.kind != frameData {
			continue
		}
		if err := l.local.Send(f.addr, f.msg); err != nil {
			logger.Debug("drop", zap.Stringer("addr", f.addr), zap.Error(err))
		}
	}
}

// redial replaces the connection and rebinds endpoints. It returns nil once the Link is closed.
func (l *Link) redial() net.Conn {
	l.sending.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.sending.Unlock()

	b := &backoff.Backoff{
		Min:    l.cfg.RedialMin,
		Max:    l.cfg.RedialMax,
		Factor: 2,
		Jitter: true,
	}
	for {
		select {
		case <-l.done:
			return nil
		case <-time.After(b.Duration()):
		}
		conn, err := net.Dial("tcp", l.raddr)
		if err != nil {
			logger.Debug("redial failed", zap.Float64("attempt", b.Attempt()), zap.Error(err))
			continue
		}

		l.sending.Lock()
		if l.closed.Load() {
			l.sending.Unlock()
			conn.Close()
			return nil
		}
		l.conn = conn
		for addr := range l.bound {
			if err := writeFrame(conn, frame{kind: frameBind, addr: addr}); err != nil {
				logger.Warn("rebind failed", zap.Stringer("addr", addr), zap.Error(err))
			}
		}
		l.sending.Unlock()
		logger.Info("bridge reconnected", zap.String("remote", l.raddr), zap.Float64("attempts", b.Attempt()))
		return conn
	}
}

func (l *Link) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_ = l.write(frame{kind: frameHeartbeat})
		}
	}
}

// Close disconnects from the Bridge and stops reconnecting.
func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.done)
	l.sending.Lock()
	defer l.sending.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
