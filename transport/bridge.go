package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"noc-rpc/protocol"
)

// Bridge exposes a Mesh to other processes. Each accepted connection may bind addresses;
// messages sent on the Mesh to a bound address are written to that connection, and data
// frames read from it are delivered on the Mesh.
type Bridge struct {
	mesh     *Mesh
	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewBridge creates a Bridge serving mesh.
func NewBridge(mesh *Mesh) *Bridge {
	return &Bridge{
		mesh:  mesh,
		conns: map[net.Conn]struct{}{},
	}
}

// Serve accepts connections on ln until Close is called.
func (b *Bridge) Serve(ln net.Listener) error {
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if b.shutdown.Load() {
				return nil
			}
			return err
		}
		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.handleConn(conn)
	}
}

func (b *Bridge) handleConn(conn net.Conn) {
	defer b.wg.Done()
	logEntry := logger.With(zap.Stringer("peer", conn.RemoteAddr()))
	logEntry.Info("bridge peer connected")

	writeMu := &sync.Mutex{}
	bound := map[Addr]struct{}{}
	sink := func(to Addr, msg *protocol.Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return writeFrame(conn, frame{kind: frameData, addr: to, msg: msg})
	}

	defer func() {
		for addr := range bound {
			b.mesh.Route(addr, nil)
		}
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		f, err := readFrame(conn)
		if err != nil {
			if !b.shutdown.Load() {
				logEntry.Info("bridge peer disconnected", zap.Error(err))
			}
			return
		}
		switch f.kind {
		case frameHeartbeat:
		case frameBind:
			bound[f.addr] = struct{}{}
			b.mesh.Route(f.addr, sink)
			logEntry.Debug("bind", zap.Stringer("addr", f.addr))
		case frameUnbind:
			delete(bound, f.addr)
			b.mesh.Route(f.addr, nil)
		case frameData:
			if err := b.mesh.Send(f.addr, f.msg); err != nil {
				logEntry.Warn("forward failed", zap.Stringer("addr", f.addr), zap.Error(err))
			}
		}
	}
}

// Addr returns the listening address, or nil before Serve.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Close stops accepting, closes every peer connection and waits for their handlers.
func (b *Bridge) Close() (e error) {
	b.shutdown.Store(true)
	b.mu.Lock()
	if b.listener != nil {
		if err := b.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			e = multierr.Append(e, err)
		}
	}
	for conn := range b.conns {
		e = multierr.Append(e, conn.Close())
	}
	b.mu.Unlock()
	b.wg.Wait()
	return e
}
