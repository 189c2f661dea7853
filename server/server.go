// Package server implements the RPC server of an I/O controller.
//
// The server owns one rx endpoint per possible sender, indexed by dense cluster id, and
// a matching answer buffer, so serving a command allocates nothing:
//
//	rx[d] (IODMAID(port, d), IOTagID(d)) ─Poll→ ack?  ──yes→ AckSink (local client)
//	                                              │no
//	                                              ▼
//	                          middleware chain → registry.Dispatch → handler
//	                                              │
//	                        answers[d] ─Send→ (msg.DMA, msg.Tag)
//
// Endpoints are polled round-robin, one message per endpoint per pass, so a chatty
// sender cannot starve the others. Between empty passes the loop spins with bounded
// backoff; it never parks.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/discovery"
	"noc-rpc/middleware"
	"noc-rpc/protocol"
	"noc-rpc/registry"
	"noc-rpc/spin"
	"noc-rpc/transport"
)

// ErrNotStarted is returned by Serve and PollOnce before Start.
var ErrNotStarted = errors.New("server: not started")

// Config contains Server settings.
type Config struct {
	Name   string         // controller name, published in the directory
	Port   cluster.Port   // which I/O controller this server runs on
	Layout cluster.Layout // board layout used to compute rx addresses
	Depth  int            // rx queue depth per sender, zero for default

	// Directory, when set, receives a Controller record on Start and loses it on Shutdown.
	Directory discovery.Directory
	// Bridge is the TCP address published with the Controller record.
	Bridge string
	// TTL of the directory record in seconds.
	TTL int64
}

// AckSink receives acks that arrive on server endpoints, i.e. answers to commands
// the controller itself sent as a client.
type AckSink interface {
	Deliver(msg *protocol.Message) bool
}

// Server is an RPC server. Register services, then Start, then Serve.
type Server struct {
	cfg         Config
	fabric      transport.Fabric
	reg         *registry.Registry
	middlewares []middleware.Middleware
	handler     registry.Handler
	acks        AckSink

	rx      [cluster.MaxClients]transport.Rx
	answers [cluster.MaxClients]protocol.Message
	reqs    [cluster.MaxClients]registry.Request
	next    int // first endpoint of the next pass

	stats    loadStat
	started  atomic.Bool
	shutdown atomic.Bool
	serving  sync.WaitGroup
	mu       sync.Mutex // serializes PollOnce
}

// New creates a Server on fabric. reg may be nil for an empty registry.
func New(cfg Config, fabric transport.Fabric, reg *registry.Registry) *Server {
	if reg == nil {
		reg = registry.New()
	}
	svr := &Server{cfg: cfg, fabric: fabric, reg: reg}
	for d := range svr.answers {
		svr.answers[d].Payload = make([]byte, 0, protocol.MaxPayload)
	}
	return svr
}

// Registry returns the server's handler registry.
func (svr *Server) Registry() *registry.Registry {
	return svr.reg
}

// SetAckSink routes incoming acks to sink. It must be called before Start.
func (svr *Server) SetAckSink(sink AckSink) {
	svr.acks = sink
}

// Addr returns the endpoint address that receives commands from cluster id.
func (svr *Server) Addr(id cluster.ID) transport.Addr {
	return transport.Addr{
		DMA: uint8(svr.cfg.Layout.IODMAID(svr.cfg.Port, id)),
		Tag: uint8(svr.cfg.Layout.IOTagID(id)),
	}
}

// Start freezes the registry, opens one endpoint per sender and publishes the server
// in the directory.
func (svr *Server) Start(ctx context.Context) error {
	if svr.started.Load() {
		return nil
	}
	if svr.cfg.Port != cluster.North && svr.cfg.Port != cluster.South {
		return fmt.Errorf("server: invalid port %s", svr.cfg.Port)
	}

	svr.reg.Freeze()
	svr.handler = middleware.Chain(svr.middlewares...)(svr.reg.Dispatch)

	for d := range svr.rx {
		rx, err := svr.fabric.Open(svr.Addr(cluster.Dense(d).Undensify()), svr.cfg.Depth)
		if err != nil {
			return multierr.Append(fmt.Errorf("open rx for sender %d: %w", d, err), svr.closeEndpoints())
		}
		svr.rx[d] = rx
	}

	if svr.cfg.Directory != nil {
		c := discovery.Controller{
			Name:   svr.cfg.Name,
			Port:   svr.cfg.Port,
			DMA:    svr.cfg.Layout.IODMAID(svr.cfg.Port, 0),
			Bridge: svr.cfg.Bridge,
		}
		if svr.cfg.Layout.SingleDMA {
			c.Layout = "explorer"
		}
		if err := svr.cfg.Directory.Register(ctx, c, svr.cfg.TTL); err != nil {
			return multierr.Append(fmt.Errorf("register controller: %w", err), svr.closeEndpoints())
		}
	}

	svr.started.Store(true)
	logger.Info("server started",
		zap.String("name", svr.cfg.Name),
		zap.Stringer("port", svr.cfg.Port),
		zap.Int("classes", len(svr.reg.Entries())),
	)
	return nil
}

// Serve runs the receive→dispatch→ack loop until ctx is canceled or Shutdown is called.
func (svr *Server) Serve(ctx context.Context) error {
	if !svr.started.Load() {
		return ErrNotStarted
	}
	svr.serving.Add(1)
	defer svr.serving.Done()

	var sp spin.Spinner
	for !svr.shutdown.Load() {
		if ctx.Err() != nil {
			return nil
		}
		n, err := svr.PollOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			sp.Spin()
			continue
		}
		sp.Reset()
	}
	return nil
}

// PollOnce makes one fair pass over the endpoints, serving at most one message from each.
// It returns the number of messages processed.
func (svr *Server) PollOnce(ctx context.Context) (n int, e error) {
	if !svr.started.Load() {
		return 0, ErrNotStarted
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()

	start := svr.next
	svr.next = (svr.next + 1) % len(svr.rx)
	for i := range svr.rx {
		d := (start + i) % len(svr.rx)
		rx := svr.rx[d]
		if rx == nil {
			continue
		}
		msg, ok := rx.Poll()
		if !ok {
			continue
		}
		n++
		svr.process(ctx, cluster.Dense(d), msg)
	}
	svr.stats.record(n)
	return n, nil
}

func (svr *Server) process(ctx context.Context, d cluster.Dense, msg *protocol.Message) {
	if msg.Flags.Ack() {
		svr.stats.acks.Add(1)
		if svr.acks == nil || !svr.acks.Deliver(msg) {
			logger.Debug("stray ack dropped", zap.Int("sender", int(d)), zap.Stringer("msg", msg))
		}
		return
	}

	req := &svr.reqs[d]
	req.Sender, req.Msg, req.Answer = d, msg, &svr.answers[d]
	req.Answer.Answer(msg)

	if err := svr.handler(ctx, req); err != nil {
		svr.stats.errors.Add(1)
		code := protocol.CodeOf(err)
		logger.Warn("command failed",
			zap.Int("sender", int(d)),
			zap.Stringer("msg", msg),
			zap.Error(err),
		)
		req.Answer.Answer(msg)
		codec.Fail(req.Answer, "[RPC]", "%s", describe(code, msg))
		req.Answer.Flags = req.Answer.Flags.WithCode(code)
	}

	if err := svr.Ack(req); err != nil {
		logger.Warn("ack not delivered", zap.Int("sender", int(d)), zap.Error(err))
	}
}

func describe(code protocol.Code, msg *protocol.Message) string {
	switch code {
	case protocol.CodeBadClass:
		return fmt.Sprintf("Message has unsupported Class of Service %d", msg.Class)
	case protocol.CodeBadSubtype:
		return fmt.Sprintf("Message has subtype %d for Class of Service %d", msg.Subtype, msg.Class)
	case protocol.CodeVersionMismatch:
		return fmt.Sprintf("Message has a different CoS Version: %d", msg.Version)
	case protocol.CodeTimeout:
		return "Timeout while handling RPC message"
	}
	return "Internal error while handling RPC message"
}

// Ack sends req.Answer to the sender of req.Msg.
func (svr *Server) Ack(req *registry.Request) error {
	to := transport.Addr{DMA: req.Msg.DMA, Tag: req.Msg.Tag}
	if err := svr.fabric.Send(to, req.Answer); err != nil {
		return err
	}
	svr.stats.answers.Add(1)
	return nil
}

// Shutdown deregisters the server, stops Serve loops, waits for them up to ctx's
// deadline and closes the endpoints.
func (svr *Server) Shutdown(ctx context.Context) (e error) {
	if svr.cfg.Directory != nil && svr.started.Load() {
		e = multierr.Append(e, svr.cfg.Directory.Deregister(ctx, svr.cfg.Name))
	}
	svr.shutdown.Store(true)

	done := make(chan struct{})
	go func() {
		svr.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return multierr.Append(e, fmt.Errorf("timeout waiting for serve loop to exit: %w", ctx.Err()))
	}

	svr.mu.Lock()
	defer svr.mu.Unlock()
	e = multierr.Append(e, svr.closeEndpoints())
	svr.started.Store(false)
	logger.Info("server stopped", zap.String("name", svr.cfg.Name))
	return e
}

func (svr *Server) closeEndpoints() (e error) {
	for d, rx := range svr.rx {
		if rx != nil {
			e = multierr.Append(e, rx.Close())
			svr.rx[d] = nil
		}
	}
	return e
}
