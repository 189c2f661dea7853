// Package client implements the RPC client of a cluster.
//
// A Client owns one reply endpoint on the cluster's own DMA interface. Query stamps that
// endpoint into the command header so the server knows where to answer, and WaitAck
// busy-polls it for the matching ack:
//
//	Query ──Send→ server rx (IODMAID, IOTagID)
//	                │
//	WaitAck ◀─Poll─ reply rx (cluster id, allocated tag) ◀── server Ack
//	        ◀─Poll─ inbox ◀── Deliver (acks arriving on a colocated server)
//
// The message returned by WaitAck is owned by the Client and stays valid until the next
// WaitAck. A Client is used by one goroutine at a time; Deliver may be called concurrently.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"noc-rpc/cluster"
	"noc-rpc/cycles"
	"noc-rpc/discovery"
	"noc-rpc/loadbalance"
	"noc-rpc/protocol"
	"noc-rpc/ring"
	"noc-rpc/spin"
	"noc-rpc/transport"
)

// EnvServer overrides the DMA id of the default server.
const EnvServer = "SYNC_IODDR_ID"

// ErrBadInterface is returned by Send for a local interface outside [0, cluster.NbDMA).
var ErrBadInterface = errors.New("client: invalid local interface")

// Config contains Client settings.
type Config struct {
	ID     cluster.ID     // the cluster running this client
	Layout cluster.Layout // board layout, for the computed default server
	Clock  cycles.Clock   // cycle counter, NewClock(cycles.DefaultFreq) if nil
	Depth  int            // reply queue depth, zero for default

	// Budget is the WaitAck budget used by Call, one second of Clock cycles if zero.
	Budget uint64

	// Spawner is the cluster that booted this one; it selects the I/O controller used
	// as default server when neither EnvServer nor Directory gives one.
	Spawner cluster.ID
	// Directory and Balancer, when set, select the default server among running controllers.
	Directory discovery.Directory
	Balancer  loadbalance.Balancer
}

// Client is an RPC client.
type Client struct {
	cfg    Config
	fabric transport.Fabric
	rx     transport.Rx
	inbox  *ring.Ring[*protocol.Message]

	pending bool
	want    [2]uint8 // class, subtype of the outstanding query
	ack     protocol.Message
	buf     [1]*protocol.Message

	tx [cluster.NbDMA]uint64
}

// New allocates the reply endpoint of cfg.ID on fabric.
func New(cfg Config, fabric transport.Fabric) (*Client, error) {
	if !cfg.ID.Valid() {
		return nil, fmt.Errorf("client: invalid cluster id %d", cfg.ID)
	}
	if cfg.Clock == nil {
		cfg.Clock = cycles.NewClock(cycles.DefaultFreq)
	}
	if cfg.Budget == 0 {
		cfg.Budget = cycles.Second(cfg.Clock.Freq())
	}

	inbox, err := ring.New[*protocol.Message](ring.Config{Size: ring.DefaultCapacity})
	if err != nil {
		return nil, err
	}
	rx, err := fabric.Alloc(uint8(cfg.ID), cfg.Depth)
	if err != nil {
		return nil, fmt.Errorf("allocate reply endpoint: %w", err)
	}

	c := &Client{cfg: cfg, fabric: fabric, rx: rx, inbox: inbox}
	c.ack.Payload = make([]byte, 0, protocol.MaxPayload)
	logger.Debug("client ready", zap.Int("cluster", int(cfg.ID)), zap.Stringer("reply", rx.Addr()))
	return c, nil
}

// Addr returns the reply endpoint.
func (c *Client) Addr() transport.Addr {
	return c.rx.Addr()
}

// Send transmits msg to the endpoint at to through local DMA interface localIf.
// The header is sent as is, except DataLen which is set from the payload.
// A payload over protocol.MaxPayload is refused with protocol.ErrDataLen.
func (c *Client) Send(localIf int, to transport.Addr, msg *protocol.Message) error {
	if localIf < 0 || localIf >= len(c.tx) {
		return fmt.Errorf("%w %d", ErrBadInterface, localIf)
	}
	if len(msg.Payload) > protocol.MaxPayload {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", protocol.ErrDataLen, len(msg.Payload), protocol.MaxPayload)
	}
	msg.DataLen = uint16(len(msg.Payload))
	if err := c.fabric.Send(to, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg, to, err)
	}
	c.tx[localIf]++
	return nil
}

// Query stamps the reply endpoint into msg and sends it to to. The next WaitAck returns
// its answer.
func (c *Client) Query(to transport.Addr, msg *protocol.Message) error {
	reply := c.rx.Addr()
	msg.DMA, msg.Tag = reply.DMA, reply.Tag
	msg.Flags &^= protocol.FlagAck
	c.want = [2]uint8{uint8(msg.Class), uint8(msg.Subtype)}
	c.pending = true
	return c.Send(c.cfg.Layout.DMAOffset(c.cfg.ID), to, msg)
}

// Deliver queues an ack received elsewhere, e.g. on a colocated server's endpoints.
// It reports false when the inbox is full.
func (c *Client) Deliver(msg *protocol.Message) bool {
	return c.inbox.TryPushMulti([]*protocol.Message{msg.Clone()})
}

func (c *Client) poll() (*protocol.Message, bool) {
	if msg, ok := c.rx.Poll(); ok {
		return msg, true
	}
	if n, _ := c.inbox.PopMulti(c.buf[:]); n > 0 {
		msg := c.buf[0]
		c.buf[0] = nil
		return msg, true
	}
	return nil, false
}

func (c *Client) matches(msg *protocol.Message) bool {
	return c.pending && msg.Flags.Ack() &&
		uint8(msg.Class) == c.want[0] && uint8(msg.Subtype) == c.want[1]
}

// WaitAck busy-polls for the answer to the last Query for at most timeout cycles.
// A zero timeout polls once. It returns protocol.ErrTimeout when no answer arrived, and
// the server's error code alongside the answer when the server reported one.
func (c *Client) WaitAck(timeout uint64) (*protocol.Message, error) {
	return c.waitAck(context.Background(), timeout)
}

func (c *Client) waitAck(ctx context.Context, timeout uint64) (*protocol.Message, error) {
	start := c.cfg.Clock.Now()
	var sp spin.Spinner
	for {
		if msg, ok := c.poll(); ok {
			if !c.matches(msg) {
				logger.Debug("unexpected message dropped", zap.Stringer("msg", msg))
				continue
			}
			c.pending = false
			c.ack.Header, c.ack.Inline = msg.Header, msg.Inline
			c.ack.Payload = append(c.ack.Payload[:0], msg.Payload...)
			if code := c.ack.Flags.Code(); code != protocol.CodeNone {
				return &c.ack, code
			}
			return &c.ack, nil
		}
		if cycles.Elapsed(start, c.cfg.Clock.Now()) >= timeout {
			return nil, protocol.ErrTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sp.Spin()
	}
}

// Call sends msg to to and waits up to the configured budget for the answer.
func (c *Client) Call(ctx context.Context, to transport.Addr, msg *protocol.Message) (*protocol.Message, error) {
	if err := c.Query(to, msg); err != nil {
		return nil, err
	}
	return c.waitAck(ctx, c.cfg.Budget)
}

// DefaultServer returns the endpoint this cluster should send commands to.
// It tries, in order: the EnvServer DMA id, a controller picked from the Directory,
// the controller on the spawner's side of the chip.
func (c *Client) DefaultServer(ctx context.Context) (transport.Addr, error) {
	tag := uint8(c.cfg.Layout.IOTagID(c.cfg.ID))

	if s, ok := os.LookupEnv(EnvServer); ok {
		dma, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return transport.Addr{}, fmt.Errorf("%s=%q: %w", EnvServer, s, err)
		}
		return transport.Addr{DMA: uint8(dma), Tag: tag}, nil
	}

	if c.cfg.Directory != nil {
		list, err := c.cfg.Directory.Discover(ctx)
		if err != nil {
			logger.Warn("discovery failed, using computed server", zap.Error(err))
		} else if len(list) > 0 {
			bal := c.cfg.Balancer
			if bal == nil {
				bal = loadbalance.NewConsistentHash(0)
			}
			ctl, err := bal.Pick(list, c.cfg.ID)
			if err != nil {
				return transport.Addr{}, err
			}
			layout := cluster.Default
			if ctl.Layout == "explorer" {
				layout = cluster.Explorer
			}
			return transport.Addr{
				DMA: uint8(layout.IODMAID(ctl.Port, c.cfg.ID)),
				Tag: uint8(layout.IOTagID(c.cfg.ID)),
			}, nil
		}
	}

	port := cluster.North
	if c.cfg.Spawner >= cluster.SouthBase {
		port = cluster.South
	}
	return transport.Addr{DMA: uint8(c.cfg.Layout.IODMAID(port, c.cfg.ID)), Tag: tag}, nil
}

// Sent returns how many messages left through each local interface.
func (c *Client) Sent() [cluster.NbDMA]uint64 {
	return c.tx
}

// Close releases the reply endpoint.
func (c *Client) Close() error {
	return c.rx.Close()
}
