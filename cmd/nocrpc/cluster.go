package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"noc-rpc/client"
	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/cycles"
	"noc-rpc/discovery"
	"noc-rpc/loadbalance"
	"noc-rpc/service/bas"
	"noc-rpc/service/c2c"
	"noc-rpc/service/fp"
	"noc-rpc/service/rnd"
	"noc-rpc/transport"
)

var errNoBridge = errors.New("no bridge address: set --bridge or --etcd")

var clusterFlags = []cli.Flag{
	&cli.IntFlag{
		Name:     "cluster",
		Aliases:  []string{"c"},
		Usage:    "act as cluster `ID`",
		Required: true,
	},
	&cli.IntFlag{
		Name:  "spawner",
		Usage: "cluster `ID` that booted this one",
		Value: cluster.NorthBase,
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Usage: "answer budget per command",
		Value: time.Second,
	},
}

// remote is a client attached to a controller's bridge.
type remote struct {
	link     *transport.Link
	dir      discovery.Directory
	closeDir func() error
	c        *client.Client
	to       transport.Addr
}

// dialRemote finds a bridge, either --bridge or one picked from the etcd directory,
// and creates the client of --cluster on it.
func dialRemote(c *cli.Context) (r *remote, e error) {
	ctx := c.Context
	id := cluster.ID(c.Int("cluster"))
	r = &remote{}

	if r.dir, r.closeDir, e = openDirectory(nil); e != nil {
		return nil, e
	}
	defer func() {
		if e != nil {
			e = multierr.Append(e, r.closeDir())
		}
	}()

	bal := loadbalance.NewConsistentHash(0)
	addr := cfg.Bridge
	if addr == "" && r.dir != nil {
		list, err := discovery.Wait(ctx, r.dir)
		if err != nil {
			return nil, err
		}
		ctl, err := bal.Pick(list, id)
		if err != nil {
			return nil, err
		}
		addr = ctl.Bridge
		logger.Debug("controller picked", zap.String("name", ctl.Name), zap.String("bridge", addr))
	}
	if addr == "" {
		return nil, errNoBridge
	}

	if r.link, e = transport.Dial(ctx, addr, transport.LinkConfig{Heartbeat: cfg.Heartbeat}); e != nil {
		return nil, e
	}
	clock := cycles.NewClock(cfg.Freq)
	r.c, e = client.New(client.Config{
		ID:        id,
		Layout:    cfg.Layout,
		Clock:     clock,
		Budget:    cfg.Freq.Cycles(c.Duration("timeout")),
		Spawner:   cluster.ID(c.Int("spawner")),
		Directory: r.dir,
		Balancer:  bal,
	}, r.link)
	if e != nil {
		return nil, multierr.Append(e, r.link.Close())
	}
	if r.to, e = r.c.DefaultServer(ctx); e != nil {
		return nil, multierr.Combine(e, r.c.Close(), r.link.Close())
	}
	return r, nil
}

func (r *remote) Close() (e error) {
	e = multierr.Append(e, r.c.Close())
	e = multierr.Append(e, r.link.Close())
	return multierr.Append(e, r.closeDir())
}

// withRemote runs f with a remote client and closes it afterwards.
func withRemote(f func(c *cli.Context, r *remote) error) cli.ActionFunc {
	return func(c *cli.Context) (e error) {
		r, err := dialRemote(c)
		if err != nil {
			return err
		}
		defer func() { e = multierr.Append(e, r.Close()) }()
		return f(c, r)
	}
}

func init() {
	defineCommand(&cli.Command{
		Name:  "ping",
		Usage: "Ping the default server",
		Flags: append([]cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1},
		}, clusterFlags...),
		Action: withRemote(func(c *cli.Context, r *remote) error {
			for i := 0; i < c.Int("count"); i++ {
				t0 := time.Now()
				if err := bas.Ping(c.Context, r.c, r.to); err != nil {
					return err
				}
				fmt.Printf("pong from %s seq=%d rtt=%s\n", r.to, i, time.Since(t0))
			}
			return nil
		}),
	})

	defineCommand(&cli.Command{
		Name:  "rnd",
		Usage: "Get random bytes",
		Flags: append([]cli.Flag{
			&cli.IntFlag{Name: "len", Value: rnd.MaxLen, Usage: "number of bytes, at most 31"},
		}, clusterFlags...),
		Action: withRemote(func(c *cli.Context, r *remote) error {
			b, err := rnd.Get(c.Context, r.c, r.to, c.Int("len"))
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(b))
			return nil
		}),
	})

	defineCommand(&cli.Command{
		Name:  "fp",
		Usage: "Poll the fast path mailbox",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{Name: "wait", Usage: "keep polling for this long", Value: 0},
		}, clusterFlags...),
		Action: withRemote(func(c *cli.Context, r *remote) error {
			deadline := time.Now().Add(c.Duration("wait"))
			for {
				cmd, ok, err := fp.Poll(c.Context, r.c, r.to)
				if err != nil {
					return err
				}
				if ok {
					fmt.Println(cmd)
					return nil
				}
				if time.Now().After(deadline) {
					return nil
				}
				time.Sleep(10 * time.Millisecond)
			}
		}),
	})

	peerFlags := append([]cli.Flag{
		&cli.IntFlag{Name: "peer", Usage: "peer cluster `ID`", Required: true},
	}, clusterFlags...)
	defineCommand(&cli.Command{
		Name:  "c2c",
		Usage: "Manage cluster to cluster links",
		Subcommands: []*cli.Command{
			{
				Name:  "open",
				Usage: "Declare this cluster ready to exchange with the peer",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: "rx", Value: true},
					&cli.BoolFlag{Name: "tx", Value: true},
					&cli.UintFlag{Name: "min-rx", Value: 0},
					&cli.UintFlag{Name: "max-rx", Value: 63},
					&cli.UintFlag{Name: "mtu", Value: 1500},
				}, peerFlags...),
				Action: withRemote(func(c *cli.Context, r *remote) error {
					cmd := codec.C2COpenCmd{
						ClusterID: uint8(c.Int("peer")),
						MinRx:     uint8(c.Uint("min-rx")),
						MaxRx:     uint8(c.Uint("max-rx")),
						MTU:       uint16(c.Uint("mtu")),
					}
					if c.Bool("rx") {
						cmd.Flags |= codec.C2CRx
					}
					if c.Bool("tx") {
						cmd.Flags |= codec.C2CTx
					}
					return c2c.Open(c.Context, r.c, r.to, cmd)
				}),
			},
			{
				Name:  "close",
				Usage: "Withdraw from the peer",
				Flags: peerFlags,
				Action: withRemote(func(c *cli.Context, r *remote) error {
					return c2c.Close(c.Context, r.c, r.to, cluster.ID(c.Int("peer")))
				}),
			},
			{
				Name:  "query",
				Usage: "Show the peer's receive configuration",
				Flags: peerFlags,
				Action: withRemote(func(c *cli.Context, r *remote) error {
					ack, err := c2c.Query(c.Context, r.c, r.to, cluster.ID(c.Int("peer")))
					if err != nil {
						return err
					}
					fmt.Printf("closed=%t eacces=%t rx=%d-%d cnoc=%d mtu=%d\n",
						ack.Flags&codec.C2CClosed != 0, ack.Flags&codec.C2CEAcces != 0,
						ack.MinRx, ack.MaxRx, ack.CnocRx, ack.MTU)
					return nil
				}),
			},
		},
	})
}
