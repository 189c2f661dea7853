package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"noc-rpc/boot"
	"noc-rpc/client"
	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/cycles"
	"noc-rpc/service/bas"
	"noc-rpc/service/c2c"
	"noc-rpc/service/eth"
	"noc-rpc/service/fp"
	"noc-rpc/service/pcie"
	"noc-rpc/service/rnd"
	"noc-rpc/transport"
)

// pollInterval separates retries of programs that wait for another cluster or the operator.
const pollInterval = 10 * time.Millisecond

// simPrograms are the cluster programs known to the sim command.
var simPrograms = map[string]boot.Program{
	"ping": clusterMain(progPing),
	"rnd":  clusterMain(progRnd),
	"c2c":  clusterMain(progC2C),
	"fp":   clusterMain(progFp),
	"eth":  clusterMain(progEth),
	"pcie": clusterMain(progPcie),
}

type clusterProgram func(ctx context.Context, env boot.Env, c *client.Client, to transport.Addr) error

// clusterMain wraps f with the client setup every cluster program does first.
func clusterMain(f clusterProgram) boot.Program {
	return func(ctx context.Context, env boot.Env) (e error) {
		c, e := client.New(client.Config{
			ID:      env.ID,
			Layout:  cfg.Layout,
			Clock:   cycles.NewClock(cfg.Freq),
			Spawner: env.Spawner,
		}, env.Fabric)
		if e != nil {
			return e
		}
		defer func() { e = multierr.Append(e, c.Close()) }()

		to, e := c.DefaultServer(ctx)
		if e != nil {
			return e
		}
		return f(ctx, env, c, to)
	}
}

// intArg returns env.Args[i] as an integer, or def when absent.
func intArg(env boot.Env, i, def int) (int, error) {
	if len(env.Args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(env.Args[i])
	if err != nil {
		return 0, fmt.Errorf("%s: argument %d: %w", env.Args[0], i, err)
	}
	return n, nil
}

func clusterLogger(env boot.Env) *zap.Logger {
	return logger.With(zap.Int("cluster", int(env.ID)), zap.String("program", env.Args[0]))
}

// progPing: ping [count]
func progPing(ctx context.Context, env boot.Env, c *client.Client, to transport.Addr) error {
	n, err := intArg(env, 1, 1)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := bas.Ping(ctx, c, to); err != nil {
			return err
		}
	}
	clusterLogger(env).Info("ping done", zap.Int("count", n))
	return nil
}

// progRnd: rnd [len]
func progRnd(ctx context.Context, env boot.Env, c *client.Client, to transport.Addr) error {
	n, err := intArg(env, 1, rnd.MaxLen)
	if err != nil {
		return err
	}
	b, err := rnd.Get(ctx, c, to, n)
	if err != nil {
		return err
	}
	clusterLogger(env).Info("random bytes", zap.String("hex", hex.EncodeToString(b)))
	return nil
}

// progC2C: c2c <peer> opens toward peer and waits until peer opened toward this cluster.
// The link stays open, so that a peer booted later can still see it.
func progC2C(ctx context.Context, env boot.Env, c *client.Client, to transport.Addr) error {
	if len(env.Args) < 2 {
		return errors.New("c2c: missing peer")
	}
	peer, err := intArg(env, 1, 0)
	if err != nil {
		return err
	}
	err = c2c.Open(ctx, c, to, codec.C2COpenCmd{
		ClusterID: uint8(peer),
		MaxRx:     63,
		Flags:     codec.C2CRx | codec.C2CTx,
		MTU:       1500,
	})
	if err != nil {
		return err
	}

	for {
		ack, err := c2c.Query(ctx, c, to, cluster.ID(peer))
		if err != nil {
			return err
		}
		if ack.Flags&codec.C2CClosed == 0 {
			clusterLogger(env).Info("link established",
				zap.Int("peer", peer),
				zap.Uint16("mtu", ack.MTU),
				zap.Bool("eacces", ack.Flags&codec.C2CEAcces != 0),
			)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// progFp: fp [count] waits for count command lines, or until it receives "exit".
func progFp(ctx context.Context, env boot.Env, c *client.Client, to transport.Addr) error {
	n, err := intArg(env, 1, 1)
	if err != nil {
		return err
	}
	log := clusterLogger(env)
	for n > 0 {
		cmd, ok, err := fp.Poll(ctx, c, to)
		if err != nil {
			return err
		}
		if ok {
			log.Info("command received", zap.String("cmd", cmd))
			if cmd == "exit" {
				return nil
			}
			n--
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil
}

// progEth: eth [lane] opens a lane, reads its counters and closes it.
func progEth(ctx context.Context, env boot.Env, c *client.Client, to transport.Addr) error {
	lane, err := intArg(env, 1, 0)
	if err != nil {
		return err
	}
	ack, err := eth.Open(ctx, c, to, codec.EthOpenCmd{
		IfID:  uint8(lane),
		DMAIf: uint8(cfg.Layout.ExternalAddress(env.ID, cfg.Layout.DMAOffset(env.ID))),
		MaxRx: 63,
		Flags: codec.EthRx | codec.EthTx,
	}, nil)
	if err != nil {
		return err
	}
	link, stats, err := eth.GetStat(ctx, c, to, uint8(lane), true)
	if err != nil {
		return err
	}
	clusterLogger(env).Info("lane opened",
		zap.Int("lane", lane),
		zap.String("mac", fmt.Sprintf("% x", ack.MAC)),
		zap.Uint16("mtu", ack.MTU),
		zap.Uint16("link", link),
		zap.Any("stats", stats),
	)
	return eth.Close(ctx, c, to, uint8(lane))
}

// progPcie: pcie [host-if] opens PCIe forwarding and closes it.
func progPcie(ctx context.Context, env boot.Env, c *client.Client, to transport.Addr) error {
	hostIf, err := intArg(env, 1, 0)
	if err != nil {
		return err
	}
	ack, err := pcie.Open(ctx, c, to, codec.PcieOpenCmd{PktSize: 4096, PcieEthIfID: uint8(hostIf), MaxRx: 63})
	if err != nil {
		return err
	}
	clusterLogger(env).Info("pcie forwarding opened",
		zap.Uint16("tx-if", ack.TxIf),
		zap.Uint8("min-tag", ack.MinTxTag),
		zap.Uint8("max-tag", ack.MaxTxTag),
	)
	return pcie.Close(ctx, c, to, uint8(hostIf))
}
