package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"noc-rpc/discovery"
)

const shutdownTimeout = 5 * time.Second

func waitSignal() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	return <-ch
}

func init() {
	defineCommand(&cli.Command{
		Name:  "serve",
		Usage: "Run an I/O controller RPC server",
		Action: func(c *cli.Context) (e error) {
			dir, closeDir, e := openDirectory(discovery.NewStatic())
			if e != nil {
				return e
			}
			defer func() { e = multierr.Append(e, closeDir()) }()

			ctl, e := startController(c.Context, dir)
			if e != nil {
				return e
			}
			sig := waitSignal()
			logger.Info("signal received, stopping", zap.Stringer("signal", sig))

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return ctl.Close(ctx)
		},
	})
}
