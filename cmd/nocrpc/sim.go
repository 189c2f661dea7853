package main

import (
	"context"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"noc-rpc/boot"
	"noc-rpc/discovery"
)

func init() {
	defineCommand(&cli.Command{
		Name:      "sim",
		Usage:     "Run a controller and boot cluster programs against it in one process",
		ArgsUsage: "-- -c PROGRAM [-a ARGS] ...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "fp",
				Usage: "post command `LINE` to the fast path mailbox of every booted cluster",
			},
		},
		Action: func(c *cli.Context) (e error) {
			specs, e := boot.ParseArgs(c.Args().Slice())
			if e != nil {
				return e
			}

			dir, closeDir, e := openDirectory(discovery.NewStatic())
			if e != nil {
				return e
			}
			defer func() { e = multierr.Append(e, closeDir()) }()

			ctl, e := startController(c.Context, dir)
			if e != nil {
				return e
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				e = multierr.Append(e, ctl.Close(ctx))
				logger.Info("server load", zap.Any("stats", ctl.svr.LoadStat()))
			}()

			if line := c.String("fp"); line != "" {
				for _, s := range specs {
					if err := ctl.mailbox.Post(s.ID, []byte(line)); err != nil {
						return err
					}
				}
			}

			l := &boot.Launcher{Self: ctl.spawner(), Fabric: ctl.mesh, Programs: simPrograms}
			e = l.Boot(c.Context, specs)
			return multierr.Append(e, l.Join())
		},
	})
}
