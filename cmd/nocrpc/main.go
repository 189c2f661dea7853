// Command nocrpc runs an I/O controller RPC server, sends commands as a cluster, or
// simulates a chip with its clusters in one process.
package main

import (
	"os"
	"sort"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"noc-rpc/config"
	"noc-rpc/cycles"
	"noc-rpc/logging"
)

var logger = logging.New("main")

var cfg config.Config

var app = &cli.App{
	Usage: "RPC between compute clusters and I/O controllers over the network on chip.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "env",
			Value:   ".env",
			Usage:   "dotenv `FILE` with NOCRPC_* settings",
			EnvVars: []string{"NOCRPC_ENV_FILE"},
		},
		&cli.StringFlag{
			Name:    "name",
			Usage:   "controller `NAME` in the directory",
			EnvVars: []string{"NOCRPC_NAME"},
		},
		&cli.StringFlag{
			Name:    "port",
			Usage:   "I/O controller `PORT`: north or south",
			EnvVars: []string{"NOCRPC_PORT"},
		},
		&cli.StringFlag{
			Name:    "layout",
			Usage:   "board `LAYOUT`: default or explorer",
			EnvVars: []string{"NOCRPC_LAYOUT"},
		},
		&cli.Float64Flag{
			Name:    "freq",
			Usage:   "base clock in `MHZ`",
			EnvVars: []string{"NOCRPC_FREQ_MHZ"},
		},
		&cli.StringFlag{
			Name:    "bridge",
			Usage:   "bridge TCP `ADDRESS`: listen address when serving, remote address as a cluster",
			EnvVars: []string{"NOCRPC_BRIDGE"},
		},
		&cli.StringFlag{
			Name:    "http",
			Usage:   "HTTP `ADDRESS` of the controller API",
			EnvVars: []string{"NOCRPC_HTTP"},
		},
		&cli.StringSliceFlag{
			Name:    "etcd",
			Usage:   "etcd `ENDPOINT`s for the controller directory",
			EnvVars: []string{"NOCRPC_ETCD"},
		},
		&cli.Float64Flag{
			Name:    "rate",
			Usage:   "command rate limit per second, 0 for unlimited",
			EnvVars: []string{"NOCRPC_RATE"},
		},
		&cli.DurationFlag{
			Name:    "budget",
			Usage:   "handler time budget, 0 for none",
			EnvVars: []string{"NOCRPC_BUDGET"},
		},
	},
	Before: func(c *cli.Context) (e error) {
		if cfg, e = config.Load(c.String("env")); e != nil {
			return e
		}
		if c.IsSet("name") {
			cfg.Name = c.String("name")
		}
		if c.IsSet("port") {
			if cfg.Port, e = config.ParsePort(c.String("port")); e != nil {
				return e
			}
		}
		if c.IsSet("layout") {
			if cfg.Layout, e = config.ParseLayout(c.String("layout")); e != nil {
				return e
			}
		}
		if c.IsSet("freq") {
			cfg.Freq = cycles.Freq(c.Float64("freq")) * cycles.MHz
		}
		if c.IsSet("bridge") {
			cfg.Bridge = c.String("bridge")
		}
		if c.IsSet("http") {
			cfg.HTTP = c.String("http")
		}
		if c.IsSet("etcd") {
			cfg.Etcd = c.StringSlice("etcd")
		}
		if c.IsSet("rate") {
			cfg.RateLimit = c.Float64("rate")
		}
		if c.IsSet("budget") {
			cfg.Budget = c.Duration("budget")
		}
		return cfg.Validate()
	},
}

func defineCommand(command *cli.Command) {
	app.Commands = append(app.Commands, command)
}

func main() {
	sort.Sort(cli.CommandsByName(app.Commands))
	if e := app.Run(os.Args); e != nil {
		logger.Fatal("exit", zap.Error(e))
	}
}
