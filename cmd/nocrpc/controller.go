package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"noc-rpc/cluster"
	"noc-rpc/discovery"
	"noc-rpc/httpapi"
	"noc-rpc/middleware"
	"noc-rpc/server"
	"noc-rpc/service/bas"
	"noc-rpc/service/c2c"
	"noc-rpc/service/eth"
	"noc-rpc/service/fp"
	"noc-rpc/service/pcie"
	"noc-rpc/service/rnd"
	"noc-rpc/transport"
)

// openDirectory returns the etcd directory when endpoints are configured, else dir.
func openDirectory(dir discovery.Directory) (discovery.Directory, func() error, error) {
	if len(cfg.Etcd) == 0 {
		return dir, func() error { return nil }, nil
	}
	d, err := discovery.NewEtcd(cfg.Etcd, discovery.DefaultPrefix)
	if err != nil {
		return nil, nil, err
	}
	return d, d.Close, nil
}

// controller is an I/O controller with every class of service.
type controller struct {
	mesh    *transport.Mesh
	svr     *server.Server
	mailbox *fp.Mailbox
	bridge  *transport.Bridge
	http    *http.Server
	cancel  context.CancelFunc
	served  chan error
}

func startController(ctx context.Context, dir discovery.Directory) (ctl *controller, e error) {
	ctl = &controller{mesh: transport.NewMesh(), mailbox: fp.NewMailbox(), served: make(chan error, 1)}

	published := ""
	if cfg.Bridge != "" {
		ln, err := net.Listen("tcp", cfg.Bridge)
		if err != nil {
			return nil, err
		}
		published = ln.Addr().String()
		ctl.bridge = transport.NewBridge(ctl.mesh)
		go func() {
			if err := ctl.bridge.Serve(ln); err != nil {
				logger.Error("bridge stopped", zap.Error(err))
			}
		}()
		logger.Info("bridge listening", zap.String("addr", published))
	}

	ctl.svr = server.New(server.Config{
		Name:      cfg.Name,
		Port:      cfg.Port,
		Layout:    cfg.Layout,
		Depth:     cfg.RingSize - 1,
		Directory: dir,
		Bridge:    published,
		TTL:       cfg.TTL,
	}, ctl.mesh, nil)

	ctl.svr.Use(middleware.Recover(), middleware.Logging(logger, ctl.svr.Registry()))
	if cfg.RateLimit > 0 {
		ctl.svr.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.Budget > 0 {
		ctl.svr.Use(middleware.Budget(cfg.Freq.Cycles(cfg.Budget), cfg.Freq))
	}

	for _, svc := range []server.Service{
		bas.Service{},
		eth.New(eth.Config{Port: cfg.Port, Layout: cfg.Layout}),
		pcie.New(cfg.Port),
		c2c.New(),
		&rnd.Service{},
		ctl.mailbox,
	} {
		if err := ctl.svr.Register(svc); err != nil {
			return nil, multierr.Append(err, ctl.closeTransport())
		}
	}
	if err := ctl.svr.Start(ctx); err != nil {
		return nil, multierr.Append(err, ctl.closeTransport())
	}

	if cfg.HTTP != "" {
		ctl.http = &http.Server{Addr: cfg.HTTP, Handler: httpapi.New(ctl.svr, ctl.mailbox)}
		go func() {
			if err := ctl.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server stopped", zap.Error(err))
			}
		}()
		logger.Info("HTTP API listening", zap.String("addr", cfg.HTTP))
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	ctl.cancel = cancel
	go func() { ctl.served <- ctl.svr.Serve(serveCtx) }()
	return ctl, nil
}

// spawner returns the cluster id of the I/O controller, as seen by the clusters it boots.
func (ctl *controller) spawner() cluster.ID {
	if cfg.Port == cluster.South {
		return cluster.SouthBase
	}
	return cluster.NorthBase
}

func (ctl *controller) closeTransport() (e error) {
	if ctl.bridge != nil {
		e = multierr.Append(e, ctl.bridge.Close())
	}
	return e
}

// Close stops serving and releases every resource.
func (ctl *controller) Close(ctx context.Context) (e error) {
	e = multierr.Append(e, ctl.svr.Shutdown(ctx))
	ctl.cancel()
	e = multierr.Append(e, <-ctl.served)
	if ctl.http != nil {
		e = multierr.Append(e, ctl.http.Shutdown(ctx))
	}
	return multierr.Append(e, ctl.closeTransport())
}
