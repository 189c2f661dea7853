// Package servicetest runs a class of service behind a real server on an in-process mesh.
package servicetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"noc-rpc/client"
	"noc-rpc/cluster"
	"noc-rpc/server"
	"noc-rpc/transport"
)

// Fixture is a served mesh.
type Fixture struct {
	Mesh   *transport.Mesh
	Server *server.Server
}

// New starts a north server with svcs registered. Serving stops with the test.
func New(t testing.TB, svcs ...server.Service) *Fixture {
	mesh := transport.NewMesh()
	svr := server.New(server.Config{Name: "io-north", Port: cluster.North}, mesh, nil)
	for _, svc := range svcs {
		require.NoError(t, svr.Register(svc))
	}
	require.NoError(t, svr.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go svr.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		svr.Shutdown(context.Background())
	})
	return &Fixture{Mesh: mesh, Server: svr}
}

// Client returns a client for cluster id and the server address it talks to.
func (f *Fixture) Client(t testing.TB, id cluster.ID) (*client.Client, transport.Addr) {
	c, err := client.New(client.Config{ID: id}, f.Mesh)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, f.Server.Addr(id)
}
