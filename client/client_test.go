package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/cycles"
	"noc-rpc/discovery"
	"noc-rpc/loadbalance"
	"noc-rpc/protocol"
	"noc-rpc/registry"
	"noc-rpc/server"
	"noc-rpc/transport"
)

// frozenClock never advances.
type frozenClock struct{}

func (frozenClock) Now() uint64       { return 42 }
func (frozenClock) Freq() cycles.Freq { return cycles.DefaultFreq }

func ping() *protocol.Message {
	return &protocol.Message{Header: protocol.Header{
		Class:   protocol.ClassBAS,
		Subtype: protocol.BasPing,
		Version: protocol.ClassBAS.Version(),
	}}
}

func startServer(t *testing.T, mesh *transport.Mesh) *server.Server {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Entry{
		Class: protocol.ClassBAS,
		Handler: func(ctx context.Context, req *registry.Request) error {
			codec.SetStatus(req.Answer, 0)
			return nil
		},
	}))
	svr := server.New(server.Config{Name: "io-north", Port: cluster.North}, mesh, reg)
	require.NoError(t, svr.Start(context.Background()))
	t.Cleanup(func() { svr.Shutdown(context.Background()) })
	return svr
}

func TestWaitAckZeroTimeout(t *testing.T) {
	mesh := transport.NewMesh()
	c, err := New(Config{ID: 3}, mesh)
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	msg, err := c.WaitAck(0)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueryAndWaitAck(t *testing.T) {
	mesh := transport.NewMesh()
	svr := startServer(t, mesh)

	c, err := New(Config{ID: 3, Clock: frozenClock{}}, mesh)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), c.Addr().DMA)

	req := ping()
	require.NoError(t, c.Query(svr.Addr(3), req))
	assert.Equal(t, c.Addr().DMA, req.DMA)
	assert.Equal(t, c.Addr().Tag, req.Tag)

	n, err := svr.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ack, err := c.WaitAck(0)
	require.NoError(t, err)
	assert.True(t, ack.Flags.Ack())
	assert.Equal(t, protocol.ClassBAS, ack.Class)
	assert.Equal(t, uint8(0), codec.Status(ack))
	assert.Equal(t, uint64(1), c.Sent()[cluster.DMAOffset(3)])
}

func TestCall(t *testing.T) {
	mesh := transport.NewMesh()
	svr := startServer(t, mesh)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svr.Serve(ctx)

	c, err := New(Config{ID: 9}, mesh)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ack, err := c.Call(ctx, svr.Addr(9), ping())
		require.NoError(t, err)
		assert.Equal(t, protocol.BasPing, ack.Subtype)
	}
}

func TestCallErrorAnswer(t *testing.T) {
	mesh := transport.NewMesh()
	svr := startServer(t, mesh)
	c, err := New(Config{ID: 5, Clock: frozenClock{}}, mesh)
	require.NoError(t, err)

	req := ping()
	req.Class = protocol.ClassRND
	req.Version = protocol.ClassRND.Version()
	require.NoError(t, c.Query(svr.Addr(5), req))
	_, err = svr.PollOnce(context.Background())
	require.NoError(t, err)

	ack, err := c.WaitAck(0)
	assert.ErrorIs(t, err, protocol.ErrBadClass)
	require.NotNil(t, ack)
	assert.Equal(t, uint8(1), codec.Status(ack))
	assert.Equal(t, "[RPC] Error:Message has unsupported Class of Service 4", codec.ErrorString(ack))
}

func TestWaitAckIgnoresUnrelated(t *testing.T) {
	mesh := transport.NewMesh()
	c, err := New(Config{ID: 1, Clock: frozenClock{}}, mesh)
	require.NoError(t, err)

	// nothing queried yet: acks are stray
	stray := ping()
	stray.Flags = protocol.FlagAck
	assert.True(t, c.Deliver(stray))
	_, err = c.WaitAck(0)
	assert.ErrorIs(t, err, protocol.ErrTimeout)

	req := ping()
	require.NoError(t, c.Query(transport.Addr{DMA: 200, Tag: 1}, req))
	assert.True(t, c.Deliver(&protocol.Message{Header: protocol.Header{Class: protocol.ClassRND, Flags: protocol.FlagAck}}))
	ack := &protocol.Message{}
	ack.Answer(req)
	assert.True(t, c.Deliver(ack))

	got, err := c.WaitAck(0)
	require.NoError(t, err)
	assert.Equal(t, protocol.ClassBAS, got.Class)
}

func TestDefaultServer(t *testing.T) {
	ctx := context.Background()
	mesh := transport.NewMesh()

	t.Run("computed", func(t *testing.T) {
		c, err := New(Config{ID: 7, Spawner: 192}, mesh)
		require.NoError(t, err)
		defer c.Close()
		addr, err := c.DefaultServer(ctx)
		require.NoError(t, err)
		assert.Equal(t, transport.Addr{DMA: uint8(cluster.IODMAID(cluster.South, 7)), Tag: uint8(cluster.IOTagID(7))}, addr)
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv(EnvServer, "161")
		c, err := New(Config{ID: 7}, mesh)
		require.NoError(t, err)
		defer c.Close()
		addr, err := c.DefaultServer(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint8(161), addr.DMA)

		t.Setenv(EnvServer, "io")
		_, err = c.DefaultServer(ctx)
		assert.Error(t, err)
	})

	t.Run("directory", func(t *testing.T) {
		dir := discovery.NewStatic(discovery.Controller{Name: "io-x", Port: cluster.North, DMA: cluster.NorthDMA, Layout: "explorer"})
		c, err := New(Config{ID: 7, Spawner: 192, Directory: dir, Balancer: &loadbalance.RoundRobin{}}, mesh)
		require.NoError(t, err)
		defer c.Close()
		addr, err := c.DefaultServer(ctx)
		require.NoError(t, err)
		assert.Equal(t, transport.Addr{DMA: cluster.NorthDMA, Tag: uint8(cluster.Explorer.IOTagID(7))}, addr)
	})
}

type mockFabric struct {
	mock.Mock
	mesh *transport.Mesh
}

func (f *mockFabric) Open(addr transport.Addr, depth int) (transport.Rx, error) {
	return f.mesh.Open(addr, depth)
}

func (f *mockFabric) Alloc(dma uint8, depth int) (transport.Rx, error) {
	return f.mesh.Alloc(dma, depth)
}

func (f *mockFabric) Send(to transport.Addr, msg *protocol.Message) error {
	args := f.Called(to, msg)
	return args.Error(0)
}

func TestSendErrors(t *testing.T) {
	f := &mockFabric{mesh: transport.NewMesh()}
	dst := transport.Addr{DMA: 160, Tag: 195}
	f.On("Send", dst, mock.Anything).Return(transport.ErrQueueFull).Once()

	c, err := New(Config{ID: 3}, f)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Send(cluster.NbDMA, dst, ping()), ErrBadInterface)
	err = c.Query(dst, ping())
	assert.True(t, errors.Is(err, transport.ErrQueueFull))
	assert.Zero(t, c.Sent()[0])
	f.AssertExpectations(t)
}

func TestNewInvalidCluster(t *testing.T) {
	_, err := New(Config{ID: 64}, transport.NewMesh())
	assert.Error(t, err)
}

func TestSendPayloadLimit(t *testing.T) {
	mesh := transport.NewMesh()
	rx, err := mesh.Open(transport.Addr{DMA: 160, Tag: 195}, 4)
	require.NoError(t, err)
	c, err := New(Config{ID: 3}, mesh)
	require.NoError(t, err)
	defer c.Close()

	for _, n := range []int{protocol.MaxPayload + 1, 2000, 65546} {
		msg := ping()
		msg.Payload = make([]byte, n)
		err := c.Send(0, rx.Addr(), msg)
		assert.ErrorIs(t, err, protocol.ErrDataLen, "payload %d", n)
		_, ok := rx.Poll()
		assert.False(t, ok, "payload %d delivered", n)
	}
	assert.Zero(t, c.Sent()[0])

	msg := ping()
	msg.Payload = make([]byte, protocol.MaxPayload)
	require.NoError(t, c.Send(0, rx.Addr(), msg))
	got, ok := rx.Poll()
	require.True(t, ok)
	assert.Equal(t, uint16(protocol.MaxPayload), got.DataLen)
	assert.Len(t, got.Payload, protocol.MaxPayload)
	assert.Equal(t, uint64(1), c.Sent()[0])
}
