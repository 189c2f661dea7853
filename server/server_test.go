package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/discovery"
	"noc-rpc/middleware"
	"noc-rpc/protocol"
	"noc-rpc/registry"
	"noc-rpc/transport"
)

// pinger is a minimal BAS service.
type pinger struct{ calls int }

func (p *pinger) Entry() registry.Entry {
	return registry.Entry{
		Class: protocol.ClassBAS,
		Name:  "BAS",
		Handler: func(ctx context.Context, req *registry.Request) error {
			p.calls++
			if req.Msg.Subtype != protocol.BasPing {
				return protocol.ErrBadSubtype
			}
			return nil
		},
	}
}

type harness struct {
	mesh *transport.Mesh
	svr  *Server
	rx   map[cluster.ID]transport.Rx
}

func newHarness(t *testing.T, cfg Config, svcs ...Service) *harness {
	h := &harness{mesh: transport.NewMesh(), rx: map[cluster.ID]transport.Rx{}}
	if cfg.Name == "" {
		cfg.Name = "io-test"
	}
	h.svr = New(cfg, h.mesh, nil)
	for _, svc := range svcs {
		if err := h.svr.Register(svc); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.svr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.svr.Shutdown(context.Background()) })
	return h
}

// send sends a command from cluster id, answers go to a per-cluster endpoint.
func (h *harness) send(t *testing.T, id cluster.ID, hdr protocol.Header) {
	rx, ok := h.rx[id]
	if !ok {
		var err error
		rx, err = h.mesh.Alloc(uint8(id), 0)
		require.NoError(t, err)
		h.rx[id] = rx
	}
	msg := &protocol.Message{Header: hdr}
	msg.DMA, msg.Tag = rx.Addr().DMA, rx.Addr().Tag
	require.NoError(t, h.mesh.Send(h.svr.Addr(id), msg))
}

func (h *harness) answer(t *testing.T, id cluster.ID) *protocol.Message {
	msg, ok := h.rx[id].Poll()
	if !ok {
		t.Fatalf("no answer for cluster %d", id)
	}
	return msg
}

func bas(sub protocol.Subtype) protocol.Header {
	return protocol.Header{Class: protocol.ClassBAS, Subtype: sub, Version: protocol.ClassBAS.Version()}
}

func TestServe(t *testing.T) {
	p := &pinger{}
	h := newHarness(t, Config{}, p)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- h.svr.Serve(ctx) }()

	h.send(t, 3, bas(protocol.BasPing))
	var ans *protocol.Message
	require.Eventually(t, func() bool {
		var ok bool
		ans, ok = h.rx[3].Poll()
		return ok
	}, time.Second, time.Millisecond)
	assert.True(t, ans.Flags.Ack())
	assert.Equal(t, protocol.CodeNone, ans.Flags.Code())

	cancel()
	assert.NoError(t, <-done)
}

func TestErrorAnswers(t *testing.T) {
	tests := []struct {
		name string
		hdr  protocol.Header
		code protocol.Code
		text string
	}{
		{"unknown class", protocol.Header{Class: 9, Version: 2}, protocol.CodeBadClass,
			"[RPC] Error:Message has unsupported Class of Service 9"},
		{"unregistered class", protocol.Header{Class: protocol.ClassC2C, Version: 2}, protocol.CodeBadClass,
			"[RPC] Error:Message has unsupported Class of Service 3"},
		{"version", protocol.Header{Class: protocol.ClassBAS, Subtype: protocol.BasPing, Version: 7}, protocol.CodeVersionMismatch,
			"[RPC] Error:Message has a different CoS Version: 7"},
		{"subtype", bas(9), protocol.CodeBadSubtype,
			"[RPC] Error:Message has subtype 9 for Class of Service 0"},
		{"handler", bas(protocol.BasInvalid), protocol.CodeBadSubtype,
			"[RPC] Error:Message has subtype 0 for Class of Service 0"},
	}

	h := newHarness(t, Config{}, &pinger{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.send(t, 5, tt.hdr)
			n, err := h.svr.PollOnce(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, n)

			ans := h.answer(t, 5)
			assert.Equal(t, tt.code, ans.Flags.Code())
			assert.True(t, ans.Flags.ErrStr())
			assert.Equal(t, uint8(1), codec.Status(ans))
			assert.Equal(t, tt.text, codec.ErrorString(ans))
			assert.Equal(t, tt.hdr.Class, ans.Class)
		})
	}
	assert.Equal(t, uint64(len(tests)), h.svr.LoadStat().Errors)
}

func TestFairPolling(t *testing.T) {
	p := &pinger{}
	h := newHarness(t, Config{}, p)

	for i := 0; i < 3; i++ {
		h.send(t, 0, bas(protocol.BasPing))
	}
	h.send(t, 7, bas(protocol.BasPing))
	h.send(t, 195, bas(protocol.BasPing))

	// one message per sender per pass
	n, err := h.svr.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, _ = h.svr.PollOnce(context.Background())
	assert.Equal(t, 1, n)
	n, _ = h.svr.PollOnce(context.Background())
	assert.Equal(t, 1, n)
	n, _ = h.svr.PollOnce(context.Background())
	assert.Equal(t, 0, n)

	st := h.svr.LoadStat()
	assert.Equal(t, uint64(3), st.ValidPolls)
	assert.Equal(t, uint64(1), st.EmptyPolls)
	assert.Equal(t, uint64(5), st.Items)
	assert.Equal(t, uint64(5), st.Answers)
	assert.InDelta(t, 5.0/3, st.ItemsPerPoll(), 1e-9)
	assert.Equal(t, 5, p.calls)
}

type sink struct{ got []*protocol.Message }

func (s *sink) Deliver(msg *protocol.Message) bool {
	s.got = append(s.got, msg)
	return true
}

func TestAckRouting(t *testing.T) {
	s := &sink{}
	mesh := transport.NewMesh()
	svr := New(Config{Name: "io-south", Port: cluster.South}, mesh, nil)
	svr.SetAckSink(s)
	require.NoError(t, svr.Start(context.Background()))
	defer svr.Shutdown(context.Background())

	ack := &protocol.Message{Header: bas(protocol.BasPing)}
	ack.Flags = protocol.FlagAck
	require.NoError(t, mesh.Send(svr.Addr(130), ack))
	_, err := svr.PollOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, s.got, 1)
	assert.Equal(t, uint64(1), svr.LoadStat().Acks)
	assert.Zero(t, svr.LoadStat().Answers)
}

func TestMiddlewareRecover(t *testing.T) {
	mesh := transport.NewMesh()
	svr := New(Config{Name: "io-panic"}, mesh, nil)
	require.NoError(t, svr.Register(serviceFunc(func(ctx context.Context, req *registry.Request) error {
		panic("lane table corrupted")
	})))
	svr.Use(middleware.Recover())
	require.NoError(t, svr.Start(context.Background()))
	defer svr.Shutdown(context.Background())

	rx, err := mesh.Alloc(2, 0)
	require.NoError(t, err)
	msg := &protocol.Message{Header: bas(protocol.BasPing)}
	msg.DMA, msg.Tag = rx.Addr().DMA, rx.Addr().Tag
	require.NoError(t, mesh.Send(svr.Addr(2), msg))
	_, err = svr.PollOnce(context.Background())
	require.NoError(t, err)

	ans, ok := rx.Poll()
	require.True(t, ok)
	assert.Equal(t, protocol.CodeInternal, ans.Flags.Code())
	assert.Equal(t, "[RPC] Error:Internal error while handling RPC message", codec.ErrorString(ans))
}

type serviceFunc registry.Handler

func (f serviceFunc) Entry() registry.Entry {
	return registry.Entry{Class: protocol.ClassBAS, Handler: registry.Handler(f)}
}

func TestLifecycle(t *testing.T) {
	mesh := transport.NewMesh()
	dir := discovery.NewStatic()
	svr := New(Config{Name: "io-north", Port: cluster.North, Directory: dir, Bridge: "127.0.0.1:7000"}, mesh, nil)

	if _, err := svr.PollOnce(context.Background()); err != ErrNotStarted {
		t.Fatalf("expect ErrNotStarted, got %v", err)
	}
	require.NoError(t, svr.Start(context.Background()))
	require.NoError(t, svr.Start(context.Background()))
	assert.ErrorIs(t, svr.Register(&pinger{}), registry.ErrFrozen)

	list, err := dir.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, discovery.Controller{Name: "io-north", Port: cluster.North, DMA: cluster.NorthDMA, Bridge: "127.0.0.1:7000"}, list[0])

	// endpoints are in use while started
	_, err = mesh.Open(svr.Addr(0), 0)
	assert.ErrorIs(t, err, transport.ErrInUse)

	require.NoError(t, svr.Shutdown(context.Background()))
	list, _ = dir.Discover(context.Background())
	assert.Empty(t, list)
	_, err = mesh.Open(svr.Addr(0), 0)
	assert.NoError(t, err)
}

func TestStartInvalidPort(t *testing.T) {
	svr := New(Config{Port: 2}, transport.NewMesh(), nil)
	assert.Error(t, svr.Start(context.Background()))
}

func BenchmarkPollOnce(b *testing.B) {
	mesh := transport.NewMesh()
	svr := New(Config{Name: "bench"}, mesh, nil)
	if err := svr.Register(&pinger{}); err != nil {
		b.Fatal(err)
	}
	if err := svr.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	rx, _ := mesh.Alloc(3, 0)
	msg := &protocol.Message{Header: bas(protocol.BasPing)}
	msg.DMA, msg.Tag = rx.Addr().DMA, rx.Addr().Tag
	to := svr.Addr(3)
	ctx := context.Background()

	for b.Loop() {
		if err := mesh.Send(to, msg); err != nil {
			b.Fatal(err)
		}
		if _, err := svr.PollOnce(ctx); err != nil {
			b.Fatal(err)
		}
		rx.Poll()
	}
}
