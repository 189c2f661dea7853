package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"noc-rpc/codec"
	"noc-rpc/cycles"
	"noc-rpc/protocol"
	"noc-rpc/registry"
)

// echoHandler answers status 0.
func echoHandler(ctx context.Context, req *registry.Request) error {
	codec.SetStatus(req.Answer, 0)
	return nil
}

// slowHandler busy-waits 50ms.
func slowHandler(ctx context.Context, req *registry.Request) error {
	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
	}
	return nil
}

func newRequest() *registry.Request {
	msg := &protocol.Message{Header: protocol.Header{Class: protocol.ClassBAS, Subtype: protocol.BasPing, Version: 2}}
	ans := &protocol.Message{}
	ans.Answer(msg)
	return &registry.Request{Sender: 5, Msg: msg, Answer: ans}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := Logging(zap.New(core), nil)(echoHandler)

	if err := handler(context.Background(), newRequest()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	entries := logs.FilterMessage("command served").All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 log entry, got %d", len(entries))
	}
	assert.Equal(t, int64(5), entries[0].ContextMap()["sender"])

	failing := Logging(zap.New(core), nil)(func(ctx context.Context, req *registry.Request) error {
		return protocol.ErrBadSubtype
	})
	assert.ErrorIs(t, failing(context.Background(), newRequest()), protocol.ErrBadSubtype)
	assert.Equal(t, 1, logs.FilterMessage("handler error").Len())

	refusing := Logging(zap.New(core), nil)(func(ctx context.Context, req *registry.Request) error {
		codec.Fail(req.Answer, "[BAS]", "nope")
		return nil
	})
	assert.NoError(t, refusing(context.Background(), newRequest()))
	assert.Equal(t, 1, logs.FilterMessage("command refused").Len())
}

func TestRecover(t *testing.T) {
	handler := Recover()(func(ctx context.Context, req *registry.Request) error {
		panic("handler bug")
	})
	err := handler(context.Background(), newRequest())
	if err == nil {
		t.Fatal("expect error after panic")
	}
	assert.Equal(t, protocol.CodeInternal, protocol.CodeOf(err))
	assert.ErrorContains(t, err, "handler bug")
}

func TestBudgetPass(t *testing.T) {
	handler := Budget(cycles.Second(cycles.DefaultFreq), cycles.DefaultFreq)(echoHandler)
	if err := handler(context.Background(), newRequest()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestBudgetOverrunKeepsAnswer(t *testing.T) {
	// 10ms budget, handler needs 50ms and completes
	budget := cycles.DefaultFreq.Cycles(10 * time.Millisecond)
	handler := Budget(budget, cycles.DefaultFreq)(func(ctx context.Context, req *registry.Request) error {
		slowHandler(ctx, req)
		codec.SetStatus(req.Answer, 7)
		return nil
	})
	req := newRequest()
	if err := handler(context.Background(), req); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	assert.Equal(t, uint8(7), codec.Status(req.Answer))
}

func TestBudgetAborted(t *testing.T) {
	budget := cycles.DefaultFreq.Cycles(time.Millisecond)
	handler := Budget(budget, cycles.DefaultFreq)(func(ctx context.Context, req *registry.Request) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := handler(context.Background(), newRequest())
	assert.ErrorIs(t, err, protocol.ErrTimeout)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: two pass, the third is refused
	handler := RateLimit(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), newRequest()); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}
	err := handler(context.Background(), newRequest())
	if protocol.CodeOf(err) != protocol.CodeInternal {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next registry.Handler) registry.Handler {
			return func(ctx context.Context, req *registry.Request) error {
				order = append(order, name+".before")
				err := next(ctx, req)
				order = append(order, name+".after")
				return err
			}
		}
	}

	handler := Chain(mark("A"), mark("B"), Recover())(echoHandler)
	if err := handler(context.Background(), newRequest()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	assert.Equal(t, []string{"A.before", "B.before", "B.after", "A.after"}, order)

	boom := errors.New("boom")
	handler = Chain()(func(ctx context.Context, req *registry.Request) error { return boom })
	assert.ErrorIs(t, handler(context.Background(), newRequest()), boom)
}
