package fp

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/cycles"
	"noc-rpc/middleware"
	"noc-rpc/protocol"
	"noc-rpc/registry"
	"noc-rpc/service/internal/servicetest"
)

func TestMailbox(t *testing.T) {
	ctx := context.Background()
	mb := NewMailbox()
	f := servicetest.New(t, mb)
	c, to := f.Client(t, 3)

	poll := func() *protocol.Message {
		msg, err := codec.NewCommand(protocol.ClassFP, protocol.FpCLI, nil)
		require.NoError(t, err)
		ack, err := c.Call(ctx, to, msg)
		require.NoError(t, err)
		return ack
	}

	ack := poll()
	assert.Equal(t, uint8(0), codec.Status(ack))
	assert.Zero(t, ack.DataLen)

	require.NoError(t, mb.Post(3, []byte("help\x00")))
	assert.True(t, mb.Pending(3))
	ack = poll()
	assert.Equal(t, uint8(1), codec.Status(ack))
	assert.Equal(t, []byte("help\x00"), ack.Payload)
	assert.Equal(t, uint16(5), ack.DataLen)
	assert.False(t, mb.Pending(3))

	ack = poll()
	assert.Equal(t, uint8(0), codec.Status(ack))
}

func TestPollHelper(t *testing.T) {
	ctx := context.Background()
	mb := NewMailbox()
	f := servicetest.New(t, mb)
	c, to := f.Client(t, 130)

	// unterminated lines get a terminator, newer posts replace unread ones
	require.NoError(t, mb.Post(130, []byte("stats")))
	require.NoError(t, mb.Post(130, []byte("reset lane 2")))
	cmd, ok, err := Poll(ctx, c, to)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "reset lane 2", cmd)

	_, ok, err = Poll(ctx, c, to)
	require.NoError(t, err)
	assert.False(t, ok)

	// other clusters' mailboxes are independent
	require.NoError(t, mb.Post(4, []byte("x")))
	_, ok, err = Poll(ctx, c, to)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostInvalidCluster(t *testing.T) {
	assert.ErrorIs(t, NewMailbox().Post(64, nil), ErrInvalidCluster)
}

func TestMailboxOverBudget(t *testing.T) {
	mb := NewMailbox()
	require.NoError(t, mb.Post(3, []byte("help\x00")))

	slow := func(ctx context.Context, req *registry.Request) error {
		time.Sleep(time.Millisecond)
		return mb.handle(ctx, req)
	}
	handler := middleware.Budget(1, cycles.DefaultFreq)(slow)

	msg, err := codec.NewCommand(protocol.ClassFP, protocol.FpCLI, nil)
	require.NoError(t, err)
	req := &registry.Request{Sender: cluster.ID(3).Densify(), Msg: msg, Answer: &protocol.Message{}}
	req.Answer.Answer(msg)

	// the command line is drained, so the answer must reach the caller
	require.NoError(t, handler(context.Background(), req))
	assert.Equal(t, uint8(1), codec.Status(req.Answer))
	assert.Equal(t, []byte("help\x00"), req.Answer.Payload)
	assert.False(t, mb.Pending(3))
}

func TestPostTruncates(t *testing.T) {
	mb := NewMailbox()
	long := bytes.Repeat([]byte("x"), MaxCommand+100)
	require.NoError(t, mb.Post(5, long))
	assert.Len(t, mb.slots[cluster.ID(5).Densify()], MaxCommand)

	f := servicetest.New(t, mb)
	c, to := f.Client(t, 5)
	cmd, ok, err := Poll(context.Background(), c, to)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, cmd, MaxCommand-1)
}
