package boot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"noc-rpc/cluster"
	"noc-rpc/transport"
)

func TestParseArgs(t *testing.T) {
	specs, err := ParseArgs([]string{
		"-c", "odp-app", "-a", `-i "e0 e1" --verbose`, "-a", "-n 4",
		"-c", "pinger",
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, Spec{ID: 0, Args: []string{"odp-app", "-i", "e0 e1", "--verbose", "-n", "4"}}, specs[0])
	assert.Equal(t, Spec{ID: 1, Args: []string{"pinger"}}, specs[1])
	words, err := shellquote.Split(strings.TrimPrefix(specs[0].String(), "0: "))
	require.NoError(t, err)
	assert.Equal(t, specs[0].Args, words)

	for _, bad := range [][]string{
		{"-a", "x"},
		{"-c"},
		{"-x", "y"},
		{"-c", "p", "-a", `"unterminated`},
	} {
		_, err := ParseArgs(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestSpawnJoin(t *testing.T) {
	var mu sync.Mutex
	seen := map[cluster.ID][]string{}
	mesh := transport.NewMesh()

	l := &Launcher{
		Self:   cluster.NorthBase,
		Fabric: mesh,
		Programs: map[string]Program{
			"ok": func(ctx context.Context, env Env) error {
				mu.Lock()
				defer mu.Unlock()
				seen[env.ID] = env.Args
				assert.Equal(t, cluster.ID(cluster.NorthBase), env.Spawner)
				assert.Same(t, mesh, env.Fabric)
				return nil
			},
			"fail": func(ctx context.Context, env Env) error {
				return errors.New("boom")
			},
		},
	}
	ctx := context.Background()
	require.NoError(t, l.Spawn(ctx, 2, "ok --lane 1"))
	require.NoError(t, l.Spawn(ctx, 5, "fail"))
	require.NoError(t, l.Spawn(ctx, 6, "fail"))
	assert.ErrorIs(t, l.Spawn(ctx, 7, "missing"), ErrUnknownProgram)
	assert.Error(t, l.Spawn(ctx, 64, "ok"))

	err := l.Join()
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, []string{"ok", "--lane", "1"}, seen[2])
	assert.NoError(t, l.Join())
}

func TestSpawnBusy(t *testing.T) {
	release := make(chan struct{})
	l := &Launcher{Programs: map[string]Program{
		"wait": func(ctx context.Context, env Env) error {
			<-release
			return nil
		},
	}}
	ctx := context.Background()
	require.NoError(t, l.Spawn(ctx, 1, "wait"))
	assert.ErrorIs(t, l.Spawn(ctx, 1, "wait"), ErrBusy)
	close(release)
	assert.NoError(t, l.Join())
	require.NoError(t, l.Boot(ctx, []Spec{{ID: 1, Args: []string{"wait"}}}))
	assert.NoError(t, l.Join())
}
