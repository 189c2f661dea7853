package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"noc-rpc/cluster"
	"noc-rpc/cycles"
)

func TestDefaultValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("NOCRPC_PORT", "south")
	t.Setenv("NOCRPC_LAYOUT", "explorer")
	t.Setenv("NOCRPC_FREQ_MHZ", "400")
	t.Setenv("NOCRPC_ETCD", "10.0.0.1:2379, 10.0.0.2:2379,")
	t.Setenv("NOCRPC_BUDGET", "2ms")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, cluster.South, cfg.Port)
	assert.Equal(t, cluster.Explorer, cfg.Layout)
	assert.Equal(t, 400*cycles.MHz, cfg.Freq)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Etcd)
	assert.Equal(t, 2*time.Millisecond, cfg.Budget)
}

func TestLoadEnvFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("NOCRPC_NAME=io-test\nNOCRPC_HTTP=:8080\n"), 0o644))
	t.Setenv("NOCRPC_HTTP", ":9090")
	t.Cleanup(func() { os.Unsetenv("NOCRPC_NAME") })

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "io-test", cfg.Name)
	assert.Equal(t, ":9090", cfg.HTTP) // environment wins

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadBadValues(t *testing.T) {
	t.Setenv("NOCRPC_PORT", "east")
	t.Setenv("NOCRPC_RING_SIZE", "many")
	_, err := Load("")
	assert.Len(t, multierr.Errors(err), 2)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Name = ""
	cfg.RingSize = 1
	cfg.RateLimit = 10
	cfg.RateBurst = 0
	cfg.Etcd = []string{"x"}
	cfg.TTL = 0
	assert.Len(t, multierr.Errors(cfg.Validate()), 4)
}

func TestParse(t *testing.T) {
	p, err := ParsePort("1")
	require.NoError(t, err)
	assert.Equal(t, cluster.South, p)

	l, err := ParseLayout("explorer")
	require.NoError(t, err)
	assert.Equal(t, "explorer", LayoutName(l))
	_, err = ParseLayout("mesh")
	assert.Error(t, err)
}
