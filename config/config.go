// Package config holds the settings of an noc-rpc process.
//
// Values come from, lowest priority first: Default, a .env file, NOCRPC_* environment
// variables, then command line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"noc-rpc/cluster"
	"noc-rpc/cycles"
	"noc-rpc/ring"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NOCRPC_"

// Config contains process settings.
type Config struct {
	Name   string         // controller name in the directory
	Port   cluster.Port   // I/O controller port served
	Layout cluster.Layout // board layout
	Freq   cycles.Freq    // base clock

	RingSize int // rx queue slots per endpoint

	RateLimit float64 // commands per second, 0 for unlimited
	RateBurst int
	Budget    time.Duration // handler budget, 0 for none

	Bridge    string   // TCP listen address of the bridge, empty for none
	HTTP      string   // HTTP listen address, empty for none
	Etcd      []string // etcd endpoints, empty for a static directory
	TTL       int64    // directory record TTL in seconds
	Heartbeat time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Name:      "io-north",
		Port:      cluster.North,
		Layout:    cluster.Default,
		Freq:      cycles.DefaultFreq,
		RingSize:  ring.DefaultCapacity,
		RateBurst: 64,
		TTL:       10,
		Heartbeat: 5 * time.Second,
	}
}

// Load returns Default overridden by envFile, if it exists, and by the environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (cfg Config, e error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg = Default()
	e = cfg.ApplyEnv()
	return cfg, e
}

// ApplyEnv overrides cfg with NOCRPC_* variables.
func (cfg *Config) ApplyEnv() (e error) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, set func(v string) error) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if err := set(v); err != nil {
				e = multierr.Append(e, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, v, err))
			}
		}
	}

	str("NAME", &cfg.Name)
	str("BRIDGE", &cfg.Bridge)
	str("HTTP", &cfg.HTTP)
	num("PORT", func(v string) (err error) {
		cfg.Port, err = ParsePort(v)
		return err
	})
	num("LAYOUT", func(v string) (err error) {
		cfg.Layout, err = ParseLayout(v)
		return err
	})
	num("FREQ_MHZ", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		cfg.Freq = cycles.Freq(f) * cycles.MHz
		return err
	})
	num("RING_SIZE", func(v string) (err error) {
		cfg.RingSize, err = strconv.Atoi(v)
		return err
	})
	num("RATE", func(v string) (err error) {
		cfg.RateLimit, err = strconv.ParseFloat(v, 64)
		return err
	})
	num("BURST", func(v string) (err error) {
		cfg.RateBurst, err = strconv.Atoi(v)
		return err
	})
	num("BUDGET", func(v string) (err error) {
		cfg.Budget, err = time.ParseDuration(v)
		return err
	})
	num("TTL", func(v string) (err error) {
		cfg.TTL, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	num("HEARTBEAT", func(v string) (err error) {
		cfg.Heartbeat, err = time.ParseDuration(v)
		return err
	})
	if v, ok := os.LookupEnv(EnvPrefix + "ETCD"); ok {
		cfg.Etcd = SplitList(v)
	}
	return e
}

// Validate checks every field and returns all problems found.
func (cfg Config) Validate() (e error) {
	if cfg.Name == "" {
		e = multierr.Append(e, errors.New("name is empty"))
	}
	if cfg.Port != cluster.North && cfg.Port != cluster.South {
		e = multierr.Append(e, fmt.Errorf("invalid port %d", cfg.Port))
	}
	if cfg.Freq <= 0 {
		e = multierr.Append(e, fmt.Errorf("invalid frequency %v", cfg.Freq))
	}
	if cfg.RingSize < ring.MinCapacity || cfg.RingSize > ring.MaxCapacity {
		e = multierr.Append(e, fmt.Errorf("ring size %d out of range [%d,%d]", cfg.RingSize, ring.MinCapacity, ring.MaxCapacity))
	}
	if cfg.RateLimit < 0 || (cfg.RateLimit > 0 && cfg.RateBurst <= 0) {
		e = multierr.Append(e, fmt.Errorf("invalid rate limit %v burst %d", cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.Budget < 0 {
		e = multierr.Append(e, fmt.Errorf("negative budget %v", cfg.Budget))
	}
	if len(cfg.Etcd) > 0 && cfg.TTL <= 0 {
		e = multierr.Append(e, fmt.Errorf("TTL must be positive with etcd, got %d", cfg.TTL))
	}
	return e
}

// ParsePort parses "north", "south" or a port number.
func ParsePort(s string) (cluster.Port, error) {
	switch strings.ToLower(s) {
	case "north", "0":
		return cluster.North, nil
	case "south", "1":
		return cluster.South, nil
	}
	return 0, fmt.Errorf("unknown port %q", s)
}

// ParseLayout parses "default" or "explorer".
func ParseLayout(s string) (cluster.Layout, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return cluster.Default, nil
	case "explorer", "single":
		return cluster.Explorer, nil
	}
	return cluster.Layout{}, fmt.Errorf("unknown layout %q", s)
}

// LayoutName is the inverse of ParseLayout.
func LayoutName(l cluster.Layout) string {
	if l.SingleDMA {
		return "explorer"
	}
	return "default"
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) (list []string) {
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
