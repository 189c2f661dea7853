// Package boot starts the programs of simulated compute clusters and waits for them.
//
// The I/O controller boots clusters from a command line of the form
//
//	-c <program> [-a "<args>"] -c <program> [-a "<args>"] ...
//
// where the n-th -c runs on cluster n and each -a appends shell-quoted arguments to the
// program before it. Programs are Go functions registered by name; each runs on its own
// goroutine with the cluster identity it would have on hardware.
package boot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kballard/go-shellquote"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"noc-rpc/cluster"
	"noc-rpc/transport"
)

// Env is what a cluster program sees of its platform.
type Env struct {
	ID      cluster.ID       // cluster running the program
	Spawner cluster.ID       // cluster that spawned it
	Args    []string         // argv, Args[0] is the program name
	Fabric  transport.Fabric // NoC access
}

// Program is the main function of a cluster.
type Program func(ctx context.Context, env Env) error

// Errors.
var (
	ErrUnknownProgram = errors.New("boot: unknown program")
	ErrBusy           = errors.New("boot: cluster already running")
)

// Spec is one cluster to boot.
type Spec struct {
	ID   cluster.ID
	Args []string
}

func (s Spec) String() string {
	return fmt.Sprintf("%d: %s", s.ID, shellquote.Join(s.Args...))
}

// ParseArgs parses a -c/-a boot command line into one Spec per -c, on clusters 0, 1, ...
func ParseArgs(argv []string) (specs []Spec, e error) {
	for i := 0; i < len(argv); i++ {
		switch argv[i] {
		case "-c", "-a":
			if i+1 == len(argv) {
				return nil, fmt.Errorf("boot: %s needs a value", argv[i])
			}
		default:
			return nil, fmt.Errorf("boot: unexpected argument %q", argv[i])
		}
		opt, val := argv[i], argv[i+1]
		i++

		if opt == "-c" {
			if len(specs) == cluster.NbCompute {
				return nil, fmt.Errorf("boot: more than %d clusters", cluster.NbCompute)
			}
			specs = append(specs, Spec{ID: cluster.ID(len(specs)), Args: []string{val}})
			continue
		}
		if len(specs) == 0 {
			return nil, errors.New("boot: -a before any -c")
		}
		words, err := shellquote.Split(val)
		if err != nil {
			return nil, fmt.Errorf("boot: -a %q: %w", val, err)
		}
		last := &specs[len(specs)-1]
		last.Args = append(last.Args, words...)
	}
	return specs, nil
}

// Launcher runs cluster programs.
type Launcher struct {
	Self     cluster.ID // the spawning I/O cluster
	Fabric   transport.Fabric
	Programs map[string]Program

	mu      sync.Mutex
	running map[cluster.ID]bool
	errs    error
	wg      sync.WaitGroup
}

// Spawn starts the program named by cmdline on cluster id.
func (l *Launcher) Spawn(ctx context.Context, id cluster.ID, cmdline string) error {
	args, err := shellquote.Split(cmdline)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	return l.Start(ctx, Spec{ID: id, Args: args})
}

// Start starts s.
func (l *Launcher) Start(ctx context.Context, s Spec) error {
	if !s.ID.Valid() {
		return fmt.Errorf("boot: invalid cluster %d", s.ID)
	}
	if len(s.Args) == 0 {
		return fmt.Errorf("%w: empty command line", ErrUnknownProgram)
	}
	prog, ok := l.Programs[s.Args[0]]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProgram, s.Args[0])
	}

	l.mu.Lock()
	if l.running == nil {
		l.running = map[cluster.ID]bool{}
	}
	if l.running[s.ID] {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrBusy, s.ID)
	}
	l.running[s.ID] = true
	l.mu.Unlock()

	env := Env{ID: s.ID, Spawner: l.Self, Args: s.Args, Fabric: l.Fabric}
	logEntry := logger.With(zap.Int("cluster", int(s.ID)), zap.String("args", shellquote.Join(s.Args...)))
	logEntry.Info("spawning cluster")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := prog(ctx, env)

		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.running, s.ID)
		if err != nil {
			logEntry.Warn("cluster exited with error", zap.Error(err))
			l.errs = multierr.Append(l.errs, fmt.Errorf("cluster %d: %w", s.ID, err))
			return
		}
		logEntry.Info("cluster exited")
	}()
	return nil
}

// Boot starts each Spec in specs.
func (l *Launcher) Boot(ctx context.Context, specs []Spec) (e error) {
	for _, s := range specs {
		e = multierr.Append(e, l.Start(ctx, s))
	}
	return e
}

// Join waits for all started programs and returns their combined errors.
func (l *Launcher) Join() error {
	l.wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.errs
	l.errs = nil
	return err
}
