package discovery

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Static is an in-memory Directory. TTLs are ignored.
type Static struct {
	mu       sync.Mutex
	entries  map[string]Controller
	watchers []chan []Controller
}

var _ Directory = (*Static)(nil)

// NewStatic creates a Static directory holding list.
func NewStatic(list ...Controller) *Static {
	s := &Static{entries: map[string]Controller{}}
	for _, c := range list {
		s.entries[c.Name] = c
	}
	return s
}

func (s *Static) snapshot() []Controller {
	list := make([]Controller, 0, len(s.entries))
	for _, c := range s.entries {
		list = append(list, c)
	}
	slices.SortFunc(list, func(a, b Controller) int { return strings.Compare(a.Name, b.Name) })
	return list
}

func (s *Static) notify() {
	list := s.snapshot()
	for _, w := range s.watchers {
		select {
		case <-w:
		default:
		}
		w <- list
	}
}

// Register implements Directory.
func (s *Static) Register(ctx context.Context, c Controller, ttl int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[c.Name] = c
	s.notify()
	return nil
}

// Deregister implements Directory.
func (s *Static) Deregister(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
	s.notify()
	return nil
}

// Discover implements Directory. Results are sorted by name.
func (s *Static) Discover(ctx context.Context) ([]Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Watch implements Directory. A slow reader only sees the latest list.
func (s *Static) Watch(ctx context.Context) <-chan []Controller {
	w := make(chan []Controller, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	out := make(chan []Controller)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			s.watchers = slices.DeleteFunc(s.watchers, func(x chan []Controller) bool { return x == w })
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case list := <-w:
				select {
				case out <- list:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
