// Package registry holds the table of class of service handlers an RPC server dispatches to.
//
// A Registry is filled during startup, one Entry per class, then frozen when the server
// starts. After Freeze it is read-only and safe for concurrent use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"noc-rpc/cluster"
	"noc-rpc/codec"
	"noc-rpc/protocol"
)

// ErrFrozen is returned by Register after Freeze.
var ErrFrozen = errors.New("registry: frozen")

// Request is one command being served.
type Request struct {
	Sender cluster.Dense     // dense id of the sending cluster
	Msg    *protocol.Message // the command; its payload is Msg.Payload
	Answer *protocol.Message // pre-filled ack routed back to the sender
}

// Handler serves the commands of one class.
// On nil error the server sends req.Answer. A non-nil error is sent as an ack whose
// rpc_err carries protocol.CodeOf(err).
type Handler func(ctx context.Context, req *Request) error

// Printer renders a message of the entry's class for diagnostics.
type Printer func(m *protocol.Message) string

// Entry describes a class of service.
type Entry struct {
	Class    protocol.Class
	Name     string
	Subtypes []string // indexed by protocol.Subtype
	Handler  Handler
	Printer  Printer // optional, defaults to codec.Print
}

// Registry maps classes to entries.
type Registry struct {
	entries [protocol.NbClass]*Entry
	frozen  atomic.Bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register adds or replaces the entry of e.Class.
func (r *Registry) Register(e Entry) error {
	if r.frozen.Load() {
		return ErrFrozen
	}
	if !e.Class.Known() {
		return fmt.Errorf("register %s: %w", e.Class, protocol.ErrBadClass)
	}
	if e.Handler == nil {
		return fmt.Errorf("register %s: nil handler", e.Class)
	}
	if e.Name == "" {
		e.Name = e.Class.String()
	}
	r.entries[e.Class] = &e
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup returns the entry of class c.
func (r *Registry) Lookup(c protocol.Class) (*Entry, bool) {
	if !c.Known() || r.entries[c] == nil {
		return nil, false
	}
	return r.entries[c], true
}

// Entries returns registered entries in class order.
func (r *Registry) Entries() (list []*Entry) {
	for _, e := range r.entries {
		if e != nil {
			list = append(list, e)
		}
	}
	return list
}

// Dispatch validates req.Msg and invokes the handler of its class.
// A class without entry fails with protocol.ErrBadClass, then version and subtype are
// checked in that order.
func (r *Registry) Dispatch(ctx context.Context, req *Request) error {
	e, ok := r.Lookup(req.Msg.Class)
	if !ok {
		return protocol.ErrBadClass
	}
	if err := req.Msg.Validate(); err != nil {
		return err
	}
	return e.Handler(ctx, req)
}

// SubtypeName returns the human-readable name of a subtype.
func (r *Registry) SubtypeName(c protocol.Class, s protocol.Subtype) string {
	if e, ok := r.Lookup(c); ok && int(s) < len(e.Subtypes) {
		return e.Subtypes[s]
	}
	return fmt.Sprintf("%s/%d", c, s)
}

// Print renders m with its class printer.
func (r *Registry) Print(m *protocol.Message) string {
	if e, ok := r.Lookup(m.Class); ok && e.Printer != nil {
		return e.Printer(m)
	}
	return codec.Print(m)
}
