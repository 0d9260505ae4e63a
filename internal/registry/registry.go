// Package registry implements the single-threaded component registry and
// the with_device primitive of spec §5: a single goroutine owns the World
// of connected devices, and every mutation is a closure posted onto that
// goroutine rather than a lock taken from the caller's own goroutine.
package registry

import (
	"context"
	"errors"
)

type deviceKey struct{}

// World is the mutable state the registry goroutine owns exclusively.
// Callers never touch it directly except from inside a WithDevice closure.
type World struct {
	Devices map[string]*Entity
}

// Entity is one connected device's registry-visible record. Protocol state
// (SAR controller, auth service, MASS engine, tunnel) lives in the
// embedding application's own device type, referenced here through an
// opaque handle so this package stays free of a dependency on them.
type Entity struct {
	Addr   string
	Handle interface{}
}

var ErrNoSuchDevice = errors.New("registry: no such device")
var ErrReentrant = errors.New("registry: with_device called reentrantly")

type job func(*World)

// Registry runs the event loop goroutine and exposes WithDevice.
type Registry struct {
	jobs chan job
	stop chan struct{}
	done chan struct{}
}

func New() *Registry {
	r := &Registry{
		jobs: make(chan job, 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Registry) loop() {
	defer close(r.done)
	world := &World{Devices: make(map[string]*Entity)}
	for {
		select {
		case <-r.stop:
			for {
				select {
				case j := <-r.jobs:
					j(world)
				default:
					return
				}
			}
		case j := <-r.jobs:
			j(world)
		}
	}
}

// Stop halts the event loop. Jobs already queued when Stop is called still
// run; jobs posted after the loop has exited never run.
func (r *Registry) Stop() {
	close(r.stop)
	<-r.done
}

// Register inserts a new device entity, replacing any existing one with the
// same address.
func (r *Registry) Register(addr string, handle interface{}) {
	reply := make(chan struct{})
	r.jobs <- func(w *World) {
		w.Devices[addr] = &Entity{Addr: addr, Handle: handle}
		close(reply)
	}
	<-reply
}

// Unregister removes a device entity.
func (r *Registry) Unregister(addr string) {
	reply := make(chan struct{})
	r.jobs <- func(w *World) {
		delete(w.Devices, addr)
		close(reply)
	}
	<-reply
}

// Addrs lists every currently registered device address, for introspection
// (ctlsock, CLI `status`).
func (r *Registry) Addrs() []string {
	reply := make(chan []string, 1)
	r.jobs <- func(w *World) {
		addrs := make([]string, 0, len(w.Devices))
		for a := range w.Devices {
			addrs = append(addrs, a)
		}
		reply <- addrs
	}
	return <-reply
}

// WithDevice runs fn on the registry goroutine with exclusive access to
// addr's entity, returning fn's result and whether the device was found.
// ctx must not already be marked as running inside a WithDevice call: the
// event loop is single-threaded, so a caller already inside one callback
// that tries to post and block on another would deadlock against itself.
// Such reentrant calls fail fast with ErrReentrant instead.
func WithDevice[R any](ctx context.Context, r *Registry, addr string, fn func(*World, *Entity) R) (result R, found bool, err error) {
	if ctx.Value(deviceKey{}) != nil {
		return result, false, ErrReentrant
	}

	type res struct {
		r     R
		found bool
	}
	reply := make(chan res, 1)
	r.jobs <- func(w *World) {
		e, ok := w.Devices[addr]
		if !ok {
			reply <- res{found: false}
			return
		}
		reply <- res{r: fn(w, e), found: true}
	}

	select {
	case out := <-reply:
		if !out.found {
			return result, false, ErrNoSuchDevice
		}
		return out.r, true, nil
	case <-ctx.Done():
		return result, false, ctx.Err()
	}
}

// MarkInside returns a child context flagged as already running inside a
// WithDevice callback, for fn implementations that need to call back out
// into code which might itself attempt WithDevice.
func MarkInside(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, deviceKey{}, addr)
}
