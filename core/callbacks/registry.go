// Package callbacks implements the C10 callbacks registry: the
// at-prestartup, at-startup, at-signal, at-ready, at-shutdown, and
// at-exit registration lists spec.md §2 names, kept as six
// independently walkable FIFO lists per original_source/nsd/callbacks.c
// (SPEC_FULL.md §3 supplemented feature: AtReady is distinct from
// AtStartup, which a casual read of spec.md's table might conflate).
package callbacks

import (
	"os"
	"os/signal"
	"sync"

	"github.com/sirupsen/logrus"
)

// Func is a registered callback. An error return is logged as soon as
// it occurs and does not stop the remaining callbacks in its registry
// from running.
type Func func() error

// SignalFunc receives the triggering signal.
type SignalFunc func(os.Signal) error

// Registry holds the six ordered callback lists.
type Registry struct {
	mu sync.Mutex
	log *logrus.Logger

	preStartup []Func
	startup    []Func
	ready      []Func
	shutdown   []Func
	exit       []Func
	signal     []SignalFunc
}

// New creates an empty registry.
func New(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{log: log}
}

// AtPreStartup registers a callback run before driver sockets are
// opened (config validation, directory creation).
func (r *Registry) AtPreStartup(fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preStartup = append(r.preStartup, fn)
}

// AtStartup registers a callback run once drivers and pools exist but
// before the server begins accepting traffic.
func (r *Registry) AtStartup(fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startup = append(r.startup, fn)
}

// AtReady registers a callback run once the server has begun
// accepting connections — distinct from AtStartup per
// original_source/nsd/callbacks.c.
func (r *Registry) AtReady(fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, fn)
}

// AtSignal registers a callback invoked on SIGHUP/SIGUSR1-style
// control signals (not the process-ending SIGINT/SIGTERM, which drive
// AtShutdown).
func (r *Registry) AtSignal(fn SignalFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signal = append(r.signal, fn)
}

// AtShutdown registers a callback run when the server begins graceful
// shutdown (ConnPools draining).
func (r *Registry) AtShutdown(fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = append(r.shutdown, fn)
}

// AtExit registers a callback run immediately before process exit,
// after every ConnPool and driver has stopped.
func (r *Registry) AtExit(fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exit = append(r.exit, fn)
}

func (r *Registry) run(name string, fns []Func) {
	for i, fn := range fns {
		if err := fn(); err != nil {
			r.log.WithFields(logrus.Fields{"registry": name, "index": i}).
				WithError(err).Error("callback failed")
		}
	}
}

// RunPreStartup runs every AtPreStartup callback in registration order.
func (r *Registry) RunPreStartup() { r.run("prestartup", r.snapshot(&r.preStartup)) }

// RunStartup runs every AtStartup callback in registration order.
func (r *Registry) RunStartup() { r.run("startup", r.snapshot(&r.startup)) }

// RunReady runs every AtReady callback in registration order.
func (r *Registry) RunReady() { r.run("ready", r.snapshot(&r.ready)) }

// RunShutdown runs every AtShutdown callback in registration order.
func (r *Registry) RunShutdown() { r.run("shutdown", r.snapshot(&r.shutdown)) }

// RunExit runs every AtExit callback in registration order.
func (r *Registry) RunExit() { r.run("exit", r.snapshot(&r.exit)) }

func (r *Registry) snapshot(list *[]Func) []Func {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Func(nil), (*list)...)
}

// ListenSignals starts a goroutine that, on receipt of any of sigs,
// invokes every registered AtSignal callback in order and keeps
// listening (control signals like SIGHUP are not terminal). It
// returns a stop function.
func (r *Registry) ListenSignals(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-ch:
				r.mu.Lock()
				fns := append([]SignalFunc(nil), r.signal...)
				r.mu.Unlock()
				for _, fn := range fns {
					if err := fn(s); err != nil {
						r.log.WithError(err).Error("signal callback failed")
					}
				}
			case <-done:
				signal.Stop(ch)
				return
			}
		}
	}()
	return func() { close(done) }
}
