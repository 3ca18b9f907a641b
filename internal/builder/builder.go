// Package builder defines the contract between the sync server and the
// pluggable build/dev-server backends, plus the registry that resolves a
// builder identifier supplied at session init to a concrete implementation.
package builder

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Console is the per-session sink for user-visible builder output. The
// server wires it to the client console relay; builders never write to the
// process log through it.
type Console func(format string, args ...interface{})

// Builder is the pluggable build backend. The server never inspects builder
// internals beyond this contract.
type Builder interface {
	// StartDev starts a dev/watch build rooted at rootPath. The returned
	// session signals readiness on its Ready channel and is stopped when the
	// owning connection closes.
	StartDev(ctx context.Context, rootPath string, console Console) (*DevSession, error)

	// RunBuild runs a one-shot build rooted at rootPath and returns the
	// directory holding the build artifacts.
	RunBuild(ctx context.Context, rootPath string, console Console) (string, error)
}

// DevSession is a handle to a running dev build.
type DevSession struct {
	ready    <-chan struct{}
	stopOnce sync.Once
	stopFn   func()
}

// NewDevSession wraps a readiness channel and a stop function into a session
// handle. stop may be nil.
func NewDevSession(ready <-chan struct{}, stop func()) *DevSession {
	return &DevSession{ready: ready, stopFn: stop}
}

// Ready is closed once the dev build is serving.
func (s *DevSession) Ready() <-chan struct{} {
	return s.ready
}

// Stop tears the dev build down. Safe to call more than once.
func (s *DevSession) Stop() {
	s.stopOnce.Do(func() {
		if s.stopFn != nil {
			s.stopFn()
		}
	})
}

// Registry maps builder identifiers to implementations. Identifiers are
// resolved once per session, at init.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty builder registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder under the given identifier, replacing any
// previous registration.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Resolve looks up a builder by identifier. An unknown identifier is a
// configuration error, not a runtime load failure.
func (r *Registry) Resolve(name string) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("no builder registered for %q (available: %v)", name, r.names())
	}
	return b, nil
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
