// Package registry holds the live agent instances of one hosting session.
//
// Readers resolve agents by key on every use; writers replace an entry by
// swapping its pointer. The map itself only grows while the registry is
// open, so a resolved slot stays valid for the registry's lifetime.
package registry

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Put after Close.
var ErrClosed = errors.New("registry closed")

// Agent is the contract every registry entry satisfies.
type Agent interface {
	Name() string
	Run(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
}

type slot struct {
	agent atomic.Pointer[Agent]
}

// Registry maps stable agent names to live instances.
type Registry struct {
	mu     sync.RWMutex
	slots  map[string]*slot
	closed bool
}

func New() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

// Put installs agent under key, replacing any previous instance.
// The previous instance is returned so the caller can dispose of it.
func (r *Registry) Put(key string, agent Agent) (previous Agent, err error) {
	if agent == nil {
		return nil, errors.New("registry: nil agent")
	}

	// The swap happens under the lock so that Close, which takes the write
	// lock, either sees the new agent or makes Put fail.
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	if s, ok := r.slots[key]; ok {
		old := s.agent.Swap(&agent)
		r.mu.RUnlock()
		return deref(old), nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	s, ok := r.slots[key]
	if !ok {
		s = &slot{}
		r.slots[key] = s
	}
	return deref(s.agent.Swap(&agent)), nil
}

func deref(p *Agent) Agent {
	if p == nil {
		return nil
	}
	return *p
}

// Get resolves key to its current agent.
func (r *Registry) Get(key string) (Agent, bool) {
	r.mu.RLock()
	s, ok := r.slots[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	p := s.agent.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Remove deletes key. Removing an unknown key is a no-op.
func (r *Registry) Remove(key string) (Agent, bool) {
	r.mu.RLock()
	s, ok := r.slots[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	p := s.agent.Swap(nil)
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Keys returns the keys that currently resolve to an agent, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.slots))
	for k, s := range r.slots {
		if s.agent.Load() != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Close disposes every entry. Agents implementing io.Closer are closed.
// After Close every lookup misses and Put fails. Close is idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	slots := r.slots
	r.slots = make(map[string]*slot)
	r.mu.Unlock()

	var errs []error
	for _, s := range slots {
		p := s.agent.Swap(nil)
		if p == nil {
			continue
		}
		if c, ok := (*p).(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
