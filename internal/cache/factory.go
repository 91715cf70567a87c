package cache

import (
	"sync"

	"janitord/internal/storage"
	logx "janitord/pkg/logx"
)

// Deps are the collaborators a Factory selects backends from.
type Deps struct {
	// Object is the host distributed cache; nil when the host runs without
	// one.
	Object ObjectCache
	// Store is the shared durable key/value store backing the transient
	// fallback; nil disables it.
	Store storage.Store
	Log   logx.Logger
}

// Factory selects and constructs cache backends by environment capability:
// object cache when the host provides one, transient fallback on the durable
// store otherwise, and process-local memory as the last resort.
//
// It also owns one lazily-created default instance for the rest of the
// application. The instance hooks (SetInstance/Reset) exist so tests can
// inject a memory or null cache without touching global state; they are not
// meant for per-request swapping.
type Factory struct {
	mu   sync.Mutex
	deps Deps

	initialPrefix string
	defaultPrefix string

	instance Cache
}

func NewFactory(deps Deps, defaultPrefix string) *Factory {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Factory{
		deps:          deps,
		initialPrefix: defaultPrefix,
		defaultPrefix: defaultPrefix,
	}
}

// Create constructs a fresh backend for the given namespace prefix.
func (f *Factory) Create(prefix string) Cache {
	f.mu.Lock()
	deps := f.deps
	f.mu.Unlock()

	switch {
	case deps.Object != nil:
		return NewObject(deps.Object, prefix, deps.Log)
	case deps.Store != nil:
		return NewTransient(deps.Store, prefix, deps.Log)
	default:
		// No persistent layer at all: fail soft to a process-local cache.
		return NewMemory(prefix)
	}
}

// Instance returns the process-wide default cache, creating it on first use.
func (f *Factory) Instance() Cache {
	f.mu.Lock()
	if f.instance != nil {
		c := f.instance
		f.mu.Unlock()
		return c
	}
	prefix := f.defaultPrefix
	f.mu.Unlock()

	c := f.Create(prefix)

	f.mu.Lock()
	// Another caller may have raced us; first one wins.
	if f.instance == nil {
		f.instance = c
	}
	c = f.instance
	f.mu.Unlock()
	return c
}

// SetInstance replaces the default cache. Test/reconfiguration hook.
func (f *Factory) SetInstance(c Cache) {
	f.mu.Lock()
	f.instance = c
	f.mu.Unlock()
}

// SetDefaultPrefix changes the prefix used when the default instance is next
// created. It does not touch an already-created instance.
func (f *Factory) SetDefaultPrefix(prefix string) {
	f.mu.Lock()
	f.defaultPrefix = prefix
	f.mu.Unlock()
}

// Reset clears just the default instance.
func (f *Factory) Reset() {
	f.mu.Lock()
	f.instance = nil
	f.mu.Unlock()
}

// ResetAll clears the default instance and restores the configured default
// prefix.
func (f *Factory) ResetAll() {
	f.mu.Lock()
	f.instance = nil
	f.defaultPrefix = f.initialPrefix
	f.mu.Unlock()
}

// BackendType introspects the current default instance without creating one.
func (f *Factory) BackendType() string {
	f.mu.Lock()
	c := f.instance
	f.mu.Unlock()
	if c == nil {
		return TypeNone
	}
	switch t := c.BackendType(); t {
	case TypeObject, TypeTransient, TypeMemory, TypeNull:
		return t
	default:
		return TypeUnknown
	}
}
