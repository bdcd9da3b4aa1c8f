package lifecycle

import (
	"sync"

	"go.uber.org/zap"
)

// CleanupFunc releases a registered resource. Implementations must be safe
// to invoke exactly once.
type CleanupFunc func()

// Registry tracks one cleanup function per logical resource key. It is the
// mechanism by which overlapping callers collapse into a single underlying
// subscription or heartbeat: the second Register for a key gets the first
// caller's cleanup back and no second resource is created.
type Registry struct {
	mu        sync.Mutex
	resources map[string]CleanupFunc
	logger    *zap.Logger
}

// NewRegistry creates an empty registry. It is constructed once per process
// and injected; there is no package-level instance.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		resources: make(map[string]CleanupFunc),
		logger:    logger,
	}
}

// Register stores cleanup under key unless the key is already taken, in
// which case the existing cleanup is returned unchanged and the new one is
// discarded. Callers must therefore create the underlying resource lazily,
// after Register confirms ownership, or accept that a duplicate resource
// was never started.
func (r *Registry) Register(key string, cleanup CleanupFunc) CleanupFunc {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.resources[key]; ok {
		r.logger.Debug("resource already registered", zap.String("key", key))
		return existing
	}
	r.resources[key] = cleanup
	return cleanup
}

// Has reports whether a resource is registered under key.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.resources[key]
	return ok
}

// Get returns the cleanup registered under key, or nil.
func (r *Registry) Get(key string) CleanupFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resources[key]
}

// Remove invokes and discards the cleanup registered under key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	cleanup, ok := r.resources[key]
	delete(r.resources, key)
	r.mu.Unlock()

	if ok && cleanup != nil {
		cleanup()
	}
}

// Cleanup invokes every registered cleanup and clears the registry.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	cleanups := make([]CleanupFunc, 0, len(r.resources))
	for _, fn := range r.resources {
		cleanups = append(cleanups, fn)
	}
	r.resources = make(map[string]CleanupFunc)
	r.mu.Unlock()

	for _, fn := range cleanups {
		if fn != nil {
			fn()
		}
	}
}
