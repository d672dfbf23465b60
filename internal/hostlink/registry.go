package hostlink

import "sync"

// EndpointInfo is one entry of the dynamic endpoint registry: a path the
// host registered, the HTTP verbs it accepts, and the remote dispatch
// name the multiplexer forwards requests to.
type EndpointInfo struct {
	Methods      []string
	RemoteMethod string
}

// Registry is the mutation-protected path -> EndpointInfo mapping owned
// by the link, per spec.md §9 ("model as a mutation-protected mapping
// owned by the link; HTTP routing resolves per-request against it").
// internal/surface resolves dynamic routes by calling Get on every
// request rather than maintaining its own route tree, so a request
// becomes routable within one event-loop turn of register_remote_method
// (the "endpoint dynamism" testable property).
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]EndpointInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]EndpointInfo)}
}

// Register adds or replaces the entry for path.
func (r *Registry) Register(path string, info EndpointInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[path] = info
}

// Get returns the full entry for path.
func (r *Registry) Get(path string) (EndpointInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.endpoints[path]
	return info, ok
}

// Lookup implements multiplexer.Registry, resolving path to its remote
// dispatch name only.
func (r *Registry) Lookup(path string) (string, bool) {
	info, ok := r.Get(path)
	if !ok {
		return "", false
	}
	return info.RemoteMethod, true
}

// Clear removes every registered endpoint, called on host disconnect and
// shutdown per spec.md §4.2.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = make(map[string]EndpointInfo)
}

// Paths returns every currently registered path, used by internal/surface
// to answer GET /printer/objects-style introspection and by tests.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.endpoints))
	for p := range r.endpoints {
		paths = append(paths, p)
	}
	return paths
}
