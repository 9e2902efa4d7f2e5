// Package watch tracks the active library-watch subscription per
// project: at most one watcher runs per project id, registered on first
// track and removed when its stream terminates.
package watch

import (
	"context"
	"sync"
)

// Registry is a concurrency-safe map of project id to cancellation
// handle.
type Registry struct {
	mu       sync.Mutex
	watchers map[string]context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{
		watchers: make(map[string]context.CancelFunc),
	}
}

// Track starts run in its own goroutine unless a watcher for the project
// is already registered. It reports whether a new watcher was started.
// The registration is removed when run returns.
func (r *Registry) Track(projectID string, run func(ctx context.Context)) bool {
	r.mu.Lock()
	if _, exists := r.watchers[projectID]; exists {
		r.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.watchers[projectID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.watchers, projectID)
			r.mu.Unlock()
		}()
		run(ctx)
	}()
	return true
}

// Stop cancels the project's watcher, if any.
func (r *Registry) Stop(projectID string) {
	r.mu.Lock()
	cancel, ok := r.watchers[projectID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every registered watcher.
func (r *Registry) StopAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.watchers))
	for _, c := range r.watchers {
		cancels = append(cancels, c)
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// Active reports whether a watcher is currently registered for the
// project.
func (r *Registry) Active(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watchers[projectID]
	return ok
}
