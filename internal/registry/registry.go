// Package registry caches the set of models installed on the Ollama server
// so the /model command can warn about names the server does not know.
package registry

import (
	"context"
	"sync"
	"time"
)

// refreshInterval bounds how often the model list is re-fetched.
const refreshInterval = 5 * time.Minute

// Lister fetches the installed model names, typically the Ollama client.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Registry is a lazily refreshed cache of installed model names. Safe for
// concurrent use.
type Registry struct {
	lister Lister

	mu        sync.Mutex
	models    map[string]struct{}
	fetchedAt time.Time
}

// New returns a registry backed by the given lister.
func New(lister Lister) *Registry {
	return &Registry{lister: lister}
}

// Known reports whether the model name is installed on the server,
// refreshing the cached list when it is stale. The error is non-nil when
// the list could not be fetched and no cached copy exists; callers should
// then skip the check rather than fail the command.
func (r *Registry) Known(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.models == nil || time.Since(r.fetchedAt) > refreshInterval {
		names, err := r.lister.ListModels(ctx)
		if err != nil {
			if r.models == nil {
				return false, err
			}
			// Stale cache beats no answer.
		} else {
			models := make(map[string]struct{}, len(names))
			for _, n := range names {
				models[n] = struct{}{}
			}
			r.models = models
			r.fetchedAt = time.Now()
		}
	}

	_, ok := r.models[name]
	return ok, nil
}
