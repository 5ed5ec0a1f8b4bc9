package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/storage"
	"github.com/italolelis/assetflow/internal/telemetry"
)

// ServerFinder looks up remote server configurations by name.
type ServerFinder interface {
	FindByName(ctx context.Context, name string) (*asset.RemoteServer, error)
}

// RemoteFactory builds a backend for a remote server configuration.
type RemoteFactory func(ctx context.Context, server *asset.RemoteServer) (Backend, error)

// Registry resolves repository names to backends. Remote backends are built
// lazily and kept per name; the local backend is a singleton.
type Registry struct {
	local     Backend
	servers   ServerFinder
	newRemote RemoteFactory
	telemetry *telemetry.Telemetry

	mu      sync.RWMutex
	remotes map[string]Backend
	evicted map[string]uint64
	group   singleflight.Group
}

type RegistryOption func(*Registry)

// WithRemoteFactory replaces the S3 constructor.
func WithRemoteFactory(f RemoteFactory) RegistryOption {
	return func(r *Registry) {
		r.newRemote = f
	}
}

// WithPresignExpiry sets the validity of presigned download URLs.
func WithPresignExpiry(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.newRemote = func(ctx context.Context, server *asset.RemoteServer) (Backend, error) {
			return NewS3(ctx, server, d)
		}
	}
}

// WithTelemetry instruments every resolved backend.
func WithTelemetry(tel *telemetry.Telemetry) RegistryOption {
	return func(r *Registry) {
		r.telemetry = tel
	}
}

func NewRegistry(local Backend, servers ServerFinder, opts ...RegistryOption) *Registry {
	r := &Registry{
		local:   local,
		servers: servers,
		remotes: make(map[string]Backend),
		evicted: make(map[string]uint64),
		newRemote: func(ctx context.Context, server *asset.RemoteServer) (Backend, error) {
			return NewS3(ctx, server, DefaultPresignExpiry)
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	r.local = r.instrument(r.local)

	return r
}

// Resolve returns the backend for a repository name. It returns
// ErrUnknownBackend when the name is neither the local repository nor a
// configured remote server. Concurrent first resolutions of the same name
// build at most one backend, detached from the cancellation of the caller
// that started it.
func (r *Registry) Resolve(ctx context.Context, name string) (Backend, error) {
	if name == asset.LocalRepository {
		return r.local, nil
	}

	if b, ok := r.cached(name); ok {
		return b, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		buildCtx := context.WithoutCancel(ctx)

		b, ok, generation := r.lookup(name)
		if ok {
			return b, nil
		}

		server, err := r.servers.FindByName(buildCtx, name)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to look up server %q: %w", name, err)
		}

		b, err = r.newRemote(buildCtx, server)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend %q: %w", name, err)
		}

		return r.store(name, generation, r.instrument(b)), nil
	})
	if err != nil {
		return nil, err
	}

	return v.(Backend), nil
}

// Evict drops the memoized backend so the next Resolve reloads its
// configuration. A build already in flight for the name is not memoized, and
// later callers start a fresh one; callers that had joined the in-flight
// build still receive the backend built from the old configuration.
func (r *Registry) Evict(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.remotes, name)
	r.evicted[name]++
	r.group.Forget(name)
}

func (r *Registry) cached(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.remotes[name]

	return b, ok
}

// lookup returns the memoized backend, or the eviction generation a new
// build must present to store.
func (r *Registry) lookup(name string) (Backend, bool, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.remotes[name]

	return b, ok, r.evicted[name]
}

// store inserts b unless another backend got there first, and returns the
// retained one. A backend built before an eviction of its name is returned
// but not kept.
func (r *Registry) store(name string, generation uint64, b Backend) Backend {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted[name] != generation {
		return b
	}

	if existing, ok := r.remotes[name]; ok {
		return existing
	}

	r.remotes[name] = b

	return b
}

func (r *Registry) instrument(b Backend) Backend {
	if r.telemetry == nil {
		return b
	}

	if _, ok := b.(*InstrumentedBackend); ok {
		return b
	}

	return NewInstrumentedBackend(b, r.telemetry)
}
