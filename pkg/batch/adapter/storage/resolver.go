package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	coreconfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Resolver opens storage connections by name and caches them.
type Resolver struct {
	cfg       *coreconfig.Config
	providers map[string]Provider

	mu    sync.Mutex
	conns map[string]Connection
}

// NewResolver creates a Resolver over the given providers, keyed by their type.
func NewResolver(cfg *coreconfig.Config, providers []Provider) *Resolver {
	byType := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byType[p.Type()] = p
	}
	return &Resolver{cfg: cfg, providers: byType, conns: make(map[string]Connection)}
}

// Resolve returns the connection configured under chunkflow.storage.<name>.
func (r *Resolver) Resolve(ctx context.Context, name string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[name]; ok {
		return conn, nil
	}
	raw, ok := r.cfg.Chunkflow.Storage[name]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	sc, err := storageconfig.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("storage connection '%s': %w", name, err)
	}
	provider, ok := r.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider for type '%s' (connection '%s')", sc.Type, name)
	}
	conn, err := provider.Connect(ctx, name, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage connection '%s': %w", name, err)
	}
	r.conns[name] = conn
	logger.Debugf("Opened %s storage connection '%s'.", sc.Type, name)
	return conn, nil
}

// CloseAll closes every cached connection.
func (r *Resolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for name, conn := range r.conns {
		if err := conn.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("storage connection '%s': %w", name, err))
		}
		delete(r.conns, name)
	}
	return errs.ErrorOrNil()
}
