// Package factory provides functions for creating storage backends based on configuration.
package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/storage/memory"
	"github.com/smartshark/issuesync/internal/storage/sqlstore"
)

// BackendFactory creates a storage backend from a DSN.
type BackendFactory func(ctx context.Context, dsn string, opts Options) (storage.Storage, error)

var (
	mu              sync.RWMutex
	backendRegistry = make(map[string]BackendFactory)
)

// RegisterBackend registers a storage backend factory
func RegisterBackend(name string, factory BackendFactory) {
	mu.Lock()
	defer mu.Unlock()
	backendRegistry[name] = factory
}

// Options configures how the storage backend is opened
type Options struct {
	Database       string // dolt database name (default: issuesync)
	CommitterName  string // dolt commit author
	CommitterEmail string
}

func init() {
	RegisterBackend("memory", func(context.Context, string, Options) (storage.Storage, error) {
		return memory.New(), nil
	})
	for _, driver := range []string{sqlstore.DriverSQLite, sqlstore.DriverMySQL, sqlstore.DriverDolt} {
		RegisterBackend(driver, func(ctx context.Context, dsn string, opts Options) (storage.Storage, error) {
			return sqlstore.Open(ctx, sqlstore.Options{
				Driver:         driver,
				DSN:            dsn,
				Database:       opts.Database,
				CommitterName:  opts.CommitterName,
				CommitterEmail: opts.CommitterEmail,
			})
		})
	}
}

// New creates a storage backend with default options.
func New(ctx context.Context, backend, dsn string) (storage.Storage, error) {
	return NewWithOptions(ctx, backend, dsn, Options{})
}

// NewWithOptions creates a storage backend with the specified options. An
// empty backend selects sqlite.
func NewWithOptions(ctx context.Context, backend, dsn string, opts Options) (storage.Storage, error) {
	if backend == "" {
		backend = sqlstore.DriverSQLite
	}
	mu.RLock()
	factory, ok := backendRegistry[backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage backend: %s (supported: %v)", backend, Backends())
	}
	return factory(ctx, dsn, opts)
}

// Backends lists the registered backend names.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backendRegistry))
	for name := range backendRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
