// Package adapters selects and caches the storage adapter behind the
// repository ports.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-hunt/backend/internal/docstore"
	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/internal/repository"
	"github.com/aura-hunt/backend/internal/schema"
	"github.com/aura-hunt/backend/pkg/database"
	pkgredis "github.com/aura-hunt/backend/pkg/redis"
	"github.com/aura-hunt/backend/pkg/storage"
)

// Kind names a storage backend.
type Kind string

const (
	KindBlob   Kind = "blob"
	KindTable  Kind = "table"
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// Config selects the backend and its parameters. Only the section of the
// selected kind is used.
type Config struct {
	Kind     Kind
	S3       storage.S3Config
	Postgres database.PoolConfig
	Redis    pkgredis.Config

	AutoMigrate      bool
	StrictValidation bool
	// NoWriteBack keeps migrated documents in memory only.
	NoWriteBack bool
}

// DefaultConfig is the in-memory backend with auto-migration on.
func DefaultConfig() Config {
	return Config{Kind: KindMemory, AutoMigrate: true}
}

// Builder opens the document store of one backend kind.
type Builder func(ctx context.Context, cfg Config, logger *zap.Logger) (docstore.Store, error)

// Option configures a Registry.
type Option func(*Registry)

// WithBuilder replaces the builder of kind.
func WithBuilder(kind Kind, b Builder) Option {
	return func(r *Registry) { r.builders[kind] = b }
}

// WithValidator sets the validator handed to every adapter.
func WithValidator(v *schema.Validator) Option {
	return func(r *Registry) { r.validator = v }
}

// Registry holds at most one adapter for the current configuration. Both
// ports are served by that one adapter.
type Registry struct {
	mu        sync.Mutex
	cfg       Config
	builders  map[Kind]Builder
	validator *schema.Validator
	current   *repository.Repository
	// built is every adapter handed out, closed by Reset and Close.
	built  []*repository.Repository
	logger *zap.Logger
}

// New returns a registry configured with DefaultConfig.
func New(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cfg: DefaultConfig(),
		builders: map[Kind]Builder{
			KindBlob:   buildBlob,
			KindTable:  buildTable,
			KindMemory: buildMemory,
			KindRedis:  buildRedis,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the current configuration.
func (r *Registry) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Configure switches to cfg. A changed configuration drops the cached
// adapter; adapters already handed out keep working on their old backend.
func (r *Registry) Configure(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builders[cfg.Kind]; !ok {
		return fmt.Errorf("unknown storage backend %q", cfg.Kind)
	}
	if cfg == r.cfg {
		return nil
	}
	r.cfg = cfg
	r.current = nil
	r.logger.Info("storage backend configured",
		zap.String("backend", string(cfg.Kind)),
		zap.Bool("auto_migrate", cfg.AutoMigrate),
		zap.Bool("strict", cfg.StrictValidation),
	)
	return nil
}

// Adapter returns the cached adapter, building it on first use. The backend
// is opened without holding the registry lock; when two callers race, the
// first adapter cached wins and the other is closed.
func (r *Registry) Adapter(ctx context.Context) (ports.Adapter, error) {
	r.mu.Lock()
	if r.current != nil {
		cur := r.current
		r.mu.Unlock()
		return cur, nil
	}
	cfg := r.cfg
	build, ok := r.builders[cfg.Kind]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Kind)
	}

	repo, err := r.build(ctx, cfg, build)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg != cfg {
		// Reconfigured while building: hand out the adapter for the
		// configuration asked for without caching it.
		r.built = append(r.built, repo)
		return repo, nil
	}
	if r.current != nil {
		if err := repo.Close(); err != nil {
			r.logger.Warn("close duplicate adapter", zap.Error(err))
		}
		return r.current, nil
	}
	r.current = repo
	r.built = append(r.built, repo)
	return repo, nil
}

func (r *Registry) build(ctx context.Context, cfg Config, build Builder) (*repository.Repository, error) {
	logger := r.logger.With(zap.String("backend", string(cfg.Kind)))
	store, err := build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Kind, err)
	}
	repo, err := repository.New(store, r.validator, repository.Options{
		AutoMigrate: cfg.AutoMigrate,
		Strict:      cfg.StrictValidation,
		NoWriteBack: cfg.NoWriteBack,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build %s adapter: %w", cfg.Kind, err)
	}
	return repo, nil
}

// RegistryRepo returns the registry port of the current adapter.
func (r *Registry) RegistryRepo(ctx context.Context) (ports.RegistryRepo, error) {
	return r.Adapter(ctx)
}

// EventRepo returns the event port of the current adapter.
func (r *Registry) EventRepo(ctx context.Context) (ports.EventRepo, error) {
	return r.Adapter(ctx)
}

// Reset closes every adapter handed out and restores DefaultConfig.
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.closeAll()
	r.cfg = DefaultConfig()
	return err
}

// Close closes every adapter handed out. The configuration is kept.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeAll()
}

func (r *Registry) closeAll() error {
	var errs []error
	for _, repo := range r.built {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.built = nil
	r.current = nil
	return errors.Join(errs...)
}
