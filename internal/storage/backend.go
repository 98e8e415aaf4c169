// Copyright 2025 James Ross
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/regulens/ingestion-engine/internal/model"
)

// Backend is one relational storage engine's SQL-dialect-specific
// behavior: placeholder syntax, upsert clause construction, and DDL
// generation differ enough between Postgres/SQLite/ClickHouse that the
// Storage Adapter dispatches through this interface rather than branching
// inline (spec §4.3's pluggable-backend requirement).
type Backend interface {
	Name() string
	DB() *sql.DB
	// Placeholder returns the positional parameter marker for the nth
	// (1-indexed) bound argument in a statement.
	Placeholder(n int) string
	// QuoteIdent quotes an identifier (table/column name) per the
	// backend's dialect.
	QuoteIdent(ident string) string
	// UpsertClause returns the dialect-specific conflict-resolution
	// clause to append after a multi-row INSERT, given the conflict
	// columns and the full column list.
	UpsertClause(conflictColumns, allColumns []string) string
	// ColumnType maps a generic logical type to the backend's DDL type.
	ColumnType(logical string) string
	Close() error
}

// BackendFactory constructs a Backend from a DSN.
type BackendFactory func(dsn string) (Backend, error)

// BackendRegistry maps backend names ("postgres", "sqlite", "clickhouse")
// to factories, and memoizes opened connections per DSN so every
// SourceConfig naming the same backend+DSN shares one pool.
type BackendRegistry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
	opened    map[string]Backend
}

// NewBackendRegistry builds a registry with the Postgres, SQLite, and
// ClickHouse factories pre-registered.
func NewBackendRegistry() *BackendRegistry {
	r := &BackendRegistry{
		factories: make(map[string]BackendFactory),
		opened:    make(map[string]Backend),
	}
	r.Register("postgres", newPostgresBackend)
	r.Register("sqlite", newSQLiteBackend)
	r.Register("clickhouse", newClickHouseBackend)
	return r
}

// Register adds or replaces the factory for name.
func (r *BackendRegistry) Register(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Open returns the Backend for (name, dsn), opening and caching a new one
// if this is the first request for that pair.
func (r *BackendRegistry) Open(name, dsn string) (Backend, error) {
	key := name + "|" + dsn
	r.mu.RLock()
	if b, ok := r.opened[key]; ok {
		r.mu.RUnlock()
		return b, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.opened[key]; ok {
		return b, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("storage: backend %q not registered", name)
	}
	b, err := factory(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open backend %q: %w", name, err)
	}
	r.opened[key] = b
	return b, nil
}

// Close shuts down every opened backend.
func (r *BackendRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, b := range r.opened {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.opened = make(map[string]Backend)
	return firstErr
}

// resolveBackend is a small helper used by Adapter to look up the Backend
// named by a source's StorageTableConfig.
func resolveBackend(registry *BackendRegistry, cfg model.StorageTableConfig, dsn string) (Backend, error) {
	if cfg.Backend == "" {
		return nil, fmt.Errorf("storage: source %q has no backend configured", cfg.TableName)
	}
	return registry.Open(cfg.Backend, dsn)
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
