// Package postgres stores player accounts in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/rps/internal/config"
)

// applicationName tags server connections in pg_stat_activity.
const applicationName = "rps"

// AccountStore is the postgres credential backend. It owns the connection pool
// its AccountRepository queries.
type AccountStore struct {
	*AccountRepository
	pool *pgxpool.Pool
}

// NewAccountStore connects to PostgreSQL and returns an account store bound to
// the new pool.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a store whose pool has answered a ping, or a non-nil
// error with no pool left open.
func NewAccountStore(ctx context.Context, cfg config.DatabaseConfig) (*AccountStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool for %s: %w", cfg.Name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging %s at %s:%d: %w", cfg.Name, cfg.Host, cfg.Port, err)
	}

	return &AccountStore{
		AccountRepository: NewAccountRepository(pool),
		pool:              pool,
	}, nil
}

// Health reports whether logins can be served: the database must answer within
// timeout and the accounts table must exist.
//
// Precondition: The store must not be closed.
// Postcondition: Returns nil when an account lookup would reach the table.
func (s *AccountStore) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx, `SELECT 1 FROM accounts LIMIT 0`); err != nil {
		return fmt.Errorf("accounts table unreachable: %w", err)
	}
	return nil
}

// Close releases the pool. The store is unusable afterwards.
func (s *AccountStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for schema setup in tests and tools.
func (s *AccountStore) Pool() *pgxpool.Pool {
	return s.pool
}
