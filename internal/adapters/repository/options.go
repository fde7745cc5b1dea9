package repository

import (
	"time"

	"github.com/okian/traderscore/pkg/logger"
)

// Option applies a configuration option to the PostgresStore.
type Option func(*PostgresStore)

// WithQueryTimeout bounds every statement issued by the store.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(s *PostgresStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithMaxOpenConns caps the connection pool opened by OpenPostgres.
func WithMaxOpenConns(n int) Option {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *PostgresStore) { s.logger = l }
}
