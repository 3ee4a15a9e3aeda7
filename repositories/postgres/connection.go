package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/opsdeck/workstream/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Entities table: one row per managed entity, versioned for
		-- optimistic concurrency.
		CREATE TABLE IF NOT EXISTS entities (
			id UUID PRIMARY KEY,
			entity_type VARCHAR(50) NOT NULL,
			state VARCHAR(50) NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			assignee_id UUID,
			vendor_id UUID,
			fields JSONB NOT NULL DEFAULT '{}',
			created_by UUID NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			state_entered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Audit entries table: append-only, purged only by the external
		-- retention reaper.
		CREATE TABLE IF NOT EXISTS audit_entries (
			id UUID PRIMARY KEY,
			correlation_id UUID NOT NULL,
			event_type VARCHAR(50) NOT NULL,
			entity_type VARCHAR(50) NOT NULL,
			entity_id UUID,
			actor_id UUID NOT NULL,
			details JSONB,
			ip_address VARCHAR(45),
			user_agent TEXT,
			security_event BOOLEAN NOT NULL DEFAULT false,
			risk_level VARCHAR(20),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			retention_until TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entities_entity_type ON entities(entity_type);
		CREATE INDEX IF NOT EXISTS idx_entities_state ON entities(state);
		CREATE INDEX IF NOT EXISTS idx_entities_assignee_id ON entities(assignee_id);

		CREATE INDEX IF NOT EXISTS idx_audit_entries_correlation_id ON audit_entries(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_entity_id ON audit_entries(entity_id);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_event_type ON audit_entries(event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_created_at ON audit_entries(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_retention_until ON audit_entries(retention_until);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
