package postgres

import (
	"github.com/opsdeck/workstream/repositories"
	"go.uber.org/zap"
)

// NewRepositories creates all PostgreSQL-backed repositories over one pool
func NewRepositories(db *DB, logger *zap.Logger) *repositories.Repositories {
	return &repositories.Repositories{
		Entities:  NewEntityStore(db, logger),
		AuditLogs: NewAuditRepository(db, logger),
		TxManager: NewTransactionManager(db, logger),
	}
}
