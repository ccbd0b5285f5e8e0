package meow

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"
)

// Dialect maps an application database type to the sqlstore dialect name.
func Dialect(dbType string) string {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "sqlite3"
	}
}

// OpenContainer wraps an existing database handle so whatsmeow keeps its
// device tables next to the application tables, and runs its migrations.
func OpenContainer(ctx context.Context, db *sql.DB, dialect string) (*sqlstore.Container, error) {
	if dialect == "sqlite3" {
		// sqlstore migrations rely on foreign keys
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			zap.L().Warn("whatsapp: unable to enable sqlite foreign_keys pragma", zap.Error(err))
		}
	}
	container := sqlstore.NewWithDB(db, dialect, NewLogger(zap.L().Named("whatsmeow.store")))
	if err := container.Upgrade(ctx); err != nil {
		return nil, errors.Wrapf(err, "sqlstore upgrade (%s)", dialect)
	}
	zap.L().Info("whatsapp: device store ready", zap.String("driver", dialect))
	return container, nil
}
