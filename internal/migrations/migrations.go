package migrations

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// RunMigrations brings the users and sessions schema up to date before the
// service starts accepting traffic.
func RunMigrations(db *sql.DB, logger *zap.SugaredLogger, migrationsDir string) error {
	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("apply schema migrations: %w", err)
	}
	logger.Info("schema is up to date")
	return nil
}
