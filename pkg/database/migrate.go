package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/migrations"
	"github.com/noah-isme/gradebook-api/pkg/config"
)

// Migrator applies schema migrations over a dedicated connection.
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator opens its own connection so closing the migrator never affects
// the application pool. When cfg.MigrationsDir is empty the embedded SQL files
// are used.
func NewMigrator(cfg config.DatabaseConfig, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if cfg.MigrationsDir != "" {
		m, err = migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsDir, "postgres", driver)
	} else {
		source, srcErr := iofs.New(migrations.FS, ".")
		if srcErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load embedded migrations: %w", srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", source, "postgres", driver)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logVersion()
	return nil
}

// Down rolls back the given number of migrations; steps <= 0 rolls back everything.
func (m *Migrator) Down(steps int) error {
	var err error
	if steps > 0 {
		err = m.migrate.Steps(-steps)
	} else {
		err = m.migrate.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	m.logVersion()
	return nil
}

// Version reports the current schema version.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the migration connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

func (m *Migrator) logVersion() {
	version, dirty, err := m.Version()
	if err != nil {
		m.logger.Warn("failed to read schema version", zap.Error(err))
		return
	}
	m.logger.Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
}
