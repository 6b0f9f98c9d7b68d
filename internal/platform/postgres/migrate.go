package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir   = "migrations"
	migrationsTable = "schema_migrations"
)

// Schema returns the up migrations concatenated in version order.
func Schema() (string, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return "", fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		raw, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+name)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		fmt.Fprintf(&b, "-- %s\n", name)
		b.Write(raw)
		if !strings.HasSuffix(string(raw), "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// Migrator applies the embedded migrations over a dedicated pool that is
// closed when a run finishes.
type Migrator struct {
	cfg    Config
	logger *slog.Logger
}

func NewMigrator(cfg Config, logger *slog.Logger) (*Migrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	// DDL may outlive the request-sized statement timeout.
	cfg.StatementTimeout = 0
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	return &Migrator{cfg: cfg, logger: logger}, nil
}

// Up applies pending migrations and returns the resulting version. A
// cancelled ctx stops after the migration in flight.
func (m *Migrator) Up(ctx context.Context) (uint, error) {
	db, err := Open(ctx, m.cfg)
	if err != nil {
		return 0, err
	}
	source, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		_ = db.Close()
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = source.Close()
		_ = db.Close()
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = source.Close()
		_ = driver.Close()
		return 0, fmt.Errorf("init migrations: %w", err)
	}
	// Closes the source, the driver and db.
	defer func() {
		if srcErr, dbErr := mig.Close(); srcErr != nil || dbErr != nil {
			m.logger.Warn("close migrations", "source_error", srcErr, "database_error", dbErr)
		}
	}()
	mig.Log = migrateLogger{logger: m.logger}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mig.GracefulStop <- true
		case <-done:
		}
	}()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := mig.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	m.logger.Info("schema migrated", "version", version)
	return version, nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}
