package automation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/liamcoop/automations/compiler"
	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/migrations"
	"github.com/liamcoop/automations/rules"
)

// Open builds a Manager from configuration: durable backend, cache, store
// (loaded), engine and compiler.
func Open(cfg *config.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc := cfg.Location()
	clock := func() time.Time { return time.Now().In(loc) }

	backend, closer, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	cache := rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: cfg.GetCacheTTL(), Now: clock})
	store := rules.NewStore(backend, cache)
	if err := store.LoadAll(); err != nil {
		closeQuietly(closer)
		return nil, fmt.Errorf("failed to load automations: %w", err)
	}

	limits := rules.ScanLimits{
		MaxRecords:   cfg.Scan.MaxRecords,
		MaxFileBytes: cfg.Scan.MaxFileBytes,
	}
	engine, err := rules.NewEngine(store,
		rules.WithClock(clock),
		rules.WithRecordSource(rules.NewDirectorySource(limits)),
	)
	if err != nil {
		closeQuietly(closer)
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	comp := compiler.New(
		compiler.WithDeadlineSource(cfg.DeadlinesDir),
		compiler.WithClock(clock),
	)

	m := NewManager(engine, comp, loc)
	m.closer = closer
	return m, nil
}

func openBackend(cfg *config.Config) (rules.Backend, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		backend := rules.NewMemoryBackend()
		backend.SetLocation(cfg.Location())
		return backend, nil, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if cfg.Store.AutoMigrate {
			if err := MigrateUp(cfg.Store.DatabaseURL); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return rules.NewPostgresBackend(db), db.Close, nil

	default:
		backend, err := rules.NewDirectoryBackend(config.ExpandHome(cfg.RulesDir))
		if err != nil {
			return nil, nil, err
		}
		backend.SetLocation(cfg.Location())
		return backend, nil, nil
	}
}

// MigrateUp applies the embedded migrations to the database at databaseURL
func MigrateUp(databaseURL string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		logger.Info("database schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

func closeQuietly(closer func() error) {
	if closer == nil {
		return
	}
	if err := closer(); err != nil {
		logger.Warn("failed to close backend", "error", err)
	}
}
