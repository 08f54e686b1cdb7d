package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/xo/dburl"

	"reqcore/internal/infra/persistence/memory"
	"reqcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

func newMemoryStore(engine *RulesEngine) domain.PersistentStore {
	return memory.NewStore(engine)
}

// StorageOptions selects and parameterizes a persistence backend. A non-empty
// DatabaseURL takes precedence over Driver.
type StorageOptions struct {
	Driver      StorageDriver
	DatabaseURL string
	SQLitePath  string
	PostgresDSN string
}

// OpenStorage resolves opts into a concrete backend.
func OpenStorage(opts StorageOptions, engine *RulesEngine) (PersistentStore, error) {
	if opts.DatabaseURL != "" {
		return openFromURL(opts.DatabaseURL, engine)
	}
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return NewSQLiteStore(opts.SQLitePath, engine)
	case StoragePostgres:
		return NewPostgresStore(opts.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	REQCORE_DATABASE_URL: single database url, e.g. sqlite:reqcore.db or
//	  postgres://user@host/reqcore (takes precedence; parsed via dburl)
//	REQCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	REQCORE_SQLITE_PATH: path to sqlite file (default ./reqcore.db)
//	REQCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	return OpenStorage(StorageOptions{
		Driver:      StorageDriver(os.Getenv("REQCORE_STORAGE_DRIVER")),
		DatabaseURL: os.Getenv("REQCORE_DATABASE_URL"),
		SQLitePath:  os.Getenv("REQCORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("REQCORE_POSTGRES_DSN"),
	}, engine)
}

// openFromURL resolves a single database url into a concrete backend.
func openFromURL(raw string, engine *RulesEngine) (PersistentStore, error) {
	u, err := dburl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	switch u.Driver {
	case "sqlite3", "sqlite":
		return NewSQLiteStore(u.DSN, engine)
	case "postgres", "pgx":
		return NewPostgresStore(u.DSN, engine)
	default:
		if strings.EqualFold(u.Driver, string(StorageMemory)) {
			return memory.NewStore(engine), nil
		}
		return nil, fmt.Errorf("unsupported database driver %s", u.Driver)
	}
}
