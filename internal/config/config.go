// Package config loads server settings from an ini file with environment
// overrides. Environment variables win so containerized deployments can
// reconfigure without editing the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string
	// StorageDriver selects the persistence backend: memory, sqlite, postgres.
	StorageDriver string
	// DatabaseURL, when set, overrides StorageDriver with a dburl-style URL.
	DatabaseURL string
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string
	// PostgresDSN is the connection string for the postgres driver.
	PostgresDSN string
	// BlobDriver selects the attachment store: fs, s3, memory.
	BlobDriver string
	// BlobRoot is the directory for the fs blob driver.
	BlobRoot string
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Listen:        ":8080",
		StorageDriver: "sqlite",
		SQLitePath:    "reqcore.db",
		BlobDriver:    "fs",
		BlobRoot:      "attachments",
	}
}

// Load reads path (when non-empty) and applies environment overrides. A
// missing file with an empty path is not an error; a named file that cannot
// be read is.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		file, err := ini.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		keys := file.Section("").KeysHash()
		apply(&cfg, func(key string) string { return keys[key] })
	}
	apply(&cfg, func(key string) string { return os.Getenv("REQCORE_" + envKey(key)) })
	return cfg, nil
}

func apply(cfg *Config, get func(key string) string) {
	set := func(dst *string, key string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Listen, "listen")
	set(&cfg.StorageDriver, "storage_driver")
	set(&cfg.DatabaseURL, "database_url")
	set(&cfg.SQLitePath, "sqlite_path")
	set(&cfg.PostgresDSN, "postgres_dsn")
	set(&cfg.BlobDriver, "blob_driver")
	set(&cfg.BlobRoot, "blob_root")
}

func envKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
