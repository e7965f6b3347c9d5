package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/bridge"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/config"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage/memory"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage/sqldb"
)

// HookURL returns a function rendering the public URL of a hook under base.
func HookURL(base string) func(string) string {
	base = strings.TrimRight(base, "/")
	return func(hookID string) string {
		return base + "/api/v1/matrix/hook/" + hookID
	}
}

// OpenStorage opens the store described by the storage section. SQL stores
// create or migrate their schema on open.
func OpenStorage(sc config.StorageConfig) (ports.StorageProvider, error) {
	switch sc.Type {
	case "memory":
		return memory.New(), nil
	case "postgres":
		dsn := sc.Database.DSN
		if dsn == "" {
			return nil, fmt.Errorf("storage.database.dsn is required for postgres")
		}
		return sqldb.NewPostgres(dsn)
	case "", "sqlite":
		if sc.Database.DSN != "" {
			return sqldb.New(sqldb.Config{Driver: orDefault(sc.Database.Driver, "sqlite"), DSN: sc.Database.DSN})
		}
		path := sc.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return sqldb.NewSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", sc.Type)
	}
}

func appearance(a config.AppearanceConfig) bridge.Appearance {
	return bridge.Appearance{DisplayName: a.DisplayName, AvatarURL: a.AvatarURL}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
