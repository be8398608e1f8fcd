package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// Migrate applies the SQL files in dir with golang-migrate. action is one of
// up, down, drop or version.
func Migrate(action, dir, databaseURL string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve path for %s: %w", dir, err)
	}
	m, err := migrate.New("file://"+filepath.ToSlash(absDir), databaseURL)
	if err != nil {
		return "", fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	switch action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return "", err
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return "", err
		}
	case "drop":
		if err := m.Drop(); err != nil {
			return "", err
		}
		return "dropped", nil
	case "version":
	default:
		return "", fmt.Errorf("unsupported action %q", action)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return "no migration applied", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("version=%d dirty=%t", version, dirty), nil
}
