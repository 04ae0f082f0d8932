package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

func ParseDriver(v string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "postgres", "pg", "pgx":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unsupported db driver: %s", v)
	}
}

// Open connects with the given driver and makes sure the schema exists.
func Open(ctx context.Context, driver Driver, dsn string, pool PoolConfig) (*sql.DB, error) {
	var (
		conn *sql.DB
		err  error
	)
	switch driver {
	case DriverPostgres:
		conn, err = OpenPostgres(ctx, dsn, pool)
	case DriverSQLite:
		conn, err = OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, conn, driver); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
