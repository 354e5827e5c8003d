//go:build integration

// Package dbtest gives integration tests a migrated PostgreSQL schema of their
// own. It uses HIVCARE_TEST_DATABASE_URL when set and otherwise starts a
// postgres:16-alpine container with testcontainers-go.
package dbtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cebuhealth/hivcare/internal/platform/db"
	"github.com/cebuhealth/hivcare/migrations"
)

// EnvURL names the variable pointing at an existing server.
const EnvURL = "HIVCARE_TEST_DATABASE_URL"

// ErrNoDatabase means EnvURL is unset and Docker is not reachable.
var ErrNoDatabase = errors.New("no test database: set " + EnvURL + " or start Docker")

// DB is a pool whose search_path is a fresh schema with every migration
// applied.
type DB struct {
	Pool   *pgxpool.Pool
	Schema string
}

// Open prepares a schema and returns it with a cleanup that drops the schema
// and stops any container it started.
func Open(ctx context.Context) (*DB, func(), error) {
	connStr := os.Getenv(EnvURL)
	stop := func() {}
	if connStr == "" {
		var err error
		if connStr, stop, err = startContainer(ctx); err != nil {
			return nil, nil, err
		}
	}

	schema, err := newSchemaName()
	if err != nil {
		stop()
		return nil, nil, err
	}
	admin, err := pgxpool.New(ctx, connStr)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	admin.Close()
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("create schema %s: %w", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ", public"
	cfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	cleanup := func() {
		if _, err := pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			fmt.Fprintf(os.Stderr, "dbtest: drop schema %s: %v\n", schema, err)
		}
		pool.Close()
		stop()
	}

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Pool: pool, Schema: schema}, cleanup, nil
}

// Truncate empties tables and everything referencing them.
func (d *DB) Truncate(ctx context.Context, tables ...string) error {
	_, err := d.Pool.Exec(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE")
	return err
}

func newSchemaName() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("schema name: %w", err)
	}
	return "hivcare_test_" + hex.EncodeToString(b), nil
}

func dockerAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

func startContainer(ctx context.Context) (string, func(), error) {
	if !dockerAvailable(ctx) {
		return "", nil, ErrNoDatabase
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "hivcare",
				"POSTGRES_PASSWORD": "hivcare",
				"POSTGRES_DB":       "hivcare_test",
			},
			// the server restarts once after initdb
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("create postgres container: %w", err)
	}
	stop := func() {
		if err := container.Terminate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "dbtest: terminate container: %v\n", err)
		}
	}

	host, err := container.Host(ctx)
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("get mapped port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://hivcare:hivcare@%s:%s/hivcare_test?sslmode=disable", host, port.Port())
	if err := waitForPostgres(ctx, connStr, 30*time.Second); err != nil {
		stop()
		return "", nil, err
	}
	return connStr, stop, nil
}

func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		pool, err := pgxpool.New(pingCtx, connStr)
		if err == nil {
			err = pool.Ping(pingCtx)
			pool.Close()
		}
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("postgres not ready after %v", timeout)
}
