// Package squerytests provides a disposable PostgreSQL server and scratch
// databases for tests that exercise real connections.
package squerytests

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/outernet-project/squery"
)

const (
	// PostgresqlDBImage is the PostgreSQL image tests run against.
	PostgresqlDBImage = "postgres:latest"

	// DBUser is the username for the test database server.
	DBUser = "squery"
	// DBPassword is the password for the test database server.
	DBPassword = "squ3ry"
	// DBName is the database created with the server.
	DBName = "squery_test"

	occurrenceValue  = 2
	timeoutInSeconds = 60
)

// RandomName returns a database name unlikely to collide across concurrent
// test runs.
func RandomName(prefix string) string {
	if prefix == "" {
		prefix = "test"
	}
	return fmt.Sprintf("%s_%s", prefix, xid.New().String())
}

// Resource is a running PostgreSQL container.
type Resource struct {
	container *tcPostgres.PostgresContainer
	host      string
	port      int
}

// Start launches a PostgreSQL container and waits for it to accept
// connections.
func Start(ctx context.Context) (*Resource, error) {
	container, err := tcPostgres.Run(ctx, PostgresqlDBImage,
		tcPostgres.WithDatabase(DBName),
		tcPostgres.WithUsername(DBUser),
		tcPostgres.WithPassword(DBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(occurrenceValue).
				WithStartupTimeout(timeoutInSeconds*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("squerytests: start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("squerytests: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("squerytests: container port: %w", err)
	}

	return &Resource{container: container, host: host, port: port.Int()}, nil
}

// Config returns connection parameters for a database on the container. An
// empty dbname selects the container's default database.
func (r *Resource) Config(dbname string) squery.Config {
	if dbname == "" {
		dbname = DBName
	}
	return squery.Config{
		Host:        r.host,
		Port:        r.port,
		Database:    dbname,
		User:        DBUser,
		Password:    DBPassword,
		SSLMode:     "disable",
		MaxPoolSize: 1,
	}
}

// ScratchConfig returns connection parameters for a randomly named database
// that does not exist yet; Connect will create it on first use.
func (r *Resource) ScratchConfig(prefix string) squery.Config {
	return r.Config(RandomName(prefix))
}

// Terminate stops and removes the container.
func (r *Resource) Terminate(ctx context.Context) error {
	return r.container.Terminate(ctx)
}
