package squery

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/outernet-project/squery/pool"
)

// Create creates the database cfg points at. Administrative statements cannot
// run inside a transaction, so this opens a dedicated connection to the
// maintenance database and executes with autocommit semantics.
func Create(ctx context.Context, cfg Config) error {
	return adminExec(ctx, cfg, "CREATE DATABASE "+pgx.Identifier{cfg.Database}.Sanitize()+";")
}

// Drop drops the database cfg points at.
func Drop(ctx context.Context, cfg Config) error {
	return adminExec(ctx, cfg, "DROP DATABASE "+pgx.Identifier{cfg.Database}.Sanitize()+";")
}

func adminExec(ctx context.Context, cfg Config, sql string) error {
	factory, err := pool.NewFactory(cfg.WithDatabase(MaintenanceDatabase).DSN())
	if err != nil {
		return err
	}
	conn, err := factory(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close(ctx)
	}()
	return conn.ExecScript(ctx, sql)
}
