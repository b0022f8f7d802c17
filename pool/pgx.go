package pool

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"

	"github.com/outernet-project/squery/netwait"
)

// NewFactory returns a Factory opening pgx connections against dsn, which may
// be a postgres:// URL or a key/value connection string. Connections carry an
// OpenTelemetry tracer.
func NewFactory(dsn string) (Factory, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pool: parse connection string: %w", err)
	}
	cfg.Tracer = otelpgx.NewTracer()

	return func(ctx context.Context) (Connection, error) {
		conn, err := pgx.ConnectConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("pool: connect: %w", err)
		}
		return &pgxConn{conn: conn}, nil
	}, nil
}

// pgxConn adapts *pgx.Conn to the pool's Connection contract.
type pgxConn struct {
	conn  *pgx.Conn
	level IsolationLevel
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

// ExecScript runs a multi-statement script over the simple query protocol in
// one round trip.
func (c *pgxConn) ExecScript(ctx context.Context, sql string) error {
	_, err := c.conn.PgConn().Exec(ctx, sql).ReadAll()
	return err
}

func (c *pgxConn) Begin(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "BEGIN")
	return err
}

func (c *pgxConn) Commit(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "COMMIT")
	return err
}

func (c *pgxConn) Rollback(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "ROLLBACK")
	return err
}

func (c *pgxConn) IsolationLevel() IsolationLevel {
	return c.level
}

func (c *pgxConn) SetIsolationLevel(ctx context.Context, level IsolationLevel) error {
	switch level {
	case LevelDefault:
		if _, err := c.conn.Exec(ctx, "RESET default_transaction_isolation"); err != nil {
			return err
		}
	case LevelAutocommit:
		// No session state to change: autocommit suppresses the transaction
		// scope in the pool instead.
	default:
		sql := "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL " + string(level)
		if _, err := c.conn.Exec(ctx, sql); err != nil {
			return err
		}
	}
	c.level = level
	return nil
}

func (c *pgxConn) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// Poll maps the wire state onto the wait protocol: a busy connection has
// results pending on the socket, so its borrower should wait for readability.
func (c *pgxConn) Poll() (netwait.State, error) {
	pg := c.conn.PgConn()
	if pg.IsClosed() {
		return 0, errors.New("pool: poll on closed connection")
	}
	if pg.IsBusy() {
		return netwait.StateRead, nil
	}
	return netwait.StateReady, nil
}

// NetConn exposes the socket for readiness waits.
func (c *pgxConn) NetConn() net.Conn {
	return c.conn.PgConn().Conn()
}

// pgxRows adapts pgx.Rows to the Rows contract, materialising each row as a
// name-keyed map the way the original dict cursor did.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool {
	return r.rows.Next()
}

func (r *pgxRows) Values() (Row, error) {
	values, err := r.rows.Values()
	if err != nil {
		return nil, err
	}
	fields := r.rows.FieldDescriptions()
	row := make(Row, len(fields))
	for i, field := range fields {
		row[field.Name] = values[i]
	}
	return row, nil
}

func (r *pgxRows) Err() error {
	return r.rows.Err()
}

func (r *pgxRows) Close() {
	r.rows.Close()
}
