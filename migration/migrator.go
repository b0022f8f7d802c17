package migration

import (
	"context"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/outernet-project/squery/pool"
)

// Migrator applies pending migration scripts in strict version order.
type Migrator struct {
	db    DB
	store *Store
	log   *util.LogEntry
}

func New(ctx context.Context, db DB) *Migrator {
	return &Migrator{
		db:    db,
		store: NewStore(ctx, db),
		log:   util.Log(ctx),
	}
}

// Store exposes the version store the migrator reads and writes through.
func (m *Migrator) Store() *Store {
	return m.store
}

// Migrate brings the named migration group up to date: it reads the group's
// current version, discovers src's scripts, and applies every script strictly
// newer than the current version in ascending order. Each script runs inside
// its own transaction together with the version bump, so a failing script
// leaves neither its effects nor an advanced version behind. The run halts at
// the first failure; later scripts are never applied out of order.
func (m *Migrator) Migrate(ctx context.Context, name string, src Source, conf map[string]any) error {
	major, minor, err := m.store.Version(ctx, name)
	if err != nil {
		return err
	}

	m.log.WithField("name", name).
		WithField("version", fmt.Sprintf("%d.%d", major, minor)).
		Debug("current migration version")

	scripts, err := discover(src)
	if err != nil {
		return err
	}

	for _, script := range pending(scripts, major, minor+1) {
		if err = m.apply(ctx, name, script, conf); err != nil {
			return fmt.Errorf("migration: apply %s: %w", script.Name, err)
		}
		m.log.WithField("script", script.Name).Debug("finished migrating")
	}
	return nil
}

// apply runs one script and records its version, both on the same connection
// inside the same transaction.
func (m *Migrator) apply(ctx context.Context, name string, script Script, conf map[string]any) error {
	return m.db.Transaction(ctx, func(ctx context.Context, conn pool.Connection) error {
		if err := script.Up(ctx, conn, conf); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, setVersionSQL, name, Pack(script.Major, script.Minor))
		return err
	})
}
