package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outernet-project/squery/pool"
)

func recordingUp(applied *[]string, name string) UpFunc {
	return func(_ context.Context, conn pool.Connection, _ map[string]any) error {
		*applied = append(*applied, name)
		return conn.ExecScript(context.Background(), "-- "+name)
	}
}

func TestMigrateAppliesPendingInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newMemDB(true)

	var applied []string
	reg := NewRegistry()
	reg.Register("01_00_third", recordingUp(&applied, "01_00_third"))
	reg.Register("00_01_first", recordingUp(&applied, "00_01_first"))
	reg.Register("00_02_second", recordingUp(&applied, "00_02_second"))

	m := New(ctx, db)
	require.NoError(t, m.Migrate(ctx, "widgets", reg, nil))

	require.Equal(t, []string{"00_01_first", "00_02_second", "01_00_third"}, applied)
	require.Equal(t, Pack(1, 0), db.versions["widgets"])
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newMemDB(true)

	var applied []string
	reg := NewRegistry()
	reg.Register("00_01_first", recordingUp(&applied, "00_01_first"))
	reg.Register("00_02_second", recordingUp(&applied, "00_02_second"))

	m := New(ctx, db)
	require.NoError(t, m.Migrate(ctx, "widgets", reg, nil))
	require.Len(t, applied, 2)

	require.NoError(t, m.Migrate(ctx, "widgets", reg, nil))
	require.Len(t, applied, 2)
	require.Equal(t, Pack(0, 2), db.versions["widgets"])
}

func TestMigrateHaltsOnFirstFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newMemDB(true)
	boom := errors.New("syntax error in script")

	var applied []string
	reg := NewRegistry()
	reg.Register("00_01_first", recordingUp(&applied, "00_01_first"))
	reg.Register("00_02_second", func(context.Context, pool.Connection, map[string]any) error {
		return boom
	})
	reg.Register("00_03_third", recordingUp(&applied, "00_03_third"))

	m := New(ctx, db)
	err := m.Migrate(ctx, "widgets", reg, nil)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "00_02_second")

	// The failing script's version bump never committed and nothing past the
	// failure ran.
	require.Equal(t, []string{"00_01_first"}, applied)
	require.Equal(t, Pack(0, 1), db.versions["widgets"])
}

func TestMigrateResumesAfterFailureIsFixed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newMemDB(true)
	db.versions["widgets"] = Pack(0, 1)

	var applied []string
	reg := NewRegistry()
	reg.Register("00_01_first", recordingUp(&applied, "00_01_first"))
	reg.Register("00_02_second", recordingUp(&applied, "00_02_second"))

	m := New(ctx, db)
	require.NoError(t, m.Migrate(ctx, "widgets", reg, nil))
	require.Equal(t, []string{"00_02_second"}, applied)
	require.Equal(t, Pack(0, 2), db.versions["widgets"])
}

func TestMigratePassesConfToScripts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newMemDB(true)

	var seen map[string]any
	reg := NewRegistry()
	reg.Register("00_01_first", func(_ context.Context, _ pool.Connection, conf map[string]any) error {
		seen = conf
		return nil
	})

	m := New(ctx, db)
	require.NoError(t, m.Migrate(ctx, "widgets", reg, map[string]any{"schema": "public"}))
	require.Equal(t, map[string]any{"schema": "public"}, seen)
}
