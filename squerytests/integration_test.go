//go:build integration

package squerytests_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outernet-project/squery"
	"github.com/outernet-project/squery/migration"
	"github.com/outernet-project/squery/pool"
	"github.com/outernet-project/squery/squerytests"
)

func TestDatabaseLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	res, err := squerytests.Start(ctx)
	require.NoError(t, err)
	defer func() { _ = res.Terminate(context.Background()) }()

	// The scratch database does not exist yet; Connect must create it.
	cfg := res.ScratchConfig("lifecycle")
	db, err := squery.Connect(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = db.Close(context.Background()) }()

	scripts := migration.FS(fstest.MapFS{
		"01_00_widgets.sql": {Data: []byte(
			"CREATE TABLE widgets (id serial primary key, label text not null);")},
		"01_01_seed.sql": {Data: []byte(
			"INSERT INTO widgets (label) VALUES ('anchor'), ('bolt');")},
	})
	require.NoError(t, db.Migrate(ctx, "widgets", scripts, nil))

	m := migration.New(ctx, db)
	major, minor, err := m.Store().Version(ctx, "widgets")
	require.NoError(t, err)
	require.Equal(t, 1, major)
	require.Equal(t, 1, minor)

	// A second run finds nothing pending and changes nothing.
	require.NoError(t, db.Migrate(ctx, "widgets", scripts, nil))

	rows, err := db.FetchAll(ctx, "SELECT label FROM widgets ORDER BY id;")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "anchor", rows[0]["label"])
	require.Equal(t, "bolt", rows[1]["label"])

	affected, err := db.Execute(ctx,
		"UPDATE widgets SET label = $1 WHERE label = $2;", "rivet", "bolt")
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	row, err := db.FetchOne(ctx, "SELECT count(*) AS n FROM widgets;")
	require.NoError(t, err)
	require.EqualValues(t, 2, row["n"])

	// A failing transaction leaves the table untouched.
	err = db.Transaction(ctx, func(ctx context.Context, conn pool.Connection) error {
		if _, execErr := conn.Exec(ctx, "DELETE FROM widgets;"); execErr != nil {
			return execErr
		}
		return context.Canceled
	})
	require.Error(t, err)

	row, err = db.FetchOne(ctx, "SELECT count(*) AS n FROM widgets;")
	require.NoError(t, err)
	require.EqualValues(t, 2, row["n"])

	// Iterate lazily over the rows.
	iter, err := db.FetchIter(ctx, "SELECT label FROM widgets ORDER BY id;")
	require.NoError(t, err)
	var labels []string
	for iter.Next(ctx) {
		labels = append(labels, iter.Row()["label"].(string))
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close(ctx))
	require.Equal(t, []string{"anchor", "rivet"}, labels)
}

func TestDatabaseRecreate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	res, err := squerytests.Start(ctx)
	require.NoError(t, err)
	defer func() { _ = res.Terminate(context.Background()) }()

	db, err := squery.Connect(ctx, res.ScratchConfig("recreate"))
	require.NoError(t, err)
	defer func() { _ = db.Close(context.Background()) }()

	_, err = db.Execute(ctx, "CREATE TABLE scratch (id int);")
	require.NoError(t, err)

	require.NoError(t, db.Recreate(ctx))

	// The table is gone after the database is rebuilt.
	_, err = db.FetchAll(ctx, "SELECT * FROM scratch;")
	require.Error(t, err)
	require.True(t, squery.IsMissingTable(err))
}
