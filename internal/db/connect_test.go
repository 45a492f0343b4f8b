package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-assistant/internal/db"
	"github.com/mind-engage/lti-assistant/internal/db/dbtest"
)

func TestOpenCreatesSchema(t *testing.T) {
	h := dbtest.Open(t)
	for _, tbl := range []string{"sessions", "professors", "courses", "chat_sessions"} {
		var name string
		err := h.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=$1`, tbl).Scan(&name)
		require.NoError(t, err, tbl)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := "file:connect-idempotent?mode=memory&cache=shared"
	a, err := db.Open(ctx, db.DriverSQLite, dsn)
	require.NoError(t, err)
	defer a.Close()
	b, err := db.Open(ctx, db.DriverSQLite, dsn)
	require.NoError(t, err)
	defer b.Close()
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := db.Open(context.Background(), db.Driver("oracle"), "")
	assert.Error(t, err)
}

func TestWithTxRollsBack(t *testing.T) {
	h := dbtest.Open(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, h, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO professors (id,lti_user_id,canvas_user_id,name,created_at,updated_at) VALUES ('p1','u1','u1','n',0,0)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, h.QueryRow(`SELECT COUNT(*) FROM professors`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.WithTx(ctx, h, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO professors (id,lti_user_id,canvas_user_id,name,created_at,updated_at) VALUES ('p1','u1','u1','n',0,0)`)
		return err
	}))
	require.NoError(t, h.QueryRow(`SELECT COUNT(*) FROM professors`).Scan(&n))
	assert.Equal(t, 1, n)
}
