// Package dbtest opens throwaway in-memory SQLite databases with the
// application schema applied.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/mind-engage/lti-assistant/internal/db"
)

var seq atomic.Int64

func Open(t testing.TB) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:dbtest-%d?mode=memory&cache=shared", seq.Add(1))
	h, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}
