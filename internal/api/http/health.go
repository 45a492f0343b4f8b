package http

import (
	"context"
	"time"

	nethttp "net/http"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

func Healthz(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports 503 while the database is unreachable.
func Readyz(db Pinger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			writeError(w, nethttp.StatusServiceUnavailable, "db_unavailable", "")
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ready"})
	}
}
