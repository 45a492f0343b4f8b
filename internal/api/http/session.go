package http

import (
	"context"
	"errors"

	nethttp "net/http"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/rbac"
	"github.com/mind-engage/lti-assistant/internal/session"
)

// GET /api/session
func SessionInfoHandler() nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sess := session.FromContext(r.Context())
		writeJSON(w, nethttp.StatusOK, struct {
			*session.Session
			Role string `json:"role"`
		}{sess, rbac.RoleFromContext(r.Context())})
	}
}

type Invalidator interface {
	Invalidate(ctx context.Context, token string) error
}

// POST /api/logout
func LogoutHandler(store Invalidator, cookies session.CookiePolicy, log zerolog.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sess := session.FromContext(r.Context())
		if err := store.Invalidate(r.Context(), sess.Token); err != nil && !errors.Is(err, session.ErrNotFound) {
			log.Error().Err(err).Msg("logout failed")
			writeError(w, nethttp.StatusInternalServerError, "internal_error", "")
			return
		}
		nethttp.SetCookie(w, cookies.Clear())
		w.WriteHeader(nethttp.StatusNoContent)
	}
}
