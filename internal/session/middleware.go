package session

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/rbac"
)

type ctxKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Getter looks sessions up by token.
type Getter interface {
	Get(ctx context.Context, token string) (*Session, error)
}

// Middleware requires a live session cookie. The session lands in the
// request context and roleOf(session roles) becomes the rbac role.
func Middleware(store Getter, roleOf func([]string) string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := TokenFromRequest(r)
			if tok == "" {
				writeJSONErr(w, http.StatusUnauthorized, "no session")
				return
			}
			sess, err := store.Get(r.Context(), tok)
			if err != nil {
				log.Error().Err(err).Msg("session lookup failed")
				writeJSONErr(w, http.StatusInternalServerError, "internal error")
				return
			}
			if sess == nil {
				writeJSONErr(w, http.StatusUnauthorized, "session expired")
				return
			}
			ctx := WithSession(r.Context(), sess)
			if roleOf != nil {
				ctx = rbac.WithRole(ctx, roleOf(sess.UserRoles))
			}
			ctx = rbac.WithSubject(ctx, sess.LTIUserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSONErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
