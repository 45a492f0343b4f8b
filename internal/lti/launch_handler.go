package lti

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type LaunchResult struct {
	Role   Role
	User   UserInfo
	Course CourseInfo
	Claims *LaunchClaims
}

// Validator checks a launch POST against the handshake cookies and the
// platform token.
type Validator struct {
	Verifier Verifier
	Replay   ReplayGuard // optional
	Skew     time.Duration
	Now      func() time.Time
}

// Validate runs, in order: token presence, state binding, token
// verification, nonce binding, subject and context presence, role
// classification. A state failure returns
// before any signature work is done.
func (v *Validator) Validate(ctx context.Context, idToken, returnedState, cookieState, cookieNonce string) (*LaunchResult, error) {
	if idToken == "" {
		return nil, ErrMissingToken
	}
	if cookieState == "" || !equalConstTime(returnedState, cookieState) {
		return nil, ErrStateMismatch
	}

	claims, err := v.Verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}

	if cookieNonce == "" || !equalConstTime(claims.Nonce, cookieNonce) {
		return nil, ErrNonceMismatch
	}
	if v.Replay != nil {
		first, err := v.Replay.Use(ctx, claims.Nonce, v.nonceTTL(claims))
		if err != nil {
			return nil, err
		}
		if !first {
			return nil, ErrNonceMismatch
		}
	}

	// sessions and course records are keyed on these
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingParameter)
	}
	if claims.Context == nil || claims.Context.ID == "" {
		return nil, fmt.Errorf("%w: context.id", ErrMissingParameter)
	}

	res := &LaunchResult{
		Role:   ClassifyRoles(claims.Roles),
		User:   claims.User(),
		Course: claims.Course(),
		Claims: claims,
	}
	if res.Role == RoleOther {
		return nil, ErrUnauthorizedRole
	}
	return res, nil
}

// nonceTTL keeps a consumed nonce for as long as either its token or its
// cookie could still be presented.
func (v *Validator) nonceTTL(c *LaunchClaims) time.Duration {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := v.Skew
	if skew == 0 {
		skew = DefaultClockSkew
	}
	ttl := HandshakeTTL
	if c.ExpiresAt != nil {
		if d := c.ExpiresAt.Sub(now()) + skew; d > ttl {
			ttl = d
		}
	}
	return ttl
}

func equalConstTime(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// LaunchFunc finishes a validated launch: provisioning, session, redirect.
type LaunchFunc func(w http.ResponseWriter, r *http.Request, res *LaunchResult) error

// LaunchHandler receives the platform's form_post of id_token and state.
func LaunchHandler(v *Validator, h *Handshake, done LaunchFunc, log zerolog.Logger, obs Observer) http.HandlerFunc {
	obs = observerOrNop(obs)
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeErr(w, http.StatusBadRequest, "bad form")
			return
		}
		idTok := r.PostFormValue("id_token")
		state := r.PostFormValue("state")
		cookieState := cookieValue(r, StateCookie)
		cookieNonce := cookieValue(r, NonceCookie)

		res, err := v.Validate(r.Context(), idTok, state, cookieState, cookieNonce)
		if err != nil {
			kind := Classify(err)
			obs.ObserveLaunch(kind.String())
			ev := log.Warn()
			if kind == KindStorage {
				ev = log.Error()
			}
			ev.Err(err).Str("kind", kind.String()).Msg("lti launch rejected")
			writeErr(w, HTTPStatus(err), publicMessage(err))
			return
		}

		for _, c := range h.ClearCookies() {
			http.SetCookie(w, c)
		}
		log.Info().
			Str("lti_user_id", res.User.LTIUserID).
			Str("course_id", res.Course.CanvasCourseID).
			Str("role", res.Role.String()).
			Msg("lti launch accepted")

		if err := done(w, r, res); err != nil {
			obs.ObserveLaunch("error")
			log.Error().Err(err).Str("lti_user_id", res.User.LTIUserID).Msg("lti launch completion failed")
			writeErr(w, http.StatusInternalServerError, "internal error")
			return
		}
		obs.ObserveLaunch(res.Role.String())
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
