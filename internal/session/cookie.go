package session

import (
	"net/http"
	"time"
)

const CookieName = "lti_session"

// CookiePolicy builds the session cookie. Production cookies are Secure and
// SameSite=None so they survive inside the platform's iframe; elsewhere
// SameSite=Lax over plain HTTP.
type CookiePolicy struct {
	Production bool
	TTL        time.Duration
}

func (p CookiePolicy) Cookie(token string) *http.Cookie {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if p.Production {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

func (p CookiePolicy) Clear() *http.Cookie {
	c := p.Cookie("")
	c.MaxAge = -1
	return c
}

// TokenFromRequest returns the session cookie value or "".
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
