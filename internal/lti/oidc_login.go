package lti

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	StateCookie = "lti_state"
	NonceCookie = "lti_nonce"

	// HandshakeTTL bounds how long a login may take to come back as a launch.
	HandshakeTTL = 10 * time.Minute

	handshakeTokenBytes = 32
)

// Handshake starts the OIDC third-party-initiated login.
type Handshake struct {
	Issuer    string // configured platform issuer
	ClientID  string
	AuthURL   string // platform authorization endpoint
	LaunchURL string // our redirect_uri
	Secure    bool   // cookie Secure flag
}

type LoginParams struct {
	Issuer        string
	LoginHint     string
	TargetLinkURI string
	MessageHint   string
	ClientID      string
}

// Redirect is where to send the browser, plus the cookies binding the
// launch that comes back.
type Redirect struct {
	URL     string
	State   string
	Nonce   string
	Cookies []*http.Cookie
}

// AuthURLForIssuer is the Canvas-style authorization endpoint for iss.
func AuthURLForIssuer(iss string) string {
	return strings.TrimSuffix(iss, "/") + "/api/lti/authorize_redirect"
}

func (h *Handshake) Initiate(p LoginParams) (*Redirect, error) {
	switch {
	case strings.TrimSpace(p.Issuer) == "":
		return nil, fmt.Errorf("%w: iss", ErrMissingParameter)
	case strings.TrimSpace(p.LoginHint) == "":
		return nil, fmt.Errorf("%w: login_hint", ErrMissingParameter)
	case strings.TrimSpace(p.TargetLinkURI) == "":
		return nil, fmt.Errorf("%w: target_link_uri", ErrMissingParameter)
	}
	if p.Issuer != h.Issuer {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIssuer, p.Issuer)
	}
	if p.ClientID != "" && p.ClientID != h.ClientID {
		return nil, fmt.Errorf("%w: client_id %q not registered for %q", ErrUnknownIssuer, p.ClientID, p.Issuer)
	}

	state, err := randHex(handshakeTokenBytes)
	if err != nil {
		return nil, err
	}
	nonce, err := randHex(handshakeTokenBytes)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("response_type", "id_token")
	q.Set("scope", "openid")
	q.Set("client_id", h.ClientID)
	q.Set("redirect_uri", h.LaunchURL)
	q.Set("login_hint", p.LoginHint)
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("response_mode", "form_post")
	q.Set("prompt", "none")
	if p.MessageHint != "" {
		q.Set("lti_message_hint", p.MessageHint)
	}

	authURL := h.AuthURL
	if authURL == "" {
		authURL = AuthURLForIssuer(h.Issuer)
	}
	sep := "?"
	if strings.Contains(authURL, "?") {
		sep = "&"
	}
	return &Redirect{
		URL:   authURL + sep + q.Encode(),
		State: state,
		Nonce: nonce,
		Cookies: []*http.Cookie{
			h.cookie(StateCookie, state, int(HandshakeTTL.Seconds())),
			h.cookie(NonceCookie, nonce, int(HandshakeTTL.Seconds())),
		},
	}, nil
}

// ClearCookies expires both handshake cookies.
func (h *Handshake) ClearCookies() []*http.Cookie {
	return []*http.Cookie{h.cookie(StateCookie, "", -1), h.cookie(NonceCookie, "", -1)}
}

// Secure cookies are SameSite=None so they ride along on the platform's
// cross-site form_post of the launch.
func (h *Handshake) cookie(name, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if h.Secure {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

// LoginHandler accepts login initiation by GET query or POST form and
// bounces the browser to the platform authorization endpoint.
func LoginHandler(h *Handshake, log zerolog.Logger, obs Observer) http.HandlerFunc {
	obs = observerOrNop(obs)
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeErr(w, http.StatusBadRequest, "bad form")
			return
		}
		p := LoginParams{
			Issuer:        r.Form.Get("iss"),
			LoginHint:     r.Form.Get("login_hint"),
			TargetLinkURI: r.Form.Get("target_link_uri"),
			MessageHint:   r.Form.Get("lti_message_hint"),
			ClientID:      r.Form.Get("client_id"),
		}
		red, err := h.Initiate(p)
		if err != nil {
			obs.ObserveLogin(Classify(err).String())
			log.Warn().Err(err).Str("iss", p.Issuer).Msg("lti login rejected")
			writeErr(w, HTTPStatus(err), publicMessage(err))
			return
		}
		for _, c := range red.Cookies {
			http.SetCookie(w, c)
		}
		obs.ObserveLogin("ok")
		log.Debug().Str("iss", p.Issuer).Str("target_link_uri", p.TargetLinkURI).Msg("lti login initiated")
		http.Redirect(w, r, red.URL, http.StatusFound)
	}
}

// randHex returns n random bytes hex-encoded (len=2n).
func randHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lti: random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
