package lti_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/lti/ltitest"
)

// countingVerifier records whether verification was attempted.
type countingVerifier struct {
	inner lti.Verifier
	calls int
}

func (c *countingVerifier) Verify(ctx context.Context, raw string) (*lti.LaunchClaims, error) {
	c.calls++
	return c.inner.Verify(ctx, raw)
}

type launchFixture struct {
	p        *ltitest.Platform
	h        *lti.Handshake
	verifier *countingVerifier
	v        *lti.Validator
}

func newLaunchFixture(t *testing.T) *launchFixture {
	p := ltitest.New(t)
	cv := &countingVerifier{inner: lti.NewTokenVerifier(p.Issuer, p.ClientID, lti.NewKeySetCache(p.JWKSURL()))}
	return &launchFixture{
		p:        p,
		h:        &lti.Handshake{Issuer: p.Issuer, ClientID: p.ClientID, LaunchURL: testLaunchURL},
		verifier: cv,
		v:        &lti.Validator{Verifier: cv, Replay: lti.NewMemoryReplay(0)},
	}
}

// login runs the handshake and returns a token for the minted nonce.
func (f *launchFixture) login(t *testing.T, roles ...string) (*lti.Redirect, string) {
	red, err := f.h.Initiate(lti.LoginParams{Issuer: f.p.Issuer, LoginHint: "h", TargetLinkURI: "t"})
	require.NoError(t, err)
	return red, f.p.Sign(t, f.p.Claims(red.Nonce, roles...))
}

func flip(s string) string {
	b := []byte(s)
	if b[0] == 'a' {
		b[0] = 'b'
	} else {
		b[0] = 'a'
	}
	return string(b)
}

func TestValidateInstructorAndLearner(t *testing.T) {
	f := newLaunchFixture(t)
	ctx := context.Background()

	red, tok := f.login(t, ltitest.RoleInstructor)
	res, err := f.v.Validate(ctx, tok, red.State, red.State, red.Nonce)
	require.NoError(t, err)
	assert.Equal(t, lti.RoleInstructor, res.Role)
	assert.Equal(t, "user-123", res.User.LTIUserID)
	assert.Equal(t, "Ada Lovelace", res.User.Name)
	assert.Equal(t, "course-42", res.Course.CanvasCourseID)
	assert.Equal(t, "Analytical Engines", res.Course.CourseName)
	assert.Equal(t, ltitest.DeploymentID, res.Course.DeploymentID)

	red, tok = f.login(t, ltitest.RoleLearner)
	res, err = f.v.Validate(ctx, tok, red.State, red.State, red.Nonce)
	require.NoError(t, err)
	assert.Equal(t, lti.RoleLearner, res.Role)
}

func TestValidateStateMismatchBeforeVerification(t *testing.T) {
	f := newLaunchFixture(t)
	red, tok := f.login(t, ltitest.RoleLearner)

	_, err := f.v.Validate(context.Background(), tok, flip(red.State), red.State, red.Nonce)
	assert.ErrorIs(t, err, lti.ErrStateMismatch)

	_, err = f.v.Validate(context.Background(), tok, red.State, "", red.Nonce)
	assert.ErrorIs(t, err, lti.ErrStateMismatch)

	assert.Zero(t, f.verifier.calls, "no signature work on state failure")
}

func TestValidateNonceMismatch(t *testing.T) {
	f := newLaunchFixture(t)
	red, tok := f.login(t, ltitest.RoleLearner)

	_, err := f.v.Validate(context.Background(), tok, red.State, red.State, flip(red.Nonce))
	assert.ErrorIs(t, err, lti.ErrNonceMismatch)

	_, err = f.v.Validate(context.Background(), tok, red.State, red.State, "")
	assert.ErrorIs(t, err, lti.ErrNonceMismatch)
}

func TestValidateNonceSingleUse(t *testing.T) {
	f := newLaunchFixture(t)
	red, tok := f.login(t, ltitest.RoleLearner)
	ctx := context.Background()

	_, err := f.v.Validate(ctx, tok, red.State, red.State, red.Nonce)
	require.NoError(t, err)
	_, err = f.v.Validate(ctx, tok, red.State, red.State, red.Nonce)
	assert.ErrorIs(t, err, lti.ErrNonceMismatch)
}

func TestValidateMissingTokenAndRole(t *testing.T) {
	f := newLaunchFixture(t)
	_, err := f.v.Validate(context.Background(), "", "s", "s", "n")
	assert.ErrorIs(t, err, lti.ErrMissingToken)

	red, tok := f.login(t)
	_, err = f.v.Validate(context.Background(), tok, red.State, red.State, red.Nonce)
	assert.ErrorIs(t, err, lti.ErrUnauthorizedRole)

	red, tok = f.login(t, "http://purl.imsglobal.org/vocab/lis/v2/membership#Mentor")
	_, err = f.v.Validate(context.Background(), tok, red.State, red.State, red.Nonce)
	assert.ErrorIs(t, err, lti.ErrUnauthorizedRole)
}

func TestValidateRequiresSubjectAndContext(t *testing.T) {
	f := newLaunchFixture(t)
	ctx := context.Background()

	for _, drop := range []string{"sub", lti.ClaimContext} {
		red, err := f.h.Initiate(lti.LoginParams{Issuer: f.p.Issuer, LoginHint: "h", TargetLinkURI: "t"})
		require.NoError(t, err)
		c := f.p.Claims(red.Nonce, ltitest.RoleInstructor)
		delete(c, drop)

		res, err := f.v.Validate(ctx, f.p.Sign(t, c), red.State, red.State, red.Nonce)
		assert.ErrorIs(t, err, lti.ErrMissingParameter, drop)
		assert.Nil(t, res, drop)
		assert.Equal(t, http.StatusBadRequest, lti.HTTPStatus(err), drop)
	}

	red, err := f.h.Initiate(lti.LoginParams{Issuer: f.p.Issuer, LoginHint: "h", TargetLinkURI: "t"})
	require.NoError(t, err)
	c := f.p.Claims(red.Nonce, ltitest.RoleLearner)
	c[lti.ClaimContext] = map[string]any{"title": "No id"}
	_, err = f.v.Validate(ctx, f.p.Sign(t, c), red.State, red.State, red.Nonce)
	assert.ErrorIs(t, err, lti.ErrMissingParameter)
}

func TestValidatePropagatesVerifierError(t *testing.T) {
	f := newLaunchFixture(t)
	red, err := f.h.Initiate(lti.LoginParams{Issuer: f.p.Issuer, LoginHint: "h", TargetLinkURI: "t"})
	require.NoError(t, err)
	c := f.p.Claims(red.Nonce, ltitest.RoleLearner)
	c["aud"] = "someone-else"

	_, err = f.v.Validate(context.Background(), f.p.Sign(t, c), red.State, red.State, red.Nonce)
	assert.ErrorIs(t, err, lti.ErrAudienceMismatch)
}

func postLaunch(h http.Handler, idToken, state string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	form := url.Values{}
	if idToken != "" {
		form.Set("id_token", idToken)
	}
	form.Set("state", state)
	req := httptest.NewRequest(http.MethodPost, "/api/lti/launch", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLaunchHandlerStatusCodes(t *testing.T) {
	f := newLaunchFixture(t)
	var got *lti.LaunchResult
	done := func(w http.ResponseWriter, r *http.Request, res *lti.LaunchResult) error {
		got = res
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return nil
	}
	h := lti.LaunchHandler(f.v, f.h, done, zerolog.Nop(), nil)

	// success
	red, tok := f.login(t, ltitest.RoleInstructor)
	rec := postLaunch(h, tok, red.State, red.Cookies...)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	require.NotNil(t, got)
	assert.Equal(t, lti.RoleInstructor, got.Role)
	for _, c := range rec.Result().Cookies() {
		if c.Name == lti.StateCookie || c.Name == lti.NonceCookie {
			assert.Equal(t, -1, c.MaxAge)
		}
	}

	// missing token
	red, _ = f.login(t, ltitest.RoleInstructor)
	assert.Equal(t, http.StatusBadRequest, postLaunch(h, "", red.State, red.Cookies...).Code)

	// state mismatch
	red, tok = f.login(t, ltitest.RoleInstructor)
	assert.Equal(t, http.StatusBadRequest, postLaunch(h, tok, flip(red.State), red.Cookies...).Code)

	// bad token
	red, _ = f.login(t, ltitest.RoleInstructor)
	assert.Equal(t, http.StatusUnauthorized, postLaunch(h, "x.y.z", red.State, red.Cookies...).Code)

	// unauthorized role
	red, tok = f.login(t)
	assert.Equal(t, http.StatusForbidden, postLaunch(h, tok, red.State, red.Cookies...).Code)
}

func TestLaunchHandlerCompletionFailure(t *testing.T) {
	f := newLaunchFixture(t)
	done := func(http.ResponseWriter, *http.Request, *lti.LaunchResult) error {
		return errors.New("db down")
	}
	h := lti.LaunchHandler(f.v, f.h, done, zerolog.Nop(), nil)
	red, tok := f.login(t, ltitest.RoleLearner)
	rec := postLaunch(h, tok, red.State, red.Cookies...)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, lti.HTTPStatus(lti.ErrStateMismatch))
	assert.Equal(t, http.StatusBadRequest, lti.HTTPStatus(lti.ErrNonceMismatch))
	assert.Equal(t, http.StatusForbidden, lti.HTTPStatus(lti.ErrUnauthorizedRole))
	assert.Equal(t, http.StatusUnauthorized, lti.HTTPStatus(lti.ErrExpired))
	assert.Equal(t, http.StatusUnauthorized, lti.HTTPStatus(lti.ErrUnknownKey))
	assert.Equal(t, http.StatusInternalServerError, lti.HTTPStatus(errors.New("sql: connection refused")))
	assert.Equal(t, lti.KindCrypto, lti.Classify(lti.ErrInvalidSignature))
}
