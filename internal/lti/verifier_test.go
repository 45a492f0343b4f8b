package lti_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/lti/ltitest"
)

func newVerifier(p *ltitest.Platform) *lti.TokenVerifier {
	return lti.NewTokenVerifier(p.Issuer, p.ClientID, lti.NewKeySetCache(p.JWKSURL()))
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	p := ltitest.New(t)
	v := newVerifier(p)

	raw := p.Sign(t, p.Claims("n-1", ltitest.RoleInstructor))
	c, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, "user-123", c.Subject)
	assert.Equal(t, "n-1", c.Nonce)
	assert.Equal(t, ltitest.DeploymentID, c.DeploymentID)
	require.NotNil(t, c.Context)
	assert.Equal(t, "course-42", c.Context.ID)
	assert.Equal(t, []string{ltitest.RoleInstructor}, c.Roles)
}

func TestVerifyAudienceArray(t *testing.T) {
	p := ltitest.New(t)
	claims := p.Claims("n", ltitest.RoleLearner)
	claims["aud"] = []string{"someone-else", p.ClientID}

	_, err := newVerifier(p).Verify(context.Background(), p.Sign(t, claims))
	assert.NoError(t, err)
}

func TestVerifyRejections(t *testing.T) {
	p := ltitest.New(t)
	v := newVerifier(p)
	ctx := context.Background()

	stranger, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cases := []struct {
		name string
		tok  func() string
		want error
	}{
		{"bad signature", func() string {
			return ltitest.SignWith(t, stranger, p.KID(), p.Claims("n", ltitest.RoleLearner))
		}, lti.ErrInvalidSignature},
		{"unknown kid", func() string {
			return ltitest.SignWith(t, stranger, "nope", p.Claims("n", ltitest.RoleLearner))
		}, lti.ErrUnknownKey},
		{"no kid", func() string {
			return ltitest.SignWith(t, stranger, "", p.Claims("n", ltitest.RoleLearner))
		}, lti.ErrUnknownKey},
		{"issuer", func() string {
			c := p.Claims("n", ltitest.RoleLearner)
			c["iss"] = "https://evil.example"
			return p.Sign(t, c)
		}, lti.ErrIssuerMismatch},
		{"audience", func() string {
			c := p.Claims("n", ltitest.RoleLearner)
			c["aud"] = "other-client"
			return p.Sign(t, c)
		}, lti.ErrAudienceMismatch},
		{"expired", func() string {
			c := p.Claims("n", ltitest.RoleLearner)
			c["exp"] = time.Now().Add(-2 * time.Minute).Unix()
			return p.Sign(t, c)
		}, lti.ErrExpired},
		{"missing exp", func() string {
			c := p.Claims("n", ltitest.RoleLearner)
			delete(c, "exp")
			return p.Sign(t, c)
		}, lti.ErrExpired},
		{"no nonce", func() string {
			c := p.Claims("", ltitest.RoleLearner)
			return p.Sign(t, c)
		}, lti.ErrMissingNonce},
		{"garbage", func() string { return "not.a.jwt" }, lti.ErrMalformedToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tc.tok())
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerifyChecksIssuerBeforeExpiry(t *testing.T) {
	p := ltitest.New(t)
	c := p.Claims("n", ltitest.RoleLearner)
	c["iss"] = "https://evil.example"
	c["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := newVerifier(p).Verify(context.Background(), p.Sign(t, c))
	assert.ErrorIs(t, err, lti.ErrIssuerMismatch)
	assert.NotErrorIs(t, err, lti.ErrExpired)
}

func TestVerifyClockSkew(t *testing.T) {
	p := ltitest.New(t)
	c := p.Claims("n", ltitest.RoleLearner)
	c["exp"] = time.Now().Add(-10 * time.Second).Unix()
	raw := p.Sign(t, c)

	_, err := newVerifier(p).Verify(context.Background(), raw)
	assert.NoError(t, err, "10s past exp is inside the default 30s skew")

	strict := lti.NewTokenVerifier(p.Issuer, p.ClientID, lti.NewKeySetCache(p.JWKSURL()), lti.WithClockSkew(0))
	_, err = strict.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, lti.ErrExpired)
}

func TestVerifyRejectsHMAC(t *testing.T) {
	p := ltitest.New(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, p.Claims("n", ltitest.RoleLearner))
	tok.Header["kid"] = p.KID()
	raw, err := tok.SignedString([]byte("shared"))
	require.NoError(t, err)

	_, err = newVerifier(p).Verify(context.Background(), raw)
	assert.ErrorIs(t, err, lti.ErrInvalidSignature)
}

func TestVerifyAfterKeyRotation(t *testing.T) {
	p := ltitest.New(t)
	v := lti.NewTokenVerifier(p.Issuer, p.ClientID,
		lti.NewKeySetCache(p.JWKSURL(), lti.WithCooldown(0)))
	ctx := context.Background()

	_, err := v.Verify(ctx, p.Sign(t, p.Claims("a", ltitest.RoleLearner)))
	require.NoError(t, err)

	p.Rotate(t)
	_, err = v.Verify(ctx, p.Sign(t, p.Claims("b", ltitest.RoleLearner)))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Fetches())
}

func TestVerifyRejectsShortPlatformKey(t *testing.T) {
	p := ltitest.New(t)
	p.RotateBits(t, 1024)

	_, err := newVerifier(p).Verify(context.Background(), p.Sign(t, p.Claims("n", ltitest.RoleLearner)))
	assert.ErrorIs(t, err, lti.ErrWeakKey)
	assert.Equal(t, lti.KindCrypto, lti.Classify(err))
}
