package lti

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultClockSkew = 30 * time.Second

// MinRSAKeyBits is the shortest platform signing key accepted.
const MinRSAKeyBits = 2048

// Verifier turns a raw id_token into trusted claims.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*LaunchClaims, error)
}

// TokenVerifier checks RS256 platform tokens against a KeySource.
//
// Stages, each with its own error: header parse and kid resolution
// (ErrMalformedToken, ErrUnknownKey), key strength (ErrWeakKey), signature
// (ErrInvalidSignature), then iss, aud, exp and nonce in that order.
type TokenVerifier struct {
	issuer   string
	clientID string
	keys     KeySource
	skew     time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

type VerifierOption func(*TokenVerifier)

func WithClockSkew(d time.Duration) VerifierOption {
	return func(v *TokenVerifier) {
		if d >= 0 {
			v.skew = d
		}
	}
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *TokenVerifier) { v.now = now }
}

func NewTokenVerifier(issuer, clientID string, keys KeySource, opts ...VerifierOption) *TokenVerifier {
	v := &TokenVerifier{
		issuer:   issuer,
		clientID: clientID,
		keys:     keys,
		skew:     DefaultClockSkew,
		now:      time.Now,
		// Claims are checked by hand so failures come back in a fixed order
		// with one error each.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*LaunchClaims, error) {
	claims := &LaunchClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidSignature, t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		if pub, ok := key.(*rsa.PublicKey); ok && pub.N.BitLen() < MinRSAKeyBits {
			return nil, fmt.Errorf("%w: kid %q has %d bits", ErrWeakKey, kid, pub.N.BitLen())
		}
		return key, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}
	if err := checkClaims(claims, v.issuer, v.clientID, v.now(), v.skew); err != nil {
		return nil, err
	}
	return claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey), errors.Is(err, ErrWeakKey):
		return err
	case errors.Is(err, ErrInvalidSignature):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

func checkClaims(c *LaunchClaims, issuer, clientID string, now time.Time, skew time.Duration) error {
	if c.Issuer != issuer {
		return fmt.Errorf("%w: got %q", ErrIssuerMismatch, c.Issuer)
	}
	if !slices.Contains(c.Audience, clientID) {
		return fmt.Errorf("%w: got %v", ErrAudienceMismatch, []string(c.Audience))
	}
	if c.ExpiresAt == nil {
		return fmt.Errorf("%w: no exp", ErrExpired)
	}
	if now.After(c.ExpiresAt.Time.Add(skew)) {
		return fmt.Errorf("%w: at %s", ErrExpired, c.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	if c.Nonce == "" {
		return ErrMissingNonce
	}
	return nil
}
