// Package ltitest provides a fake LTI platform: it holds RSA signing keys,
// serves them as a JWKS over httptest, and mints id_tokens.
package ltitest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer   = "https://canvas.example.edu"
	DefaultClientID = "10000000000001"
	DeploymentID    = "1:deadbeef"

	RoleInstructor = "http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"
	RoleLearner    = "http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"
	RoleTA         = "http://purl.imsglobal.org/vocab/lis/v2/membership/Instructor#TeachingAssistant"

	claimPrefix = "https://purl.imsglobal.org/spec/lti/claim/"
)

type keyRecord struct {
	kid  string
	priv *rsa.PrivateKey
}

// Platform is a fake LTI platform. The zero value is not usable; call New.
type Platform struct {
	Issuer   string
	ClientID string
	Server   *httptest.Server

	mu      sync.Mutex
	keys    []keyRecord // last one signs
	fetches atomic.Int64
}

func New(t testing.TB) *Platform {
	t.Helper()
	p := &Platform{Issuer: DefaultIssuer, ClientID: DefaultClientID}
	p.Rotate(t)
	p.Server = httptest.NewServer(http.HandlerFunc(p.serveJWKS))
	t.Cleanup(p.Server.Close)
	return p
}

// JWKSURL is the key set endpoint to configure in the tool.
func (p *Platform) JWKSURL() string { return p.Server.URL + "/jwks" }

// Fetches counts key set requests served.
func (p *Platform) Fetches() int { return int(p.fetches.Load()) }

// Rotate adds a fresh signing key and returns its kid. Older keys stay
// published.
func (p *Platform) Rotate(t testing.TB) string {
	t.Helper()
	return p.RotateBits(t, 2048)
}

// RotateBits is Rotate with a chosen modulus size, for platforms that still
// sign with short keys.
func (p *Platform) RotateBits(t testing.TB, bits int) string {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("rsa: %v", err)
	}
	kid := makeKID(&priv.PublicKey)
	p.mu.Lock()
	p.keys = append(p.keys, keyRecord{kid: kid, priv: priv})
	p.mu.Unlock()
	return kid
}

// KID is the id of the current signing key.
func (p *Platform) KID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[len(p.keys)-1].kid
}

func (p *Platform) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	p.fetches.Add(1)
	p.mu.Lock()
	set := jose.JSONWebKeySet{}
	for _, k := range p.keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &k.priv.PublicKey,
			KeyID:     k.kid,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

// Claims returns a valid resource link launch payload for nonce and roles.
func (p *Platform) Claims(nonce string, roles ...string) jwt.MapClaims {
	now := time.Now()
	c := jwt.MapClaims{
		"iss":   p.Issuer,
		"sub":   "user-123",
		"aud":   p.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"nonce": nonce,
		"name":  "Ada Lovelace",
		"email": "ada@example.edu",
	}
	c[claimPrefix+"message_type"] = "LtiResourceLinkRequest"
	c[claimPrefix+"version"] = "1.3.0"
	c[claimPrefix+"deployment_id"] = DeploymentID
	c[claimPrefix+"resource_link"] = map[string]any{"id": "rl-1"}
	c[claimPrefix+"context"] = map[string]any{
		"id":    "course-42",
		"title": "Analytical Engines",
		"label": "AE101",
		"type":  []string{"http://purl.imsglobal.org/vocab/lis/v2/course#CourseOffering"},
	}
	c[claimPrefix+"roles"] = roles
	return c
}

// Sign signs claims with the current key.
func (p *Platform) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	p.mu.Lock()
	k := p.keys[len(p.keys)-1]
	p.mu.Unlock()
	return SignWith(t, k.priv, k.kid, claims)
}

// SignWith signs claims with an arbitrary key and kid.
func SignWith(t testing.TB, priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func makeKID(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return hex.EncodeToString(sum[:8])
}
