// Package jwks publishes the tool's public signing key as a JWK set and
// handles the PEM encoding of the tool key pair.
package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/lti"
)

var ErrBadPEM = errors.New("jwks: invalid PEM key")

type Publisher struct {
	key *rsa.PublicKey
	kid string
}

// NewPublisher parses a PKIX or PKCS#1 RSA public key. An empty PEM yields
// a publisher whose Publish reports lti.ErrKeyNotConfigured.
func NewPublisher(publicPEM, kid string) (*Publisher, error) {
	if publicPEM == "" {
		return &Publisher{kid: kid}, nil
	}
	k, err := ParsePublicKeyPEM(publicPEM)
	if err != nil {
		return nil, err
	}
	return &Publisher{key: k, kid: kid}, nil
}

func NewPublisherFromKey(key *rsa.PublicKey, kid string) *Publisher {
	return &Publisher{key: key, kid: kid}
}

func (p *Publisher) Publish() (jose.JSONWebKeySet, error) {
	if p == nil || p.key == nil || p.kid == "" {
		return jose.JSONWebKeySet{}, lti.ErrKeyNotConfigured
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       p.key,
		KeyID:     p.kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}, nil
}

var emptySet = []byte(`{"keys":[]}`)

// Handler serves the key set. Publish failures are logged and answered with
// an empty set so platforms never see an error page.
func Handler(pub *Publisher, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := emptySet
		set, err := pub.Publish()
		if err == nil {
			body, err = json.Marshal(set)
		}
		if err != nil {
			log.Warn().Err(err).Msg("jwks publish failed; serving empty set")
			body = emptySet
		}

		sum := sha256.Sum256(body)
		etag := `"` + hex.EncodeToString(sum[:16]) + `"`
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(body)
		}
	}
}

func ParsePublicKeyPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, ErrBadPEM
	}
	if k, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrBadPEM)
		}
		return rk, nil
	}
	k, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPEM, err)
	}
	return k, nil
}

func ParsePrivateKeyPEM(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, ErrBadPEM
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrBadPEM)
		}
		return rk, nil
	}
	k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPEM, err)
	}
	return k, nil
}

// GenerateKeyPEM returns a new RSA key pair as PKCS#8 and PKIX PEM blocks.
func GenerateKeyPEM(bits int) (privatePEM, publicPEM string, err error) {
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", err
	}
	der, err := x509.MarshalPKCS8PrivateKey(k)
	if err != nil {
		return "", "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	if err != nil {
		return "", "", err
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privatePEM, publicPEM, nil
}
