package lti

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const deepLinkTTL = 10 * time.Minute

// ContentItem is one LTI Deep Linking content item. Only the fields this
// tool returns are modelled.
type ContentItem struct {
	Type   string            `json:"type" validate:"required"`
	Title  string            `json:"title,omitempty"`
	Text   string            `json:"text,omitempty"`
	URL    string            `json:"url,omitempty"`
	Custom map[string]string `json:"custom,omitempty"`
}

// DeepLinkSigner signs LtiDeepLinkingResponse messages with the tool key
// published by the JWKS endpoint.
type DeepLinkSigner struct {
	ClientID string
	Issuer   string // platform issuer, used as aud
	KID      string
	Key      *rsa.PrivateKey
	Now      func() time.Time
}

func (s *DeepLinkSigner) Sign(deploymentID string, items []ContentItem, data string) (string, error) {
	if s.Key == nil || s.KID == "" {
		return "", ErrKeyNotConfigured
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now()
	if items == nil {
		items = []ContentItem{}
	}
	claims := jwt.MapClaims{
		"iss":             s.ClientID,
		"aud":             s.Issuer,
		"iat":             t.Unix(),
		"exp":             t.Add(deepLinkTTL).Unix(),
		"nonce":           uuid.NewString(),
		ClaimMessageType:  MessageTypeDeepLinkResponse,
		ClaimVersion:      "1.3.0",
		ClaimDeploymentID: deploymentID,
		ClaimContentItems: items,
	}
	if data != "" {
		claims[ClaimDeepLinkData] = data
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.KID
	return tok.SignedString(s.Key)
}
