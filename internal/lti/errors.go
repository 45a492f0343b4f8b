package lti

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Protocol errors: bad or forged input from the platform or browser.
var (
	ErrMissingParameter = errors.New("lti: missing parameter")
	ErrUnknownIssuer    = errors.New("lti: unknown issuer")
	ErrMissingToken     = errors.New("lti: missing id_token")
	ErrStateMismatch    = errors.New("lti: state mismatch")
	ErrNonceMismatch    = errors.New("lti: nonce mismatch")
	ErrUnauthorizedRole = errors.New("lti: unauthorized role")
)

// Token errors. All are final for the token; the user must relaunch.
var (
	ErrMalformedToken   = errors.New("lti: malformed token")
	ErrInvalidSignature = errors.New("lti: invalid signature")
	ErrUnknownKey       = errors.New("lti: unknown signing key")
	ErrWeakKey          = errors.New("lti: signing key too short")
	ErrIssuerMismatch   = errors.New("lti: issuer mismatch")
	ErrAudienceMismatch = errors.New("lti: audience mismatch")
	ErrExpired          = errors.New("lti: token expired")
	ErrMissingNonce     = errors.New("lti: token has no nonce")
)

// ErrKeyNotConfigured is returned when no tool signing key is configured.
var ErrKeyNotConfigured = errors.New("lti: signing key not configured")

type Kind int

const (
	KindUnknown Kind = iota
	KindProtocol
	KindCrypto
	KindStorage
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindCrypto:
		return "crypto"
	case KindStorage:
		return "storage"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Classify reports which failure class err belongs to. Anything not
// produced by this package is treated as a storage failure.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrUnknownIssuer),
		errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrStateMismatch),
		errors.Is(err, ErrNonceMismatch),
		errors.Is(err, ErrUnauthorizedRole):
		return KindProtocol
	case errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrUnknownKey),
		errors.Is(err, ErrWeakKey),
		errors.Is(err, ErrIssuerMismatch),
		errors.Is(err, ErrAudienceMismatch),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrMissingNonce):
		return KindCrypto
	case errors.Is(err, ErrKeyNotConfigured):
		return KindConfig
	default:
		return KindStorage
	}
}

// HTTPStatus maps a login/launch error to its response status.
func HTTPStatus(err error) int {
	switch Classify(err) {
	case KindProtocol:
		if errors.Is(err, ErrUnauthorizedRole) {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case KindCrypto:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps token failure detail out of responses.
func publicMessage(err error) string {
	switch Classify(err) {
	case KindProtocol:
		return err.Error()
	case KindCrypto:
		return "authentication failed"
	default:
		return "internal error"
	}
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
