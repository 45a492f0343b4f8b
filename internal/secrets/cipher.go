// Package secrets encrypts values at rest (per-course API keys) with a
// process-wide master secret.
//
// Wire format, hex encoded:
//
//	salt(64) | iv(16) | tag(16) | ciphertext
//
// The key is derived per value with PBKDF2-HMAC-SHA512 over the salt, so two
// encryptions of the same plaintext never share a key or an IV.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen    = 64
	ivLen      = 16
	tagLen     = 16
	keyLen     = 32
	iterations = 100_000

	// MinMasterSecretLen is the shortest master secret accepted at startup.
	MinMasterSecretLen = 32

	headerLen = saltLen + ivLen + tagLen
)

var (
	ErrWeakMasterSecret = errors.New("secrets: master secret must be at least 32 characters")
	ErrEncryption       = errors.New("secrets: encryption failed")
	ErrDecryption       = errors.New("secrets: decryption failed")
)

var hexOnly = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// Cipher encrypts and decrypts with a fixed master secret.
type Cipher struct {
	master []byte
}

func NewCipher(masterSecret string) (*Cipher, error) {
	if len(masterSecret) < MinMasterSecretLen {
		return nil, ErrWeakMasterSecret
	}
	return &Cipher{master: []byte(masterSecret)}, nil
}

func (c *Cipher) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(c.master, salt, iterations, keyLen, sha512.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLen)
}

// Encrypt returns hex(salt|iv|tag|ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: empty plaintext", ErrEncryption)
	}
	buf := make([]byte, saltLen+ivLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	salt, iv := buf[:saltLen], buf[saltLen:]

	aead, err := newGCM(c.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	// Seal appends the tag after the ciphertext; the stored layout puts it first.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, headerLen+len(ct))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return hex.EncodeToString(out), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid hex: %v", ErrDecryption, err)
	}
	if len(raw) < headerLen {
		return "", fmt.Errorf("%w: payload too short", ErrDecryption)
	}
	salt := raw[:saltLen]
	iv := raw[saltLen : saltLen+ivLen]
	tag := raw[saltLen+ivLen : headerLen]
	ct := raw[headerLen:]

	aead, err := newGCM(c.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(pt), nil
}

// LooksEncrypted is a shape heuristic only: a long enough all-hex plaintext
// is indistinguishable from ciphertext.
func LooksEncrypted(s string) bool {
	return len(s) >= 2*headerLen && hexOnly.MatchString(s)
}

// Reveal returns the plaintext of a stored value. Values that do not look
// encrypted are legacy plaintext and are returned as-is with legacy=true.
func (c *Cipher) Reveal(stored string) (plaintext string, legacy bool, err error) {
	if !LooksEncrypted(stored) {
		return stored, true, nil
	}
	pt, err := c.Decrypt(stored)
	if err != nil {
		return "", false, err
	}
	return pt, false, nil
}

// GenerateMasterSecret returns 32 random bytes hex encoded (64 chars).
func GenerateMasterSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
