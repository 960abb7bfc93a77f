package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const cookieKeyInfo = "quotad session cookie v1"

// CookieSigner signs session ids carried in cookies as "id:hexmac".
type CookieSigner struct {
	key []byte
}

// NewCookieSigner derives the signing key from secret with HKDF-SHA256.
// An empty secret yields a random key, so cookies do not survive a restart.
func NewCookieSigner(secret string) (*CookieSigner, error) {
	ikm := []byte(secret)
	if secret == "" {
		ikm = make([]byte, 32)
		if _, err := rand.Read(ikm); err != nil {
			return nil, fmt.Errorf("failed to generate cookie secret: %w", err)
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	return &CookieSigner{key: key}, nil
}

func (c *CookieSigner) mac(value string) string {
	m := hmac.New(sha256.New, c.key)
	m.Write([]byte(value))
	return hex.EncodeToString(m.Sum(nil))
}

func (c *CookieSigner) Sign(id string) string {
	return id + ":" + c.mac(id)
}

// Verify returns the id of a value produced by Sign.
func (c *CookieSigner) Verify(cookieValue string) (string, bool) {
	idx := strings.LastIndexByte(cookieValue, ':')
	if idx <= 0 || idx >= len(cookieValue)-1 {
		return "", false
	}
	id, providedSig := cookieValue[:idx], cookieValue[idx+1:]

	if subtle.ConstantTimeCompare([]byte(providedSig), []byte(c.mac(id))) != 1 {
		return "", false
	}
	return id, true
}
