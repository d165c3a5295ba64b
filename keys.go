package main

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/tenauth/internal/config"
)

// KeyProvider holds the process-wide key material, loaded once at startup and
// immutable afterwards. The current private key signs access tokens; any
// known public key verifies them, so old tokens survive a key rollover.
// Refresh tokens are signed with a separate HMAC secret so a leaked
// access-token key cannot forge refresh tokens and vice versa.
type KeyProvider struct {
	signingKID    string
	signingKey    *rsa.PrivateKey
	verifyKeys    map[string]*rsa.PublicKey
	refreshSecret []byte
}

// NewKeyProvider assembles a provider from already-parsed key material.
// The signing key's own public half is always registered under signingKID.
func NewKeyProvider(signingKID string, signingKey *rsa.PrivateKey, verifyKeys map[string]*rsa.PublicKey, refreshSecret []byte) (*KeyProvider, error) {
	if signingKID == "" {
		return nil, fmt.Errorf("signing key id must not be empty")
	}
	if signingKey == nil {
		return nil, fmt.Errorf("no private signing key configured")
	}
	if len(refreshSecret) == 0 {
		return nil, fmt.Errorf("no refresh token secret configured")
	}
	keys := make(map[string]*rsa.PublicKey, len(verifyKeys)+1)
	for kid, pub := range verifyKeys {
		keys[kid] = pub
	}
	keys[signingKID] = &signingKey.PublicKey
	return &KeyProvider{
		signingKID:    signingKID,
		signingKey:    signingKey,
		verifyKeys:    keys,
		refreshSecret: refreshSecret,
	}, nil
}

// LoadKeys reads the PEM files named in the configuration. Retired public
// keys are listed as "kid=path" pairs and stay valid for verification until
// every token they signed has expired.
func LoadKeys(c *config.Config) (*KeyProvider, error) {
	pem, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", c.PrivateKeyFile, err)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	verify := make(map[string]*rsa.PublicKey)
	for _, entry := range strings.Split(c.PublicKeyFiles, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kid, path, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid public key entry %q (want kid=path)", entry)
		}
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading public key %s: %w", path, err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing public key %s: %w", path, err)
		}
		verify[kid] = pub
	}

	return NewKeyProvider(c.SigningKeyID, priv, verify, []byte(c.RefreshSecret))
}

// SigningKey returns the current key id and private key for access tokens.
func (k *KeyProvider) SigningKey() (string, *rsa.PrivateKey) {
	return k.signingKID, k.signingKey
}

// VerificationKey resolves a key id embedded in a token header.
func (k *KeyProvider) VerificationKey(kid string) (*rsa.PublicKey, error) {
	pub, ok := k.verifyKeys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return pub, nil
}

// RefreshSecret returns the HMAC secret for the refresh-token domain.
func (k *KeyProvider) RefreshSecret() []byte {
	return k.refreshSecret
}
