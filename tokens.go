package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 365 * 24 * time.Hour

	tokenIssuer = "auth-service"
)

// AccessClaims is the closed claim set of an access token: subject and role
// only. Access tokens are stateless; validity is signature + expiry.
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims additionally carries the id of the backing
// RefreshTokenRecord. The token is only valid while that record exists.
type RefreshClaims struct {
	Role     string `json:"role"`
	RecordID string `json:"id"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject of the claims.
func (c *AccessClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// UserID returns the numeric subject of the claims.
func (c *RefreshClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Tokens issues and verifies both token domains against the key provider.
type Tokens struct {
	keys *KeyProvider
}

func NewTokens(keys *KeyProvider) *Tokens {
	return &Tokens{keys: keys}
}

// IssueAccessToken signs a short-lived RS256 access token for the subject.
// The current key id is embedded in the header so verifiers can pick the
// right public key after a rotation.
func (t *Tokens) IssueAccessToken(userID int64, role string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	}

	kid, key := t.keys.SigningKey()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("%w: signing access token: %v", ErrSigningUnavailable, err)
	}
	return signed, nil
}

// IssueRefreshToken signs a long-lived HS256 refresh token bound to the given
// store record.
func (t *Tokens) IssueRefreshToken(userID int64, role string, recordID int64) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		Role:     role,
		RecordID: strconv.FormatInt(recordID, 10),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(refreshTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.keys.RefreshSecret())
	if err != nil {
		return "", fmt.Errorf("%w: signing refresh token: %v", ErrSigningUnavailable, err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature and expiry of an access token and
// returns its claims. Any failure surfaces as ErrUnauthenticated.
func (t *Tokens) VerifyAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		return t.keys.VerificationKey(kid)
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid access token: %v", ErrUnauthenticated, err)
	}
	return claims, nil
}

// VerifyRefreshToken checks signature and expiry of a refresh token. The
// caller still has to confirm the backing record exists; this function does
// no store I/O.
func (t *Tokens) VerifyRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.keys.RefreshSecret(), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid refresh token: %v", ErrUnauthenticated, err)
	}
	return claims, nil
}
