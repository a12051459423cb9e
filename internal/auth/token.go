package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// TokenTTL is the lifetime of sync tokens issued at registration.
const TokenTTL = 24 * time.Hour

// Claims carried by a sync token.
type Claims struct {
	InstanceID   string `json:"instanceId"`
	InstanceName string `json:"instanceName"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies sync tokens with the primary's signing secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates a token issuer for the given hex or raw signing secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Issue returns a signed HS256 token for the instance plus its expiry.
func (i *Issuer) Issue(instanceID, instanceName string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(TokenTTL)

	claims := Claims{
		InstanceID:   instanceID,
		InstanceName: instanceName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return token, expires, nil
}

// Verify parses and validates a token, returning its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.InstanceID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	return claims, nil
}

// HashToken returns the hex sha256 digest stored in place of the raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
