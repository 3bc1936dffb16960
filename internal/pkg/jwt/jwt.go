// Package jwt signs and verifies session tokens. Unlike a fixed-secret setup,
// every token is signed with the keyring's current ACTIVE key (kid header set
// to the key id) and verified against the union of still-valid keys, so
// rotation never invalidates in-flight tokens inside the grace window.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/yyupcompany/kinder-core/internal/pkg/keyring"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the session token payload.
type Claims struct {
	UserID     string `json:"uid"`
	Role       string `json:"role,omitempty"`
	TenantCode string `json:"tnt,omitempty"`
	DeviceID   string `json:"did,omitempty"`
	jwtlib.RegisteredClaims
}

// Sign mints a token with the ACTIVE signing key.
func Sign(ctx context.Context, keys *keyring.Manager, claims Claims, ttl time.Duration) (string, error) {
	key, err := keys.CurrentSigningKey(ctx)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims.RegisteredClaims.IssuedAt = jwtlib.NewNumericDate(now)
	claims.RegisteredClaims.ExpiresAt = jwtlib.NewNumericDate(now.Add(ttl))
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID
	return token.SignedString(key.Material)
}

// Verify validates a token against every still-valid signing key, preferring
// the key named by the kid header, and returns the claims plus the id of the
// key that matched.
func Verify(ctx context.Context, keys *keyring.Manager, tokenStr string) (*Claims, string, error) {
	valid, err := keys.ValidKeysForVerification(ctx)
	if err != nil {
		return nil, "", err
	}
	if len(valid) == 0 {
		return nil, "", keyring.ErrNoActiveKey
	}

	ordered := orderByKidHint(valid, tokenStr)
	var lastErr error
	for i := range ordered {
		claims, err := parseWith(tokenStr, ordered[i].Material)
		if err == nil {
			return claims, ordered[i].ID, nil
		}
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			// Signature matched; the token is simply past its expiry.
			return nil, ordered[i].ID, ErrTokenExpired
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidToken, lastErr)
	}
	return nil, "", ErrInvalidToken
}

func parseWith(tokenStr string, material []byte) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return material, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// orderByKidHint moves the key referenced by the token's kid header to the
// front; verification still falls back to every other valid key.
func orderByKidHint(keys []keyring.SigningKey, tokenStr string) []keyring.SigningKey {
	parser := jwtlib.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		return keys
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return keys
	}
	for i := range keys {
		if keys[i].ID == kid && i != 0 {
			ordered := make([]keyring.SigningKey, 0, len(keys))
			ordered = append(ordered, keys[i])
			ordered = append(ordered, keys[:i]...)
			ordered = append(ordered, keys[i+1:]...)
			return ordered
		}
	}
	return keys
}
