package identity

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"dental-lab-admin/chatkit/conversation/models"
)

// SessionClaims are the claims carried by a persisted session token.
type SessionClaims struct {
	ActorID     string `json:"actor_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// TokenSource supplies the persisted token for one role slot. Empty string
// means no snapshot is stored.
type TokenSource func() string

// TokenSnapshot parses a persisted session token into an identity. An
// expired or malformed token counts as "no snapshot" so resolution falls
// through to the next source.
type TokenSnapshot struct {
	secret []byte
	source TokenSource
}

// NewTokenSnapshot creates a snapshot provider validating tokens with the
// given HMAC secret.
func NewTokenSnapshot(secret string, source TokenSource) *TokenSnapshot {
	return &TokenSnapshot{secret: []byte(secret), source: source}
}

// Resolve implements Provider.
func (t *TokenSnapshot) Resolve(_ context.Context) (*Identity, error) {
	raw := t.source()
	if raw == "" {
		return nil, nil
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, nil
	}

	return &Identity{
		ActorID:     claims.ActorID,
		Role:        models.Role(claims.Role),
		DisplayName: claims.DisplayName,
	}, nil
}
