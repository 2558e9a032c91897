package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcoot/secretgame/internal/model"
)

// Claims are the session token claims
type Claims struct {
	PlayerID model.PlayerID `json:"uid"`
	Guest    bool           `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

func sign(secret []byte, claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

func verify(secret []byte, token string, now func() time.Time) (*Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || claims.PlayerID == "" || claims.ID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
