// Package auth validates tokens from the external auth provider. The
// core only needs a stable current-user id out of them.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Validator struct {
	secret []byte
}

func NewValidator(hsSecret string) *Validator {
	return &Validator{secret: []byte(hsSecret)}
}

// UserID extracts the subject user id from a signed token.
func (v *Validator) UserID(tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", ErrInvalidToken
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	return "", ErrInvalidToken
}
