package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the principal details carried in an issued token.
type Claims struct {
	UID   string
	Email string
}

// ClaimsFromToken reads uid and email from a JWT without verifying it.
// Tokens are verified by the backend; the client only needs the display details.
func ClaimsFromToken(raw string) (Claims, Token, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Claims{}, Token{}, fmt.Errorf("parse token: %w", err)
	}

	var out Claims
	for _, key := range []string{"uid", "user_id", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			out.UID = v
			break
		}
	}
	if v, ok := claims["email"].(string); ok {
		out.Email = v
	}

	tok := Token{Value: raw, UID: out.UID, Email: out.Email}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tok.ExpiresAt = exp.Time
	}
	return out, tok, nil
}
