package ws

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "inkforge"

var errBadToken = errors.New("invalid resume token")

type resumeClaims struct {
	jwt.RegisteredClaims
	Story string `json:"story"`
}

// issueToken signs a token naming a save of story. The subject is the save
// id.
func (s *Server) issueToken(saveID, story string) (string, error) {
	if len(s.cfg.TokenSecret) == 0 {
		return "", nil
	}
	now := s.now()
	claims := resumeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   saveID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
		Story: story,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.TokenSecret)
}

// saveIDFromToken returns the save a HELLO token refers to. Without a
// secret the token is the save id itself.
func (s *Server) saveIDFromToken(token, story string) (string, error) {
	if len(s.cfg.TokenSecret) == 0 {
		return token, nil
	}
	var claims resumeClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.TokenSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadToken, err)
	}
	if claims.Story != story || claims.Subject == "" {
		return "", fmt.Errorf("%w: issued for story %q", errBadToken, claims.Story)
	}
	return claims.Subject, nil
}
