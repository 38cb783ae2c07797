package jwt

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"

	"cryptochat/internal/pkg/randx"
)

const (
	// SessionExpiration is the lifetime of a handshake session token.
	SessionExpiration = 24 * time.Hour

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "CryptoChat-Server"
)

// GenerateToken signs payload with HS256 after stamping the standard claims.
func GenerateToken(payload *Payload, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload.StandardClaims = jwt.StandardClaims{
		Id:        randx.TokenID(),
		Subject:   strconv.FormatInt(payload.UserID, 10),
		ExpiresAt: now.Add(duration).Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    TokenIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken validates tokenString against secretKey and returns its claims.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.Issuer != TokenIssuer {
		return nil, errors.New("invalid or expired token")
	}

	return claims, nil
}
