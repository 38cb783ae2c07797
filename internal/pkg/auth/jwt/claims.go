package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a session token issued on a successful wallet handshake.
type Payload struct {
	jwt.StandardClaims

	// UserID is the persisted user id bound to the wallet address.
	UserID int64 `json:"uid"`

	// Address is the normalized wallet address the session was opened for.
	Address string `json:"address"`
}
