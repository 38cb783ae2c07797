/*
Package randx generates identifiers used outside the database: per-connection
session ids and token ids.
*/
package randx

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID returns a ULID identifying one WebSocket connection. ULIDs sort by creation
// time, which keeps connection logs in order when grepping by prefix.
func SessionID() string {
	return ulid.Make().String()
}

// TokenID returns a random UUID v4 used as a JWT id.
func TokenID() string {
	return uuid.New().String()
}
