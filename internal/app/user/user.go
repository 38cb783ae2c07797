/*
Package user defines the wallet-identified user record and the directory the relay
uses to find, create and refresh users.
*/
package user

import (
	"context"
	"errors"
	"time"
)

// GuestID is the sentinel user id bound to sessions that opt out of persistence.
const GuestID int64 = -1

var (
	// ErrNotFound is returned when no user exists for an address.
	ErrNotFound = errors.New("user not found")

	// ErrAlreadyExists is returned by Create when the address is already taken.
	ErrAlreadyExists = errors.New("user already exists")
)

// User is the persisted identity behind a wallet address.
type User struct {
	ID          int64     `json:"id"`
	Address     string    `json:"address"`
	PublicKey   string    `json:"publicKey,omitempty"`
	EnsName     string    `json:"ensName,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewUser carries the fields supplied on first handshake.
type NewUser struct {
	Address     string
	PublicKey   string
	EnsName     string
	DisplayName string
}

// Update holds a partial update; nil fields are left untouched.
type Update struct {
	PublicKey *string
	LastSeen  *time.Time
}

// Directory is the user store consumed by the handshake.
type Directory interface {
	// FindByAddress returns ErrNotFound when the address is unknown.
	FindByAddress(ctx context.Context, address string) (*User, error)

	// Create returns ErrAlreadyExists when another writer created the address first.
	Create(ctx context.Context, u NewUser) (*User, error)

	// Update returns ErrNotFound when the address is unknown.
	Update(ctx context.Context, address string, upd Update) (*User, error)
}
