package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get-style accessors when the object does
// not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a create would collide with an existing
// identifier (spec §7 code 409).
var ErrConflict = errors.New("store: conflict")

// GameFilter narrows ListGames (spec §4.4 "List games (filter-based)").
type GameFilter struct {
	State   *GameState
	Type    *GameType
	UserID  string // restrict to games this user plays, if set
	OwnerID string
	Tool    string // kind=id, e.g. "host=nethack"
}

// Store is the typed accessor surface the rest of the core uses instead
// of talking to the key/value collaborator directly (spec §2 "Game
// store view"). Every method that mutates game state is expected to be
// called with the caller already holding the global service mutex
// (spec §5); Store itself only guarantees its own internal consistency,
// not cross-call atomicity beyond what's documented per method.
type Store interface {
	// Games
	NextGameID(ctx context.Context) (string, error)
	CreateGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, id string) (*Game, error)
	UpdateGame(ctx context.Context, id string, mutate func(g *Game) error) (*Game, error)
	ListGames(ctx context.Context, f GameFilter) ([]*Game, error)
	DeleteGame(ctx context.Context, id string) error

	// Slots
	GetSlot(ctx context.Context, gameID string, number int) (*Slot, error)
	SetSlot(ctx context.Context, s *Slot) error
	ListSlots(ctx context.Context, gameID string) ([]*Slot, error)

	// Users
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, id string, mutate func(u *User) error) (*User, error)
}
