package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, grounded on the teacher's
// stub-repository pattern (internal/games/infrastructure/repository's
// Stub*Repository structs use a map + mutex the same way). It is used
// directly by unit tests across internal/game, internal/player,
// internal/turn and internal/scheduler; cmd/hostd uses SQLStore.
type MemoryStore struct {
	mu       sync.Mutex
	games    map[string]*Game
	slots    map[string]*Slot // key "gameID/slotNumber"
	users    map[string]*User
	nextGame int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games: make(map[string]*Game),
		slots: make(map[string]*Slot),
		users: make(map[string]*User),
	}
}

func slotKey(gameID string, number int) string {
	return gameID + "/" + strconv.Itoa(number)
}

func cloneGame(g *Game) *Game {
	cp := *g
	cp.Tools = cloneStringMap(g.Tools)
	cp.Config = cloneStringMap(g.Config)
	cp.AllowedUserIDs = make(map[string]bool, len(g.AllowedUserIDs))
	for k, v := range g.AllowedUserIDs {
		cp.AllowedUserIDs[k] = v
	}
	cp.Schedule = append([]ScheduleItem(nil), g.Schedule...)
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneSlot(s *Slot) *Slot {
	cp := *s
	cp.Chain = append([]string(nil), s.Chain...)
	return &cp
}

func cloneUser(u *User) *User {
	cp := *u
	cp.ManagedDirByGame = make(map[string]string, len(u.ManagedDirByGame))
	for k, v := range u.ManagedDirByGame {
		cp.ManagedDirByGame[k] = v
	}
	return &cp
}

// NextGameID allocates a fresh, monotonically increasing game id (spec §4.4).
func (m *MemoryStore) NextGameID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextGame++
	return strconv.Itoa(m.nextGame), nil
}

// CreateGame inserts g, failing with ErrConflict if its id is already taken.
func (m *MemoryStore) CreateGame(ctx context.Context, g *Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[g.ID]; exists {
		return fmt.Errorf("%w: game %s", ErrConflict, g.ID)
	}
	g.CreatedAt = time.Now()
	g.UpdatedAt = g.CreatedAt
	m.games[g.ID] = cloneGame(g)
	return nil
}

// GetGame returns a copy of the stored game.
func (m *MemoryStore) GetGame(ctx context.Context, id string) (*Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: game %s", ErrNotFound, id)
	}
	return cloneGame(g), nil
}

// UpdateGame applies mutate to a copy of the stored game and persists
// the result only if mutate returns nil, giving setConfig-style callers
// (spec §4.4) atomicity: a failing mutation leaves the stored game
// untouched.
func (m *MemoryStore) UpdateGame(ctx context.Context, id string, mutate func(g *Game) error) (*Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: game %s", ErrNotFound, id)
	}
	working := cloneGame(g)
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now()
	m.games[id] = working
	return cloneGame(working), nil
}

// ListGames returns games matching f, in id order.
func (m *MemoryStore) ListGames(ctx context.Context, f GameFilter) ([]*Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Game
	for _, g := range m.games {
		if f.State != nil && g.State != *f.State {
			continue
		}
		if f.Type != nil && g.Type != *f.Type {
			continue
		}
		if f.OwnerID != "" && g.OwnerID != f.OwnerID {
			continue
		}
		if f.Tool != "" {
			parts := strings.SplitN(f.Tool, "=", 2)
			if len(parts) == 2 && g.Tools[parts[0]] != parts[1] {
				continue
			}
		}
		if f.UserID != "" {
			if !m.gamePlayedByLocked(g.ID, f.UserID) {
				continue
			}
		}
		out = append(out, cloneGame(g))
	}
	sort.Slice(out, func(i, j int) bool {
		ni, _ := strconv.Atoi(out[i].ID)
		nj, _ := strconv.Atoi(out[j].ID)
		return ni < nj
	})
	return out, nil
}

func (m *MemoryStore) gamePlayedByLocked(gameID, userID string) bool {
	prefix := gameID + "/"
	for k, s := range m.slots {
		if strings.HasPrefix(k, prefix) && s.Contains(userID) {
			return true
		}
	}
	return false
}

// DeleteGame removes a game from the store outright (spec never
// hard-deletes a game row; callers transition State to
// GameStateDeleted via UpdateGame in practice, and this direct
// removal is provided for test cleanup).
func (m *MemoryStore) DeleteGame(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[id]; !ok {
		return fmt.Errorf("%w: game %s", ErrNotFound, id)
	}
	delete(m.games, id)
	return nil
}

// GetSlot returns a copy of the slot, or a zero-value unoccupied slot
// (not an error) if it has never been written — mirroring the spec's
// "a slot is occupied iff its chain is non-empty" rather than treating
// an untouched slot as missing data.
func (m *MemoryStore) GetSlot(ctx context.Context, gameID string, number int) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[slotKey(gameID, number)]; ok {
		return cloneSlot(s), nil
	}
	return &Slot{GameID: gameID, Number: number}, nil
}

// SetSlot writes s.
func (m *MemoryStore) SetSlot(ctx context.Context, s *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slotKey(s.GameID, s.Number)] = cloneSlot(s)
	return nil
}

// ListSlots returns all slots 1..MaxSlot for gameID, in slot-number order.
func (m *MemoryStore) ListSlots(ctx context.Context, gameID string) ([]*Slot, error) {
	m.mu.Lock()
	g, ok := m.games[gameID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: game %s", ErrNotFound, gameID)
	}

	out := make([]*Slot, 0, g.MaxSlot)
	for n := 1; n <= g.MaxSlot; n++ {
		s, err := m.GetSlot(ctx, gameID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// GetUser returns a copy of the stored user.
func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return cloneUser(u), nil
}

// FindUserByEmail performs a case-insensitive email lookup (spec §4.6
// step 6, admin+mail submission path).
func (m *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lower := strings.ToLower(email)
	for _, u := range m.users {
		if strings.ToLower(u.Email) == lower {
			return cloneUser(u), nil
		}
	}
	return nil, fmt.Errorf("%w: user with email %s", ErrNotFound, email)
}

// UpdateUser applies mutate to a copy of the stored user (creating one
// if absent) and persists the result only if mutate returns nil.
func (m *MemoryStore) UpdateUser(ctx context.Context, id string, mutate func(u *User) error) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = &User{ID: id, ManagedDirByGame: map[string]string{}}
	}
	working := cloneUser(u)
	if err := mutate(working); err != nil {
		return nil, err
	}
	m.users[id] = working
	return cloneUser(working), nil
}
