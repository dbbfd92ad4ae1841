// Package store is the "game store view": typed accessors over the
// external key/value collaborator for games, slots, schedule items,
// and users (spec §1, §2 "Game store view", §3 Data Model). The
// persistence schema itself is out of scope (spec §1 Non-goals); this
// package defines the behavior the rest of the core depends on and
// ships two implementations of it — an in-memory one for tests and a
// SQL-backed one (SQLite syntax, via pkg/database) that plays
// the role of "source of truth" described in spec §5.
package store

import "time"

// GameState is one of the five states a game can be in (spec §3).
type GameState string

const (
	GameStatePreparing GameState = "preparing"
	GameStateJoining   GameState = "joining"
	GameStateRunning   GameState = "running"
	GameStateFinished  GameState = "finished"
	GameStateDeleted   GameState = "deleted"
)

// GameType controls visibility/joinability (spec §3, §4.4 permissions).
type GameType string

const (
	GameTypePublic   GameType = "public"
	GameTypeUnlisted GameType = "unlisted"
	GameTypePrivate  GameType = "private"
)

// TurnState codes are stable at the wire boundary (spec §3).
type TurnState int

const (
	TurnMissing  TurnState = 0
	TurnGreen    TurnState = 1
	TurnYellow   TurnState = 2
	TurnRed      TurnState = 3
	TurnBad      TurnState = 4
	TurnStale    TurnState = 5
	TurnNeedless TurnState = 6

	// TurnTemporaryFlag ORs into a TurnState to mark it not-final (spec §3).
	TurnTemporaryFlag TurnState = 16
)

// Base strips the temporary flag, returning the underlying classification.
func (s TurnState) Base() TurnState { return s &^ TurnTemporaryFlag }

// IsTemporary reports whether the temporary-flag bit is set.
func (s TurnState) IsTemporary() bool { return s&TurnTemporaryFlag != 0 }

// WithTemporary sets or clears the temporary-flag bit.
func (s TurnState) WithTemporary(flag bool) TurnState {
	if flag {
		return s.Base() | TurnTemporaryFlag
	}
	return s.Base()
}

// AtLeast reports whether the base state is >= other's base state,
// numerically, matching the ordering used by spec §4.6 step 9
// ("new-state >= yellow").
func (s TurnState) AtLeast(other TurnState) bool {
	return s.Base() >= other.Base()
}

// ScheduleType names a schedule item's recurrence policy (spec §3).
type ScheduleType string

const (
	ScheduleStop   ScheduleType = "stop"
	ScheduleWeekly ScheduleType = "weekly"
	ScheduleDaily  ScheduleType = "daily"
	ScheduleASAP   ScheduleType = "asap"
	ScheduleManual ScheduleType = "manual"
)

// EndCondition names how a schedule item's lifetime is bounded (spec §3).
type EndCondition string

const (
	EndNone    EndCondition = "none"
	EndTurn    EndCondition = "turn"
	EndTime    EndCondition = "time"
	EndForever EndCondition = "forever"
)

// ScheduleItem is one entry of a game's schedule stack (spec §3, §4.7).
type ScheduleItem struct {
	Type ScheduleType

	// Interval is the "every N days" period for ScheduleDaily.
	Interval int
	// WeekdayMask bit i set means weekday i (0=Sunday) is enabled, for ScheduleWeekly.
	WeekdayMask uint8
	// DayTime is minutes within a day at which the event fires.
	DayTime int
	// Delay is extra scaled minutes added after readiness, for ScheduleASAP.
	Delay int
	// HostEarly requests advancing a scheduled host run when all live
	// non-temporary turns are already in (spec §4.2 "Host early").
	HostEarly bool

	End      EndCondition
	EndParam int64 // turn number, or absolute time, depending on End

	// LastFired is the last absolute time (scaled minutes) this item
	// produced a host event, used by ScheduleDaily to advance from a
	// known anchor rather than "now".
	LastFired int64
}

// Slot is a player-slot of a game (spec §3).
type Slot struct {
	GameID     string
	Number     int
	Chain      []string // ordered user ids; Chain[0] is primary
	State      TurnState
	Rank       int // post-game rank; 0 = unranked
	RankPoints int
}

// Occupied reports whether the slot's chain is non-empty (spec §3).
func (s Slot) Occupied() bool { return len(s.Chain) > 0 }

// Primary returns the slot's primary user id, or "" if unoccupied.
func (s Slot) Primary() string {
	if len(s.Chain) == 0 {
		return ""
	}
	return s.Chain[0]
}

// Contains reports whether userID appears anywhere in the chain.
func (s Slot) Contains(userID string) bool {
	for _, u := range s.Chain {
		if u == userID {
			return true
		}
	}
	return false
}

// PositionOf returns the index of userID in the chain, or -1.
func (s Slot) PositionOf(userID string) int {
	for i, u := range s.Chain {
		if u == userID {
			return i
		}
	}
	return -1
}

// Game is the game aggregate (spec §3).
type Game struct {
	ID        string
	Name      string
	Type      GameType
	State     GameState
	OwnerID   string
	Directory string
	Turn      int
	Timestamp string // engine's last-run 18-byte timestamp string

	// Tools attached by kind: "host", "master", "shiplist", or an
	// arbitrary extra-tool kind.
	Tools map[string]string

	Config map[string]string

	EndCondition EndCondition
	EndTurn      int64
	EndScore     int64
	EndProbFixed int64 // fixed-point probability 0..10000

	Difficulty int // cached, 0..250

	ConfigChanged bool
	EndChanged    bool

	// CopyOfGameID is set for games created via Clone.
	CopyOfGameID string

	// AllowedUserIDs holds users explicitly granted access to a private
	// game without being on a slot (spec §4.5 "Add (allow access)").
	AllowedUserIDs map[string]bool

	MaxSlot int

	Schedule []ScheduleItem // stack, top-first (index 0)

	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is the subset of the external user-profile collaborator this
// core reads/writes directly (spec §3 "User").
type User struct {
	ID               string
	Email            string
	AllowJoin        bool
	Rank             int
	RankPoints       int
	TurnsPlayed      int
	TurnsMissed      int
	Reliability      float64 // 0..1, fraction of turns submitted on time
	ManagedDirByGame map[string]string

	// PasswordHash/PasswordSalt back the web-session login path that
	// precedes a dispatcher USER call with a signed token (internal/account,
	// internal/authtoken). Empty for users only ever referenced by id
	// (e.g. admin-added slot occupants who never log in directly).
	PasswordHash string
	PasswordSalt string
}
