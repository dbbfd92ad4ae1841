// Package player implements the player domain operations (spec.md
// §4.5): join, substitute, resign, add (allow access), managed
// directory, and checkFile. Grounded on the teacher's session-manager
// shape (internal/games/application/session_manager.go's permission
// checks against a caller identity before mutating shared state),
// adapted from session lifecycle management into slot-chain mutation.
package player

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"

	"github.com/starrealm/hoststar/internal/collab"
	"github.com/starrealm/hoststar/internal/store"
)

// ErrPermissionDenied is returned whenever a caller lacks the
// authority spec.md §4.5 requires for the operation attempted.
var ErrPermissionDenied = fmt.Errorf("player: permission denied")

// Service is the player domain operations surface.
type Service struct {
	store     store.Store
	userFiles collab.UserFileService
	scheduler SchedulerNotifier
}

// SchedulerNotifier is the subset of internal/scheduler.Worker the
// player package needs, kept as a narrow interface to avoid an import
// cycle (internal/scheduler does not depend on internal/player).
type SchedulerNotifier interface {
	HandleGameChange(ctx context.Context, gameID string)
}

// New creates a Service.
func New(st store.Store, userFiles collab.UserFileService, sched SchedulerNotifier) *Service {
	return &Service{store: st, userFiles: userFiles, scheduler: sched}
}

func isAdmin(callerID string) bool { return callerID == "" }

// Join places userID onto slot of gameID (spec.md §4.5 "Join"). The
// game must be in {joining, running}, the slot unoccupied, the target
// user must exist and have allow-join set. An admin may join anyone
// into any game; a regular user may only join themselves, into a
// public/unlisted game (or a private one they own or were granted
// access to) that they are not already on.
func (s *Service) Join(ctx context.Context, callerID, gameID string, slotNumber int, userID string) error {
	if !isAdmin(callerID) && callerID != userID {
		return fmt.Errorf("%w: users may only join themselves", ErrPermissionDenied)
	}

	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if g.State != store.GameStateJoining && g.State != store.GameStateRunning {
		return fmt.Errorf("player: game %s is not joinable (state %s)", gameID, g.State)
	}
	if !isAdmin(callerID) {
		if g.Type == store.GameTypePrivate && !g.AllowedUserIDs[callerID] && g.OwnerID != callerID {
			return fmt.Errorf("%w: game is private", ErrPermissionDenied)
		}
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.AllowJoin {
		return fmt.Errorf("player: user %s does not have allow-join set", userID)
	}
	if !isAdmin(callerID) {
		slots, err := s.store.ListSlots(ctx, gameID)
		if err != nil {
			return err
		}
		for _, sl := range slots {
			if sl.Contains(userID) {
				return fmt.Errorf("player: %s is already on game %s", userID, gameID)
			}
		}
	}

	slot, err := s.store.GetSlot(ctx, gameID, slotNumber)
	if err != nil {
		return err
	}
	if slot.Occupied() {
		return fmt.Errorf("player: slot %d of game %s is already occupied", slotNumber, gameID)
	}
	slot.Chain = []string{userID}
	slot.State = store.TurnMissing
	if err := s.store.SetSlot(ctx, slot); err != nil {
		return err
	}

	if s.scheduler != nil {
		s.scheduler.HandleGameChange(ctx, gameID)
	}
	return nil
}

// Substitute truncates slotNumber's chain at the caller's position and
// appends newUserID (spec.md §4.5 "Substitute"). The caller must be
// admin, the game owner, or already in the chain at or before the
// position they're substituting into; newUserID must not already
// appear earlier in the chain.
func (s *Service) Substitute(ctx context.Context, callerID, gameID string, slotNumber int, newUserID string) error {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	slot, err := s.store.GetSlot(ctx, gameID, slotNumber)
	if err != nil {
		return err
	}
	if !slot.Occupied() {
		return fmt.Errorf("player: slot %d of game %s is not occupied", slotNumber, gameID)
	}

	pos := len(slot.Chain) // substituting in as the next link by default
	if !isAdmin(callerID) && callerID != g.OwnerID {
		callerPos := slot.PositionOf(callerID)
		if callerPos < 0 {
			return fmt.Errorf("%w: caller is not in this slot's chain", ErrPermissionDenied)
		}
		pos = callerPos + 1
	}
	for i := 0; i < pos && i < len(slot.Chain); i++ {
		if slot.Chain[i] == newUserID {
			return fmt.Errorf("player: %s already appears earlier in the chain", newUserID)
		}
	}

	if pos > len(slot.Chain) {
		pos = len(slot.Chain)
	}
	slot.Chain = append(append([]string{}, slot.Chain[:pos]...), newUserID)
	if err := s.store.SetSlot(ctx, slot); err != nil {
		return err
	}
	if s.scheduler != nil {
		s.scheduler.HandleGameChange(ctx, gameID)
	}
	return nil
}

// Resign removes userID (and all subsequent replacements) from
// slotNumber's chain (spec.md §4.5 "Resign"). Admin/owner can resign
// anyone; a regular user can resign only themselves or their own
// replacements. Resigning the primary empties the whole chain.
func (s *Service) Resign(ctx context.Context, callerID, gameID string, slotNumber int, userID string) error {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	slot, err := s.store.GetSlot(ctx, gameID, slotNumber)
	if err != nil {
		return err
	}
	pos := slot.PositionOf(userID)
	if pos < 0 {
		return fmt.Errorf("player: %s is not in slot %d's chain", userID, slotNumber)
	}

	if !isAdmin(callerID) && callerID != g.OwnerID && callerID != userID {
		callerPos := slot.PositionOf(callerID)
		if callerPos < 0 || callerPos > pos {
			return fmt.Errorf("%w: caller may only resign themselves or a later replacement", ErrPermissionDenied)
		}
	}

	if pos == 0 {
		slot.Chain = nil
	} else {
		slot.Chain = slot.Chain[:pos]
	}
	if err := s.store.SetSlot(ctx, slot); err != nil {
		return err
	}
	if s.scheduler != nil {
		s.scheduler.HandleGameChange(ctx, gameID)
	}
	return nil
}

// AllowAccess marks userID as permitted to see a private game without
// occupying a slot (spec.md §4.5 "Add (allow access)"). Admin-only.
func (s *Service) AllowAccess(ctx context.Context, callerID, gameID, userID string) error {
	if !isAdmin(callerID) {
		return fmt.Errorf("%w: allow-access is admin-only", ErrPermissionDenied)
	}
	_, err := s.store.UpdateGame(ctx, gameID, func(g *store.Game) error {
		if g.AllowedUserIDs == nil {
			g.AllowedUserIDs = map[string]bool{}
		}
		g.AllowedUserIDs[userID] = true
		return nil
	})
	return err
}

// SetManagedDirectory validates that dirPath exists, then marks it
// managed by gameID for userID (spec.md §4.5 "Managed directory").
// Ownership of dirPath is not checked. It fails atomically if dirPath is already managed by a
// different game, and clears the property on the user's previous
// managed path for gameID (if different) on success.
func (s *Service) SetManagedDirectory(ctx context.Context, userID, gameID, dirPath string) error {
	_, ok, err := s.userFiles.Stat(ctx, dirPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("player: directory %q does not exist", dirPath)
	}

	_, err = s.store.UpdateUser(ctx, userID, func(u *store.User) error {
		for existingGame, existingPath := range u.ManagedDirByGame {
			if existingPath == dirPath && existingGame != gameID {
				return fmt.Errorf("player: %q is already managed by game %s", dirPath, existingGame)
			}
		}
		if u.ManagedDirByGame == nil {
			u.ManagedDirByGame = map[string]string{}
		}
		u.ManagedDirByGame[gameID] = dirPath
		return nil
	})
	return err
}

// ManagedDirectory returns the directory managed by gameID for userID,
// if any.
func (s *Service) ManagedDirectory(ctx context.Context, userID, gameID string) (string, bool, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", false, err
	}
	dir, ok := u.ManagedDirByGame[gameID]
	return dir, ok, nil
}

// FileDisposition is checkFile's result (spec.md §4.5 "checkFile").
type FileDisposition string

const (
	DispositionAllow  FileDisposition = "allow"
	DispositionRefuse FileDisposition = "refuse"
	DispositionStale  FileDisposition = "stale"
	DispositionTurn   FileDisposition = "turn"
)

var turnFilePattern = regexp.MustCompile(`^player(\d+)\.trn$`)

// controlledFiles are game-controlled filenames the service manages
// directly and never lets a user overwrite (spec.md §4.5 "a known
// game-controlled file (result file, spec file, etc.)").
var controlledFiles = map[string]bool{
	"result.rst": true,
	"game.spec":  true,
	"status.dat": true,
}

// CheckFile classifies an upload attempt (spec.md §4.5 "checkFile").
func (s *Service) CheckFile(ctx context.Context, userID, gameID, name string, dir string) (FileDisposition, error) {
	managed, ok, err := s.ManagedDirectory(ctx, userID, gameID)
	if err != nil {
		return "", err
	}
	if dir != "" && (!ok || path.Clean(dir) != path.Clean(managed)) {
		return DispositionStale, nil
	}

	base := path.Base(name)
	if m := turnFilePattern.FindStringSubmatch(base); m != nil {
		slotNumber, _ := strconv.Atoi(m[1])
		slot, err := s.store.GetSlot(ctx, gameID, slotNumber)
		if err != nil {
			return "", err
		}
		if slot.Contains(userID) {
			return DispositionTurn, nil
		}
	}

	if controlledFiles[base] {
		return DispositionRefuse, nil
	}
	return DispositionAllow, nil
}
