// Package turn implements turn submission (spec.md §4.6), grounded on
// the teacher's save aggregate (internal/games/domain/save.go's
// checksum/backup/file-path handling around a binary blob) adapted
// from a save-game upload into a play-by-mail turn-file upload that
// hands off to an external turn checker.
package turn

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/starrealm/hoststar/internal/collab"
	"github.com/starrealm/hoststar/internal/store"
)

const (
	slotOffset      = 0
	slotLen         = 2
	timestampOffset = slotOffset + slotLen
	timestampLen    = 18
	trailerLen      = 4
	minBlobLen      = timestampOffset + timestampLen + trailerLen
)

// Errors returned by Submit and SetTemporary.
var (
	ErrEmptyBlob        = fmt.Errorf("turn: blob is empty")
	ErrBlobTooShort     = fmt.Errorf("turn: blob is shorter than the minimum known on-wire structure")
	ErrSlotMismatch     = fmt.Errorf("turn: declared slot does not match the requested slot")
	ErrStale            = fmt.Errorf("turn: no game matches this blob's timestamp")
	ErrUnknownUser      = fmt.Errorf("turn: no user matches the given mail address")
	ErrPermissionDenied = fmt.Errorf("turn: permission denied")
	ErrNoSubmittedTurn  = fmt.Errorf("turn: slot has no submitted turn to mark")
)

// Checker is the external turn checker collaborator (spec.md §4.6 step
// 7): a subprocess that inspects the written turn file and reports its
// verdict via exit code, with any diagnostic text on stdout. It is
// deliberately narrow (not internal/subprocrunner.Client itself) so
// this package stays independent of the subprocess-runner's process
// lifecycle concerns.
type Checker interface {
	Check(ctx context.Context, path string) (stdout string, exitCode int, err error)
}

// Options carries Submit's optional arguments (spec.md §4.6 "Submit").
type Options struct {
	CallerID   string // session user; "" means admin context
	GameID     string // optional explicit game id
	SlotNumber *int   // optional explicit slot, checked against the declared one
	Mail       string // admin-context submitter identification by email
	Info       string // free-form annotation, passed through to Result
}

// Result is the TRN response (spec.md §6 "TRN" table: status, output,
// game, slot, previous, user, turn, name, allowtemp).
type Result struct {
	State      store.TurnState
	Output     string
	GameID     string
	SlotNumber int
	Previous   store.TurnState
	UserID     string
	Turn       int
	Info       string
	AllowTemp  bool
}

// Service is the turn domain operations surface.
type Service struct {
	store     store.Store
	hostFiles collab.HostFileService
	checker   Checker
	scheduler SchedulerNotifier
}

// SchedulerNotifier mirrors internal/player.SchedulerNotifier; kept
// local to avoid a dependency on internal/scheduler.
type SchedulerNotifier interface {
	HandleGameChange(ctx context.Context, gameID string)
}

// New creates a Service.
func New(st store.Store, hostFiles collab.HostFileService, checker Checker, sched SchedulerNotifier) *Service {
	return &Service{store: st, hostFiles: hostFiles, checker: checker, scheduler: sched}
}

func isAdmin(callerID string) bool { return callerID == "" }

// validateBlob checks the minimum known on-wire structure (spec.md
// §4.6 step 1): a header carrying the slot number and timestamp, plus
// room for a trailer.
func validateBlob(blob []byte) error {
	if len(blob) == 0 {
		return ErrEmptyBlob
	}
	if len(blob) < minBlobLen {
		return ErrBlobTooShort
	}
	return nil
}

func declaredSlot(blob []byte) int {
	return int(binary.LittleEndian.Uint16(blob[slotOffset : slotOffset+slotLen]))
}

func declaredTimestamp(blob []byte) string {
	return strings.TrimRight(string(blob[timestampOffset:timestampOffset+timestampLen]), "\x00")
}

// exitCodeToState maps the checker's exit code to a TurnState (spec.md
// §4.6 step 8).
func exitCodeToState(exitCode int) store.TurnState {
	switch exitCode {
	case 0:
		return store.TurnGreen
	case 1:
		return store.TurnYellow
	case 2:
		return store.TurnRed
	case 3:
		return store.TurnBad
	case 4:
		return store.TurnStale
	case 5:
		return store.TurnNeedless
	default:
		return store.TurnBad
	}
}

func inboxPath(g *store.Game, slot int) string {
	return path.Join(g.Directory, "inbox", fmt.Sprintf("player%d.trn", slot))
}

func canonicalTurnPath(g *store.Game, slot int) string {
	return path.Join(g.Directory, fmt.Sprintf("player%d.trn", slot))
}

// writeCanonicalTurn writes blob as the slot's canonical turn file,
// checksumming it first so a byte-identical resubmission (a common
// case when a player's mailer retries) reuses the already-stored copy
// instead of writing a duplicate (spec.md §4.6 step 9's "persist ...
// the blob", grounded on the teacher's save-checksum approach to
// avoiding redundant backups).
func (s *Service) writeCanonicalTurn(ctx context.Context, g *store.Game, slot int, blob []byte) error {
	sum := sha256.Sum256(blob)
	hash := hex.EncodeToString(sum[:])
	dst := canonicalTurnPath(g, slot)
	if existing, ok, err := s.hostFiles.Dedupe(ctx, hash); err == nil && ok && existing == dst {
		return nil
	}
	if err := s.hostFiles.WriteFile(ctx, dst, blob); err != nil {
		return fmt.Errorf("turn: write canonical turn file: %w", err)
	}
	return nil
}

// Submit runs the full turn-submission pipeline (spec.md §4.6
// "Submit"): validates the blob, resolves the target game and slot,
// identifies the submitter, hands the blob to the turn checker, and
// persists the resulting state (and, for yellow/red verdicts, the
// blob itself).
func (s *Service) Submit(ctx context.Context, blob []byte, opts Options) (Result, error) {
	if err := validateBlob(blob); err != nil {
		return Result{}, err
	}
	slot := declaredSlot(blob)
	ts := declaredTimestamp(blob)

	g, err := s.resolveGame(ctx, opts.GameID, ts)
	if err != nil {
		return Result{}, err
	}

	if opts.SlotNumber != nil && *opts.SlotNumber != slot {
		return Result{}, ErrSlotMismatch
	}

	userID, err := s.identifySubmitter(ctx, g, slot, opts)
	if err != nil {
		return Result{}, err
	}

	slotRec, err := s.store.GetSlot(ctx, g.ID, slot)
	if err != nil {
		return Result{}, err
	}
	previous := slotRec.State

	path := inboxPath(g, slot)
	if err := s.hostFiles.WriteFile(ctx, path, blob); err != nil {
		return Result{}, fmt.Errorf("turn: write inbox file: %w", err)
	}

	stdout, exitCode, err := s.checker.Check(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("turn: run checker: %w", err)
	}
	newState := exitCodeToState(exitCode)

	// Yellow/red verdicts replace the canonical turn file; bad/stale
	// verdicts record the transition without touching a previously-good
	// file (spec.md §4.6 step 9).
	base := newState.Base()
	if base.AtLeast(store.TurnYellow) && !base.AtLeast(store.TurnBad) {
		if err := s.writeCanonicalTurn(ctx, g, slot, blob); err != nil {
			return Result{}, err
		}
	}

	slotRec.State = newState
	if err := s.store.SetSlot(ctx, slotRec); err != nil {
		return Result{}, err
	}

	if newState != previous && s.scheduler != nil {
		s.scheduler.HandleGameChange(ctx, g.ID)
	}

	return Result{
		State:      newState,
		Output:     stdout,
		GameID:     g.ID,
		SlotNumber: slot,
		Previous:   previous,
		UserID:     userID,
		Turn:       g.Turn,
		Info:       opts.Info,
		AllowTemp:  true,
	}, nil
}

// resolveGame implements spec.md §4.6 step 4: an explicit game id is
// always accepted as-is (the checker classifies any staleness); absent
// that, the game is found by matching the blob's declared timestamp
// against each game's last-recorded one.
func (s *Service) resolveGame(ctx context.Context, gameID, timestamp string) (*store.Game, error) {
	if gameID != "" {
		return s.store.GetGame(ctx, gameID)
	}
	games, err := s.store.ListGames(ctx, store.GameFilter{})
	if err != nil {
		return nil, err
	}
	for _, g := range games {
		if g.Timestamp == timestamp {
			return g, nil
		}
	}
	return nil, ErrStale
}

// identifySubmitter implements spec.md §4.6 step 6.
func (s *Service) identifySubmitter(ctx context.Context, g *store.Game, slot int, opts Options) (string, error) {
	if isAdmin(opts.CallerID) {
		if opts.Mail == "" {
			return "", nil
		}
		u, err := s.store.FindUserByEmail(ctx, opts.Mail)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}

	slotRec, err := s.store.GetSlot(ctx, g.ID, slot)
	if err != nil {
		return "", err
	}
	if !slotRec.Contains(opts.CallerID) {
		return "", fmt.Errorf("%w: caller is not on slot %d's chain", ErrPermissionDenied, slot)
	}
	return opts.CallerID, nil
}

// SetTemporary toggles the temporary-flag bit on a slot's state
// (spec.md §4.6 "setTemporary"). The caller must be admin or the
// user currently primary on the slot, and the slot must already have
// a submitted turn.
func (s *Service) SetTemporary(ctx context.Context, callerID, gameID string, slotNumber int, flag bool) error {
	slot, err := s.store.GetSlot(ctx, gameID, slotNumber)
	if err != nil {
		return err
	}
	if !isAdmin(callerID) && slot.Primary() != callerID {
		return fmt.Errorf("%w: caller must be admin or the slot's primary user", ErrPermissionDenied)
	}
	if slot.State.Base() == store.TurnMissing {
		return ErrNoSubmittedTurn
	}
	slot.State = slot.State.WithTemporary(flag)
	return s.store.SetSlot(ctx, slot)
}
