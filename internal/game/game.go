// Package game implements the game domain operations (spec.md §4.4):
// create, clone, list, config, permissions, tool attach/detach, and
// victory evaluation. Grounded on the teacher's GameService shape
// (internal/games/application/game_service.go — a service wrapping a
// repository, validating a request struct before mutating), adapted
// from a request/DTO-validation service into one operating directly on
// internal/store.Game through Store.UpdateGame's atomic mutate
// closures.
package game

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/starrealm/hoststar/internal/arbiter"
	"github.com/starrealm/hoststar/internal/collab"
	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/tools"
)

// Service is the game domain operations surface (spec.md §4.4).
type Service struct {
	store   store.Store
	arbiter *arbiter.Arbiter
	tools   *tools.Registry
	forum   collab.ForumService
}

// New creates a Service.
func New(st store.Store, arb *arbiter.Arbiter, reg *tools.Registry, forum collab.ForumService) *Service {
	return &Service{store: st, arbiter: arb, tools: reg, forum: forum}
}

// Create allocates a fresh game with default metadata (spec.md §4.4
// "Create game"): name "New Game", state=preparing, type=private, empty
// schedule, default tools from each of the four catalogs, and a
// directory of games/NNNN with four-digit zero padding.
func (s *Service) Create(ctx context.Context, ownerID string) (*store.Game, error) {
	id, err := s.store.NextGameID(ctx)
	if err != nil {
		return nil, fmt.Errorf("game: allocate id: %w", err)
	}

	n, _ := strconv.Atoi(id)
	defaultTools := map[string]string{}
	for kind, toolID := range s.tools.DefaultTools() {
		defaultTools[string(kind)] = toolID
	}

	g := &store.Game{
		ID:        id,
		Name:      "New Game",
		Type:      store.GameTypePrivate,
		State:     store.GameStatePreparing,
		OwnerID:   ownerID,
		Directory: fmt.Sprintf("games/%04d", n),
		Tools:     defaultTools,
		Config:    map[string]string{},
		MaxSlot:   0,
		AllowedUserIDs: map[string]bool{},
	}
	if err := s.store.CreateGame(ctx, g); err != nil {
		return nil, err
	}
	if s.forum != nil {
		if err := s.forum.CreateGameForum(ctx, id); err != nil {
			return nil, fmt.Errorf("game: create forum: %w", err)
		}
	}
	return g, nil
}

var suffixPattern = regexp.MustCompile(`^(.*) (\d+)$`)

// nextCloneName implements spec.md §4.4's "Old" -> "Old 1" -> "Old 2"
// suffixing rule.
func nextCloneName(name string) string {
	if m := suffixPattern.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%s %d", m[1], n+1)
	}
	return name + " 1"
}

// Clone creates a copy of src (spec.md §4.4 "Clone game"). Admin-only
// at the caller's discretion (this package does not check admin itself
// — see Permissions below); the source game must not currently be held
// in host mode.
func (s *Service) Clone(ctx context.Context, srcID string) (*store.Game, error) {
	if s.arbiter.IsHostHeld(srcID) {
		return nil, fmt.Errorf("game: %s is currently held by the arbiter in host mode", srcID)
	}
	src, err := s.store.GetGame(ctx, srcID)
	if err != nil {
		return nil, err
	}

	newID, err := s.store.NextGameID(ctx)
	if err != nil {
		return nil, err
	}
	n, _ := strconv.Atoi(newID)

	clone := &store.Game{
		ID:             newID,
		Name:           nextCloneName(src.Name),
		Type:           src.Type,
		State:          store.GameStateJoining,
		OwnerID:        src.OwnerID,
		Directory:      fmt.Sprintf("games/%04d", n),
		Tools:          cloneMap(src.Tools),
		Config:         cloneMap(src.Config),
		EndCondition:   src.EndCondition,
		EndTurn:        src.EndTurn,
		EndScore:       src.EndScore,
		EndProbFixed:   src.EndProbFixed,
		Difficulty:     src.Difficulty,
		CopyOfGameID:   srcID,
		AllowedUserIDs: map[string]bool{},
		MaxSlot:        src.MaxSlot,
		Schedule:       append([]store.ScheduleItem(nil), src.Schedule...),
	}
	if err := s.store.CreateGame(ctx, clone); err != nil {
		return nil, err
	}
	if s.forum != nil {
		if err := s.forum.CreateGameForum(ctx, newID); err != nil {
			return nil, fmt.Errorf("game: create forum: %w", err)
		}
	}
	return clone, nil
}

func cloneMap(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Filter narrows List (spec.md §4.4 "List games (filter-based)").
type Filter struct {
	State      *store.GameState
	Type       *store.GameType
	UserID     string
	OwnerID    string
	Tool       string
	ForUser    string // viewing user id, "" = admin
	IsAdmin    bool
}

// List returns games matching f, restricted to what the viewing user
// may read (spec.md §4.4 "List games (filter-based)"): admin sees all
// matching games; a logged-in user sees only public games, unlisted
// games in the joining state, and games they own or are the active
// (last) player of a slot on.
func (s *Service) List(ctx context.Context, f Filter) ([]*store.Game, error) {
	games, err := s.store.ListGames(ctx, store.GameFilter{
		State:   f.State,
		Type:    f.Type,
		UserID:  f.UserID,
		OwnerID: f.OwnerID,
		Tool:    f.Tool,
	})
	if err != nil {
		return nil, err
	}
	if f.IsAdmin {
		return games, nil
	}

	var out []*store.Game
	for _, g := range games {
		perm, err := s.permissionsFor(ctx, g, f.ForUser)
		if err != nil {
			return nil, err
		}
		if perm.CanRead {
			out = append(out, g)
		}
	}
	return out, nil
}

// Permissions is the per-user bit set spec.md §4.4 defines.
type Permissions struct {
	UserIsPrimary  bool
	UserIsActive   bool
	UserIsInactive bool
	UserIsOwner    bool
	GameIsPublic   bool
	CanRead        bool
}

// Permissions computes the per-user bit set for g (spec.md §4.4
// "Permissions"). An empty userID is treated as admin and bypasses all
// checks, matching the session model's "empty user = admin" rule
// (spec.md §4.9).
func (s *Service) Permissions(ctx context.Context, gameID, userID string) (Permissions, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return Permissions{}, err
	}
	if userID == "" {
		return Permissions{CanRead: true, UserIsOwner: true, GameIsPublic: g.Type == store.GameTypePublic}, nil
	}
	return s.permissionsFor(ctx, g, userID)
}

func (s *Service) permissionsFor(ctx context.Context, g *store.Game, userID string) (Permissions, error) {
	p := Permissions{
		GameIsPublic: g.Type == store.GameTypePublic,
		UserIsOwner:  g.OwnerID == userID,
	}
	if userID == "" {
		p.CanRead = true
		return p, nil
	}

	slots, err := s.store.ListSlots(ctx, g.ID)
	if err != nil {
		return Permissions{}, err
	}
	for _, slot := range slots {
		pos := slot.PositionOf(userID)
		if pos < 0 {
			continue
		}
		if pos == 0 {
			p.UserIsPrimary = true
		}
		if pos == len(slot.Chain)-1 {
			p.UserIsActive = true
		} else {
			p.UserIsInactive = true
		}
	}

	joinable := g.Type == store.GameTypeUnlisted && g.State == store.GameStateJoining
	p.CanRead = p.GameIsPublic || joinable || p.UserIsOwner || p.UserIsActive
	return p, nil
}

// tool-related and victory-end config key names recognized by SetConfig
// (spec.md §4.4 "Get/set config").
var toolKeys = map[string]bool{"host": true, "master": true, "shiplist": true}

func isExtraToolKey(key string) bool { return strings.HasPrefix(key, "tool.") }

var victoryKeys = map[string]bool{
	"endCondition": true, "endTurn": true, "endScore": true, "endProbability": true,
}

// SetConfig atomically writes a set of config keys (spec.md §4.4
// "Get/set config"): writing a tool-related key sets configChanged;
// writing a victory-end key sets endChanged unless endChanged itself
// is written in the same call; any failing assignment (e.g. an unknown
// tool) leaves the game untouched.
func (s *Service) SetConfig(ctx context.Context, gameID string, kv map[string]string) (*store.Game, error) {
	return s.store.UpdateGame(ctx, gameID, func(g *store.Game) error {
		_, endChangedExplicit := kv["endChanged"]
		for key, value := range kv {
			if toolKeys[key] || isExtraToolKey(key) {
				kind := key
				if isExtraToolKey(key) {
					kind = strings.TrimPrefix(key, "tool.")
				}
				if _, ok := s.tools.Catalog(toolKind(key)).Get(value); value != "" && !ok {
					return fmt.Errorf("game: unknown tool %q for kind %q", value, kind)
				}
				g.Tools[kind] = value
				g.ConfigChanged = true
				continue
			}
			if victoryKeys[key] {
				if !endChangedExplicit {
					g.EndChanged = true
				}
			}
			g.Config[key] = value
		}
		if v, ok := kv["endChanged"]; ok {
			g.EndChanged = v == "1" || strings.EqualFold(v, "true")
		}
		return nil
	})
}

func toolKind(key string) tools.Kind {
	switch key {
	case "host":
		return tools.KindHost
	case "master":
		return tools.KindMaster
	case "shiplist":
		return tools.KindShiplist
	default:
		return tools.KindTool
	}
}

// GetConfig returns a copy of the game's config map (spec.md §4.4
// "Get/set config").
func (s *Service) GetConfig(ctx context.Context, gameID string) (map[string]string, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return g.Config, nil
}

// AddTool attaches tool toolID of kind, replacing any existing attached
// tool of the same kind (spec.md §4.4 "Add/remove tool").
func (s *Service) AddTool(ctx context.Context, gameID string, kind tools.Kind, toolID string) (*store.Game, error) {
	if _, ok := s.tools.Catalog(kind).Get(toolID); !ok {
		return nil, fmt.Errorf("game: %w: %s", tools.ErrUnknownTool, toolID)
	}
	return s.store.UpdateGame(ctx, gameID, func(g *store.Game) error {
		g.Tools[string(kind)] = toolID
		g.ConfigChanged = true
		return nil
	})
}

// RemoveTool detaches the tool of kind, returning false if none was
// attached (spec.md §4.4 "removing a non-attached tool returns false").
func (s *Service) RemoveTool(ctx context.Context, gameID string, kind tools.Kind) (bool, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return false, err
	}
	if _, attached := g.Tools[string(kind)]; !attached {
		return false, nil
	}
	_, err = s.store.UpdateGame(ctx, gameID, func(g *store.Game) error {
		delete(g.Tools, string(kind))
		g.ConfigChanged = true
		return nil
	})
	return err == nil, err
}
