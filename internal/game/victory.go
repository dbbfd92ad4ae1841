package game

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/starrealm/hoststar/internal/store"
)

// SlotScore is one slot's input to victory evaluation: its score (for
// score-based end conditions) and how many turns each chain member has
// played, used for proportional point-splitting of substitutes
// (spec.md §4.4 "Victory evaluation").
type SlotScore struct {
	SlotNumber  int
	Score       int64
	TurnsPlayed map[string]int // per-user turns played within this slot's chain
}

// rankPointTable is the base rank-points distribution for places 1..8
// (spec.md §4.4 "point distribution according to table"); any rank
// beyond the table's length earns the table's last (lowest) entry.
var rankPointTable = []int{2000, 1400, 1000, 800, 600, 400, 300, 200}

// minRankTurns is the shortest game length that still earns full
// credit on the turn-factor; games that end before it are scaled down
// as though they ran exactly this many turns.
const minRankTurns = 50

// EvaluateVictory runs victory evaluation for gameID (spec.md §4.4,
// invoked after each host run). It does nothing and returns false
// unless every occupied slot carries an explicit rank or the game's
// turn end condition (EndCondition EndTurn, Turn >= EndTurn) is met.
// EndScore is not consulted.
func (s *Service) EvaluateVictory(ctx context.Context, gameID string, scores []SlotScore) (bool, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return false, err
	}
	slots, err := s.store.ListSlots(ctx, gameID)
	if err != nil {
		return false, err
	}

	allRanked := len(slots) > 0
	for _, sl := range slots {
		if sl.Occupied() && sl.Rank == 0 {
			allRanked = false
			break
		}
	}

	scoreMet := g.EndCondition == store.EndTurn && int64(g.Turn) >= g.EndTurn

	if !allRanked && !scoreMet {
		return false, nil
	}

	scoreBySlot := make(map[int]int64, len(scores))
	turnsBySlot := make(map[int]map[string]int, len(scores))
	for _, sc := range scores {
		scoreBySlot[sc.SlotNumber] = sc.Score
		turnsBySlot[sc.SlotNumber] = sc.TurnsPlayed
	}

	if !allRanked {
		assignRanksByScore(slots, scoreBySlot)
	}
	assignRankPoints(g, slots)

	for _, sl := range slots {
		if err := s.store.SetSlot(ctx, sl); err != nil {
			return false, err
		}
		if err := s.creditChain(ctx, sl, turnsBySlot[sl.Number]); err != nil {
			return false, err
		}
	}
	_, err = s.store.UpdateGame(ctx, gameID, func(g *store.Game) error {
		g.State = store.GameStateFinished
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("game: finalize victory: %w", err)
	}
	return true, nil
}

// creditChain splits a slot's rank points across its chain of
// occupants proportionally to turns played (spec.md §4.4
// "Replacements' points are split proportionally to turns played")
// and credits each user's profile with their share.
func (s *Service) creditChain(ctx context.Context, sl *store.Slot, turnsPlayed map[string]int) error {
	if !sl.Occupied() || sl.RankPoints == 0 {
		return nil
	}
	shares := SplitByTurnsPlayed(sl.RankPoints, turnsPlayed, sl.Chain)
	for _, userID := range sl.Chain {
		share := shares[userID]
		_, err := s.store.UpdateUser(ctx, userID, func(u *store.User) error {
			u.RankPoints += share
			u.Rank = sl.Rank
			return nil
		})
		if err != nil {
			return fmt.Errorf("game: credit rank points to %s: %w", userID, err)
		}
	}
	return nil
}

// assignRanksByScore assigns ranks 1..N by descending score, with ties
// sharing the same rank (spec.md §4.4 "assign ranks by descending
// score").
func assignRanksByScore(slots []*store.Slot, scoreBySlot map[int]int64) {
	occupied := make([]*store.Slot, 0, len(slots))
	for _, sl := range slots {
		if sl.Occupied() {
			occupied = append(occupied, sl)
		}
	}
	sort.Slice(occupied, func(i, j int) bool {
		return scoreBySlot[occupied[i].Number] > scoreBySlot[occupied[j].Number]
	})

	rank := 0
	var prevScore int64
	first := true
	for i, sl := range occupied {
		sc := scoreBySlot[sl.Number]
		if first || sc != prevScore {
			rank = i + 1
			prevScore = sc
			first = false
		}
		sl.Rank = rank
	}
}

// assignRankPoints computes each occupied slot's rank points
// (spec.md §4.4): every slot at a given rank earns that rank's table
// entry outright (ties are not divided further — a pack of ties for
// first all earn the first-place entry), scaled by the game-wide
// turn-factor and cached difficulty.
func assignRankPoints(g *store.Game, slots []*store.Slot) {
	factor := turnFactor(g) * difficultyFactor(g.Difficulty)
	for _, sl := range slots {
		if !sl.Occupied() || sl.Rank == 0 {
			continue
		}
		sl.RankPoints = int(math.Round(float64(rankPointForRank(sl.Rank)) * factor))
	}
}

// rankPointForRank looks up the base points for a 1-indexed rank,
// clamping to the table's lowest (last-place) entry beyond its length.
func rankPointForRank(rank int) int {
	if rank < 1 {
		return 0
	}
	if rank > len(rankPointTable) {
		return rankPointTable[len(rankPointTable)-1]
	}
	return rankPointTable[rank-1]
}

// turnFactor scales rank points by how far the game actually ran
// relative to a full game (spec.md §4.4 "turns played / scheduled").
// Grounded in the original host's rank test fixtures (games ranked at
// turn 60 award 2000*59/60 = 1967 points to a slot tied for first;
// games cut short at turn 40 award 2000*39/50 = 1560 — the floor of
// minRankTurns keeps a short game's last-turn discount from growing
// worse than a game that actually ran the full default length).
func turnFactor(g *store.Game) float64 {
	scheduled := g.Turn
	if g.EndCondition == store.EndTurn && g.EndTurn > 0 {
		scheduled = int(g.EndTurn)
	}
	if scheduled <= 1 {
		return 0
	}
	denom := scheduled
	if denom < minRankTurns {
		denom = minRankTurns
	}
	return float64(scheduled-1) / float64(denom)
}

// difficultyFactor scales rank points around a neutral cached
// difficulty rating of 100 (spec.md §4.4 "a game-wide rank multiplier
// incorporates ... difficulty"); harder games (>100) pay out more,
// easier games pay out less.
func difficultyFactor(difficulty int) float64 {
	if difficulty <= 0 {
		return 1.0
	}
	return float64(difficulty) / 100.0
}

// SplitByTurnsPlayed distributes total rank points across a slot's
// chain according to each member's share of total turns played
// (spec.md §4.4 "Replacements' points are split proportionally to
// turns played"). Falls back to an even split when no turn counts are
// known, e.g. a slot with a single occupant for the whole game.
func SplitByTurnsPlayed(total int, turnsByUser map[string]int, chain []string) map[string]int {
	out := make(map[string]int, len(chain))
	if len(chain) == 0 {
		return out
	}
	sum := 0
	for _, u := range chain {
		sum += turnsByUser[u]
	}
	if sum == 0 {
		share := total / len(chain)
		for _, u := range chain {
			out[u] = share
		}
		return out
	}
	for _, u := range chain {
		out[u] = total * turnsByUser[u] / sum
	}
	return out
}
