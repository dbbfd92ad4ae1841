package game

import (
	"context"
	"fmt"
	"testing"

	"github.com/starrealm/hoststar/internal/arbiter"
	"github.com/starrealm/hoststar/internal/collab/fake"
	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/tools"
)

func TestEvaluateVictoryNotMetWithoutRanksOrScoreEnd(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, arbiter.New(), tools.NewRegistry(), fake.NewForumService())
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 2, Turn: 5})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"a"}})

	done, err := s.EvaluateVictory(ctx, "1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("expected victory not yet met")
	}
}

func TestEvaluateVictoryByTurnEndCondition(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, arbiter.New(), tools.NewRegistry(), fake.NewForumService())
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 3, Turn: 10, EndCondition: store.EndTurn, EndTurn: 10, Difficulty: 100})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"a"}})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 2, Chain: []string{"b"}})

	scores := []SlotScore{
		{SlotNumber: 1, Score: 500},
		{SlotNumber: 2, Score: 300},
	}
	done, err := s.EvaluateVictory(ctx, "1", scores)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected victory to be met")
	}

	g, _ := st.GetGame(ctx, "1")
	if g.State != store.GameStateFinished {
		t.Fatalf("expected finished state, got %v", g.State)
	}

	slot1, _ := st.GetSlot(ctx, "1", 1)
	slot2, _ := st.GetSlot(ctx, "1", 2)
	if slot1.Rank != 1 || slot2.Rank != 2 {
		t.Fatalf("expected rank by descending score, got %d and %d", slot1.Rank, slot2.Rank)
	}
	if slot1.RankPoints <= slot2.RankPoints {
		t.Fatalf("higher rank should have more points: %d vs %d", slot1.RankPoints, slot2.RankPoints)
	}
}

func TestEvaluateVictoryWithPrecomputedRanksShareTies(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, arbiter.New(), tools.NewRegistry(), fake.NewForumService())
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 2, Difficulty: 0})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"a"}, Rank: 1})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 2, Chain: []string{"b"}, Rank: 1})

	done, err := s.EvaluateVictory(ctx, "1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected victory to be met with precomputed ranks")
	}

	slot1, _ := st.GetSlot(ctx, "1", 1)
	slot2, _ := st.GetSlot(ctx, "1", 2)
	if slot1.RankPoints != slot2.RankPoints {
		t.Fatalf("tied ranks should share points equally, got %d vs %d", slot1.RankPoints, slot2.RankPoints)
	}
}

// TestEvaluateVictoryAwardsFullFactorForCompleteGame matches the
// original host's testRankingBasic fixture: an 11-slot, 60-turn game
// with no scores (everyone ties for first) awards 1967 points to
// every occupied slot (2000 * 59/60, not the naive 2000).
func TestEvaluateVictoryAwardsFullFactorForCompleteGame(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, arbiter.New(), tools.NewRegistry(), fake.NewForumService())
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 11, Turn: 60, Difficulty: 100})
	for i := 1; i <= 11; i++ {
		st.SetSlot(ctx, &store.Slot{GameID: "1", Number: i, Chain: []string{fmt.Sprintf("u%d", i)}})
	}

	done, err := s.EvaluateVictory(ctx, "1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected victory to be met")
	}
	for i := 1; i <= 11; i++ {
		sl, _ := st.GetSlot(ctx, "1", i)
		if sl.RankPoints != 1967 {
			t.Fatalf("slot %d: expected 1967 points, got %d", i, sl.RankPoints)
		}
		u, _ := st.GetUser(ctx, fmt.Sprintf("u%d", i))
		if u.RankPoints != 1967 {
			t.Fatalf("user u%d: expected 1967 rank points, got %d", i, u.RankPoints)
		}
	}
}

// TestEvaluateVictoryDiscountsShortGame matches the original host's
// testRankingShort fixture: the same game cut short at turn 40 awards
// 1560 points (2000 * 39/50), not the naive 1600 (2000 * 40/50).
func TestEvaluateVictoryDiscountsShortGame(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, arbiter.New(), tools.NewRegistry(), fake.NewForumService())
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 11, Turn: 40, Difficulty: 100})
	for i := 1; i <= 11; i++ {
		st.SetSlot(ctx, &store.Slot{GameID: "1", Number: i, Chain: []string{fmt.Sprintf("u%d", i)}})
	}

	done, err := s.EvaluateVictory(ctx, "1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected victory to be met")
	}
	for i := 1; i <= 11; i++ {
		sl, _ := st.GetSlot(ctx, "1", i)
		if sl.RankPoints != 1560 {
			t.Fatalf("slot %d: expected 1560 points, got %d", i, sl.RankPoints)
		}
	}
}

// TestEvaluateVictorySplitsReplacementChainByTurnsPlayed matches the
// original host's testRankingReplacement fixture: a slot whose chain
// changed occupants mid-game divides its rank points between the
// members proportionally to turns played, and both members' profiles
// are credited rather than just the slot's aggregate total.
func TestEvaluateVictorySplitsReplacementChainByTurnsPlayed(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, arbiter.New(), tools.NewRegistry(), fake.NewForumService())
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 2, Turn: 60, Difficulty: 100})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"a"}})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 2, Chain: []string{"original", "replacement"}})

	scores := []SlotScore{
		{SlotNumber: 1, Score: 0},
		{SlotNumber: 2, Score: 0, TurnsPlayed: map[string]int{"original": 20, "replacement": 40}},
	}
	done, err := s.EvaluateVictory(ctx, "1", scores)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected victory to be met")
	}

	sl, _ := st.GetSlot(ctx, "1", 2)
	original, _ := st.GetUser(ctx, "original")
	replacement, _ := st.GetUser(ctx, "replacement")
	if original.RankPoints+replacement.RankPoints > sl.RankPoints {
		t.Fatalf("split shares %d+%d exceed slot total %d", original.RankPoints, replacement.RankPoints, sl.RankPoints)
	}
	if replacement.RankPoints <= original.RankPoints {
		t.Fatalf("replacement played more turns, should earn more: %d vs %d", replacement.RankPoints, original.RankPoints)
	}
}

func TestSplitByTurnsPlayedProportional(t *testing.T) {
	out := SplitByTurnsPlayed(100, map[string]int{"a": 3, "b": 1}, []string{"a", "b"})
	if out["a"] != 75 || out["b"] != 25 {
		t.Fatalf("got %+v", out)
	}
}

func TestSplitByTurnsPlayedFallsBackToEvenSplit(t *testing.T) {
	out := SplitByTurnsPlayed(100, nil, []string{"a", "b"})
	if out["a"] != 50 || out["b"] != 50 {
		t.Fatalf("got %+v", out)
	}
}
