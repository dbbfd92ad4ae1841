package player

import (
	"context"
	"errors"
	"testing"

	"github.com/starrealm/hoststar/internal/collab/fake"
	"github.com/starrealm/hoststar/internal/store"
)

type noopScheduler struct{ calls []string }

func (n *noopScheduler) HandleGameChange(ctx context.Context, gameID string) {
	n.calls = append(n.calls, gameID)
}

func newTestService(t *testing.T) (*Service, store.Store, *noopScheduler) {
	t.Helper()
	st := store.NewMemoryStore()
	sched := &noopScheduler{}
	files := fake.NewFileService(nil)
	return New(st, files, sched), st, sched
}

func TestJoinRequiresAllowJoin(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", State: store.GameStateJoining, Type: store.GameTypePublic, MaxSlot: 1})
	st.UpdateUser(ctx, "ua", func(u *store.User) error { return nil })

	if err := s.Join(ctx, "ua", "1", 1, "ua"); err == nil {
		t.Fatal("expected join to fail without allow-join")
	}

	st.UpdateUser(ctx, "ua", func(u *store.User) error { u.AllowJoin = true; return nil })
	if err := s.Join(ctx, "ua", "1", 1, "ua"); err != nil {
		t.Fatal(err)
	}
	slot, _ := st.GetSlot(ctx, "1", 1)
	if slot.Primary() != "ua" {
		t.Fatalf("got %+v", slot)
	}
}

func TestJoinRefusesOccupiedSlot(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", State: store.GameStateJoining, Type: store.GameTypePublic, MaxSlot: 1})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"existing"}})
	st.UpdateUser(ctx, "ua", func(u *store.User) error { u.AllowJoin = true; return nil })

	if err := s.Join(ctx, "ua", "1", 1, "ua"); err == nil {
		t.Fatal("expected error joining occupied slot")
	}
}

func TestJoinRegularUserCannotJoinOthers(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", State: store.GameStateJoining, Type: store.GameTypePublic, MaxSlot: 1})
	if err := s.Join(ctx, "ua", "1", 1, "ub"); err != ErrPermissionDenied && err == nil {
		t.Fatal("expected permission error")
	}
}

func TestSubstituteAppendsAndTruncates(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 1, OwnerID: "owner"})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"a", "b", "c"}})

	if err := s.Substitute(ctx, "b", "1", 1, "d"); err != nil {
		t.Fatal(err)
	}
	slot, _ := st.GetSlot(ctx, "1", 1)
	want := []string{"a", "b", "d"}
	if len(slot.Chain) != len(want) {
		t.Fatalf("got %+v", slot.Chain)
	}
	for i := range want {
		if slot.Chain[i] != want[i] {
			t.Fatalf("got %+v", slot.Chain)
		}
	}
}

func TestSubstituteRejectsEarlierDuplicate(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 1, OwnerID: "owner"})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"a", "b"}})

	if err := s.Substitute(ctx, "b", "1", 1, "a"); err == nil {
		t.Fatal("expected rejection of duplicate earlier in chain")
	}
}

func TestResignPrimaryEmptiesChain(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 1, OwnerID: "owner"})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"a", "b"}})

	if err := s.Resign(ctx, "a", "1", 1, "a"); err != nil {
		t.Fatal(err)
	}
	slot, _ := st.GetSlot(ctx, "1", 1)
	if slot.Occupied() {
		t.Fatalf("expected empty chain, got %+v", slot.Chain)
	}
}

func TestResignReplacementKeepsEarlierChain(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 1, OwnerID: "owner"})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"a", "b", "c"}})

	if err := s.Resign(ctx, "b", "1", 1, "b"); err != nil {
		t.Fatal(err)
	}
	slot, _ := st.GetSlot(ctx, "1", 1)
	if len(slot.Chain) != 1 || slot.Chain[0] != "a" {
		t.Fatalf("got %+v", slot.Chain)
	}
}

func TestAllowAccessAdminOnly(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", Type: store.GameTypePrivate})

	if err := s.AllowAccess(ctx, "someone", "1", "ua"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := s.AllowAccess(ctx, "", "1", "ua"); err != nil {
		t.Fatal(err)
	}
	g, _ := st.GetGame(ctx, "1")
	if !g.AllowedUserIDs["ua"] {
		t.Fatalf("got %+v", g.AllowedUserIDs)
	}
}

func TestSetManagedDirectoryRejectsConflict(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	s.userFiles.WriteFile(ctx, "/home/ua/game1", []byte{})
	st.CreateGame(ctx, &store.Game{ID: "1"})
	st.CreateGame(ctx, &store.Game{ID: "2"})

	if err := s.SetManagedDirectory(ctx, "ua", "1", "/home/ua/game1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetManagedDirectory(ctx, "ua", "2", "/home/ua/game1"); err == nil {
		t.Fatal("expected conflict error reusing a managed directory for another game")
	}
}

func TestCheckFileClassifiesTurnFile(t *testing.T) {
	s, st, _ := newTestService(t)
	ctx := context.Background()
	st.CreateGame(ctx, &store.Game{ID: "1", MaxSlot: 2})
	st.SetSlot(ctx, &store.Slot{GameID: "1", Number: 1, Chain: []string{"ua"}})

	s.userFiles.WriteFile(ctx, "/home/ua/game1", []byte{})
	if err := s.SetManagedDirectory(ctx, "ua", "1", "/home/ua/game1"); err != nil {
		t.Fatal(err)
	}

	disp, err := s.CheckFile(ctx, "ua", "1", "player1.trn", "/home/ua/game1")
	if err != nil {
		t.Fatal(err)
	}
	if disp != DispositionTurn {
		t.Fatalf("got %v", disp)
	}

	disp, err = s.CheckFile(ctx, "ua", "1", "result.rst", "/home/ua/game1")
	if err != nil {
		t.Fatal(err)
	}
	if disp != DispositionRefuse {
		t.Fatalf("got %v", disp)
	}

	disp, err = s.CheckFile(ctx, "ua", "1", "notes.txt", "/home/ua/other")
	if err != nil {
		t.Fatal(err)
	}
	if disp != DispositionStale {
		t.Fatalf("got %v", disp)
	}
}
