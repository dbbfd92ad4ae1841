package schedule

import (
	"testing"

	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/timesource"
)

func TestAddDefaultsFromServiceWhenStackEmpty(t *testing.T) {
	g := &store.Game{}
	rng := timesource.NewRand(1)
	Add(g, store.ScheduleItem{Type: store.ScheduleWeekly, DayTime: 300}, nil, rng)

	if len(g.Schedule) != 1 {
		t.Fatalf("expected 1 item, got %d", len(g.Schedule))
	}
	top := g.Schedule[0]
	if top.HostEarly != DefaultHostEarly || top.Delay != DefaultDelay {
		t.Fatalf("got %+v", top)
	}
}

func TestAddDefaultsFromPriorTop(t *testing.T) {
	g := &store.Game{Schedule: []store.ScheduleItem{
		{Type: store.ScheduleDaily, Interval: 3, Delay: 99},
	}}
	rng := timesource.NewRand(1)
	Add(g, store.ScheduleItem{DayTime: 400}, nil, rng)

	if len(g.Schedule) != 2 {
		t.Fatalf("expected push, got %d items", len(g.Schedule))
	}
	top := g.Schedule[0]
	if top.Type != store.ScheduleDaily || top.Interval != 3 || top.Delay != 99 {
		t.Fatalf("expected defaults from prior top, got %+v", top)
	}
}

func TestReplaceDiscardsStack(t *testing.T) {
	g := &store.Game{Schedule: []store.ScheduleItem{{Type: store.ScheduleDaily}, {Type: store.ScheduleWeekly}}}
	rng := timesource.NewRand(2)
	Replace(g, store.ScheduleItem{Type: store.ScheduleASAP, DayTime: 60}, nil, rng)

	if len(g.Schedule) != 1 || g.Schedule[0].Type != store.ScheduleASAP {
		t.Fatalf("got %+v", g.Schedule)
	}
}

func TestModifyOverlaysOnlyPopulatedFields(t *testing.T) {
	g := &store.Game{Schedule: []store.ScheduleItem{
		{Type: store.ScheduleDaily, Interval: 2, DayTime: 100},
	}}
	Modify(g, store.ScheduleItem{DayTime: 200})

	top := g.Schedule[0]
	if top.Type != store.ScheduleDaily || top.Interval != 2 || top.DayTime != 200 {
		t.Fatalf("got %+v", top)
	}
}

func TestModifyNoOpOnEmptyStack(t *testing.T) {
	g := &store.Game{}
	Modify(g, store.ScheduleItem{DayTime: 200})
	if len(g.Schedule) != 0 {
		t.Fatalf("expected no-op, got %+v", g.Schedule)
	}
}

func TestDropPopsTopIdempotently(t *testing.T) {
	g := &store.Game{Schedule: []store.ScheduleItem{{Type: store.ScheduleDaily}, {Type: store.ScheduleWeekly}}}
	Drop(g)
	if len(g.Schedule) != 1 || g.Schedule[0].Type != store.ScheduleWeekly {
		t.Fatalf("got %+v", g.Schedule)
	}
	Drop(g)
	Drop(g)
	if len(g.Schedule) != 0 {
		t.Fatalf("expected empty stack, got %+v", g.Schedule)
	}
}

func TestGetAllReturnsTopFirstCopy(t *testing.T) {
	g := &store.Game{Schedule: []store.ScheduleItem{{Type: store.ScheduleDaily}, {Type: store.ScheduleWeekly}}}
	out := GetAll(g)
	out[0].Type = store.ScheduleASAP
	if g.Schedule[0].Type != store.ScheduleDaily {
		t.Fatal("GetAll should return a copy, not an alias")
	}
}

func TestAssignDaytimeAvoidsCollisions(t *testing.T) {
	rng := timesource.NewRand(7)
	others := []int{10, 20, 30}
	for i := 0; i < 20; i++ {
		d := AssignDaytime(others, rng)
		for _, o := range others {
			if d == o {
				t.Fatalf("assigned colliding daytime %d", d)
			}
		}
	}
}

func TestAssignDaytimeTieBreaksRandomly(t *testing.T) {
	rng := timesource.NewRand(3)
	seen := map[int]bool{}
	for i := 0; i < 50; i++ {
		seen[AssignDaytime(nil, rng)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected variety among unconstrained picks, got %v", seen)
	}
}

func TestPreviewRefusesUnlimited(t *testing.T) {
	in := Input{Item: store.ScheduleItem{Type: store.ScheduleDaily, Interval: 1}, HasMastered: true}
	if out := Preview(in, 0, 0); out != nil {
		t.Fatalf("expected nil for unlimited preview, got %v", out)
	}
}

func TestPreviewProducesMasterThenHostTimes(t *testing.T) {
	in := Input{
		Item: store.ScheduleItem{Type: store.ScheduleDaily, Interval: 1},
		Now:  0,
	}
	out := Preview(in, 3, 0)
	if len(out) == 0 {
		t.Fatal("expected at least one event")
	}
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("expected non-decreasing times, got %v", out)
		}
	}
}
