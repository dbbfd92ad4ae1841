package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/starrealm/hoststar/internal/arbiter"
	"github.com/starrealm/hoststar/internal/schedule"
	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/timesource"
)

type recordingEngine struct {
	mu  sync.Mutex
	ran []string
}

func (e *recordingEngine) Run(ctx context.Context, gameID string, action schedule.Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ran = append(e.ran, gameID+":"+string(action))
	return nil
}

func (e *recordingEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ran)
}

func startWorker(t *testing.T, buildIn InputBuilder, eng Engine, clock *timesource.Source) (*Worker, context.CancelFunc) {
	t.Helper()
	arb := arbiter.New()
	w := New(store.NewMemoryStore(), arb, eng, clock, buildIn, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(cancel)
	return w, cancel
}

func TestGetGameEventInitiallyNone(t *testing.T) {
	clock := timesource.New(60)
	w, _ := startWorker(t, func(ctx context.Context, gameID string) (schedule.Input, error) {
		return schedule.Input{}, nil
	}, &recordingEngine{}, clock)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev := w.GetGameEvent(ctx, "1")
	if ev.Action != schedule.ActionNone {
		t.Fatalf("got %+v", ev)
	}
}

func TestHandleGameChangeSchedulesEvent(t *testing.T) {
	clock := timesource.New(60)
	clock.Freeze(0)
	eng := &recordingEngine{}
	w, _ := startWorker(t, func(ctx context.Context, gameID string) (schedule.Input, error) {
		return schedule.Input{
			Item:        store.ScheduleItem{Type: store.ScheduleASAP, Delay: 0},
			HasMastered: true,
			Now:         clock.Now(),
			Slots:       []schedule.SlotReadiness{{Occupied: true, State: store.TurnGreen}},
		}, nil
	}, eng, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.HandleGameChange(ctx, "1")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if eng.count() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if eng.count() == 0 {
		t.Fatal("expected engine to have run")
	}
}

func TestListGameEventsMerges(t *testing.T) {
	clock := timesource.New(60)
	clock.Freeze(1_000_000) // far future, nothing promotes to due
	w, _ := startWorker(t, func(ctx context.Context, gameID string) (schedule.Input, error) {
		return schedule.Input{
			Item:        store.ScheduleItem{Type: store.ScheduleDaily, Interval: 1},
			HasMastered: true,
			Now:         clock.Now(),
		}, nil
	}, &recordingEngine{}, clock)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.HandleGameChange(ctx, "1")
	w.HandleGameChange(ctx, "2")

	deadline := time.Now().Add(time.Second)
	var events []GameEvent
	for time.Now().Before(deadline) {
		events = w.ListGameEvents(ctx)
		if len(events) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(events) < 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
}
