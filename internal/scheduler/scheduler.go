// Package scheduler implements the scheduler worker (spec.md §4.3): a
// single actor owning the future/due/changed lists, driven by a
// message channel rather than exposing its lock (spec.md §9 pattern
// translation "Mutex-protected nested lists owned by scheduler → a
// single scheduler actor receiving messages on a channel"). Grounded
// in shape on the teacher's Manager goroutine-loop idiom
// (internal/session/connection/manager.go: context-cancellable
// select-loop over a ticker, slog logging), adapted from a
// connection-rate-limiter loop into the schedule engine's event loop.
package scheduler

import (
	"container/list"
	"context"
	"log/slog"
	"time"

	"github.com/starrealm/hoststar/internal/arbiter"
	"github.com/starrealm/hoststar/internal/schedule"
	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/timesource"
)

// Engine is run to produce an engine result for a due event (spec.md
// §4.3 step 3, §4.11 subprocess runner). The worker releases the
// global mutex around this call (spec.md §5 "Suspension points") by
// virtue of running entirely on its own goroutine, independent of
// whatever mutex guards the rest of the service's in-memory state.
type Engine interface {
	Run(ctx context.Context, gameID string, action schedule.Action) error
}

// entry is one scheduled event tracked by the worker.
type entry struct {
	gameID string
	ev     schedule.Event
	handle *arbiter.Handle // held while the event sits in the due list
}

// GameEvent is the externally-visible (action, time) pair returned by
// GetGameEvent/ListGameEvents (spec.md §4.3 "Externally-visible
// operations").
type GameEvent struct {
	GameID string
	Action schedule.Action
	DueAt  timesource.Minutes
}

// InputBuilder computes a fresh schedule.Input for gameID — reading the
// game's top schedule item, current turn, and slot readiness from the
// store — so the worker can recompute its event without importing
// internal/game (internal/game is the caller that triggers
// HandleGameChange, so the dependency would otherwise cycle).
type InputBuilder func(ctx context.Context, gameID string) (schedule.Input, error)

type command struct {
	kind    commandKind
	gameID  string
	suspend timesource.Minutes
	reply   chan GameEvent
	replyAll chan []GameEvent
}

type commandKind int

const (
	cmdChanged commandKind = iota
	cmdGetEvent
	cmdListEvents
	cmdSuspend
)

// Worker is the scheduler actor (spec.md §4.3). All access to its
// internal lists happens on the goroutine running Run; every exported
// method sends a command over a channel instead of touching the lists
// directly.
type Worker struct {
	store   store.Store
	arbiter *arbiter.Arbiter
	engine  Engine
	clock   *timesource.Source
	buildIn InputBuilder
	logger  *slog.Logger

	cmds chan command
	wake chan struct{}
}

// New creates a Worker. Call Run in its own goroutine to start the main loop.
func New(st store.Store, arb *arbiter.Arbiter, eng Engine, clock *timesource.Source, buildIn InputBuilder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:   st,
		arbiter: arb,
		engine:  eng,
		clock:   clock,
		buildIn: buildIn,
		logger:  logger,
		cmds:    make(chan command),
		wake:    make(chan struct{}, 1),
	}
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run executes the worker's main loop (spec.md §4.3 "Main loop") until
// ctx is cancelled. It must be run on exactly one goroutine.
func (w *Worker) Run(ctx context.Context) {
	future := list.New() // *entry, sorted by ev.DueAt ascending
	due := list.New()    // *entry
	var changed []string

	for {
		if len(changed) > 0 {
			id := changed[0]
			changed = changed[1:]
			w.recompute(ctx, future, id)
			continue
		}

		w.promoteDue(ctx, future, due)

		if due.Len() > 0 {
			e := due.Remove(due.Front()).(*entry)
			w.runDue(ctx, e, &changed)
			continue
		}

		var timer *time.Timer
		if future.Len() > 0 {
			due0 := future.Front().Value.(*entry).ev.DueAt
			d := w.clock.Scale()
			wait := time.Duration(int64(due0)-int64(w.clock.Now())) * time.Duration(d) * time.Second
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-w.wake:
			stopTimer(timer)
		case cmd := <-w.cmds:
			stopTimer(timer)
			changed = w.handle(cmd, future, due, changed)
		case <-timerC(timer):
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (w *Worker) handle(cmd command, future, due *list.List, changed []string) []string {
	switch cmd.kind {
	case cmdChanged:
		return append(changed, cmd.gameID)
	case cmdGetEvent:
		cmd.reply <- findEvent(future, due, cmd.gameID)
		return changed
	case cmdListEvents:
		cmd.replyAll <- listEvents(future, due)
		return changed
	case cmdSuspend:
		suspendAll(future, cmd.suspend)
		return changed
	}
	return changed
}

func findEvent(future, due *list.List, gameID string) GameEvent {
	for _, l := range []*list.List{future, due} {
		for el := l.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			if e.gameID == gameID {
				return GameEvent{GameID: gameID, Action: e.ev.Action, DueAt: e.ev.DueAt}
			}
		}
	}
	return GameEvent{GameID: gameID, Action: schedule.ActionNone}
}

func listEvents(future, due *list.List) []GameEvent {
	var out []GameEvent
	for _, l := range []*list.List{future, due} {
		for el := l.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			out = append(out, GameEvent{GameID: e.gameID, Action: e.ev.Action, DueAt: e.ev.DueAt})
		}
	}
	return out
}

func suspendAll(future *list.List, at timesource.Minutes) {
	for el := future.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.ev.DueAt < at {
			e.ev.DueAt = at
		}
	}
}

func (w *Worker) recompute(ctx context.Context, future *list.List, gameID string) {
	for el := future.Front(); el != nil; el = el.Next() {
		if el.Value.(*entry).gameID == gameID {
			future.Remove(el)
			break
		}
	}
	in, err := w.buildIn(ctx, gameID)
	if err != nil {
		w.logger.Error("scheduler: failed to build input", "game_id", gameID, "error", err)
		return
	}
	ev := schedule.Compute(in)
	if ev.Action == schedule.ActionNone {
		return
	}
	insertSorted(future, &entry{gameID: gameID, ev: ev})
}

func insertSorted(future *list.List, e *entry) {
	for el := future.Front(); el != nil; el = el.Next() {
		if el.Value.(*entry).ev.DueAt > e.ev.DueAt {
			future.InsertBefore(e, el)
			return
		}
	}
	future.PushBack(e)
}

func (w *Worker) promoteDue(ctx context.Context, future, due *list.List) {
	now := w.clock.Now()
	for {
		el := future.Front()
		if el == nil {
			return
		}
		e := el.Value.(*entry)
		if e.ev.DueAt > now {
			return
		}
		future.Remove(el)
		if e.ev.Action == schedule.ActionMaster || e.ev.Action == schedule.ActionHost {
			h, err := w.arbiter.Acquire(ctx, e.gameID, arbiter.Host)
			if err != nil {
				w.logger.Warn("scheduler: arbiter acquire failed, requeueing", "game_id", e.gameID, "error", err)
				insertSorted(future, e)
				return
			}
			e.handle = h
		}
		due.PushBack(e)
	}
}

func (w *Worker) runDue(ctx context.Context, e *entry, changed *[]string) {
	// The global service mutex, if any, is released around this call by
	// construction: the worker runs on its own goroutine and never holds
	// a service-wide lock while calling Engine.Run (spec.md §5
	// "Suspension points" — the subprocess runner's run call is the
	// exception that releases the mutex).
	err := w.engine.Run(ctx, e.gameID, e.ev.Action)
	if e.handle != nil {
		e.handle.Release()
	}
	if err != nil {
		w.logger.Error("scheduler: engine run failed", "game_id", e.gameID, "action", e.ev.Action, "error", err)
	}
	*changed = append(*changed, e.gameID)
}

// GetGameEvent returns gameID's current (action, time), or
// (ActionNone, 0) if it has no pending event (spec.md §4.3).
func (w *Worker) GetGameEvent(ctx context.Context, gameID string) GameEvent {
	reply := make(chan GameEvent, 1)
	select {
	case w.cmds <- command{kind: cmdGetEvent, gameID: gameID, reply: reply}:
	case <-ctx.Done():
		return GameEvent{GameID: gameID, Action: schedule.ActionNone}
	}
	select {
	case ev := <-reply:
		return ev
	case <-ctx.Done():
		return GameEvent{GameID: gameID, Action: schedule.ActionNone}
	}
}

// ListGameEvents returns every entry from future and due, merged
// (spec.md §4.3).
func (w *Worker) ListGameEvents(ctx context.Context) []GameEvent {
	reply := make(chan []GameEvent, 1)
	select {
	case w.cmds <- command{kind: cmdListEvents, replyAll: reply}:
	case <-ctx.Done():
		return nil
	}
	select {
	case evs := <-reply:
		return evs
	case <-ctx.Done():
		return nil
	}
}

// HandleGameChange appends gameID to the changed list and wakes the
// worker (spec.md §4.3 "append to changed, wake the semaphore";
// DESIGN.md's "append then signal" decision for the open question on
// synchronicity — this call returns once the request is enqueued, not
// once it has been processed).
func (w *Worker) HandleGameChange(ctx context.Context, gameID string) {
	select {
	case w.cmds <- command{kind: cmdChanged, gameID: gameID}:
	case <-ctx.Done():
	}
}

// SuspendScheduler advances every future event's time to at least at,
// used for operator-initiated grace periods after outages (spec.md
// §4.3).
func (w *Worker) SuspendScheduler(ctx context.Context, at timesource.Minutes) {
	select {
	case w.cmds <- command{kind: cmdSuspend, suspend: at}:
	case <-ctx.Done():
	}
}
