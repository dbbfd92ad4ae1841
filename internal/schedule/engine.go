// Package schedule implements the schedule engine (spec.md §4.2, a
// pure function from a game's schedule state to its next event) and
// the schedule domain operations (spec.md §4.7, the stack mutations a
// command handler drives). Grounded on spec.md directly: the teacher
// repo has no scheduling analogue, so this package follows the
// teacher's general style (small pure helpers, value types, table
// driven tests) rather than any specific teacher file.
package schedule

import (
	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/timesource"
)

// Action names what kind of event the engine produced (spec.md §3
// "Schedule event").
type Action string

const (
	ActionNone           Action = "none"
	ActionMaster         Action = "master"
	ActionHost           Action = "host"
	ActionScheduleChange Action = "schedule-change"
)

// Event is the engine's output (spec.md §3 "Schedule event (scheduler
// output)"): a tuple (action, absolute-due-time). Terminal reports that
// the schedule is exhausted because its end condition has fired, in
// which case Action is ActionNone and no further event should be
// computed until the schedule is replaced.
type Event struct {
	Action   Action
	DueAt    timesource.Minutes
	Terminal bool
}

// SlotReadiness is the per-slot input the engine needs (spec.md §4.2
// Inputs): whether it's occupied, its base turn classification, and
// whether that classification is temporary.
type SlotReadiness struct {
	Occupied    bool
	State       store.TurnState
	IsTemporary bool
}

// Input bundles every value the engine reads (spec.md §4.2 Inputs).
type Input struct {
	Item         store.ScheduleItem
	CurrentTurn  int
	Now          timesource.Minutes
	Slots        []SlotReadiness
	HasMastered  bool // whether this schedule item has produced a master event yet
	HostEarlyMin timesource.Minutes
}

// Compute is the schedule engine (spec.md §4.2): a pure function of
// Input to Event. It never mutates its argument and never consults
// anything but Input — determinism (spec.md §4.2 "Determinism") falls
// out of that by construction.
func Compute(in Input) Event {
	if endExhausted(in) {
		return Event{Action: ActionNone, Terminal: true}
	}

	switch in.Item.Type {
	case store.ScheduleStop, store.ScheduleManual:
		return Event{Action: ActionNone}
	case store.ScheduleASAP:
		return computeASAP(in)
	case store.ScheduleWeekly:
		return computeWeekly(in)
	case store.ScheduleDaily:
		return computeDaily(in)
	default:
		return Event{Action: ActionNone}
	}
}

func endExhausted(in Input) bool {
	switch in.Item.End {
	case store.EndTurn:
		return int64(in.CurrentTurn) >= in.Item.EndParam
	case store.EndTime:
		return int64(in.Now) > in.Item.EndParam
	default:
		return false
	}
}

// allNonTemporaryReady reports whether every occupied, non-temporary
// slot has reached at least yellow (spec.md §4.2 "Host early").
func allNonTemporaryReady(slots []SlotReadiness) bool {
	any := false
	for _, s := range slots {
		if !s.Occupied || s.IsTemporary {
			continue
		}
		any = true
		if !s.State.AtLeast(store.TurnYellow) {
			return false
		}
	}
	return any
}

func computeASAP(in Input) Event {
	if !in.HasMastered {
		return Event{Action: ActionMaster, DueAt: in.Now}
	}
	if allNonTemporaryReady(in.Slots) {
		due := in.Now + timesource.Minutes(in.Item.Delay)
		return Event{Action: ActionHost, DueAt: due}
	}
	return Event{Action: ActionNone}
}

func computeWeekly(in Input) Event {
	if !in.HasMastered {
		return Event{Action: ActionMaster, DueAt: in.Now}
	}
	due := nextWeeklyOccurrence(in.Now, in.Item.WeekdayMask, in.Item.DayTime)
	if in.Item.HostEarly && allNonTemporaryReady(in.Slots) {
		early := due - in.HostEarlyMin
		if early > in.Now {
			due = early
		}
	}
	return Event{Action: ActionHost, DueAt: due}
}

// nextWeeklyOccurrence finds the earliest time >= now that falls on an
// enabled weekday (bit i = weekday i, 0 = Sunday) at dayTime minutes
// within the day.
func nextWeeklyOccurrence(now timesource.Minutes, weekdayMask uint8, dayTime int) timesource.Minutes {
	if weekdayMask == 0 {
		return now
	}
	dayStart := (now / timesource.DayMinutes) * timesource.DayMinutes
	// Day 0 of scaled time (1970-01-01) was a Thursday, weekday 4.
	todayWeekday := uint8((int64(dayStart)/int64(timesource.DayMinutes) + 4) % 7)

	for offset := timesource.Minutes(0); offset < timesource.WeekMinutes+timesource.DayMinutes; offset += timesource.DayMinutes {
		candidateDay := dayStart + offset
		weekday := (todayWeekday + uint8(offset/timesource.DayMinutes)) % 7
		if weekdayMask&(1<<weekday) == 0 {
			continue
		}
		candidate := candidateDay + timesource.Minutes(dayTime)
		if candidate >= now {
			return candidate
		}
	}
	// weekdayMask is non-zero so this is unreachable within two weeks.
	return now
}

func computeDaily(in Input) Event {
	if !in.HasMastered {
		return Event{Action: ActionMaster, DueAt: in.Now}
	}
	interval := timesource.Minutes(in.Item.Interval) * timesource.DayMinutes
	if interval <= 0 {
		interval = timesource.DayMinutes
	}
	due := timesource.Minutes(in.Item.LastFired) + interval
	for due < in.Now {
		due += interval
	}
	if in.Item.HostEarly && allNonTemporaryReady(in.Slots) {
		early := due - in.HostEarlyMin
		if early > in.Now {
			due = early
		}
	}
	return Event{Action: ActionHost, DueAt: due}
}
