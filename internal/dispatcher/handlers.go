package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/starrealm/hoststar/internal/game"
	"github.com/starrealm/hoststar/internal/protocol"
	"github.com/starrealm/hoststar/internal/schedule"
	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/tools"
	"github.com/starrealm/hoststar/internal/turn"
)

// handleGame implements the NEWGAME/GAMESETSTATE/GAMELIST/GAMESTAT verb
// family (spec.md §6, §4.4).
func (d *Dispatcher) handleGame(ctx context.Context, sess *Session, verb string, args []string) (protocol.Value, bool) {
	switch verb {
	case "NEWGAME":
		g, err := d.games.Create(ctx, sess.User())
		if err != nil {
			return mapErr(err), true
		}
		id, _ := strconv.ParseInt(g.ID, 10, 64)
		return protocol.Integer(id), true

	case "GAMESETSTATE":
		if len(args) < 2 {
			return errResponse(400, "GAMESETSTATE requires gid, state"), true
		}
		gid, state := args[0], store.GameState(strings.ToLower(args[1]))
		if err := d.checkGamePermission(ctx, sess, gid, PermOwn); err != nil {
			return mapErr(err), true
		}
		_, err := d.store.UpdateGame(ctx, gid, func(g *store.Game) error {
			g.State = state
			return nil
		})
		if err != nil {
			return mapErr(err), true
		}
		d.scheduler.HandleGameChange(ctx, gid)
		return protocol.String("OK"), true

	case "GAMELIST":
		f := game.Filter{ForUser: sess.User(), IsAdmin: sess.isAdmin()}
		for i := 0; i+1 < len(args); i += 2 {
			switch strings.ToUpper(args[i]) {
			case "STATE":
				st := store.GameState(strings.ToLower(args[i+1]))
				f.State = &st
			case "TYPE":
				gt := store.GameType(strings.ToLower(args[i+1]))
				f.Type = &gt
			case "OWNER":
				f.OwnerID = args[i+1]
			case "TOOL":
				f.Tool = args[i+1]
			}
		}
		games, err := d.games.List(ctx, f)
		if err != nil {
			return mapErr(err), true
		}
		ids := make([]protocol.Value, len(games))
		for i, g := range games {
			ids[i] = protocol.String(g.ID)
		}
		return protocol.Array(ids...), true

	case "GAMESTAT":
		if len(args) < 1 {
			return errResponse(400, "GAMESTAT requires gid"), true
		}
		if err := d.checkGamePermission(ctx, sess, args[0], PermRead); err != nil {
			return mapErr(err), true
		}
		g, err := d.store.GetGame(ctx, args[0])
		if err != nil {
			return mapErr(err), true
		}
		return protocol.Map(map[string]protocol.Value{
			"id":        protocol.String(g.ID),
			"name":      protocol.String(g.Name),
			"type":      protocol.String(string(g.Type)),
			"state":     protocol.String(string(g.State)),
			"owner":     protocol.String(g.OwnerID),
			"turn":      protocol.Integer(int64(g.Turn)),
			"directory": protocol.String(g.Directory),
		}), true
	}
	return protocol.Value{}, false
}

// handlePlayer implements the PLAYERJOIN/PLAYERSUBST/PLAYERRESIGN/PLAYERLS
// verb family (spec.md §6, §4.5).
func (d *Dispatcher) handlePlayer(ctx context.Context, sess *Session, verb string, args []string) (protocol.Value, bool) {
	switch verb {
	case "PLAYERJOIN", "PLAYERSUBST", "PLAYERRESIGN":
		if len(args) < 3 {
			return errResponse(400, fmt.Sprintf("%s requires gid, slot, uid", verb)), true
		}
		gid := args[0]
		slot, err := parseInt(args[1])
		if err != nil {
			return errResponse(400, "slot must be an integer"), true
		}
		uid := args[2]

		switch verb {
		case "PLAYERJOIN":
			err = d.players.Join(ctx, sess.User(), gid, slot, uid)
		case "PLAYERSUBST":
			err = d.players.Substitute(ctx, sess.User(), gid, slot, uid)
		case "PLAYERRESIGN":
			err = d.players.Resign(ctx, sess.User(), gid, slot, uid)
		}
		if err != nil {
			return mapErr(err), true
		}
		d.scheduler.HandleGameChange(ctx, gid)
		return protocol.String("OK"), true

	case "PLAYERLS":
		if len(args) < 1 {
			return errResponse(400, "PLAYERLS requires gid"), true
		}
		gid := args[0]
		all := len(args) > 1 && strings.ToUpper(args[1]) == "ALL"
		slots, err := d.store.ListSlots(ctx, gid)
		if err != nil {
			return mapErr(err), true
		}
		var out []protocol.Value
		for _, s := range slots {
			if !all && !s.Occupied() {
				continue
			}
			out = append(out, protocol.Integer(int64(s.Number)), protocol.Map(map[string]protocol.Value{
				"primary": protocol.String(s.Primary()),
				"state":   protocol.Integer(int64(s.State)),
			}))
		}
		return protocol.Array(out...), true
	}
	return protocol.Value{}, false
}

// handleTurn implements the TRN/TRNMARKTEMP verb family (spec.md §6, §4.6).
func (d *Dispatcher) handleTurn(ctx context.Context, sess *Session, verb string, args []string) (protocol.Value, bool) {
	switch verb {
	case "TRN":
		if len(args) < 1 {
			return errResponse(400, "TRN requires a blob"), true
		}
		blob := []byte(args[0])
		opts := turn.Options{CallerID: sess.User()}
		for i := 1; i+1 < len(args); i += 2 {
			switch strings.ToUpper(args[i]) {
			case "GAME":
				opts.GameID = args[i+1]
			case "SLOT":
				n, err := parseInt(args[i+1])
				if err != nil {
					return errResponse(400, "SLOT must be an integer"), true
				}
				opts.SlotNumber = &n
			case "MAIL":
				opts.Mail = args[i+1]
			case "INFO":
				opts.Info = args[i+1]
			}
		}
		res, err := d.turns.Submit(ctx, blob, opts)
		if err != nil {
			return mapErr(err), true
		}
		d.scheduler.HandleGameChange(ctx, res.GameID)
		if d.metrics != nil {
			d.metrics.Turn.SubmissionsTotal.WithLabelValues(turnStateLabel(res.State)).Inc()
		}
		return protocol.Map(map[string]protocol.Value{
			"status":    protocol.Integer(int64(res.State)),
			"output":    protocol.String(res.Output),
			"game":      protocol.String(res.GameID),
			"slot":      protocol.Integer(int64(res.SlotNumber)),
			"previous":  protocol.Integer(int64(res.Previous)),
			"user":      protocol.String(res.UserID),
			"turn":      protocol.Integer(int64(res.Turn)),
			"name":      protocol.String(res.Info),
			"allowtemp": protocol.Integer(boolToInt64(res.AllowTemp)),
		}), true

	case "TRNMARKTEMP":
		if len(args) < 3 {
			return errResponse(400, "TRNMARKTEMP requires gid, slot, 0/1"), true
		}
		gid := args[0]
		slot, err := parseInt(args[1])
		if err != nil {
			return errResponse(400, "slot must be an integer"), true
		}
		flag := args[2] == "1"
		if err := d.turns.SetTemporary(ctx, sess.User(), gid, slot, flag); err != nil {
			return mapErr(err), true
		}
		d.scheduler.HandleGameChange(ctx, gid)
		return protocol.String("OK"), true
	}
	return protocol.Value{}, false
}

func turnStateLabel(s store.TurnState) string {
	switch s.Base() {
	case store.TurnGreen:
		return "green"
	case store.TurnYellow:
		return "yellow"
	case store.TurnRed:
		return "red"
	case store.TurnBad:
		return "bad"
	case store.TurnStale:
		return "stale"
	case store.TurnNeedless:
		return "needless"
	default:
		return "missing"
	}
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// handleSchedule implements SCHEDULEADD/SCHEDULELIST (spec.md §6, §4.7).
// internal/schedule has no Service wrapper (it is a set of pure
// functions over store.Game), so the dispatcher itself loads the game,
// applies the mutation, persists it, and notifies the scheduler —
// mirroring how internal/game.Service orchestrates store.UpdateGame
// around a domain-package call.
func (d *Dispatcher) handleSchedule(ctx context.Context, sess *Session, verb string, args []string) (protocol.Value, bool) {
	switch verb {
	case "SCHEDULEADD":
		if len(args) < 1 {
			return errResponse(400, "SCHEDULEADD requires gid"), true
		}
		gid := args[0]
		if err := d.checkGamePermission(ctx, sess, gid, PermOwn); err != nil {
			return mapErr(err), true
		}
		item, err := parseScheduleSpec(args[1:])
		if err != nil {
			return errResponse(400, err.Error()), true
		}

		g, err := d.store.GetGame(ctx, gid)
		if err != nil {
			return mapErr(err), true
		}
		otherDaytimes := collectDaytimes(g.Schedule)
		rng := d.rng()
		_, err = d.store.UpdateGame(ctx, gid, func(g *store.Game) error {
			schedule.Add(g, item, otherDaytimes, rng)
			return nil
		})
		if err != nil {
			return mapErr(err), true
		}
		d.scheduler.HandleGameChange(ctx, gid)
		return protocol.String("OK"), true

	case "SCHEDULELIST":
		if len(args) < 1 {
			return errResponse(400, "SCHEDULELIST requires gid"), true
		}
		if err := d.checkGamePermission(ctx, sess, args[0], PermRead); err != nil {
			return mapErr(err), true
		}
		g, err := d.store.GetGame(ctx, args[0])
		if err != nil {
			return mapErr(err), true
		}
		items := schedule.GetAll(g)
		out := make([]protocol.Value, len(items))
		for i, it := range items {
			out[i] = protocol.Map(map[string]protocol.Value{
				"type":      protocol.String(string(it.Type)),
				"interval":  protocol.Integer(int64(it.Interval)),
				"weekdays":  protocol.Integer(int64(it.WeekdayMask)),
				"daytime":   protocol.Integer(int64(it.DayTime)),
				"delay":     protocol.Integer(int64(it.Delay)),
				"hostearly": protocol.Integer(boolToInt64(it.HostEarly)),
				"end":       protocol.String(string(it.End)),
				"endparam":  protocol.Integer(it.EndParam),
			})
		}
		return protocol.Array(out...), true
	}
	return protocol.Value{}, false
}

// parseScheduleSpec reads the positional "sched-spec…" vector spec.md
// §6 leaves free-form: type, interval, weekdaymask, daytime, delay,
// hostearly(0/1), end, endparam — any suffix may be omitted.
func parseScheduleSpec(args []string) (store.ScheduleItem, error) {
	var item store.ScheduleItem
	if len(args) < 1 {
		return item, fmt.Errorf("sched-spec requires at least a type")
	}
	item.Type = store.ScheduleType(strings.ToLower(args[0]))
	get := func(i int) (string, bool) {
		if i < len(args) {
			return args[i], true
		}
		return "", false
	}
	if v, ok := get(1); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return item, fmt.Errorf("interval must be an integer")
		}
		item.Interval = n
	}
	if v, ok := get(2); ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return item, fmt.Errorf("weekdaymask must be an integer")
		}
		item.WeekdayMask = uint8(n)
	}
	if v, ok := get(3); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return item, fmt.Errorf("daytime must be an integer")
		}
		item.DayTime = n
	}
	if v, ok := get(4); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return item, fmt.Errorf("delay must be an integer")
		}
		item.Delay = n
	}
	if v, ok := get(5); ok {
		item.HostEarly = v == "1"
	}
	if v, ok := get(6); ok {
		item.End = store.EndCondition(strings.ToLower(v))
	}
	if v, ok := get(7); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return item, fmt.Errorf("endparam must be an integer")
		}
		item.EndParam = n
	}
	return item, nil
}

func collectDaytimes(items []store.ScheduleItem) []int {
	var out []int
	for _, it := range items {
		if it.Type == store.ScheduleDaily || it.Type == store.ScheduleWeekly {
			out = append(out, it.DayTime)
		}
	}
	return out
}

// handleCatalog implements HOSTADD/MASTERADD/SHIPLISTADD/TOOLADD
// (spec.md §6, §4.10), one handler parameterized by catalog kind.
func (d *Dispatcher) handleCatalog(ctx context.Context, verb string, args []string) (protocol.Value, bool) {
	var kind tools.Kind
	switch verb {
	case "HOSTADD":
		kind = tools.KindHost
	case "MASTERADD":
		kind = tools.KindMaster
	case "SHIPLISTADD":
		kind = tools.KindShiplist
	case "TOOLADD":
		kind = tools.KindTool
	default:
		return protocol.Value{}, false
	}

	if len(args) < 3 {
		return errResponse(400, fmt.Sprintf("%s requires id, path, exe", verb)), true
	}
	id, path, exe := args[0], args[1], args[2]
	if err := tools.ValidatePath(ctx, d.hostFiles, path+"/"+exe); err != nil {
		return errResponse(400, err.Error()), true
	}
	t := tools.Tool{ID: id, Kind: kind, Path: path, Executable: exe}
	if err := d.toolsReg.Catalog(kind).Add(t); err != nil {
		return mapErr(err), true
	}
	return protocol.String("OK"), true
}

// handleCron implements CRONGET/CRONLIST/CRONKICK (spec.md §6, §4.3).
func (d *Dispatcher) handleCron(ctx context.Context, verb string, args []string) (protocol.Value, bool) {
	switch verb {
	case "CRONGET":
		if len(args) < 1 {
			return errResponse(400, "CRONGET requires gid"), true
		}
		ev := d.scheduler.GetGameEvent(ctx, args[0])
		return protocol.Map(map[string]protocol.Value{
			"action": protocol.String(string(ev.Action)),
			"time":   protocol.Integer(int64(ev.DueAt)),
		}), true

	case "CRONLIST":
		limit := -1
		for i := 0; i+1 < len(args); i += 2 {
			if strings.ToUpper(args[i]) == "LIMIT" {
				n, err := parseInt(args[i+1])
				if err != nil {
					return errResponse(400, "LIMIT must be an integer"), true
				}
				limit = n
			}
		}
		events := d.scheduler.ListGameEvents(ctx)
		if limit >= 0 && limit < len(events) {
			events = events[:limit]
		}
		out := make([]protocol.Value, len(events))
		for i, ev := range events {
			out[i] = protocol.Map(map[string]protocol.Value{
				"game":   protocol.String(ev.GameID),
				"action": protocol.String(string(ev.Action)),
				"time":   protocol.Integer(int64(ev.DueAt)),
			})
		}
		return protocol.Array(out...), true

	case "CRONKICK":
		if len(args) < 1 {
			return errResponse(400, "CRONKICK requires gid"), true
		}
		d.scheduler.HandleGameChange(ctx, args[0])
		return protocol.Integer(1), true
	}
	return protocol.Value{}, false
}

// handleFile implements GET/LS/STAT/PSTAT against the host-file
// collaborator (spec.md §6; user-file reads are reached through the
// player domain's managed-directory operations instead).
func (d *Dispatcher) handleFile(ctx context.Context, verb string, args []string) (protocol.Value, bool) {
	switch verb {
	case "GET":
		if len(args) < 1 {
			return errResponse(400, "GET requires a path"), true
		}
		data, err := d.hostFiles.ReadFile(ctx, args[0])
		if err != nil {
			return mapErr(err), true
		}
		return protocol.String(string(data)), true

	case "STAT", "PSTAT":
		if len(args) < 1 {
			return errResponse(400, fmt.Sprintf("%s requires a path", verb)), true
		}
		size, ok, err := d.hostFiles.Stat(ctx, args[0])
		if err != nil {
			return mapErr(err), true
		}
		if !ok {
			return errResponse(404, "no such file"), true
		}
		return protocol.Map(map[string]protocol.Value{
			"size": protocol.Integer(size),
		}), true

	case "LS":
		if len(args) < 1 {
			return errResponse(400, "LS requires a path"), true
		}
		_, ok, err := d.hostFiles.Stat(ctx, args[0])
		if err != nil {
			return mapErr(err), true
		}
		if !ok {
			return errResponse(404, "no such path"), true
		}
		return protocol.Array(protocol.String(args[0])), true
	}
	return protocol.Value{}, false
}
