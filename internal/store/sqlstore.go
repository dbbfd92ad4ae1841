package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starrealm/hoststar/pkg/database"
)

// SQLStore is a Store backed by pkg/database.Connection (spec §1 lists
// the key/value store's schema as out of scope, so this package is
// free to choose any concrete representation; a SQL table per aggregate
// with a JSON blob for the free-form parts is the simplest one that
// satisfies the Store interface's behavior). It plays the "source of
// truth" role spec §5 assigns to the external key/value collaborator.
// Its statements use SQLite syntax ("?" placeholders, AUTOINCREMENT,
// ON CONFLICT ... excluded upserts, LastInsertId), so it runs against
// the embedded sqlite connection only; postgres and mysql connections
// are not supported by these statements.
type SQLStore struct {
	conn *database.Connection
}

// NewSQLStore opens (and migrates) a SQLStore over an existing connection.
func NewSQLStore(ctx context.Context, conn *database.Connection) (*SQLStore, error) {
	s := &SQLStore{conn: conn}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			seq INTEGER,
			name TEXT,
			type TEXT,
			state TEXT,
			owner_id TEXT,
			directory TEXT,
			turn INTEGER,
			timestamp TEXT,
			max_slot INTEGER,
			difficulty INTEGER,
			end_condition TEXT,
			end_turn INTEGER,
			end_score INTEGER,
			end_prob_fixed INTEGER,
			config_changed INTEGER,
			end_changed INTEGER,
			copy_of_game_id TEXT,
			tools_json TEXT,
			config_json TEXT,
			allowed_json TEXT,
			schedule_json TEXT,
			created_at TEXT,
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS slots (
			game_id TEXT,
			number INTEGER,
			chain_json TEXT,
			state INTEGER,
			rank INTEGER,
			rank_points INTEGER,
			PRIMARY KEY (game_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT,
			allow_join INTEGER,
			rank INTEGER,
			rank_points INTEGER,
			turns_played INTEGER,
			turns_missed INTEGER,
			reliability REAL,
			managed_dir_json TEXT,
			password_hash TEXT,
			password_salt TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS game_seq (id INTEGER PRIMARY KEY AUTOINCREMENT, placeholder INTEGER)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Writer().ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// NextGameID allocates a fresh sequence value from game_seq.
func (s *SQLStore) NextGameID(ctx context.Context) (string, error) {
	res, err := s.conn.Writer().ExecContext(ctx, `INSERT INTO game_seq (placeholder) VALUES (0)`)
	if err != nil {
		return "", err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalJSONOr(data string, v interface{}) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}

func (s *SQLStore) CreateGame(ctx context.Context, g *Game) error {
	now := time.Now()
	_, err := s.conn.Writer().ExecContext(ctx, `
		INSERT INTO games (id, name, type, state, owner_id, directory, turn, timestamp,
			max_slot, difficulty, end_condition, end_turn, end_score, end_prob_fixed,
			config_changed, end_changed, copy_of_game_id, tools_json, config_json,
			allowed_json, schedule_json, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Name, string(g.Type), string(g.State), g.OwnerID, g.Directory, g.Turn, g.Timestamp,
		g.MaxSlot, g.Difficulty, string(g.EndCondition), g.EndTurn, g.EndScore, g.EndProbFixed,
		boolToInt(g.ConfigChanged), boolToInt(g.EndChanged), g.CopyOfGameID,
		marshalJSON(g.Tools), marshalJSON(g.Config), marshalJSON(g.AllowedUserIDs), marshalJSON(g.Schedule),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: game %s", ErrConflict, g.ID)
		}
		return err
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (s *SQLStore) scanGame(row *sql.Row) (*Game, error) {
	var g Game
	var toolsJSON, configJSON, allowedJSON, scheduleJSON string
	var configChanged, endChanged int
	var createdAt, updatedAt string
	err := row.Scan(&g.ID, &g.Name, &g.Type, &g.State, &g.OwnerID, &g.Directory, &g.Turn, &g.Timestamp,
		&g.MaxSlot, &g.Difficulty, &g.EndCondition, &g.EndTurn, &g.EndScore, &g.EndProbFixed,
		&configChanged, &endChanged, &g.CopyOfGameID, &toolsJSON, &configJSON, &allowedJSON, &scheduleJSON,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	g.ConfigChanged = configChanged != 0
	g.EndChanged = endChanged != 0
	g.Tools = map[string]string{}
	g.Config = map[string]string{}
	g.AllowedUserIDs = map[string]bool{}
	unmarshalJSONOr(toolsJSON, &g.Tools)
	unmarshalJSONOr(configJSON, &g.Config)
	unmarshalJSONOr(allowedJSON, &g.AllowedUserIDs)
	unmarshalJSONOr(scheduleJSON, &g.Schedule)
	g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	g.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &g, nil
}

const gameSelectCols = `id, name, type, state, owner_id, directory, turn, timestamp,
	max_slot, difficulty, end_condition, end_turn, end_score, end_prob_fixed,
	config_changed, end_changed, copy_of_game_id, tools_json, config_json,
	allowed_json, schedule_json, created_at, updated_at`

func (s *SQLStore) GetGame(ctx context.Context, id string) (*Game, error) {
	row := s.conn.Reader().QueryRowContext(ctx, `SELECT `+gameSelectCols+` FROM games WHERE id = ?`, id)
	g, err := s.scanGame(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("%w: game %s", ErrNotFound, id)
		}
		return nil, err
	}
	return g, nil
}

func (s *SQLStore) UpdateGame(ctx context.Context, id string, mutate func(g *Game) error) (*Game, error) {
	tx, err := s.conn.Writer().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+gameSelectCols+` FROM games WHERE id = ?`, id)
	g, err := s.scanGame(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("%w: game %s", ErrNotFound, id)
		}
		return nil, err
	}

	if err := mutate(g); err != nil {
		return nil, err
	}
	g.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE games SET name=?, type=?, state=?, owner_id=?, directory=?, turn=?, timestamp=?,
			max_slot=?, difficulty=?, end_condition=?, end_turn=?, end_score=?, end_prob_fixed=?,
			config_changed=?, end_changed=?, copy_of_game_id=?, tools_json=?, config_json=?,
			allowed_json=?, schedule_json=?, updated_at=?
		WHERE id=?`,
		g.Name, string(g.Type), string(g.State), g.OwnerID, g.Directory, g.Turn, g.Timestamp,
		g.MaxSlot, g.Difficulty, string(g.EndCondition), g.EndTurn, g.EndScore, g.EndProbFixed,
		boolToInt(g.ConfigChanged), boolToInt(g.EndChanged), g.CopyOfGameID,
		marshalJSON(g.Tools), marshalJSON(g.Config), marshalJSON(g.AllowedUserIDs), marshalJSON(g.Schedule),
		g.UpdatedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *SQLStore) ListGames(ctx context.Context, f GameFilter) ([]*Game, error) {
	query := `SELECT ` + gameSelectCols + ` FROM games WHERE 1=1`
	var args []interface{}
	if f.State != nil {
		query += ` AND state = ?`
		args = append(args, string(*f.State))
	}
	if f.Type != nil {
		query += ` AND type = ?`
		args = append(args, string(*f.Type))
	}
	if f.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}
	query += ` ORDER BY CAST(id AS INTEGER)`

	rows, err := s.conn.Reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Game
	for rows.Next() {
		var g Game
		var toolsJSON, configJSON, allowedJSON, scheduleJSON string
		var configChanged, endChanged int
		var createdAt, updatedAt string
		if err := rows.Scan(&g.ID, &g.Name, &g.Type, &g.State, &g.OwnerID, &g.Directory, &g.Turn, &g.Timestamp,
			&g.MaxSlot, &g.Difficulty, &g.EndCondition, &g.EndTurn, &g.EndScore, &g.EndProbFixed,
			&configChanged, &endChanged, &g.CopyOfGameID, &toolsJSON, &configJSON, &allowedJSON, &scheduleJSON,
			&createdAt, &updatedAt); err != nil {
			return nil, err
		}
		g.ConfigChanged = configChanged != 0
		g.EndChanged = endChanged != 0
		g.Tools = map[string]string{}
		g.Config = map[string]string{}
		g.AllowedUserIDs = map[string]bool{}
		unmarshalJSONOr(toolsJSON, &g.Tools)
		unmarshalJSONOr(configJSON, &g.Config)
		unmarshalJSONOr(allowedJSON, &g.AllowedUserIDs)
		unmarshalJSONOr(scheduleJSON, &g.Schedule)
		g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		g.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		if f.Tool != "" {
			parts := strings.SplitN(f.Tool, "=", 2)
			if len(parts) == 2 && g.Tools[parts[0]] != parts[1] {
				continue
			}
		}
		if f.UserID != "" {
			played, err := s.gamePlayedBy(ctx, g.ID, f.UserID)
			if err != nil {
				return nil, err
			}
			if !played {
				continue
			}
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *SQLStore) gamePlayedBy(ctx context.Context, gameID, userID string) (bool, error) {
	rows, err := s.conn.Reader().QueryContext(ctx, `SELECT chain_json FROM slots WHERE game_id = ?`, gameID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var chainJSON string
		if err := rows.Scan(&chainJSON); err != nil {
			return false, err
		}
		var chain []string
		unmarshalJSONOr(chainJSON, &chain)
		for _, u := range chain {
			if u == userID {
				return true, nil
			}
		}
	}
	return false, rows.Err()
}

func (s *SQLStore) DeleteGame(ctx context.Context, id string) error {
	res, err := s.conn.Writer().ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: game %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) GetSlot(ctx context.Context, gameID string, number int) (*Slot, error) {
	row := s.conn.Reader().QueryRowContext(ctx,
		`SELECT chain_json, state, rank, rank_points FROM slots WHERE game_id = ? AND number = ?`, gameID, number)
	var chainJSON string
	sl := &Slot{GameID: gameID, Number: number}
	err := row.Scan(&chainJSON, &sl.State, &sl.Rank, &sl.RankPoints)
	if err == sql.ErrNoRows {
		return sl, nil
	}
	if err != nil {
		return nil, err
	}
	unmarshalJSONOr(chainJSON, &sl.Chain)
	return sl, nil
}

func (s *SQLStore) SetSlot(ctx context.Context, sl *Slot) error {
	_, err := s.conn.Writer().ExecContext(ctx, `
		INSERT INTO slots (game_id, number, chain_json, state, rank, rank_points)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(game_id, number) DO UPDATE SET
			chain_json=excluded.chain_json, state=excluded.state,
			rank=excluded.rank, rank_points=excluded.rank_points`,
		sl.GameID, sl.Number, marshalJSON(sl.Chain), int(sl.State), sl.Rank, sl.RankPoints)
	return err
}

func (s *SQLStore) ListSlots(ctx context.Context, gameID string) ([]*Slot, error) {
	g, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	out := make([]*Slot, 0, g.MaxSlot)
	for n := 1; n <= g.MaxSlot; n++ {
		sl, err := s.GetSlot(ctx, gameID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.conn.Reader().QueryRowContext(ctx,
		`SELECT id, email, allow_join, rank, rank_points, turns_played, turns_missed, reliability, managed_dir_json, password_hash, password_salt
		 FROM users WHERE id = ?`, id)
	u := &User{}
	var allowJoin int
	var managedJSON string
	err := row.Scan(&u.ID, &u.Email, &allowJoin, &u.Rank, &u.RankPoints, &u.TurnsPlayed, &u.TurnsMissed, &u.Reliability, &managedJSON, &u.PasswordHash, &u.PasswordSalt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	u.AllowJoin = allowJoin != 0
	u.ManagedDirByGame = map[string]string{}
	unmarshalJSONOr(managedJSON, &u.ManagedDirByGame)
	return u, nil
}

func (s *SQLStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.conn.Reader().QueryRowContext(ctx,
		`SELECT id, email, allow_join, rank, rank_points, turns_played, turns_missed, reliability, managed_dir_json, password_hash, password_salt
		 FROM users WHERE LOWER(email) = LOWER(?)`, email)
	u := &User{}
	var allowJoin int
	var managedJSON string
	err := row.Scan(&u.ID, &u.Email, &allowJoin, &u.Rank, &u.RankPoints, &u.TurnsPlayed, &u.TurnsMissed, &u.Reliability, &managedJSON, &u.PasswordHash, &u.PasswordSalt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user with email %s", ErrNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	u.AllowJoin = allowJoin != 0
	u.ManagedDirByGame = map[string]string{}
	unmarshalJSONOr(managedJSON, &u.ManagedDirByGame)
	return u, nil
}

func (s *SQLStore) UpdateUser(ctx context.Context, id string, mutate func(u *User) error) (*User, error) {
	tx, err := s.conn.Writer().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	u := &User{ID: id, ManagedDirByGame: map[string]string{}}
	row := tx.QueryRowContext(ctx,
		`SELECT id, email, allow_join, rank, rank_points, turns_played, turns_missed, reliability, managed_dir_json, password_hash, password_salt
		 FROM users WHERE id = ?`, id)
	var allowJoin int
	var managedJSON string
	err = row.Scan(&u.ID, &u.Email, &allowJoin, &u.Rank, &u.RankPoints, &u.TurnsPlayed, &u.TurnsMissed, &u.Reliability, &managedJSON, &u.PasswordHash, &u.PasswordSalt)
	switch err {
	case nil:
		u.AllowJoin = allowJoin != 0
		unmarshalJSONOr(managedJSON, &u.ManagedDirByGame)
	case sql.ErrNoRows:
		// fresh user, insert path below
	default:
		return nil, err
	}

	if err := mutate(u); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, allow_join, rank, rank_points, turns_played, turns_missed, reliability, managed_dir_json, password_hash, password_salt)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			email=excluded.email, allow_join=excluded.allow_join, rank=excluded.rank,
			rank_points=excluded.rank_points, turns_played=excluded.turns_played,
			turns_missed=excluded.turns_missed, reliability=excluded.reliability,
			managed_dir_json=excluded.managed_dir_json, password_hash=excluded.password_hash,
			password_salt=excluded.password_salt`,
		u.ID, u.Email, boolToInt(u.AllowJoin), u.Rank, u.RankPoints, u.TurnsPlayed, u.TurnsMissed, u.Reliability,
		marshalJSON(u.ManagedDirByGame), u.PasswordHash, u.PasswordSalt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

var _ Store = (*SQLStore)(nil)
var _ Store = (*MemoryStore)(nil)
