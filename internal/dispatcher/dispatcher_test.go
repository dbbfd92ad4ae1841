package dispatcher

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starrealm/hoststar/internal/account"
	"github.com/starrealm/hoststar/internal/arbiter"
	"github.com/starrealm/hoststar/internal/authtoken"
	"github.com/starrealm/hoststar/internal/collab/fake"
	"github.com/starrealm/hoststar/internal/game"
	"github.com/starrealm/hoststar/internal/player"
	"github.com/starrealm/hoststar/internal/protocol"
	"github.com/starrealm/hoststar/internal/scheduler"
	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/tools"
	"github.com/starrealm/hoststar/internal/turn"
	"github.com/starrealm/hoststar/pkg/logging"
)

// fakeScheduler satisfies SchedulerFacade without running the real
// worker loop, matching the teacher's preference for hand-rolled fakes
// over a mocking library for small interfaces.
type fakeScheduler struct {
	handled []string
}

func (f *fakeScheduler) HandleGameChange(ctx context.Context, gameID string) {
	f.handled = append(f.handled, gameID)
}

func (f *fakeScheduler) GetGameEvent(ctx context.Context, gameID string) scheduler.GameEvent {
	return scheduler.GameEvent{GameID: gameID}
}

func (f *fakeScheduler) ListGameEvents(ctx context.Context) []scheduler.GameEvent {
	return nil
}

type checkerStub struct{}

func (checkerStub) Check(ctx context.Context, path string) (string, int, error) {
	return "", 0, nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeScheduler, store.Store) {
	t.Helper()

	st := store.NewMemoryStore()
	arb := arbiter.New()
	toolsReg := tools.NewRegistry()
	forum := fake.NewForumService()
	hostFiles := fake.NewFileService(func(b []byte) string { return "sum" })
	userFiles := fake.NewFileService(func(b []byte) string { return "sum" })

	sched := &fakeScheduler{}
	games := game.New(st, arb, toolsReg, forum)
	players := player.New(st, userFiles, sched)
	turns := turn.New(st, hostFiles, checkerStub{}, sched)

	logger := logging.NewLoggerBasic("dispatcher-test", "error", "text", "stdout")
	d := New(st, games, players, turns, sched, toolsReg, hostFiles, nil, logger, nil)
	return d, sched, st
}

func call(d *Dispatcher, sess *Session, verb string, args ...string) protocol.Value {
	return d.dispatch(context.Background(), sess, &protocol.Request{Verb: verb, Args: args})
}

func TestPingPong(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := call(d, &Session{}, "PING")
	assert.Equal(t, "PONG", resp.Str())
}

func TestUnknownVerbIs400(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := call(d, &Session{}, "BOGUS")
	require.True(t, resp.IsError())
	assert.Regexp(t, `^400 `, resp.Str())
}

func TestUserSetsSessionIdentity(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	sess := &Session{}
	resp := call(d, sess, "USER", "alice")
	require.False(t, resp.IsError())
	assert.Equal(t, "alice", sess.User())
}

func TestNewGameThenGameStatRequiresOwnerOrAdmin(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	owner := &Session{}
	owner.SetUser("alice")
	resp := call(d, owner, "NEWGAME")
	require.False(t, resp.IsError())
	gameID := strconv.FormatInt(resp.Int(), 10)
	require.NotEmpty(t, gameID)

	// alice owns it, so GAMESTAT should succeed for her.
	resp = call(d, owner, "GAMESTAT", gameID)
	assert.False(t, resp.IsError())

	// A different, unrelated user has no read permission on a private game.
	stranger := &Session{}
	stranger.SetUser("mallory")
	resp = call(d, stranger, "GAMESTAT", gameID)
	require.True(t, resp.IsError())
	assert.Regexp(t, `^403 `, resp.Str())
}

func TestGameSetStateRequiresOwnership(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	owner := &Session{}
	owner.SetUser("alice")
	resp := call(d, owner, "NEWGAME")
	gameID := strconv.FormatInt(resp.Int(), 10)

	stranger := &Session{}
	stranger.SetUser("mallory")
	resp = call(d, stranger, "GAMESETSTATE", gameID, "joining")
	require.True(t, resp.IsError())
	assert.Regexp(t, `^403 `, resp.Str())

	resp = call(d, owner, "GAMESETSTATE", gameID, "joining")
	assert.False(t, resp.IsError())
}

func TestPlayerJoinNotifiesScheduler(t *testing.T) {
	d, sched, st := newTestDispatcher(t)
	_, err := st.UpdateUser(context.Background(), "bob", func(u *store.User) error {
		u.AllowJoin = true
		return nil
	})
	require.NoError(t, err)

	admin := &Session{}
	resp := call(d, admin, "NEWGAME")
	gameID := strconv.FormatInt(resp.Int(), 10)
	resp = call(d, admin, "GAMESETSTATE", gameID, "joining")
	require.False(t, resp.IsError())

	resp = call(d, admin, "PLAYERJOIN", gameID, "1", "bob")
	require.False(t, resp.IsError())
	assert.Contains(t, sched.handled, gameID)
}

func TestCronGetUnknownGameIsNotError(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := call(d, &Session{}, "CRONGET", "nogame")
	assert.False(t, resp.IsError())
}

func TestLoginDisabledWithoutIssuer(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := call(d, &Session{}, "LOGIN", "alice@example.com", "hunter2")
	require.True(t, resp.IsError())
	assert.Regexp(t, `^400 `, resp.Str())
}

func TestLoginMintsTokenVerifiableByUser(t *testing.T) {
	d, _, st := newTestDispatcher(t)
	d.tokens = authtoken.New([]byte("test-secret"), "hoststar-test", time.Hour)

	hash, salt, err := account.HashPassword("hunter2")
	require.NoError(t, err)
	_, err = st.UpdateUser(context.Background(), "alice", func(u *store.User) error {
		u.Email = "alice@example.com"
		u.PasswordHash = hash
		u.PasswordSalt = salt
		return nil
	})
	require.NoError(t, err)

	resp := call(d, &Session{}, "LOGIN", "alice@example.com", "hunter2")
	require.False(t, resp.IsError())
	token := resp.Str()
	require.NotEmpty(t, token)

	sess := &Session{}
	resp = call(d, sess, "USER", token)
	require.False(t, resp.IsError())
	assert.Equal(t, "alice", sess.User())
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	d, _, st := newTestDispatcher(t)
	d.tokens = authtoken.New([]byte("test-secret"), "hoststar-test", time.Hour)

	hash, salt, err := account.HashPassword("hunter2")
	require.NoError(t, err)
	_, err = st.UpdateUser(context.Background(), "alice", func(u *store.User) error {
		u.Email = "alice@example.com"
		u.PasswordHash = hash
		u.PasswordSalt = salt
		return nil
	})
	require.NoError(t, err)

	resp := call(d, &Session{}, "LOGIN", "alice@example.com", "wrong")
	require.True(t, resp.IsError())
	assert.Regexp(t, `^403 `, resp.Str())
}

func TestUserFallsBackToBareUidWhenTokenInvalid(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.tokens = authtoken.New([]byte("test-secret"), "hoststar-test", time.Hour)

	sess := &Session{}
	resp := call(d, sess, "USER", "not-a-jwt")
	require.False(t, resp.IsError())
	assert.Equal(t, "not-a-jwt", sess.User())
}
