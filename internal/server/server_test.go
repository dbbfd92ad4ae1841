package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starrealm/hoststar/pkg/logging"
)

func newTestServer(t *testing.T, maxConnections int, handle ConnHandler) *Server {
	t.Helper()
	logger := logging.NewLoggerBasic("server-test", "error", "text", "stdout")
	srv := New("127.0.0.1:0", maxConnections, handle, logger)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAcceptedConnectionReachesHandler(t *testing.T) {
	var got int32
	done := make(chan struct{})
	srv := newTestServer(t, 0, func(ctx context.Context, conn net.Conn) {
		atomic.AddInt32(&got, 1)
		close(done)
		<-ctx.Done()
	})

	dial(t, srv)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&got))
}

func TestMaxConnectionsDropsExcessConnections(t *testing.T) {
	var mu sync.Mutex
	held := make(chan struct{})
	release := make(chan struct{})
	count := 0

	srv := newTestServer(t, 1, func(ctx context.Context, conn net.Conn) {
		mu.Lock()
		count++
		mu.Unlock()
		close(held)
		<-release
	})
	defer close(release)

	dial(t, srv)
	select {
	case <-held:
	case <-time.After(time.Second):
		t.Fatal("first connection never reached the handler")
	}

	// A second connection arrives while the first is still being served
	// and the limit is already saturated; the server should close it
	// rather than hand it to the handler.
	second := dial(t, srv)
	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(time.Second))
	_, err := second.Read(buf)
	assert.Error(t, err) // EOF: server closed it without ever calling handle

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestActiveConnectionsTracksLifecycle(t *testing.T) {
	unblock := make(chan struct{})
	entered := make(chan struct{})
	srv := newTestServer(t, 0, func(ctx context.Context, conn net.Conn) {
		close(entered)
		<-unblock
	})

	assert.EqualValues(t, 0, srv.ActiveConnections())
	conn := dial(t, srv)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("handler never entered")
	}
	assert.EqualValues(t, 1, srv.ActiveConnections())

	close(unblock)
	conn.Close()

	assert.Eventually(t, func() bool {
		return srv.ActiveConnections() == 0
	}, time.Second, 10*time.Millisecond)
}
