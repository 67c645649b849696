package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessari/passport/internal/models"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// fakeServer is a scriptable stand-in for the progress endpoint. Each
// accepted connection is exposed so the test can push messages and record
// what the client sent.
type fakeServer struct {
	t *testing.T

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []models.ClientMessage

	server *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{t: t}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-valid" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		go func() {
			for {
				var msg models.ClientMessage
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				fs.mu.Lock()
				fs.received = append(fs.received, msg)
				fs.mu.Unlock()
			}
		}()
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http") + "/ws"
}

func (fs *fakeServer) conn(i int) *websocket.Conn {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		if len(fs.conns) > i {
			c := fs.conns[i]
			fs.mu.Unlock()
			return c
		}
		fs.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	fs.t.Fatalf("connection %d never arrived", i)
	return nil
}

func (fs *fakeServer) messages() []models.ClientMessage {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]models.ClientMessage, len(fs.received))
	copy(out, fs.received)
	return out
}

func (fs *fakeServer) push(conn *websocket.Conn, msgType string, payload interface{}) {
	require.NoError(fs.t, conn.WriteJSON(models.WSMessage{Type: msgType, Payload: payload}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func testPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Multiplier: 2.0, MaxDelay: 50 * time.Millisecond}
}

func TestConnectRejectsBadCredential(t *testing.T) {
	fs := newFakeServer(t)

	sub := NewSubscriber(fs.url(), "tok-wrong", testPolicy())
	assert.Error(t, sub.Connect())
}

func TestSubscribeDeliversProgress(t *testing.T) {
	fs := newFakeServer(t)

	sub := NewSubscriber(fs.url(), "tok-valid", testPolicy())
	require.NoError(t, sub.Connect())
	defer sub.Close()

	require.NoError(t, sub.Subscribe("job_1"))
	conn := fs.conn(0)
	waitFor(t, func() bool { return len(fs.messages()) == 1 })
	assert.Equal(t, models.ActionSubscribe, fs.messages()[0].Action)

	fs.push(conn, models.MessageTypeProgress, models.ProgressUpdate{JobID: "job_1", Processed: 7})

	select {
	case update := <-sub.Updates():
		assert.Equal(t, "job_1", update.JobID)
		assert.Equal(t, 7, update.Processed)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
}

func TestHeartbeatAnsweredWithPing(t *testing.T) {
	fs := newFakeServer(t)

	sub := NewSubscriber(fs.url(), "tok-valid", testPolicy())
	require.NoError(t, sub.Connect())
	defer sub.Close()

	fs.push(fs.conn(0), models.MessageTypeHeartbeat, nil)

	waitFor(t, func() bool {
		for _, msg := range fs.messages() {
			if msg.Action == models.ActionPing {
				return true
			}
		}
		return false
	})
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	fs := newFakeServer(t)

	sub := NewSubscriber(fs.url(), "tok-valid", testPolicy())
	require.NoError(t, sub.Connect())
	defer sub.Close()

	require.NoError(t, sub.Subscribe("job_1"))
	waitFor(t, func() bool { return len(fs.messages()) == 1 })

	// Drop the connection server-side and wait for the redial
	fs.conn(0).Close()
	second := fs.conn(1)

	waitFor(t, func() bool {
		msgs := fs.messages()
		return len(msgs) == 2 && msgs[1].Action == models.ActionSubscribe && msgs[1].JobID == "job_1"
	})

	// The replayed subscription still delivers
	fs.push(second, models.MessageTypeProgress, models.ProgressUpdate{JobID: "job_1", Processed: 3})
	select {
	case update := <-sub.Updates():
		assert.Equal(t, 3, update.Processed)
	case <-time.After(2 * time.Second):
		t.Fatal("no update after reconnect")
	}
}

func TestRetriesExhaustedSurfacesTerminalFailure(t *testing.T) {
	fs := newFakeServer(t)

	sub := NewSubscriber(fs.url(), "tok-valid", testPolicy())
	require.NoError(t, sub.Connect())

	// Kill the server entirely so every redial fails
	fs.conn(0).Close()
	fs.server.Close()

	select {
	case _, open := <-sub.Updates():
		assert.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("updates channel never closed")
	}
	assert.ErrorIs(t, sub.Err(), ErrRetriesExhausted)
}

func TestCloseIsCleanAndIdempotent(t *testing.T) {
	fs := newFakeServer(t)

	sub := NewSubscriber(fs.url(), "tok-valid", testPolicy())
	require.NoError(t, sub.Connect())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, open := <-sub.Updates()
	assert.False(t, open)
	assert.NoError(t, sub.Err())

	assert.ErrorIs(t, sub.Subscribe("job_1"), ErrClosed)
}
