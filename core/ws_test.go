package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	t      *testing.T
	ctx    context.Context
	cancel context.CancelFunc
	server *httptest.Server
	cm     *ConnManager
	router *EventRouter

	mu     sync.Mutex
	opened []connKeyForTest
	closed []connKeyForTest
}

type connKeyForTest struct {
	uid string
	id  int
}

func newWSFixture(t *testing.T) *wsFixture {
	ctx, cancel := context.WithCancel(context.Background())
	f := &wsFixture{t: t, ctx: ctx, cancel: cancel}
	f.cm = NewConnManager(ctx, testLogger)
	f.cm.OnConnectionOpened(func(uid string, id int) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.opened = append(f.opened, connKeyForTest{uid, id})
	})
	f.cm.OnConnectionClosed(func(uid string, id int) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed = append(f.closed, connKeyForTest{uid, id})
	})
	f.router = NewEventRouter(ctx, testLogger, f.cm)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.cm.Connect(r.URL.Query().Get("uid"), w, r)
	}))
	return f
}

func (f *wsFixture) tearDown() {
	closeCtx, cancel := context.WithTimeout(context.Background(), baseTimeout)
	defer cancel()
	f.router.Close(closeCtx)
	f.cm.Close(closeCtx)
	f.server.Close()
	f.cancel()
}

func (f *wsFixture) dial(uid string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?uid=" + uid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.Nil(f.t, err)
	f.t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *wsFixture) numOpened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func readEvent(t *testing.T, conn *websocket.Conn) *Event {
	conn.SetReadDeadline(time.Now().Add(baseTimeout))
	var e Event
	require.Nil(t, conn.ReadJSON(&e))
	return &e
}

func TestEventRouterDispatchesInOrder(t *testing.T) {
	f := newWSFixture(t)
	defer f.tearDown()

	var mu sync.Mutex
	var got []string
	var from []connKeyForTest
	f.router.On("input", func(_ context.Context, e *Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(e.Payload))
		from = append(from, connKeyForTest{e.Dispatcher, e.Conn})
		return nil
	})
	f.router.Listen()

	conn := f.dial("alice")
	require.Eventually(t, func() bool { return f.numOpened() == 1 }, baseTimeout, baseTimeout/20)

	for _, payload := range []string{`"1"`, `"2"`, `"3"`} {
		require.Nil(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"input","payload":`+payload+`}`)))
	}
	// unknown events and garbage are dropped without closing the connection
	require.Nil(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"unknown"}`)))
	require.Nil(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.Nil(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"input","payload":"4"}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, baseTimeout, baseTimeout/20)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`"1"`, `"2"`, `"3"`, `"4"`}, got)
	f.mu.Lock()
	opened := f.opened[0]
	f.mu.Unlock()
	for _, k := range from {
		assert.Equal(t, opened, k)
	}
}

func TestEmitToConn(t *testing.T) {
	f := newWSFixture(t)
	defer f.tearDown()
	f.router.Listen()

	first := f.dial("alice")
	second := f.dial("alice")
	bob := f.dial("bob")
	require.Eventually(t, func() bool { return f.numOpened() == 3 }, baseTimeout, baseTimeout/20)

	f.mu.Lock()
	var target connKeyForTest
	for _, k := range f.opened {
		if k.uid == "alice" {
			target = k
			break
		}
	}
	f.mu.Unlock()

	require.Nil(t, f.router.EmitToConn("snapshot", map[string]int{"n": 1}, target.uid, target.id))
	require.Nil(t, f.router.EmitTo("notification", nil, "bob"))

	e := readEvent(t, bob)
	assert.Equal(t, "notification", e.Type)

	// exactly one of alice's connections receives the snapshot
	got := make(chan string, 2)
	for _, c := range []*websocket.Conn{first, second} {
		go func(c *websocket.Conn) {
			c.SetReadDeadline(time.Now().Add(baseTimeout / 4))
			var e Event
			if err := c.ReadJSON(&e); err == nil {
				got <- string(e.Payload)
			}
		}(c)
	}
	select {
	case payload := <-got:
		assert.JSONEq(t, `{"n":1}`, payload)
	case <-time.After(baseTimeout):
		t.Fatal("timeout waiting for snapshot")
	}
	select {
	case <-got:
		t.Fatal("snapshot delivered to more than one connection")
	case <-time.After(baseTimeout / 2):
	}
}

func TestConnectionClosed(t *testing.T) {
	f := newWSFixture(t)
	defer f.tearDown()
	f.router.Listen()

	conn := f.dial("alice")
	require.Eventually(t, func() bool { return f.numOpened() == 1 }, baseTimeout, baseTimeout/20)
	f.mu.Lock()
	opened := f.opened[0]
	f.mu.Unlock()
	assert.True(t, f.cm.IsConnected(opened.uid, opened.id))

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.closed) == 1
	}, baseTimeout, baseTimeout/20, "OnConnectionClosed should be called")

	f.mu.Lock()
	assert.Equal(t, opened, f.closed[0])
	f.mu.Unlock()
	assert.False(t, f.cm.IsConnected(opened.uid, opened.id))
	assert.False(t, f.cm.IsUserConnected("alice"))
}

func TestConnManagerClose(t *testing.T) {
	f := newWSFixture(t)
	defer f.tearDown()

	conn := f.dial("alice")
	require.Eventually(t, func() bool { return f.numOpened() == 1 }, baseTimeout, baseTimeout/20)

	ctx, cancel := context.WithTimeout(context.Background(), baseTimeout)
	defer cancel()
	f.cm.Close(ctx)

	conn.SetReadDeadline(time.Now().Add(baseTimeout))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "client should receive a close frame: %v", err)
}
