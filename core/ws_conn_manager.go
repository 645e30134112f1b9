package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8 << 10
)

type ConnIDGenerator interface {
	Generate(r *http.Request, conn *websocket.Conn) (int, error)
}

type AutoIncrementConnIDGenerator struct {
	counter int64
	mu      sync.Mutex
}

func (g *AutoIncrementConnIDGenerator) Generate(_ *http.Request, _ *websocket.Conn) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return int(g.counter), nil
}

// ConnManager keeps the websocket connections of every user and
// acts as the EventTransport of an EventRouter.
type ConnManager struct {
	conns   map[string][]*Conn
	mu      sync.RWMutex
	connWg  sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	idGenerator ConnIDGenerator

	onConnectionOpened func(string, int)
	onConnectionClosed func(string, int)

	receivedEvent chan *Event

	upgrader        websocket.Upgrader
	ReadStreamSize  int
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithStreamSizes(read, write int) ManagerOption {
	return func(m *ConnManager) {
		m.ReadStreamSize = read
		m.WriteStreamSize = write
	}
}

func NewConnManager(ctx context.Context, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		conns:              make(map[string][]*Conn),
		logger:             logger,
		context:            ctx,
		upgrader:           defaultUpgrader,
		idGenerator:        &AutoIncrementConnIDGenerator{},
		ReadStreamSize:     100,
		WriteStreamSize:    100,
		onConnectionOpened: func(string, int) {},
		onConnectionClosed: func(string, int) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.receivedEvent = make(chan *Event, m.ReadStreamSize)

	return m
}

func (m *ConnManager) Receive() <-chan *Event {
	return m.receivedEvent
}

// OnConnectionOpened must be called before the first Connect.
func (m *ConnManager) OnConnectionOpened(f func(uid string, conn int)) {
	m.onConnectionOpened = f
}

// OnConnectionClosed must be called before the first Connect.
func (m *ConnManager) OnConnectionClosed(f func(uid string, conn int)) {
	m.onConnectionClosed = f
}

func (m *ConnManager) IsUserConnected(uid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[uid]
	return ok
}

func (m *ConnManager) IsConnected(uid string, id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conns[uid] {
		if c.id == id {
			return true
		}
	}
	return false
}

// Connect upgrades the request and serves the connection in the background.
func (m *ConnManager) Connect(uid string, w http.ResponseWriter, r *http.Request) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied to the client
		return fmt.Errorf("upgrade: %w", err)
	}

	id, err := m.idGenerator.Generate(r, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("generate connection id: %w", err)
	}

	wsConn := &Conn{
		uid:         uid,
		id:          id,
		conn:        conn,
		context:     m.context,
		writeStream: make(chan *Event, m.WriteStreamSize),
		readStream:  m.receivedEvent,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.String("connection", fmt.Sprintf("%s:%d", uid, id))),
		notifyDisconnect: func() {
			m.disconnect(uid, id)
		},
	}

	m.mu.Lock()
	m.conns[uid] = append(m.conns[uid], wsConn)
	m.mu.Unlock()

	m.connWg.Add(2)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	m.onConnectionOpened(uid, id)
	return nil
}

// disconnect removes connections of the user. All of them are removed if no ids are given.
func (m *ConnManager) disconnect(uid string, ids ...int) {
	m.mu.Lock()
	conns, ok := m.conns[uid]
	if !ok {
		m.mu.Unlock()
		return
	}

	closed := make([]int, 0, len(conns))
	kept := conns[:0:0]
	for _, c := range conns {
		if len(ids) == 0 || slices.Contains(ids, c.id) {
			c.close()
			closed = append(closed, c.id)
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		delete(m.conns, uid)
	} else {
		m.conns[uid] = kept
	}
	m.mu.Unlock()

	for _, id := range closed {
		m.onConnectionClosed(uid, id)
	}
}

func (m *ConnManager) Send(e *Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conns := range m.conns {
		for _, conn := range conns {
			conn.send(e)
		}
	}
}

func (m *ConnManager) SendToUsers(e *Event, uids ...string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range uids {
		for _, conn := range m.conns[u] {
			conn.send(e)
		}
	}
}

func (m *ConnManager) SendToConn(e *Event, uid string, id int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.conns[uid] {
		if conn.id == id {
			conn.send(e)
		}
	}
}

// Close disconnects every connection and waits for their loops to exit or ctx to be done.
func (m *ConnManager) Close(ctx context.Context) {
	m.mu.RLock()
	uids := make([]string, 0, len(m.conns))
	for uid := range m.conns {
		uids = append(uids, uid)
	}
	m.mu.RUnlock()

	for _, uid := range uids {
		m.disconnect(uid)
	}

	done := make(chan struct{})
	go func() {
		m.connWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Info("timed out waiting for connections to close")
	}
}
