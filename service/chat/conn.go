package chat

import (
	"context"
	"net"
	"sync"
	"time"

	"PPChat/module/chat/event"
	"PPChat/module/chat/model"
	"PPChat/service/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Conn is the actor behind one websocket: one user in one chat. The read
// loop runs on the HTTP handler goroutine; a writer goroutine owns all
// writes to the socket.
type Conn struct {
	id     string
	user   *model.User
	chatID int64
	ws     *websocket.Conn
	srv    *Server
	log    *zap.Logger

	state  atomic.Int32
	send   chan *event.Envelope
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex // orders join against close
	closeOnce  sync.Once
	closeCode  atomic.Int32
	done       chan struct{} // closed when the actor starts closing
	writerDone chan struct{}
	createdAt  time.Time
}

func newConn(srv *Server, id string, ws *websocket.Conn, user *model.User, chatID int64) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:         id,
		user:       user,
		chatID:     chatID,
		ws:         ws,
		srv:        srv,
		send:       make(chan *event.Envelope, srv.conf.SendQueue),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		createdAt:  time.Now(),
		log: srv.log.With(zap.String("conn_id", id),
			zap.Int64("user_id", user.ID), zap.Int64("chat_id", chatID)),
	}
	c.state.Store(int32(StateAuthenticated))
	c.closeCode.Store(websocket.CloseNormalClosure)
	return c
}

func (c *Conn) ID() string            { return c.id }
func (c *Conn) User() *model.User     { return c.user }
func (c *Conn) ChatID() int64         { return c.chatID }
func (c *Conn) State() State          { return State(c.state.Load()) }
func (c *Conn) Done() <-chan struct{} { return c.done }

type ConnInfo struct {
	ID     string    `json:"id"`
	UserID int64     `json:"user_id"`
	ChatID int64     `json:"chat_id"`
	State  string    `json:"state"`
	Since  time.Time `json:"since"`
}

func (c *Conn) Info() ConnInfo {
	return ConnInfo{ID: c.id, UserID: c.user.ID, ChatID: c.chatID, State: c.State().String(), Since: c.createdAt}
}

// Deliver queues env for the writer without blocking. A typing event is
// never echoed to the user who is typing; that is a filter, not a drop.
func (c *Conn) Deliver(env *event.Envelope) bool {
	if t, ok := env.Event.(*event.TypingOut); ok && t.UserID == c.user.ID {
		return true
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// join registers the actor, subscribes it to the chat group, marks the user
// online and announces it in every chat of the user. It reports false when
// the gateway is shutting down or the actor was closed meanwhile; the actor
// is then closed and its context cancelled.
func (c *Conn) join() bool {
	c.mu.Lock()
	if c.State() != StateAuthenticated || !c.srv.conns.Add(c) {
		c.state.Store(int32(StateClosed))
		c.cancel()
		c.mu.Unlock()
		return false
	}
	c.srv.hub.Subscribe(c.chatID, c)
	c.state.Store(int32(StateJoined))
	metrics.Connections.Inc()
	go c.writeLoop()
	if err := c.srv.presence.GoOnline(c.ctx, c.user.ID); err != nil {
		c.log.Warn("presence online failed", zap.Error(err))
	}
	c.mu.Unlock()

	c.srv.announce(c.ctx, c.user.ID, &event.UserStatusOut{UserID: c.user.ID, IsOnline: true})
	c.log.Info("joined")
	return true
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(c.srv.conf.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.conf.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.srv.conf.PongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadErr(err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if c.State() != StateJoined {
			return
		}
		c.srv.disp.Dispatch(c.ctx, c, data)
	}
}

func (c *Conn) logReadErr(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		c.log.Debug("peer closed", zap.Error(err))
		return
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		c.log.Info("read timeout", zap.Error(err))
		return
	}
	select {
	case <-c.done:
	default:
		c.log.Info("read error", zap.Error(err))
	}
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	ticker := time.NewTicker(c.srv.conf.PingInterval)
	defer ticker.Stop()
	wait := c.srv.conf.WriteWait

	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wait))
			if err := c.ws.WriteMessage(websocket.TextMessage, env.Data); err != nil {
				c.log.Info("write failed", zap.Error(err))
				c.ws.Close()
				c.close(websocket.CloseAbnormalClosure)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait)); err != nil {
				c.log.Info("ping failed", zap.Error(err))
				c.ws.Close()
				c.close(websocket.CloseAbnormalClosure)
				return
			}
			c.srv.presence.Touch(c.ctx, c.user.ID)
		case <-c.done:
			code := int(c.closeCode.Load())
			if code != websocket.CloseAbnormalClosure {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, ""), time.Now().Add(wait))
			}
			c.ws.Close()
			return
		}
	}
}

// close runs the disconnect sequence once: stop the actor, leave the chat
// group, record presence and announce the user offline when this was their
// last connection.
func (c *Conn) close(code int) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		joined := c.State() == StateJoined
		c.closeCode.Store(int32(code))
		c.state.Store(int32(StateClosed))
		c.cancel()
		close(c.done)
		c.mu.Unlock()
		if !joined {
			return
		}

		c.srv.hub.Unsubscribe(c.chatID, c)
		c.srv.conns.Remove(c)
		metrics.Connections.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), c.srv.conf.OfflineTimeout)
		defer cancel()
		lastSeen, offline, err := c.srv.presence.GoOffline(ctx, c.user.ID)
		if err != nil {
			c.log.Warn("presence offline failed", zap.Error(err))
		}
		if offline {
			c.srv.announce(ctx, c.user.ID, &event.UserStatusOut{UserID: c.user.ID, IsOnline: false, LastSeen: &lastSeen})
		}
		c.log.Info("connection closed", zap.Duration("lived", time.Since(c.createdAt)))
	})
}

// wait blocks until the writer has released the socket.
func (c *Conn) wait() {
	select {
	case <-c.writerDone:
	case <-time.After(c.srv.conf.WriteWait + time.Second):
	}
}
