package chat

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"PPChat/logger"
	"PPChat/middleware"
	midsec "PPChat/middleware/security"
	"PPChat/module/chat/event"
	"PPChat/module/chat/model"
	"PPChat/module/chat/service"
	"PPChat/module/chat/store"
	"PPChat/service/hub"
	"PPChat/service/metrics"
	"PPChat/service/presence"
	"PPChat/tools/errs"
	"PPChat/tools/ids"
	"PPChat/tools/safe"
	"PPChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server is the websocket side of the gateway.
type Server struct {
	conf     Config
	store    store.Store
	resolver security.Resolver
	hub      *hub.Hub
	presence *presence.Tracker
	disp     *Dispatcher
	conns    *ConnManager
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(conf Config, deps Deps) *Server {
	safe.MustNotNil(deps.Store, "store")
	safe.MustNotNil(deps.Resolver, "resolver")
	safe.MustNotNil(deps.Hub, "hub")
	safe.MustNotNil(deps.Presence, "presence")
	conf.norm()

	s := &Server{
		conf:     conf,
		store:    deps.Store,
		resolver: deps.Resolver,
		hub:      deps.Hub,
		presence: deps.Presence,
		conns:    NewConnManager(),
		log:      logger.Named("gateway"),
	}
	s.disp = NewDispatcher(service.NewMessageService(deps.Store), deps.Hub)
	s.upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: conf.CheckOrigin}
	if s.upgrader.CheckOrigin == nil {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return s
}

func (s *Server) ConnMgr() *ConnManager { return s.conns }

// Register mounts the websocket route and the stats endpoint.
func (s *Server) Register(r gin.IRouter) {
	middleware.GET(r, "/ws/chat/:chat_id", s.HandleWS, middleware.RouteOpt{Token: true})
	middleware.GET(r, "/ws/chat/:chat_id/", s.HandleWS, middleware.RouteOpt{Token: true})
	middleware.GET(r, "/stats", s.HandleStats, middleware.RouteOpt{})
	middleware.GET(r, "/stats/users/:user_id", s.HandleUserConns, middleware.RouteOpt{})
	middleware.GET(r, "/stats/conns/:conn_id", s.HandleConn, middleware.RouteOpt{})
}

// HandleWS upgrades first and then authenticates: a rejected client sees a
// close frame with an empty reason and nothing else.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Info("upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.HandshakeTimeout)
	user, chatID, err := s.authorize(ctx, midsec.TokenFromContext(c), c.Param("chat_id"))
	cancel()
	if err != nil {
		s.reject(ws, err)
		return
	}

	conn := newConn(s, ids.GenerateString(), ws, user, chatID)
	if !conn.join() {
		s.rejectWith(ws, websocket.CloseGoingAway, "shutdown")
		return
	}
	conn.readLoop()
	conn.close(websocket.CloseNormalClosure)
	conn.wait()
}

func (s *Server) authorize(ctx context.Context, token, rawChatID string) (*model.User, int64, error) {
	user, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, 0, err
	}
	chatID, err := strconv.ParseInt(rawChatID, 10, 64)
	if err != nil || chatID <= 0 {
		return nil, 0, errs.ErrNotMember.WrapMsg("bad chat id", "chat_id", rawChatID)
	}
	ok, err := s.store.IsMember(ctx, chatID, user.ID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, errs.ErrNotMember.WrapMsg("", "chat_id", chatID, "user_id", user.ID)
	}
	return user, chatID, nil
}

func (s *Server) reject(ws *websocket.Conn, err error) {
	switch {
	case errs.IsAuthFailure(err):
		s.log.Info("handshake rejected", zap.String("reason", "auth"), zap.Error(err))
		s.rejectWith(ws, websocket.ClosePolicyViolation, "auth")
	case errs.IsNotMember(err):
		s.log.Info("handshake rejected", zap.String("reason", "not_member"), zap.Error(err))
		s.rejectWith(ws, websocket.ClosePolicyViolation, "not_member")
	default:
		s.log.Error("handshake failed", zap.Error(err))
		s.rejectWith(ws, websocket.CloseInternalServerErr, "internal")
	}
}

func (s *Server) rejectWith(ws *websocket.Conn, code int, reason string) {
	metrics.HandshakeRejected.WithLabelValues(reason).Inc()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(s.conf.WriteWait))
	_ = ws.Close()
}

// announce publishes ev to every chat userID belongs to. Failures are logged;
// presence has already been recorded.
func (s *Server) announce(ctx context.Context, userID int64, ev event.Outbound) {
	chats, err := s.store.ChatIDsForUser(ctx, userID)
	if err != nil {
		s.log.Warn("list chats for presence failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	for _, chatID := range chats {
		if err := s.hub.Publish(chatID, ev); err != nil {
			s.log.Warn("presence publish failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

type Stats struct {
	GatewayID   string `json:"gateway_id"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
	OnlineUsers int    `json:"online_users"`
	Rooms       int    `json:"rooms"`
	Published   int64  `json:"published"`
	Delivered   int64  `json:"delivered"`
	Dropped     int64  `json:"dropped"`
}

func (s *Server) Stats() Stats {
	conns, users := s.conns.Count()
	published, delivered, dropped := s.hub.Stats()
	return Stats{
		GatewayID:   s.conf.GatewayID,
		Connections: conns,
		Users:       users,
		OnlineUsers: s.presence.OnlineUsers(),
		Rooms:       s.hub.Rooms(),
		Published:   published,
		Delivered:   delivered,
		Dropped:     dropped,
	}
}

func (s *Server) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Stats())
}

// HandleUserConns lists the live connections of one user on this gateway.
func (s *Server) HandleUserConns(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad user id"})
		return
	}
	conns := s.conns.ListUserConns(userID)
	out := make([]ConnInfo, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": s.presence.IsOnline(userID), "connections": out})
}

func (s *Server) HandleConn(c *gin.Context) {
	conn, ok := s.conns.Get(c.Param("conn_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such connection"})
		return
	}
	c.JSON(http.StatusOK, conn.Info())
}

// Shutdown closes every connection through the disconnect sequence. New
// handshakes are refused from the first call on.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.conns.CloseAll(32)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
