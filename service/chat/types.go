package chat

import (
	"net/http"
	"time"

	"PPChat/module/chat/store"
	"PPChat/service/hub"
	"PPChat/service/presence"
	"PPChat/tools/security"
)

// State of a connection actor. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config tunes the websocket side of the gateway.
type Config struct {
	GatewayID        string
	SendQueue        int           // outbound events buffered per connection
	PingInterval     time.Duration // server ping period
	PongWait         time.Duration // read deadline, renewed by every pong
	WriteWait        time.Duration // deadline for one frame write
	MaxMessageBytes  int64         // inbound frame limit
	HandshakeTimeout time.Duration // credential and membership checks
	EventTimeout     time.Duration // storage work of one inbound event
	OfflineTimeout   time.Duration // disconnect bookkeeping after the socket is gone
	CheckOrigin      func(r *http.Request) bool
}

func (c *Config) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1 << 20
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = 5 * time.Second
	}
	if c.OfflineTimeout <= 0 {
		c.OfflineTimeout = 5 * time.Second
	}
}

// Deps are the collaborators of the gateway.
type Deps struct {
	Store    store.Store
	Resolver security.Resolver
	Hub      *hub.Hub
	Presence *presence.Tracker
}
