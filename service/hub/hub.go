// Package hub keeps chat groups of subscribers and fans published events out
// to them. It holds no persistent state.
package hub

import (
	"sync"

	"PPChat/logger"
	"PPChat/module/chat/event"
	"PPChat/service/metrics"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Subscriber receives events of the chats it joined. Deliver must not block;
// it reports false when the event was dropped.
type Subscriber interface {
	ID() string
	Deliver(env *event.Envelope) bool
}

// Relay forwards locally published envelopes to peer gateways.
type Relay interface {
	Forward(env *event.Envelope)
}

type Config struct {
	Stripes int `yaml:"stripes"` // lock stripes over chat ids
	Workers int `yaml:"workers"` // fan-out workers
	Queue   int `yaml:"queue"`   // pending jobs per worker
}

func (c *Config) norm() {
	if c.Stripes <= 0 {
		c.Stripes = 64
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Queue <= 0 {
		c.Queue = 1024
	}
}

type Stats struct {
	Published atomic.Int64
	Delivered atomic.Int64
	Dropped   atomic.Int64
}

type room map[Subscriber]struct{}

type stripe struct {
	mu    sync.RWMutex
	rooms map[int64]room
}

type Hub struct {
	stripes []stripe
	fan     *fanout
	relay   Relay
	stats   Stats
	log     *zap.Logger

	closeMu sync.RWMutex
	closed  bool
}

func New(conf Config) *Hub {
	conf.norm()
	h := &Hub{stripes: make([]stripe, conf.Stripes), log: logger.Named("hub")}
	for i := range h.stripes {
		h.stripes[i].rooms = make(map[int64]room)
	}
	h.fan = newFanout(conf.Workers, conf.Queue, h.log, &h.stats)
	return h
}

// SetRelay installs the cluster relay. Call before serving.
func (h *Hub) SetRelay(r Relay) { h.relay = r }

func (h *Hub) stripe(chatID int64) *stripe {
	return &h.stripes[uint64(chatID)%uint64(len(h.stripes))]
}

// Subscribe adds s to the chat group. Adding twice is a no-op.
func (h *Hub) Subscribe(chatID int64, s Subscriber) {
	st := h.stripe(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.rooms[chatID]
	if !ok {
		r = make(room)
		st.rooms[chatID] = r
	}
	r[s] = struct{}{}
}

// Unsubscribe removes s from the chat group. Removing an absent subscriber is a no-op.
func (h *Hub) Unsubscribe(chatID int64, s Subscriber) {
	st := h.stripe(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.rooms[chatID]
	if !ok {
		return
	}
	delete(r, s)
	if len(r) == 0 {
		delete(st.rooms, chatID)
	}
}

// Publish encodes ev once and delivers it to the subscribers of chatID at the
// time of the call, then hands it to the relay.
func (h *Hub) Publish(chatID int64, ev event.Outbound) error {
	env, err := event.Seal(chatID, ev)
	if err != nil {
		return err
	}
	h.PublishLocal(env)
	if h.relay != nil {
		h.relay.Forward(env)
	}
	return nil
}

// PublishLocal delivers an already sealed envelope to local subscribers only.
func (h *Hub) PublishLocal(env *event.Envelope) {
	subs := h.snapshot(env.ChatID)

	h.closeMu.RLock()
	defer h.closeMu.RUnlock()
	if h.closed {
		return
	}
	h.stats.Published.Inc()
	metrics.EventsPublished.WithLabelValues(string(env.Event.Kind())).Inc()
	if len(subs) == 0 {
		return
	}
	h.fan.enqueue(fanoutJob{subs: subs, env: env})
}

func (h *Hub) snapshot(chatID int64) []Subscriber {
	st := h.stripe(chatID)
	st.mu.RLock()
	defer st.mu.RUnlock()
	r := st.rooms[chatID]
	if len(r) == 0 {
		return nil
	}
	subs := make([]Subscriber, 0, len(r))
	for s := range r {
		subs = append(subs, s)
	}
	return subs
}

// Subscribers counts the members of a chat group.
func (h *Hub) Subscribers(chatID int64) int {
	st := h.stripe(chatID)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.rooms[chatID])
}

// Rooms counts chat groups with at least one subscriber.
func (h *Hub) Rooms() int {
	n := 0
	for i := range h.stripes {
		st := &h.stripes[i]
		st.mu.RLock()
		n += len(st.rooms)
		st.mu.RUnlock()
	}
	return n
}

func (h *Hub) Stats() (published, delivered, dropped int64) {
	return h.stats.Published.Load(), h.stats.Delivered.Load(), h.stats.Dropped.Load()
}

// Close stops accepting events and waits until queued ones are delivered.
func (h *Hub) Close() {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		return
	}
	h.closed = true
	h.closeMu.Unlock()
	h.fan.stop()
}
