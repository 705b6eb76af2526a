// Package presence tracks which users hold at least one live connection on
// this gateway and records online/offline transitions.
package presence

import (
	"context"
	"sync"
	"time"

	"PPChat/logger"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Recorder persists the presence flag. last_seen is stamped when online is false.
type Recorder interface {
	SetPresence(ctx context.Context, userID int64, online bool, at time.Time) error
}

// Mirror publishes presence to a shared cache for other services.
type Mirror interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
}

const defaultStripes = 64

// user is the presence state of one user. mu orders the recorder writes of
// that user; conns is also read without it.
type user struct {
	mu    sync.Mutex
	conns atomic.Int64
	refs  int // callers holding the entry, guarded by the stripe lock
}

type stripe struct {
	mu    sync.Mutex
	users map[int64]*user
}

type Tracker struct {
	stripes []stripe
	rec     Recorder
	mirror  Mirror
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Tracker)

func WithMirror(m Mirror) Option { return func(t *Tracker) { t.mirror = m } }

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func WithStripes(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.stripes = make([]stripe, n)
		}
	}
}

func NewTracker(rec Recorder, opts ...Option) *Tracker {
	t := &Tracker{
		stripes: make([]stripe, defaultStripes),
		rec:     rec,
		now:     time.Now,
		log:     logger.Named("presence"),
	}
	for _, o := range opts {
		o(t)
	}
	for i := range t.stripes {
		t.stripes[i].users = make(map[int64]*user)
	}
	return t
}

func (t *Tracker) stripe(userID int64) *stripe {
	return &t.stripes[uint64(userID)%uint64(len(t.stripes))]
}

// acquire returns the entry of userID, creating it when missing. Every
// acquire is paired with a release.
func (t *Tracker) acquire(userID int64) *user {
	s := t.stripe(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = &user{}
		s.users[userID] = u
	}
	u.refs++
	return u
}

// release drops the entry once nobody holds it and the user has no connection.
func (t *Tracker) release(userID int64, u *user) {
	s := t.stripe(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	u.refs--
	if u.refs == 0 && u.conns.Load() == 0 {
		delete(s.users, userID)
	}
}

// GoOnline registers one more connection of userID and records the user as
// online. The connection is counted even when the recorder fails, so the
// matching GoOffline stays balanced; the error is returned for logging.
func (t *Tracker) GoOnline(ctx context.Context, userID int64) error {
	u := t.acquire(userID)
	defer t.release(userID, u)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.conns.Inc()
	if err := t.rec.SetPresence(ctx, userID, true, t.now()); err != nil {
		return err
	}
	t.mirrorOnline(ctx, userID)
	return nil
}

// GoOffline releases one connection of userID. When it was the last one the
// user is recorded offline, wentOffline is true and lastSeen is the stamp
// written. Extra calls for an offline user re-stamp last_seen.
func (t *Tracker) GoOffline(ctx context.Context, userID int64) (lastSeen time.Time, wentOffline bool, err error) {
	u := t.acquire(userID)
	defer t.release(userID, u)
	u.mu.Lock()
	defer u.mu.Unlock()

	if n := u.conns.Load(); n > 1 {
		u.conns.Store(n - 1)
		return time.Time{}, false, nil
	}
	u.conns.Store(0)
	lastSeen = t.now()
	if err := t.rec.SetPresence(ctx, userID, false, lastSeen); err != nil {
		return lastSeen, true, err
	}
	if t.mirror != nil {
		if err := t.mirror.Offline(ctx, userID); err != nil {
			t.log.Warn("presence mirror offline failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return lastSeen, true, nil
}

// Touch renews the mirror entry of a user that is still connected.
func (t *Tracker) Touch(ctx context.Context, userID int64) {
	if t.mirror == nil || !t.IsOnline(userID) {
		return
	}
	t.mirrorOnline(ctx, userID)
}

func (t *Tracker) mirrorOnline(ctx context.Context, userID int64) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.Online(ctx, userID); err != nil {
		t.log.Warn("presence mirror online failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (t *Tracker) IsOnline(userID int64) bool {
	return t.Connections(userID) > 0
}

func (t *Tracker) Connections(userID int64) int {
	s := t.stripe(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return int(u.conns.Load())
	}
	return 0
}

// OnlineUsers counts users with at least one connection.
func (t *Tracker) OnlineUsers() int {
	total := 0
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.Lock()
		for _, u := range s.users {
			if u.conns.Load() > 0 {
				total++
			}
		}
		s.mu.Unlock()
	}
	return total
}
