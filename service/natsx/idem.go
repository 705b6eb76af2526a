package natsx

import (
	"context"
	"sync"
	"time"

	"PPChat/tools/safe"

	"github.com/nats-io/nats.go"
)

// Seen reports whether key was already recorded within ttl, recording it if not.
type Seen interface {
	SeenOnce(key string, ttl time.Duration) bool
}

type memSeen struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expiry
	now func() time.Time
}

// NewMemSeen keeps keys in memory; expired keys are swept every minute until
// ctx is done.
func NewMemSeen(ctx context.Context) Seen {
	s := &memSeen{m: make(map[string]time.Time), now: time.Now}
	safe.Go("natsx.dedupe-sweep", func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.sweep()
			}
		}
	})
	return s
}

func (s *memSeen) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.m {
		if !exp.After(now) {
			delete(s.m, k)
		}
	}
}

func (s *memSeen) SeenOnce(key string, ttl time.Duration) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.m[key]; ok && exp.After(now) {
		return true
	}
	s.m[key] = now.Add(ttl)
	return false
}

// Dedupe drops messages whose Nats-Msg-Id was handled within ttl.
// Messages without the header always pass.
func Dedupe(seen Seen, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *nats.Msg) error {
			if id := msg.Header.Get(nats.MsgIdHdr); id != "" && seen.SeenOnce(id, ttl) {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
