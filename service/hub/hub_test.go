package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"PPChat/module/chat/event"
)

type sub struct {
	id string
	ch chan *event.Envelope
}

func newSub(id string, buf int) *sub { return &sub{id: id, ch: make(chan *event.Envelope, buf)} }

func (s *sub) ID() string { return s.id }

func (s *sub) Deliver(env *event.Envelope) bool {
	select {
	case s.ch <- env:
		return true
	default:
		return false
	}
}

func (s *sub) next(t *testing.T) *event.Envelope {
	t.Helper()
	select {
	case env := <-s.ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no event", s.id)
		return nil
	}
}

func (s *sub) none(t *testing.T) {
	t.Helper()
	select {
	case env := <-s.ch:
		t.Fatalf("%s: unexpected event %s", s.id, env.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeIdempotentAndScoped(t *testing.T) {
	h := New(Config{Stripes: 4, Workers: 2})
	defer h.Close()

	a, b := newSub("a", 8), newSub("b", 8)
	h.Subscribe(1, a)
	h.Subscribe(1, a)
	h.Subscribe(2, b)
	if h.Subscribers(1) != 1 || h.Rooms() != 2 {
		t.Fatalf("subscribers = %d rooms = %d", h.Subscribers(1), h.Rooms())
	}

	if err := h.Publish(1, &event.MessageDeleteOut{MessageID: 5}); err != nil {
		t.Fatal(err)
	}
	if env := a.next(t); string(env.Data) != `{"type":"message_delete","message_id":5}` {
		t.Fatalf("data = %s", env.Data)
	}
	a.none(t)
	b.none(t)

	h.Unsubscribe(1, a)
	h.Unsubscribe(1, a)
	_ = h.Publish(1, &event.MessageDeleteOut{MessageID: 6})
	a.none(t)
	if h.Rooms() != 1 {
		t.Fatalf("empty room kept, rooms = %d", h.Rooms())
	}
}

func TestPerChatOrder(t *testing.T) {
	h := New(Config{Workers: 4})
	defer h.Close()

	const n = 500
	subs := []*sub{newSub("a", n), newSub("b", n), newSub("c", n)}
	for _, s := range subs {
		h.Subscribe(9, s)
	}
	for i := 1; i <= n; i++ {
		_ = h.Publish(9, &event.MessageEditOut{MessageID: int64(i)})
	}
	for _, s := range subs {
		for i := 1; i <= n; i++ {
			ev := s.next(t).Event.(*event.MessageEditOut)
			if ev.MessageID != int64(i) {
				t.Fatalf("%s: got %d at position %d", s.id, ev.MessageID, i)
			}
		}
	}
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	h := New(Config{Workers: 1})
	defer h.Close()

	slow, fast := newSub("slow", 1), newSub("fast", 100)
	h.Subscribe(3, slow)
	h.Subscribe(3, fast)
	for i := 0; i < 50; i++ {
		_ = h.Publish(3, &event.TypingOut{UserID: 1, IsTyping: true})
	}
	for i := 0; i < 50; i++ {
		fast.next(t)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, dropped := h.Stats()
		if dropped == 49 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dropped = %d, want 49", dropped)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	h := New(Config{})
	var wg sync.WaitGroup
	for c := int64(0); c < 20; c++ {
		wg.Add(1)
		go func(chat int64) {
			defer wg.Done()
			s := newSub(fmt.Sprint(chat), 64)
			h.Subscribe(chat, s)
			for i := 0; i < 10; i++ {
				_ = h.Publish(chat, &event.ReadOut{UserID: chat, LastReadMessageID: int64(i)})
			}
			h.Unsubscribe(chat, s)
		}(c)
	}
	wg.Wait()
	h.Close()
	if published, _, _ := h.Stats(); published != 200 {
		t.Fatalf("published = %d", published)
	}
	// after close publishing is a no-op
	_ = h.Publish(1, &event.ReadOut{})
	if published, _, _ := h.Stats(); published != 200 {
		t.Fatalf("published after close = %d", published)
	}
}

type captureRelay struct {
	mu   sync.Mutex
	envs []*event.Envelope
}

func (r *captureRelay) Forward(env *event.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func TestRelayGetsPublishedButNotLocal(t *testing.T) {
	h := New(Config{})
	defer h.Close()
	r := &captureRelay{}
	h.SetRelay(r)

	_ = h.Publish(4, &event.UserStatusOut{UserID: 1, IsOnline: true})
	env, _ := event.Seal(4, &event.UserStatusOut{UserID: 2})
	h.PublishLocal(env)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.envs) != 1 || r.envs[0].ChatID != 4 {
		t.Fatalf("relayed = %+v", r.envs)
	}
}
