package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PPChat/module/chat/store"
)

type countingMirror struct {
	mu       sync.Mutex
	online   map[int64]int
	offlines map[int64]int
}

func newMirror() *countingMirror {
	return &countingMirror{online: map[int64]int{}, offlines: map[int64]int{}}
}

func (m *countingMirror) Online(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[id]++
	return nil
}

func (m *countingMirror) Offline(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offlines[id]++
	return nil
}

func TestRefCountedOffline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	at := time.Unix(1700000000, 0)
	mirror := newMirror()
	tr := NewTracker(st, WithClock(func() time.Time { return at }), WithMirror(mirror), WithStripes(4))

	for i := 0; i < 2; i++ {
		if err := tr.GoOnline(ctx, 7); err != nil {
			t.Fatal(err)
		}
	}
	if p, _ := st.Presence(7); !p.IsOnline {
		t.Fatalf("presence = %+v", p)
	}
	if tr.Connections(7) != 2 || tr.OnlineUsers() != 1 {
		t.Fatalf("connections = %d, users = %d", tr.Connections(7), tr.OnlineUsers())
	}

	_, off, err := tr.GoOffline(ctx, 7)
	if err != nil || off {
		t.Fatalf("first close: offline=%v err=%v", off, err)
	}
	if p, _ := st.Presence(7); !p.IsOnline {
		t.Fatal("user went offline with a connection left")
	}

	seen, off, err := tr.GoOffline(ctx, 7)
	if err != nil || !off || !seen.Equal(at) {
		t.Fatalf("last close: offline=%v seen=%v err=%v", off, seen, err)
	}
	p, _ := st.Presence(7)
	if p.IsOnline || p.LastSeen == nil || !p.LastSeen.Equal(at) {
		t.Fatalf("presence = %+v", p)
	}
	if mirror.offlines[7] != 1 || mirror.online[7] != 2 {
		t.Fatalf("mirror = %+v / %+v", mirror.online, mirror.offlines)
	}

	// idempotent
	later := at.Add(time.Minute)
	tr.now = func() time.Time { return later }
	if _, off, _ := tr.GoOffline(ctx, 7); !off {
		t.Fatal("repeat offline should report offline")
	}
	if p, _ := st.Presence(7); !p.LastSeen.Equal(later) {
		t.Fatalf("last_seen not restamped: %+v", p)
	}
}

func TestConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(store.NewMemStore())
	var wg sync.WaitGroup
	for u := int64(1); u <= 100; u++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = tr.GoOnline(ctx, id)
			_ = tr.GoOnline(ctx, id)
			_, _, _ = tr.GoOffline(ctx, id)
		}(u)
	}
	wg.Wait()
	if got := tr.OnlineUsers(); got != 100 {
		t.Fatalf("online users = %d", got)
	}
}

// flakyRecorder fails while fail is set and blocks writes for blockUser
// until release is closed.
type flakyRecorder struct {
	mu        sync.Mutex
	fail      bool
	blockUser int64
	entered   chan struct{}
	release   chan struct{}
}

func (r *flakyRecorder) SetPresence(_ context.Context, id int64, _ bool, _ time.Time) error {
	r.mu.Lock()
	fail, block := r.fail, r.blockUser != 0 && id == r.blockUser
	r.mu.Unlock()
	if block {
		close(r.entered)
		<-r.release
	}
	if fail {
		return errors.New("transient")
	}
	return nil
}

func (r *flakyRecorder) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

func TestRecorderFailureStillCountsConnection(t *testing.T) {
	ctx := context.Background()
	rec := &flakyRecorder{}
	tr := NewTracker(rec)

	if err := tr.GoOnline(ctx, 7); err != nil {
		t.Fatal(err)
	}
	rec.setFail(true)
	if err := tr.GoOnline(ctx, 7); err == nil {
		t.Fatal("expected recorder error")
	}
	rec.setFail(false)
	if tr.Connections(7) != 2 {
		t.Fatalf("connections = %d", tr.Connections(7))
	}

	// the connection whose online write failed closes; the other one is live
	if _, off, err := tr.GoOffline(ctx, 7); err != nil || off {
		t.Fatalf("offline=%v err=%v", off, err)
	}
	if !tr.IsOnline(7) {
		t.Fatal("user offline while a connection is live")
	}
	if _, off, _ := tr.GoOffline(ctx, 7); !off || tr.IsOnline(7) || tr.OnlineUsers() != 0 {
		t.Fatalf("last close: offline=%v online=%v", off, tr.IsOnline(7))
	}
}

func TestSlowWriteDoesNotBlockOtherUsers(t *testing.T) {
	ctx := context.Background()
	rec := &flakyRecorder{blockUser: 1, entered: make(chan struct{}), release: make(chan struct{})}
	tr := NewTracker(rec, WithStripes(1))

	done := make(chan error, 1)
	go func() { done <- tr.GoOnline(ctx, 1) }()
	<-rec.entered

	other := make(chan error, 1)
	go func() { other <- tr.GoOnline(ctx, 2) }()
	select {
	case err := <-other:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("user 2 waited on user 1's write")
	}
	if !tr.IsOnline(1) || tr.Connections(2) != 1 {
		t.Fatalf("online(1)=%v conns(2)=%d", tr.IsOnline(1), tr.Connections(2))
	}

	close(rec.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
