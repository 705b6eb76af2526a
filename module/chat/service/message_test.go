package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPChat/module/chat/event"
	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
)

type fixture struct {
	st    *store.MemStore
	svc   *MessageService
	chat  *model.Chat
	other *model.Chat
	alice *model.User
	bob   *model.User
	carol *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	f := &fixture{
		st:    st,
		alice: st.AddUser(1, "alice"),
		bob:   st.AddUser(2, "bob"),
		carol: st.AddUser(3, "carol"),
	}
	var err error
	if f.chat, err = st.CreateChat(model.ChatGroup, nil, 1, 2, 3); err != nil {
		t.Fatal(err)
	}
	if f.other, err = st.CreateChat(model.ChatPrivate, nil, 1, 2); err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f.svc = NewMessageService(st).WithClock(func() time.Time { return clock })
	return f
}

func TestSendCreatesStatusesForOthers(t *testing.T) {
	f := newFixture(t)
	d, err := f.svc.Send(context.Background(), f.alice, f.chat.ID, "hi")
	if err != nil {
		t.Fatal(err)
	}
	out, ok := d.Event.(*event.MessageOut)
	if !ok || d.ChatID != f.chat.ID {
		t.Fatalf("delivery = %+v", d)
	}
	if out.Text != "hi" || out.Sender != "alice" || out.SenderID != 1 || out.Forwarded || out.ForwardedFrom != nil {
		t.Fatalf("message out = %+v", out)
	}
	statuses := f.st.StatusesFor(out.MessageID)
	if len(statuses) != 2 || statuses[0].UserID != 2 || statuses[1].UserID != 3 {
		t.Fatalf("statuses = %+v", statuses)
	}
	for _, s := range statuses {
		if !s.Delivered || s.DeliveredAt == nil || s.Read {
			t.Fatalf("status = %+v", s)
		}
	}
}

func TestReadScenarios(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ids []int64
	for i := 0; i < 12; i++ {
		d, err := f.svc.Send(ctx, f.alice, f.chat.ID, "m")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.Event.(*event.MessageOut).MessageID)
	}
	at := func(i int) int64 { return ids[i-1] }

	d, err := f.svc.MarkRead(ctx, f.bob, f.chat.ID, at(10))
	if err != nil {
		t.Fatal(err)
	}
	if r := d.Event.(*event.ReadOut); r.UserID != 2 || r.LastReadMessageID != at(10) {
		t.Fatalf("read out = %+v", r)
	}
	for i := 1; i <= 12; i++ {
		st, _ := f.st.Status(at(i), 2)
		if want := i <= 10; st.Read != want {
			t.Errorf("message %d read = %v, want %v", i, st.Read, want)
		}
	}

	// lower candidate: broadcast with the supplied value, no state change
	d, err = f.svc.MarkRead(ctx, f.bob, f.chat.ID, at(7))
	if err != nil {
		t.Fatal(err)
	}
	if r := d.Event.(*event.ReadOut); r.LastReadMessageID != at(7) {
		t.Fatalf("read out = %+v", r)
	}
	if f.st.Watermark(f.chat.ID, 2) != at(10) {
		t.Fatalf("watermark = %d", f.st.Watermark(f.chat.ID, 2))
	}

	// non-positive is a no-op
	if _, err := f.svc.MarkRead(ctx, f.carol, f.chat.ID, 0); err != nil {
		t.Fatal(err)
	}
	if f.st.Watermark(f.chat.ID, 3) != 0 {
		t.Fatal("watermark moved for zero candidate")
	}
}

func TestForward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src, _ := f.svc.Send(ctx, f.carol, f.chat.ID, "look")
	srcID := src.Event.(*event.MessageOut).MessageID

	d, err := f.svc.Forward(ctx, f.alice, srcID, f.other.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.ChatID != f.other.ID {
		t.Fatalf("forward published to chat %d", d.ChatID)
	}
	out := d.Event.(*event.MessageOut)
	if out.Text != "look" || out.Sender != "alice" || !out.Forwarded || out.ForwardedFrom == nil || *out.ForwardedFrom != "carol" {
		t.Fatalf("forward out = %+v", out)
	}
	if got := f.st.StatusesFor(out.MessageID); len(got) != 1 || got[0].UserID != 2 {
		t.Fatalf("statuses = %+v", got)
	}
	stored, _ := f.st.GetMessage(ctx, out.MessageID)
	if stored.ForwardedFrom == nil || *stored.ForwardedFrom != srcID || stored.ForwardedBy == nil || *stored.ForwardedBy != 1 {
		t.Fatalf("stored = %+v", stored)
	}

	before := f.st.MessageCount()
	for _, tc := range []struct{ src, target int64 }{{9999, f.other.ID}, {srcID, 9999}} {
		d, err := f.svc.Forward(ctx, f.alice, tc.src, tc.target)
		if err != nil || d != nil {
			t.Fatalf("forward %+v = %+v, %v", tc, d, err)
		}
	}
	if f.st.MessageCount() != before {
		t.Fatal("no-op forward created a message")
	}
}

func TestEditDeleteByNonSenderStillBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d, _ := f.svc.Send(ctx, f.alice, f.chat.ID, "orig")
	id := d.Event.(*event.MessageOut).MessageID

	d, err := f.svc.Edit(ctx, f.bob, f.chat.ID, id, "hacked")
	if err != nil || d == nil {
		t.Fatalf("edit = %+v, %v", d, err)
	}
	if e := d.Event.(*event.MessageEditOut); e.MessageID != id || e.Text != "hacked" {
		t.Fatalf("edit out = %+v", e)
	}
	if m, _ := f.st.GetMessage(ctx, id); m.Text != "orig" || m.IsEdited {
		t.Fatalf("non-sender edit applied: %+v", m)
	}

	if _, err := f.svc.Edit(ctx, f.alice, f.chat.ID, id, "fixed"); err != nil {
		t.Fatal(err)
	}
	if m, _ := f.st.GetMessage(ctx, id); m.Text != "fixed" || !m.IsEdited || m.EditedAt == nil {
		t.Fatalf("sender edit not applied: %+v", m)
	}

	d, _ = f.svc.Delete(ctx, f.bob, f.chat.ID, id)
	if d.Event.(*event.MessageDeleteOut).MessageID != id {
		t.Fatalf("delete out = %+v", d.Event)
	}
	if m, _ := f.st.GetMessage(ctx, id); m.IsDeleted {
		t.Fatal("non-sender delete applied")
	}
	_, _ = f.svc.Delete(ctx, f.alice, f.chat.ID, id)
	if m, _ := f.st.GetMessage(ctx, id); !m.IsDeleted || m.Text != model.DeletedText {
		t.Fatalf("tombstone = %+v", m)
	}
}

type failingStore struct {
	store.Store
}

var errDown = errors.New("db down")

func (failingStore) CreateMessageWithStatuses(context.Context, model.NewMessage, []int64, time.Time) (*model.Message, error) {
	return nil, errDown
}

func (failingStore) AdvanceReadWatermark(context.Context, int64, int64, int64) (bool, error) {
	return false, errDown
}

func TestStorageFailureAbortsEvent(t *testing.T) {
	f := newFixture(t)
	svc := NewMessageService(failingStore{f.st})
	ctx := context.Background()

	if d, err := svc.Send(ctx, f.alice, f.chat.ID, "x"); d != nil || !errors.Is(err, errDown) {
		t.Fatalf("send = %+v, %v", d, err)
	}
	if d, err := svc.MarkRead(ctx, f.bob, f.chat.ID, 5); d != nil || !errors.Is(err, errDown) {
		t.Fatalf("read = %+v, %v", d, err)
	}
	if f.st.MessageCount() != 0 {
		t.Fatal("message persisted")
	}
}

func TestStatusFailureLeavesNoMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.st.FailStatusWrites(errDown)

	if d, err := f.svc.Send(ctx, f.alice, f.chat.ID, "x"); d != nil || !errors.Is(err, errDown) {
		t.Fatalf("send = %+v, %v", d, err)
	}
	if f.st.MessageCount() != 0 {
		t.Fatalf("%d messages persisted without statuses", f.st.MessageCount())
	}

	f.st.FailStatusWrites(nil)
	d, err := f.svc.Send(ctx, f.alice, f.chat.ID, "y")
	if err != nil {
		t.Fatal(err)
	}
	id := d.Event.(*event.MessageOut).MessageID
	if id != 1 || len(f.st.StatusesFor(id)) != 2 {
		t.Fatalf("id = %d, statuses = %+v", id, f.st.StatusesFor(id))
	}

	f.st.FailStatusWrites(errDown)
	if d, err := f.svc.Forward(ctx, f.bob, id, f.other.ID); d != nil || !errors.Is(err, errDown) {
		t.Fatalf("forward = %+v, %v", d, err)
	}
	if f.st.MessageCount() != 1 {
		t.Fatal("forward persisted without statuses")
	}
}

func TestHandleDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		raw  string
		kind event.Kind
	}{
		{`{"type":"message","text":"a"}`, event.KindMessage},
		{`{"type":"typing"}`, event.KindTyping},
		{`{"type":"read","last_read_message_id":"1"}`, event.KindRead},
		{`{"type":"edit","message_id":1,"text":"b"}`, event.KindMessageEdit},
		{`{"type":"delete","message_id":1}`, event.KindMessageDelete},
		{`{"type":"forward","message_id":1,"target_chat_id":2}`, event.KindMessage},
	}
	for _, tt := range tests {
		in, err := event.ParseInbound([]byte(tt.raw))
		if err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		d, err := f.svc.Handle(ctx, f.alice, f.chat.ID, in)
		if err != nil || d == nil {
			t.Fatalf("%s: %+v, %v", tt.raw, d, err)
		}
		if d.Event.Kind() != tt.kind {
			t.Errorf("%s: kind = %s, want %s", tt.raw, d.Event.Kind(), tt.kind)
		}
	}
	typing, _ := f.svc.Handle(ctx, f.alice, f.chat.ID, &event.TypingIn{IsTyping: true})
	if tp := typing.Event.(*event.TypingOut); tp.UserID != 1 || tp.Username != "alice" || !tp.IsTyping {
		t.Fatalf("typing = %+v", tp)
	}
}
