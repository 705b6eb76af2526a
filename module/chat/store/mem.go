package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPChat/module/chat/model"
	"PPChat/tools/errs"
)

type statusKey struct{ messageID, userID int64 }
type chatUserKey struct{ chatID, userID int64 }

// MemStore is an in-process Store used by tests and local runs without
// Postgres. One mutex guards everything, which also serializes the
// watermark compare-and-set.
type MemStore struct {
	mu        sync.RWMutex
	users     map[int64]*model.User
	chats     map[int64]*model.Chat
	messages  map[int64]*model.Message
	statuses  map[statusKey]*model.MessageStatus
	reads     map[chatUserKey]int64
	presence  map[int64]*model.Presence
	nextMsgID int64
	nextChat  int64
	now       func() time.Time
	statusErr error // returned by status writes while set
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:    make(map[int64]*model.User),
		chats:    make(map[int64]*model.Chat),
		messages: make(map[int64]*model.Message),
		statuses: make(map[statusKey]*model.MessageStatus),
		reads:    make(map[chatUserKey]int64),
		presence: make(map[int64]*model.Presence),
		now:      time.Now,
	}
}

// ---- seeding ----

func (s *MemStore) AddUser(id int64, username string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &model.User{ID: id, Username: username}
	s.users[id] = u
	return u
}

// CreateChat registers a chat with a fixed member set. Private chats need
// exactly two distinct members.
func (s *MemStore) CreateChat(kind string, name *string, members ...int64) (*model.Chat, error) {
	uniq := make(map[int64]struct{}, len(members))
	for _, m := range members {
		uniq[m] = struct{}{}
	}
	switch kind {
	case model.ChatPrivate:
		if len(uniq) != model.PrivateChatMembers {
			return nil, errs.ErrBadPayload.WrapMsg("private chat needs two members", "members", len(uniq))
		}
	case model.ChatGroup:
	default:
		return nil, errs.ErrBadPayload.WrapMsg("unknown chat type", "type", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for m := range uniq {
		if _, ok := s.users[m]; !ok {
			return nil, errs.ErrUserNotFound.WrapMsg("", "user_id", m)
		}
	}
	s.nextChat++
	ids := make([]int64, 0, len(uniq))
	for m := range uniq {
		ids = append(ids, m)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	c := &model.Chat{ID: s.nextChat, Type: kind, Name: name, MemberIDs: ids, CreatedAt: s.now()}
	s.chats[c.ID] = c
	return c, nil
}

// ---- Store ----

func (s *MemStore) GetUser(_ context.Context, userID int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, errs.ErrUserNotFound.WrapMsg("", "user_id", userID)
	}
	cp := *u
	return &cp, nil
}

func (s *MemStore) IsMember(_ context.Context, chatID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	return ok && c.HasMember(userID), nil
}

func (s *MemStore) ChatMemberIDs(_ context.Context, chatID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	return append([]int64(nil), c.MemberIDs...), nil
}

func (s *MemStore) ChatIDsForUser(_ context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for id, c := range s.chats {
		if c.HasMember(userID) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemStore) CreateMessage(_ context.Context, in model.NewMessage) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.createMessageLocked(in)
	if err != nil {
		return nil, err
	}
	return s.messageLocked(m), nil
}

func (s *MemStore) CreateDeliveryStatuses(_ context.Context, messageID int64, recipients []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return errs.ErrRecordNotFound.WrapMsg("message", "message_id", messageID)
	}
	if s.statusErr != nil {
		return s.statusErr
	}
	s.insertStatusesLocked(messageID, recipients, at)
	return nil
}

func (s *MemStore) CreateMessageWithStatuses(_ context.Context, in model.NewMessage, recipients []int64, at time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMessageLocked(in); err != nil {
		return nil, err
	}
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	m, err := s.createMessageLocked(in)
	if err != nil {
		return nil, err
	}
	s.insertStatusesLocked(m.ID, recipients, at)
	return s.messageLocked(m), nil
}

func (s *MemStore) checkMessageLocked(in model.NewMessage) error {
	if _, ok := s.chats[in.ChatID]; !ok {
		return errs.ErrRecordNotFound.WrapMsg("chat", "chat_id", in.ChatID)
	}
	if _, ok := s.users[in.SenderID]; !ok {
		return errs.ErrUserNotFound.WrapMsg("", "user_id", in.SenderID)
	}
	return nil
}

func (s *MemStore) createMessageLocked(in model.NewMessage) (*model.Message, error) {
	if err := s.checkMessageLocked(in); err != nil {
		return nil, err
	}
	s.nextMsgID++
	m := &model.Message{
		ID:            s.nextMsgID,
		ChatID:        in.ChatID,
		Sender:        *s.users[in.SenderID],
		Text:          in.Text,
		ForwardedFrom: in.ForwardedFrom,
		ForwardedBy:   in.ForwardedBy,
		CreatedAt:     s.now(),
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *MemStore) insertStatusesLocked(messageID int64, recipients []int64, at time.Time) {
	for _, uid := range recipients {
		k := statusKey{messageID, uid}
		if _, exists := s.statuses[k]; exists {
			continue
		}
		t := at
		s.statuses[k] = &model.MessageStatus{MessageID: messageID, UserID: uid, Delivered: true, DeliveredAt: &t}
	}
}

func (s *MemStore) GetMessage(_ context.Context, messageID int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "message_id", messageID)
	}
	return s.messageLocked(m), nil
}

// messageLocked copies m and resolves the origin sender of a forward.
func (s *MemStore) messageLocked(m *model.Message) *model.Message {
	cp := *m
	if m.ForwardedFrom != nil {
		if origin, ok := s.messages[*m.ForwardedFrom]; ok {
			name := origin.Sender.Username
			cp.ForwardedFromSender = &name
		}
	}
	return &cp
}

func (s *MemStore) UpdateMessageText(_ context.Context, messageID, sender int64, text string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.Sender.ID != sender || m.IsDeleted {
		return false, nil
	}
	t := at
	m.Text = text
	m.IsEdited = true
	m.EditedAt = &t
	return true, nil
}

func (s *MemStore) TombstoneMessage(_ context.Context, messageID, sender int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.Sender.ID != sender || m.IsDeleted {
		return false, nil
	}
	m.IsDeleted = true
	m.Text = model.DeletedText
	return true, nil
}

func (s *MemStore) AdvanceReadWatermark(_ context.Context, chatID, userID, candidate int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := chatUserKey{chatID, userID}
	if candidate <= s.reads[k] {
		return false, nil
	}
	s.reads[k] = candidate
	return true, nil
}

func (s *MemStore) MarkStatusesRead(_ context.Context, chatID, userID, upTo int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, st := range s.statuses {
		if k.userID != userID || k.messageID > upTo || st.Read {
			continue
		}
		if m, ok := s.messages[k.messageID]; !ok || m.ChatID != chatID {
			continue
		}
		t := at
		st.Read = true
		st.ReadAt = &t
		n++
	}
	return n, nil
}

func (s *MemStore) SetPresence(_ context.Context, userID int64, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[userID]
	if !ok {
		p = &model.Presence{UserID: userID}
		s.presence[userID] = p
	}
	p.IsOnline = online
	if !online {
		t := at
		p.LastSeen = &t
	}
	return nil
}

// ---- inspection ----

func (s *MemStore) Status(messageID, userID int64) (model.MessageStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[statusKey{messageID, userID}]
	if !ok {
		return model.MessageStatus{}, false
	}
	return *st, true
}

func (s *MemStore) StatusesFor(messageID int64) []model.MessageStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.MessageStatus
	for k, st := range s.statuses {
		if k.messageID == messageID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *MemStore) Watermark(chatID, userID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[chatUserKey{chatID, userID}]
}

func (s *MemStore) Presence(userID int64) (model.Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	if !ok {
		return model.Presence{}, false
	}
	return *p, true
}

// FailStatusWrites makes every status write fail with err until called
// again with nil.
func (s *MemStore) FailStatusWrites(err error) {
	s.mu.Lock()
	s.statusErr = err
	s.mu.Unlock()
}

func (s *MemStore) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
