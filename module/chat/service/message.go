// Package service applies inbound chat events to the store and decides what,
// if anything, is fanned out.
package service

import (
	"context"
	"time"

	"PPChat/logger"
	"PPChat/module/chat/event"
	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
	"PPChat/tools/errs"

	"go.uber.org/zap"
)

// Delivery is one event to publish to one chat.
type Delivery struct {
	ChatID int64
	Event  event.Outbound
}

type MessageService struct {
	store store.Store
	now   func() time.Time
	log   *zap.Logger
}

func NewMessageService(st store.Store) *MessageService {
	return &MessageService{store: st, now: time.Now, log: logger.Named("chat.message")}
}

// WithClock replaces time.Now; tests only.
func (s *MessageService) WithClock(now func() time.Time) *MessageService {
	s.now = now
	return s
}

// Handle runs one inbound event for user in chatID. A nil Delivery with a nil
// error means there is nothing to fan out. Returned errors are storage
// failures; the event is aborted and nothing must be published.
func (s *MessageService) Handle(ctx context.Context, user *model.User, chatID int64, in event.Inbound) (*Delivery, error) {
	switch in := in.(type) {
	case *event.MessageIn:
		return s.Send(ctx, user, chatID, in.Text)
	case *event.TypingIn:
		return s.Typing(user, chatID, in.IsTyping), nil
	case *event.ReadIn:
		return s.MarkRead(ctx, user, chatID, in.LastReadMessageID)
	case *event.ForwardIn:
		return s.Forward(ctx, user, in.MessageID, in.TargetChatID)
	case *event.EditIn:
		return s.Edit(ctx, user, chatID, in.MessageID, in.Text)
	case *event.DeleteIn:
		return s.Delete(ctx, user, chatID, in.MessageID)
	default:
		return nil, errs.ErrUnknownEvent.WrapMsg("", "event", in)
	}
}

// Send persists a message and a delivered status for every other member.
func (s *MessageService) Send(ctx context.Context, user *model.User, chatID int64, text string) (*Delivery, error) {
	msg, err := s.create(ctx, model.NewMessage{ChatID: chatID, SenderID: user.ID, Text: text})
	if err != nil {
		return nil, err
	}
	return &Delivery{ChatID: chatID, Event: messageOut(msg)}, nil
}

// create stores in together with a delivered status for every member of its
// chat except the sender.
func (s *MessageService) create(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	members, err := s.store.ChatMemberIDs(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	recipients := make([]int64, 0, len(members))
	for _, id := range members {
		if id != in.SenderID {
			recipients = append(recipients, id)
		}
	}
	return s.store.CreateMessageWithStatuses(ctx, in, recipients, s.now())
}

func (s *MessageService) Typing(user *model.User, chatID int64, isTyping bool) *Delivery {
	return &Delivery{ChatID: chatID, Event: &event.TypingOut{UserID: user.ID, Username: user.Username, IsTyping: isTyping}}
}

// MarkRead advances the caller's watermark when candidate is higher and then
// marks every unread status up to it. The read event always carries the
// supplied value.
func (s *MessageService) MarkRead(ctx context.Context, user *model.User, chatID, candidate int64) (*Delivery, error) {
	if candidate > 0 {
		advanced, err := s.store.AdvanceReadWatermark(ctx, chatID, user.ID, candidate)
		if err != nil {
			return nil, err
		}
		if advanced {
			n, err := s.store.MarkStatusesRead(ctx, chatID, user.ID, candidate, s.now())
			if err != nil {
				return nil, err
			}
			s.log.Debug("watermark advanced",
				zap.Int64("chat_id", chatID), zap.Int64("user_id", user.ID),
				zap.Int64("watermark", candidate), zap.Int64("marked", n))
		}
	}
	return &Delivery{ChatID: chatID, Event: &event.ReadOut{UserID: user.ID, LastReadMessageID: candidate}}, nil
}

// Forward copies a message into targetChatID on behalf of user. An unknown
// source or target is a silent no-op.
func (s *MessageService) Forward(ctx context.Context, user *model.User, sourceID, targetChatID int64) (*Delivery, error) {
	src, err := s.store.GetMessage(ctx, sourceID)
	if errs.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	by := user.ID
	origin := src.ID
	msg, err := s.create(ctx, model.NewMessage{
		ChatID:        targetChatID,
		SenderID:      user.ID,
		Text:          src.VisibleText(),
		ForwardedFrom: &origin,
		ForwardedBy:   &by,
	})
	if errs.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Delivery{ChatID: targetChatID, Event: messageOut(msg)}, nil
}

// Edit changes the text only when user sent the message. The edit event is
// published either way.
func (s *MessageService) Edit(ctx context.Context, user *model.User, chatID, messageID int64, text string) (*Delivery, error) {
	ok, err := s.store.UpdateMessageText(ctx, messageID, user.ID, text, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Debug("edit matched no message", zap.Int64("message_id", messageID), zap.Int64("user_id", user.ID))
	}
	return &Delivery{ChatID: chatID, Event: &event.MessageEditOut{MessageID: messageID, Text: text}}, nil
}

// Delete tombstones the message when user sent it. The delete event is
// published either way.
func (s *MessageService) Delete(ctx context.Context, user *model.User, chatID, messageID int64) (*Delivery, error) {
	ok, err := s.store.TombstoneMessage(ctx, messageID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Debug("delete matched no message", zap.Int64("message_id", messageID), zap.Int64("user_id", user.ID))
	}
	return &Delivery{ChatID: chatID, Event: &event.MessageDeleteOut{MessageID: messageID}}, nil
}

func messageOut(m *model.Message) *event.MessageOut {
	return &event.MessageOut{
		MessageID:     m.ID,
		Text:          m.VisibleText(),
		Sender:        m.Sender.Username,
		SenderID:      m.Sender.ID,
		Forwarded:     m.IsForwarded(),
		ForwardedFrom: m.ForwardedFromSender,
		CreatedAt:     m.CreatedAt,
	}
}
