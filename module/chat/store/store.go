// Package store is the persistence gateway the live gateway talks to. The
// records it holds (users, chats, messages, statuses, read states, presence)
// are owned by the wider system; the gateway only performs the point reads
// and conditional writes listed on Store.
package store

import (
	"context"
	"time"

	"PPChat/module/chat/model"
)

type Store interface {
	// GetUser returns errs.ErrUserNotFound for unknown ids.
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	ChatMemberIDs(ctx context.Context, chatID int64) ([]int64, error)
	ChatIDsForUser(ctx context.Context, userID int64) ([]int64, error)

	// CreateMessage assigns id and created_at and returns the stored row
	// with the sender's display name filled in.
	CreateMessage(ctx context.Context, in model.NewMessage) (*model.Message, error)
	// CreateDeliveryStatuses inserts delivered=true rows; existing
	// (message, recipient) pairs are left untouched.
	CreateDeliveryStatuses(ctx context.Context, messageID int64, recipients []int64, at time.Time) error
	// CreateMessageWithStatuses is CreateMessage plus CreateDeliveryStatuses
	// as one unit: on error neither the message nor any status exists.
	CreateMessageWithStatuses(ctx context.Context, in model.NewMessage, recipients []int64, at time.Time) (*model.Message, error)
	// GetMessage returns errs.ErrRecordNotFound for unknown ids. The origin
	// sender name of a forwarded message is filled when still resolvable.
	GetMessage(ctx context.Context, messageID int64) (*model.Message, error)
	// UpdateMessageText and TombstoneMessage only touch rows whose sender
	// is sender and that are not tombstoned; they report whether one did.
	UpdateMessageText(ctx context.Context, messageID, sender int64, text string, at time.Time) (bool, error)
	TombstoneMessage(ctx context.Context, messageID, sender int64) (bool, error)

	// AdvanceReadWatermark is a compare-and-set: the watermark moves to
	// candidate only when candidate is strictly greater. Concurrent callers
	// for the same (chat, user) are serialized.
	AdvanceReadWatermark(ctx context.Context, chatID, userID, candidate int64) (bool, error)
	// MarkStatusesRead flips every unread status of userID in chatID with
	// message id <= upTo and returns how many rows changed.
	MarkStatusesRead(ctx context.Context, chatID, userID, upTo int64, at time.Time) (int64, error)

	SetPresence(ctx context.Context, userID int64, online bool, at time.Time) error
}
