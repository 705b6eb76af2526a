package model

import (
	"time"
)

// DeletedText replaces the text of a tombstoned message.
const DeletedText = "Message deleted"

type Message struct {
	ID     int64  `db:"id" json:"id"`
	ChatID int64  `db:"chat_id" json:"chat_id"`
	Sender User   `db:"-" json:"sender"`
	Text   string `db:"text" json:"text"`

	// ForwardedFrom is nulled when the origin message goes away.
	ForwardedFrom *int64 `db:"forwarded_from_id" json:"forwarded_from,omitempty"`
	ForwardedBy   *int64 `db:"forwarded_by_id" json:"forwarded_by,omitempty"`
	// ForwardedFromSender is the display name of the origin's sender, when known.
	ForwardedFromSender *string `db:"-" json:"forwarded_from_sender,omitempty"`

	IsEdited  bool       `db:"is_edited" json:"is_edited"`
	EditedAt  *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	IsDeleted bool       `db:"is_deleted" json:"is_deleted"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

func (m *Message) IsForwarded() bool { return m.ForwardedBy != nil || m.ForwardedFrom != nil }

// VisibleText is what clients may see.
func (m *Message) VisibleText() string {
	if m.IsDeleted {
		return DeletedText
	}
	return m.Text
}

// NewMessage is the input of Store.CreateMessage.
type NewMessage struct {
	ChatID        int64
	SenderID      int64
	Text          string
	ForwardedFrom *int64
	ForwardedBy   *int64
}

// MessageStatus is the per recipient delivery state; unique per (message, user).
type MessageStatus struct {
	MessageID   int64      `db:"message_id" json:"message_id"`
	UserID      int64      `db:"user_id" json:"user_id"`
	Delivered   bool       `db:"delivered" json:"delivered"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	Read        bool       `db:"read" json:"read"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
}
