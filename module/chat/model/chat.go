package model

import (
	"time"
)

// ChatType
const (
	ChatPrivate = "private"
	ChatGroup   = "group"
)

// PrivateChatMembers is the fixed member count of a private chat.
const PrivateChatMembers = 2

// Chat is a conversation scope. Membership of a private chat never changes.
type Chat struct {
	ID        int64     `db:"id" json:"id"`
	Type      string    `db:"type" json:"type"`
	Name      *string   `db:"name" json:"name,omitempty"`
	MemberIDs []int64   `db:"-" json:"member_ids"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (c *Chat) IsPrivate() bool { return c.Type == ChatPrivate }

func (c *Chat) HasMember(userID int64) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatReadState is the per (chat, user) read watermark. It never decreases.
type ChatReadState struct {
	ChatID            int64 `db:"chat_id" json:"chat_id"`
	UserID            int64 `db:"user_id" json:"user_id"`
	LastReadMessageID int64 `db:"last_read_message_id" json:"last_read_message_id"`
}
