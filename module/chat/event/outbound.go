package event

import (
	"encoding/json"
	"time"

	"PPChat/tools/decode"
	"PPChat/tools/errs"
)

// Outbound is implemented only by the types in this file. Each type encodes
// itself with its "type" discriminator.
type Outbound interface {
	Kind() Kind
	outbound()
}

type MessageOut struct {
	MessageID     int64     `json:"message_id"`
	Text          string    `json:"text"`
	Sender        string    `json:"sender"`
	SenderID      int64     `json:"sender_id"`
	Forwarded     bool      `json:"forwarded"`
	ForwardedFrom *string   `json:"forwarded_from"`
	CreatedAt     time.Time `json:"created_at"`
}

// TypingOut carries its author so receivers can drop their own echo.
type TypingOut struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type ReadOut struct {
	UserID            int64 `json:"user_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
}

type MessageEditOut struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

type MessageDeleteOut struct {
	MessageID int64 `json:"message_id"`
}

type UserStatusOut struct {
	UserID   int64      `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (*MessageOut) Kind() Kind       { return KindMessage }
func (*TypingOut) Kind() Kind        { return KindTyping }
func (*ReadOut) Kind() Kind          { return KindRead }
func (*MessageEditOut) Kind() Kind   { return KindMessageEdit }
func (*MessageDeleteOut) Kind() Kind { return KindMessageDelete }
func (*UserStatusOut) Kind() Kind    { return KindUserStatus }

func (*MessageOut) outbound()       {}
func (*TypingOut) outbound()        {}
func (*ReadOut) outbound()          {}
func (*MessageEditOut) outbound()   {}
func (*MessageDeleteOut) outbound() {}
func (*UserStatusOut) outbound()    {}

func (e *MessageOut) MarshalJSON() ([]byte, error) {
	type alias MessageOut
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{e.Kind(), (*alias)(e)})
}

func (e *TypingOut) MarshalJSON() ([]byte, error) {
	type alias TypingOut
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{e.Kind(), (*alias)(e)})
}

func (e *ReadOut) MarshalJSON() ([]byte, error) {
	type alias ReadOut
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{e.Kind(), (*alias)(e)})
}

func (e *MessageEditOut) MarshalJSON() ([]byte, error) {
	type alias MessageEditOut
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{e.Kind(), (*alias)(e)})
}

func (e *MessageDeleteOut) MarshalJSON() ([]byte, error) {
	type alias MessageDeleteOut
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{e.Kind(), (*alias)(e)})
}

func (e *UserStatusOut) MarshalJSON() ([]byte, error) {
	type alias UserStatusOut
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{e.Kind(), (*alias)(e)})
}

// DecodeOutbound is the inverse of json.Marshal on an Outbound; peers in the
// cluster relay use it to rebuild events published by other gateways.
func DecodeOutbound(raw []byte) (Outbound, error) {
	m, err := decode.Object(raw)
	if err != nil {
		return nil, errs.ErrBadPayload.WrapMsg(err.Error())
	}
	var ev Outbound
	switch kind := Kind(decode.String(m, "type")); kind {
	case KindMessage:
		ev = &MessageOut{}
	case KindTyping:
		ev = &TypingOut{}
	case KindRead:
		ev = &ReadOut{}
	case KindMessageEdit:
		ev = &MessageEditOut{}
	case KindMessageDelete:
		ev = &MessageDeleteOut{}
	case KindUserStatus:
		ev = &UserStatusOut{}
	default:
		return nil, errs.ErrUnknownEvent.WrapMsg("", "type", string(kind))
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, errs.ErrBadPayload.WrapMsg(err.Error())
	}
	return ev, nil
}
