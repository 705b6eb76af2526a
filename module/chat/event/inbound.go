package event

import (
	"PPChat/tools/decode"
	"PPChat/tools/errs"
)

// Inbound is implemented only by the types in this file.
type Inbound interface {
	Kind() Kind
	inbound()
}

type MessageIn struct {
	Text string
}

type TypingIn struct {
	IsTyping bool
}

type ReadIn struct {
	LastReadMessageID int64
}

type ForwardIn struct {
	MessageID    int64
	TargetChatID int64
}

type EditIn struct {
	MessageID int64
	Text      string
}

type DeleteIn struct {
	MessageID int64
}

func (*MessageIn) Kind() Kind { return KindMessage }
func (*TypingIn) Kind() Kind  { return KindTyping }
func (*ReadIn) Kind() Kind    { return KindRead }
func (*ForwardIn) Kind() Kind { return KindForward }
func (*EditIn) Kind() Kind    { return KindEdit }
func (*DeleteIn) Kind() Kind  { return KindDelete }

func (*MessageIn) inbound() {}
func (*TypingIn) inbound()  {}
func (*ReadIn) inbound()    {}
func (*ForwardIn) inbound() {}
func (*EditIn) inbound()    {}
func (*DeleteIn) inbound()  {}

// wire payloads; pointers mark optional fields with non-zero defaults
type textPayload struct {
	Text string `json:"text"`
}

type typingPayload struct {
	IsTyping *bool `json:"is_typing"`
}

type readPayload struct {
	LastReadMessageID int64 `json:"last_read_message_id"`
}

type forwardPayload struct {
	MessageID    int64 `json:"message_id"`
	TargetChatID int64 `json:"target_chat_id"`
}

type editPayload struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

type deletePayload struct {
	MessageID int64 `json:"message_id"`
}

// ParseInbound decodes one client frame. Frames whose type is missing or not
// one of the inbound kinds yield ErrUnknownEvent; anything undecodable yields
// ErrBadPayload.
func ParseInbound(raw []byte) (Inbound, error) {
	m, err := decode.Object(raw)
	if err != nil {
		return nil, errs.ErrBadPayload.WrapMsg(err.Error())
	}
	kind := Kind(decode.String(m, "type"))

	switch kind {
	case KindMessage:
		p, err := decode.DecodeMap[textPayload](m)
		if err != nil {
			return nil, badPayload(kind, err)
		}
		return &MessageIn{Text: p.Text}, nil
	case KindTyping:
		p, err := decode.DecodeMap[typingPayload](m)
		if err != nil {
			return nil, badPayload(kind, err)
		}
		in := &TypingIn{IsTyping: true}
		if p.IsTyping != nil {
			in.IsTyping = *p.IsTyping
		}
		return in, nil
	case KindRead:
		p, err := decode.DecodeMap[readPayload](m)
		if err != nil {
			return nil, badPayload(kind, err)
		}
		return &ReadIn{LastReadMessageID: p.LastReadMessageID}, nil
	case KindForward:
		p, err := decode.DecodeMap[forwardPayload](m)
		if err != nil {
			return nil, badPayload(kind, err)
		}
		return &ForwardIn{MessageID: p.MessageID, TargetChatID: p.TargetChatID}, nil
	case KindEdit:
		p, err := decode.DecodeMap[editPayload](m)
		if err != nil {
			return nil, badPayload(kind, err)
		}
		return &EditIn{MessageID: p.MessageID, Text: p.Text}, nil
	case KindDelete:
		p, err := decode.DecodeMap[deletePayload](m)
		if err != nil {
			return nil, badPayload(kind, err)
		}
		return &DeleteIn{MessageID: p.MessageID}, nil
	default:
		return nil, errs.ErrUnknownEvent.WrapMsg("", "type", string(kind))
	}
}

func badPayload(kind Kind, err error) error {
	return errs.ErrBadPayload.WrapMsg(err.Error(), "type", string(kind))
}
