package event

import (
	"encoding/json"
)

// Envelope is one outbound event encoded once and shared by every
// subscriber of the chat it is published to.
type Envelope struct {
	ChatID int64
	Event  Outbound
	Data   []byte
}

func Seal(chatID int64, ev Outbound) (*Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Envelope{ChatID: chatID, Event: ev, Data: data}, nil
}
