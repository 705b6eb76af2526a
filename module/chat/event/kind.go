// Package event holds the websocket wire protocol: a closed set of inbound
// client events and outbound server events, each discriminated by "type".
package event

type Kind string

// inbound
const (
	KindMessage Kind = "message"
	KindTyping  Kind = "typing"
	KindRead    Kind = "read"
	KindForward Kind = "forward"
	KindEdit    Kind = "edit"
	KindDelete  Kind = "delete"
)

// outbound only
const (
	KindMessageEdit   Kind = "message_edit"
	KindMessageDelete Kind = "message_delete"
	KindUserStatus    Kind = "user_status"
)
