package websocket

import (
	"dm-relay/domain/chat"
	"dm-relay/domain/event"
	"time"
)

const (
	inboundAuth = "auth"
	inboundSend = "send"
)

// InboundFrame is every frame a client may write; Event selects the fields that matter.
type InboundFrame struct {
	Event      string `json:"event"`
	Token      string `json:"token,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	Content    string `json:"content,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
}

type MessageFrame struct {
	Event      string    `json:"event"`
	ID         uint64    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	ClientID   string    `json:"clientId,omitempty"`
}

type ErrorFrame struct {
	Event    string `json:"event"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

type ReadyFrame struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

func toMessageFrame(name event.Name, msg chat.Message, clientID string) MessageFrame {
	return MessageFrame{
		Event:      string(name),
		ID:         msg.ID,
		SenderID:   msg.SenderID.String(),
		ReceiverID: msg.ReceiverID.String(),
		Content:    msg.Content,
		Timestamp:  msg.CreatedAt.UTC(),
		ClientID:   clientID,
	}
}

// toFrame maps a domain event to its wire shape. Unknown events are not written.
func toFrame(evt event.DomainEvent) (any, bool) {
	switch e := evt.(type) {
	case event.MessagePersisted:
		return toMessageFrame(e.EventName(), e.Message, ""), true
	case event.MessageSent:
		return toMessageFrame(e.EventName(), e.Message, e.ClientID), true
	case event.SendRejected:
		return ErrorFrame{Event: string(e.EventName()), Reason: e.Reason, Detail: e.Detail, ClientID: e.ClientID}, true
	case event.Ready:
		return ReadyFrame{Event: string(e.EventName()), UserID: e.UserID.String()}, true
	default:
		return nil, false
	}
}
