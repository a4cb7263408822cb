// Package event defines what the relay pushes to live channels and permanent sinks.
package event

import "dm-relay/domain/chat"

type Name string

const (
	MessageName Name = "message"
	SentName    Name = "sent"
	ErrorName   Name = "error"
	ReadyName   Name = "ready"
)

type DomainEvent interface {
	EventName() Name
}

// MessagePersisted is fanned out to the receiver's channels, the sender's
// other channels and every permanent sink once the store committed it.
type MessagePersisted struct {
	Message chat.Message
}

func (MessagePersisted) EventName() Name { return MessageName }

// MessageSent acknowledges a durable write to the originating channel only.
type MessageSent struct {
	Message  chat.Message
	ClientID string
}

func (MessageSent) EventName() Name { return SentName }

// SendRejected is delivered to the originating channel only.
type SendRejected struct {
	Reason   string
	Detail   string
	ClientID string
}

func (SendRejected) EventName() Name { return ErrorName }

// Ready tells a freshly authenticated channel who it is registered as.
type Ready struct {
	UserID chat.UserID
}

func (Ready) EventName() Name { return ReadyName }
