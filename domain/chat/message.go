// Package chat contains the core concepts of the direct-messaging relay.
// Messages are immutable once persisted; conversations are derived from them.
// No runtime, network, or storage logic should be added here.
package chat

import "time"

type UserID string

func (u UserID) String() string { return string(u) }

// Message is an immutable persisted direct message.
// ID and CreatedAt are assigned by the store, never by the client.
type Message struct {
	ID         uint64
	SenderID   UserID
	ReceiverID UserID
	Content    string
	CreatedAt  time.Time
}

// Involves reports whether the message belongs to the conversation between a and b.
func (m Message) Involves(a, b UserID) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Counterparty returns the other participant from the viewpoint of self.
func (m Message) Counterparty(self UserID) UserID {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// Conversation is the view of one pair from a single participant.
type Conversation struct {
	OtherParty    UserID
	LatestMessage Message
}

// Profile is the minimal display identity of a user.
type Profile struct {
	ID     UserID
	Name   string
	Avatar string
}

// PlaceholderProfile is returned when the identity collaborator cannot resolve a user.
func PlaceholderProfile(id UserID) Profile {
	return Profile{ID: id, Name: "Unknown user", Avatar: ""}
}

// ConversationSummary is a Conversation whose counterparty has been resolved for display.
type ConversationSummary struct {
	OtherUser     Profile
	LatestMessage Message
}

// HistoryPage is one slice of a conversation, oldest first.
// NextBefore is set when older messages remain.
type HistoryPage struct {
	Messages   []Message
	NextBefore *uint64
}
