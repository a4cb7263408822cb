package chat

// SendMessageCommand is the validated intent of a connected user to write to another user.
type SendMessageCommand struct {
	SenderID   UserID `validate:"required,userid"`
	ReceiverID UserID `validate:"required,userid,nefield=SenderID"`
	Content    string `validate:"required"`
	// ClientID is an optional correlation token chosen by the client.
	ClientID string `validate:"max=64"`
}

// Page selects a window of a conversation.
// After and Before are exclusive message ids; at most one of them is honoured, After first.
type Page struct {
	Before *uint64
	After  *uint64
	Limit  *int
}

type GetHistoryCommand struct {
	Self  UserID `validate:"required,userid"`
	Other UserID `validate:"required,userid"`
	Page  Page
}

type SearchCommand struct {
	Self  UserID `validate:"required,userid"`
	Other UserID `validate:"required,userid"`
	Terms string `validate:"required,max=256"`
	Limit int    `validate:"gte=0,lte=100"`
}
