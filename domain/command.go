package domain

// SendMessageCommand is the delivery pipeline entry intent.
type SendMessageCommand struct {
	SenderID   string
	ReceiverID string
	Content    string
	Type       MessageType
}

// HistoryCommand asks for a backward page of conversation history.
// Cursor, when set, is the id of the oldest message already seen:
// only strictly older messages are returned.
type HistoryCommand struct {
	UserID  string
	OtherID string
	Limit   int
	Cursor  *string
}
