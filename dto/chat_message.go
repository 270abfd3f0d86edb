package dto

import "time"

// ChatMessageReceived is published to the bot bus for every mail that survives dedup and normalization.
type ChatMessageReceived struct {
	ConversationKey string    `json:"conversationKey"`
	SenderID        string    `json:"senderId"`
	SenderName      string    `json:"senderName"`
	Body            string    `json:"body"`
	ReceivedAt      time.Time `json:"receivedAt"`
}

// ReplyRequested is sent by the bot core. With a ConversationKey the lines are
// a reply-all on the cached thread, otherwise a new mail to To.
type ReplyRequested struct {
	ConversationKey string   `json:"conversationKey,omitempty"`
	To              []string `json:"to,omitempty"`
	Subject         string   `json:"subject,omitempty"`
	Lines           []string `json:"lines"`
}
