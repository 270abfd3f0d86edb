package models

import "time"

type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// MailItem is an inbound mail as observed in the mailbox. It is never modified after observation.
type MailItem struct {
	ID         string    `json:"id"`
	Folder     string    `json:"folder"`
	MessageID  string    `json:"messageId,omitempty"`
	References []string  `json:"references,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Sender     Address   `json:"sender"`
	Recipients []string  `json:"recipients"`
	Cc         []string  `json:"cc,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ChatMessage is what the bot core receives. ConversationKey is the id of the originating MailItem.
type ChatMessage struct {
	ConversationKey string    `json:"conversationKey"`
	SenderID        string    `json:"senderId"`
	SenderName      string    `json:"senderName,omitempty"`
	Body            string    `json:"body"`
	ReceivedAt      time.Time `json:"receivedAt"`
}
