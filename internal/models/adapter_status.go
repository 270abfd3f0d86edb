package models

import (
	"time"

	"github.com/customeros/mailbot/internal/enum"
)

// AdapterStatus is a point-in-time view of the mailbox adapter, served on /status.
type AdapterStatus struct {
	Enabled             bool                 `json:"enabled"`
	Running             bool                 `json:"running"`
	Mailbox             string               `json:"mailbox,omitempty"`
	Folder              string               `json:"folder,omitempty"`
	Mode                enum.SourceMode      `json:"mode"`
	State               enum.ConnectionState `json:"state"`
	CachedConversations int                  `json:"cachedConversations"`
	// polling only
	Checkpoint *time.Time `json:"checkpoint,omitempty"`
	// push only
	Reopens   int    `json:"reopens"`
	LastError string `json:"lastError,omitempty"`

	QueuePending   int   `json:"queuePending"`
	QueueDelivered int64 `json:"queueDelivered"`
	QueueDropped   int64 `json:"queueDropped"`
	QueueFailed    int64 `json:"queueFailed"`
}
