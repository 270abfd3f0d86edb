package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrConnectionTimeout = errors.New("connection timeout")

	// mailbox errors
	ErrMailboxNotConfigured = errors.New("mailbox address or credential not configured")
	ErrMailboxDisconnected  = errors.New("mailbox client is not connected")
	ErrInvalidMailItemID    = errors.New("invalid mail item id")
	ErrInvalidMailboxURL    = errors.New("invalid mailbox url")
	ErrNoRecipients         = errors.New("no recipients")

	// source errors
	ErrSourceClosed       = errors.New("mail source closed")
	ErrSubscriptionClosed = errors.New("subscription closed")

	// dispatch errors
	ErrDispatchQueueFull   = errors.New("dispatch queue is full")
	ErrDispatchQueueClosed = errors.New("dispatch queue is closed")
	ErrAdapterDisabled     = errors.New("mailbox adapter is disabled")
)
