// Package transport defines the outbound message types shared by the
// notifier and its delivery channels.
package transport

import (
	"context"

	"pogoscan/internal/geo"
)

// ChatTarget addresses a chat (and optionally a forum topic). Webhook
// senders ignore it.
type ChatTarget struct {
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Notification struct {
	ID       string
	Channel  string // sender name; empty fans out to every sender
	Priority int    // 0 low.. 10 high
	// Key overrides the dedup key derived from the text.
	Key      string
	Target   ChatTarget
	Text     string
	Location *geo.Location
	Options  *SendOptions
	// Data is the structured payload posted by webhook senders.
	Data any
}

// Sender delivers notifications over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}
