// Package transport defines how the assistant talks to chat networks.
package transport

import "context"

// Inbound is a text message addressed to the assistant.
type Inbound struct {
	ID        string
	ChannelID string
	UserID    string
	UserName  string
	Text      string
	// IsGroup is false for a private one-to-one chat.
	IsGroup bool
}

// Sender delivers text to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
	// MaxMessageLen is the longest text, in runes, one Send accepts.
	MaxMessageLen() int
}

// Handler consumes inbound messages. It must not block for long.
type Handler func(ctx context.Context, msg Inbound)

// Transport is a Sender that also receives messages.
type Transport interface {
	Sender
	// Run delivers inbound messages to h until ctx is done.
	Run(ctx context.Context, h Handler) error
}
