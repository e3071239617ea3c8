// Package transport defines the chat-platform boundary. The core renders
// plain text and callback tokens; adapters own everything platform
// specific.
package transport

import "context"

// Sender delivers rendered messages. Implementations must be safe for
// concurrent use.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
}

// Mentioner formats a user reference the platform will linkify. Adapters
// that cannot mention return a plain fallback.
type Mentioner interface {
	Mention(userID int64) string
}
