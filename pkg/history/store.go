// Package history persists conversations locally so they survive restarts.
package history

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/papercomputeco/parley/pkg/chat"
)

const titleLength = 48

// Conversation is one locally stored conversation.
type Conversation struct {
	// ID is the local identifier, assigned on creation.
	ID string `json:"id"`

	// RemoteID is the identifier the chat API assigned, empty until the
	// first successful reply.
	RemoteID string `json:"remote_id,omitempty"`

	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one stored message of a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           chat.Role `json:"role"`
	Content        string    `json:"content"`

	// Failed marks a user message whose send did not complete. Failed
	// messages are kept for display and retry but never sent as history.
	Failed bool `json:"failed,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Store defines the interface for persisting conversations.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateConversation starts a new, empty conversation.
	CreateConversation(ctx context.Context, title string) (*Conversation, error)

	// GetConversation retrieves a conversation by local ID. Returns ErrNotFound
	// if it doesn't exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// SetRemoteID records the chat API's identifier for a conversation.
	SetRemoteID(ctx context.Context, id, remoteID string) error

	// ListConversations returns all conversations, most recently updated first.
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// AppendMessage stores msg at the end of its conversation, assigning ID
	// and CreatedAt when they are empty.
	AppendMessage(ctx context.Context, msg *Message) error

	// MarkFailed sets or clears the Failed flag of a message.
	MarkFailed(ctx context.Context, messageID string, failed bool) error

	// Messages returns a conversation's messages in conversation order.
	Messages(ctx context.Context, conversationID string) ([]*Message, error)

	// DeleteConversation removes a conversation and its messages.
	DeleteConversation(ctx context.Context, id string) error

	// Clear removes every conversation.
	Clear(ctx context.Context) error

	// Close closes the store and releases any resources.
	Close() error
}

// ErrNotFound is returned when a conversation or message doesn't exist.
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return "not found"
	}

	return "not found: " + e.ID
}

// Turns converts stored messages to request history. Failed messages are
// dropped and timestamps are not carried over.
func Turns(messages []*Message) []chat.Turn {
	turns := make([]chat.Turn, 0, len(messages))
	for _, m := range messages {
		if m.Failed {
			continue
		}
		turns = append(turns, chat.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// Title derives a conversation title from its first user message.
func Title(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= titleLength {
		return title
	}

	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleLength])) + "…"
}
