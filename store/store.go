// Package store persists the conversation of a chat between agent runs.
// The chat is identified by the chatmodel.ChatContext of the request context.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "store")

// DefaultMaxTurns is the number of turns kept per chat
const DefaultMaxTurns = 50

// DefaultTitle is the title of a new chat
const DefaultTitle = "New Chat"

// ConversationStore persists the turns of the chat in the context
type ConversationStore interface {
	// Turns returns the stored conversation.
	// The conversation never starts with a tool turn.
	Turns(ctx context.Context) (chatmodel.Conversation, error)
	// Add appends the turns to the stored conversation
	Add(ctx context.Context, turns ...*chatmodel.Turn) error
	// Reset deletes the chat
	Reset(ctx context.Context) error
}

// ChatInfo describes a stored chat
type ChatInfo struct {
	ChatID    string         `json:"chatId"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Turns are set by GetChatInfo
	Turns chatmodel.Conversation `json:"-"`
}

// ChatManager is a ConversationStore that also manages the chats
type ChatManager interface {
	ConversationStore
	// UpdateChat creates or updates the chat in the context with the title and metadata.
	// An empty title keeps the current one.
	UpdateChat(ctx context.Context, title string, metadata map[string]any) (*ChatInfo, error)
	// GetChatInfo returns the chat with its turns, the chat in the context if id is empty
	GetChatInfo(ctx context.Context, id string) (*ChatInfo, error)
	// ListChats returns the sorted IDs of the stored chats
	ListChats(ctx context.Context) ([]string, error)
	// Cleanup deletes the chats not updated since olderThan, and returns their count
	Cleanup(ctx context.Context, olderThan time.Duration) (uint32, error)
}

// Option configures a store
type Option func(*options)

type options struct {
	maxTurns int
}

// WithMaxTurns sets the number of turns kept per chat
func WithMaxTurns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTurns = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{maxTurns: DefaultMaxTurns}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TimeNowFn is used to stamp chats
var TimeNowFn = time.Now

func chatIDFromContext(ctx context.Context) (string, error) {
	id := chatmodel.GetChatID(ctx)
	if id == "" {
		return "", errors.WithStack(chatmodel.ErrInvalidChatContext)
	}
	return id, nil
}

// trim keeps the last max turns and drops leading tool turns
// that lost the model turn requesting them
func trim(conv chatmodel.Conversation, max int) chatmodel.Conversation {
	if max > 0 && len(conv) > max {
		conv = conv[len(conv)-max:]
	}
	for len(conv) > 0 && conv[0].Role == chatmodel.RoleTool {
		conv = conv[1:]
	}
	return conv
}
