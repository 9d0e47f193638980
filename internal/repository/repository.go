// Package repository declares the storage interfaces the service layer depends on.
// The sqlite subpackage is the only implementation; tests may provide fakes.
package repository

import (
	"context"

	"github.com/sakif/jamflow/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository stores Jamflow accounts keyed by their Supabase identity.
type UserRepository interface {
	// Upsert inserts a user, or refreshes username/email of the existing row with
	// the same AuthID. user.ID and timestamps are filled in.
	Upsert(ctx context.Context, user *model.User) error
	// CreateUser only inserts. An AuthID or username that already exists is
	// apperror.ErrConflict.
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByAuthID(ctx context.Context, authID string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// ChatRepository stores chats together with their messages and snippets.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat *model.Chat) error
	// GetChat loads the chat with all messages and snippets in render order.
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	// GetMostRecentChat returns the user's most recently updated chat, without messages.
	GetMostRecentChat(ctx context.Context, userID string) (*model.Chat, error)
	ListChats(ctx context.Context, userID string, opts ListOptions) ([]model.Chat, error)
	SetVisibility(ctx context.Context, id string, visibility model.Visibility) error
	// DeleteChat removes the chat, its messages and their snippets in one transaction.
	DeleteChat(ctx context.Context, id string) error

	// GetMessage returns a message (with snippets) only if it belongs to chatID.
	GetMessage(ctx context.Context, chatID, messageID string) (*model.Message, error)
	// ReplaceMessageText swaps the text of a message's TEXT snippet.
	ReplaceMessageText(ctx context.Context, messageID, content string) error
	// AppendTurn persists a USER and a BOT message atomically. Positions, ids and
	// timestamps are assigned by the repository. A non-empty title is applied to
	// the chat in the same transaction.
	AppendTurn(ctx context.Context, chatID string, user, bot *model.Message, title string) error
}
