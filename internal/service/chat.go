// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces ownership, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take repository interfaces, never *sqlite.DB, and return
// apperror values; the handler layer maps those to HTTP status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/rs/xid"

	"github.com/sakif/jamflow/internal/apperror"
	"github.com/sakif/jamflow/internal/metrics"
	"github.com/sakif/jamflow/internal/model"
	"github.com/sakif/jamflow/internal/repository"
	"github.com/sakif/jamflow/internal/segment"
)

const (
	MaxPromptLength   = 8000   // bytes
	MaxResponseLength = 100000 // bytes, a long explanation plus code
	MaxTitleLength    = 60     // runes
	DefaultListLimit  = 20
	MaxListLimit      = 100
)

// CreateMode selects how CreateChat treats existing chats.
type CreateMode string

const (
	// ModeNew always creates a chat.
	ModeNew CreateMode = "new"
	// ModeRecent reuses the caller's most recently updated chat when one exists.
	ModeRecent CreateMode = "recent"
)

// ChatService handles chats, their messages and snippets.
type ChatService struct {
	repo   repository.ChatRepository
	logger *slog.Logger
}

func NewChatService(repo repository.ChatRepository, logger *slog.Logger) *ChatService {
	return &ChatService{repo: repo, logger: logger}
}

// CreateChat returns a chat for userID according to mode. An empty mode means ModeNew.
// created is false only when ModeRecent found an existing chat.
func (s *ChatService) CreateChat(ctx context.Context, userID string, mode CreateMode) (chat *model.Chat, created bool, err error) {
	if userID == "" {
		return nil, false, apperror.Unauthorized("authentication required")
	}

	switch mode {
	case "", ModeNew:
	case ModeRecent:
		recent, err := s.repo.GetMostRecentChat(ctx, userID)
		if err == nil {
			chat, err = s.repo.GetChat(ctx, recent.ID)
			return chat, false, err
		}
		if !isNotFound(err) {
			return nil, false, fmt.Errorf("service/chat: finding recent chat: %w", err)
		}
	default:
		return nil, false, apperror.ValidationFailed("mode", `mode must be "new" or "recent"`)
	}

	chat = &model.Chat{UserID: userID}
	if err := s.repo.CreateChat(ctx, chat); err != nil {
		return nil, false, fmt.Errorf("service/chat: creating chat: %w", err)
	}
	if chat.Messages == nil {
		chat.Messages = []model.Message{}
	}

	s.logger.Info("chat created",
		slog.String("chatID", chat.ID),
		slog.String("userID", userID),
	)
	return chat, true, nil
}

// GetChat returns a chat with all its messages. Public chats are readable by
// anyone; private chats only by their owner. requesterID is empty for anonymous
// callers.
func (s *ChatService) GetChat(ctx context.Context, id, requesterID string) (*model.Chat, error) {
	if err := validateID("id", id); err != nil {
		return nil, err
	}

	chat, err := s.repo.GetChat(ctx, id)
	if err != nil {
		return nil, err
	}

	if chat.IsPublic() || chat.UserID == requesterID {
		return chat, nil
	}
	if requesterID == "" {
		return nil, apperror.Unauthorized("this chat is private, sign in to view it")
	}
	return nil, apperror.Forbidden("you do not have access to this chat")
}

// ListChats returns the user's chats, most recently updated first, without messages.
func (s *ChatService) ListChats(ctx context.Context, userID string, limit, offset int) ([]model.Chat, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	chats, err := s.repo.ListChats(ctx, userID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("service/chat: listing chats: %w", err)
	}
	return chats, nil
}

// DeleteChat removes a chat owned by userID, with its messages and snippets.
func (s *ChatService) DeleteChat(ctx context.Context, id, userID string) error {
	if _, err := s.ownedChat(ctx, id, userID); err != nil {
		return err
	}
	if err := s.repo.DeleteChat(ctx, id); err != nil {
		return err
	}

	s.logger.Info("chat deleted", slog.String("chatID", id), slog.String("userID", userID))
	return nil
}

// ShareChat makes a chat readable by anyone with its link.
func (s *ChatService) ShareChat(ctx context.Context, id, userID string) (*model.Chat, error) {
	return s.setVisibility(ctx, id, userID, model.VisibilityPublic)
}

// UnshareChat makes a chat private again.
func (s *ChatService) UnshareChat(ctx context.Context, id, userID string) (*model.Chat, error) {
	return s.setVisibility(ctx, id, userID, model.VisibilityPrivate)
}

func (s *ChatService) setVisibility(ctx context.Context, id, userID string, v model.Visibility) (*model.Chat, error) {
	chat, err := s.ownedChat(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if chat.Visibility == v {
		return chat, nil
	}
	if err := s.repo.SetVisibility(ctx, id, v); err != nil {
		return nil, err
	}
	chat.Visibility = v

	s.logger.Info("chat visibility changed",
		slog.String("chatID", id),
		slog.String("visibility", string(v)),
	)
	return chat, nil
}

// EditPrompt replaces the text of one of the owner's USER messages and returns
// the updated chat. Bot replies cannot be edited.
func (s *ChatService) EditPrompt(ctx context.Context, chatID, messageID, content, userID string) (*model.Chat, error) {
	if err := validateID("messageId", messageID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if err := validateText("content", content, MaxPromptLength); err != nil {
		return nil, err
	}
	if _, err := s.ownedChat(ctx, chatID, userID); err != nil {
		return nil, err
	}

	msg, err := s.repo.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Direction != model.DirectionUser {
		return nil, apperror.ValidationFailed("messageId", "only your own prompts can be edited")
	}

	if err := s.repo.ReplaceMessageText(ctx, messageID, content); err != nil {
		return nil, fmt.Errorf("service/chat: editing message %s: %w", messageID, err)
	}
	return s.repo.GetChat(ctx, chatID)
}

// AppendTurn stores a prompt and the assistant response as a USER and a BOT
// message. The response is split into TEXT and CODE snippets. The first turn
// of a chat also names it after the prompt.
func (s *ChatService) AppendTurn(ctx context.Context, chatID, prompt, response, userID string) (*model.Chat, error) {
	prompt = strings.TrimSpace(prompt)
	if err := validateText("prompt", prompt, MaxPromptLength); err != nil {
		return nil, err
	}
	if err := validateText("response", strings.TrimSpace(response), MaxResponseLength); err != nil {
		return nil, err
	}

	chat, err := s.ownedChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	user := &model.Message{
		Direction: model.DirectionUser,
		Snippets:  []model.Snippet{{Kind: model.SnippetText, Content: prompt, Order: 0}},
	}
	bot := &model.Message{
		Direction: model.DirectionBot,
		Snippets:  segment.ToSnippets(segment.Split(response)),
	}

	var title string
	if len(chat.Messages) == 0 {
		title = Title(prompt)
	}

	if err := s.repo.AppendTurn(ctx, chatID, user, bot, title); err != nil {
		return nil, fmt.Errorf("service/chat: appending turn to chat %s: %w", chatID, err)
	}

	for _, m := range []*model.Message{user, bot} {
		for _, sn := range m.Snippets {
			metrics.RecordSnippet(string(sn.Kind))
		}
	}
	s.logger.Info("turn appended",
		slog.String("chatID", chatID),
		slog.Int("botSnippets", len(bot.Snippets)),
	)
	return s.repo.GetChat(ctx, chatID)
}

// ownedChat loads a chat and checks userID owns it.
func (s *ChatService) ownedChat(ctx context.Context, id, userID string) (*model.Chat, error) {
	if err := validateID("id", id); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	chat, err := s.repo.GetChat(ctx, id)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, apperror.Forbidden("you do not own this chat")
	}
	return chat, nil
}

// Title derives a chat title from its first prompt: the first line, at most
// MaxTitleLength runes, with an ellipsis when cut.
func Title(prompt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return model.DefaultChatTitle
	}
	if utf8.RuneCountInString(line) <= MaxTitleLength {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:MaxTitleLength-1])) + "…"
}

func validateID(field, id string) error {
	if _, err := xid.FromString(id); err != nil {
		return apperror.ValidationFailed(field, fmt.Sprintf("%s %q is not a valid id", field, id))
	}
	return nil
}

func validateText(field, value string, max int) error {
	if value == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	if len(value) > max {
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be %d bytes or less", field, max))
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}
