package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/jamflow/internal/apperror"
	"github.com/sakif/jamflow/internal/model"
	"github.com/sakif/jamflow/internal/repository"
)

// compile-time check that *DB implements repository.ChatRepository
var _ repository.ChatRepository = (*DB)(nil)

const chatColumns = `id, user_id, title, visibility, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(s rowScanner) (*model.Chat, error) {
	var c model.Chat
	var visibility string
	if err := s.Scan(&c.ID, &c.UserID, &c.Title, &visibility, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Visibility = model.Visibility(visibility)
	return &c, nil
}

// CreateChat inserts a new chat. ID, timestamps, and defaults for title and
// visibility are filled in on the passed struct.
func (db *DB) CreateChat(ctx context.Context, chat *model.Chat) error {
	now := time.Now().UTC()
	chat.ID = xid.New().String()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	if chat.Title == "" {
		chat.Title = model.DefaultChatTitle
	}
	if chat.Visibility == "" {
		chat.Visibility = model.VisibilityPrivate
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO chats (`+chatColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, string(chat.Visibility), chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting chat for user %s: %w", chat.UserID, err)
	}
	return nil
}

// GetChat loads a chat with every message and snippet.
//
// Snippets for the whole chat are read with one JOIN and grouped in Go rather than
// one query per message. Each result set is closed before the next query starts, so
// this also works on a single-connection pool.
func (db *DB) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	chat, err := scanChat(db.conn.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("chat", id)
		}
		return nil, fmt.Errorf("sqlite: getting chat %s: %w", id, err)
	}

	messages, err := db.listMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(messages))
	for i := range messages {
		index[messages[i].ID] = i
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.id, s.message_id, s.kind, s.content, s.sort_order
		FROM snippets s
		JOIN messages m ON m.id = s.message_id
		WHERE m.chat_id = ?
		ORDER BY m.position ASC, s.sort_order ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snippets of chat %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning snippet: %w", err)
		}
		if i, ok := index[s.MessageID]; ok {
			messages[i].Snippets = append(messages[i].Snippets, *s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snippets: %w", err)
	}

	chat.Messages = messages
	return chat, nil
}

func (db *DB) listMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, chat_id, direction, position, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY position ASC, created_at ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing messages of chat %s: %w", chatID, err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating messages: %w", err)
	}
	return messages, nil
}

func scanMessage(s rowScanner) (*model.Message, error) {
	var m model.Message
	var direction string
	if err := s.Scan(&m.ID, &m.ChatID, &direction, &m.Position, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Direction = model.Direction(direction)
	m.Snippets = []model.Snippet{}
	return &m, nil
}

func scanSnippet(s rowScanner) (*model.Snippet, error) {
	var sn model.Snippet
	var kind string
	if err := s.Scan(&sn.ID, &sn.MessageID, &kind, &sn.Content, &sn.Order); err != nil {
		return nil, err
	}
	sn.Kind = model.SnippetKind(kind)
	return &sn, nil
}

// GetMostRecentChat returns the user's chat with the latest updated_at.
// Returns apperror.ErrNotFound if the user has no chats.
func (db *DB) GetMostRecentChat(ctx context.Context, userID string) (*model.Chat, error) {
	chat, err := scanChat(db.conn.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE user_id = ?
		 ORDER BY updated_at DESC, id DESC LIMIT 1`, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("chat for user", userID)
		}
		return nil, fmt.Errorf("sqlite: getting most recent chat of %s: %w", userID, err)
	}
	return chat, nil
}

// ListChats returns the user's chats, most recently updated first, without messages.
func (db *DB) ListChats(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Chat, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE user_id = ?
		 ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing chats of %s: %w", userID, err)
	}
	defer rows.Close()

	// Return an empty slice (not nil) so the JSON body is [] rather than null.
	chats := []model.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning chat: %w", err)
		}
		chats = append(chats, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating chats: %w", err)
	}
	return chats, nil
}

// SetVisibility flips a chat between public and private.
// updated_at is left alone: sharing is not conversation activity.
func (db *DB) SetVisibility(ctx context.Context, id string, visibility model.Visibility) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE chats SET visibility = ? WHERE id = ?`, string(visibility), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting visibility of chat %s: %w", id, err)
	}
	return expectOneRow(result, "chat", id)
}

// DeleteChat removes the chat and everything under it.
//
// The schema already cascades through foreign keys; deleting children explicitly
// keeps the result independent of the foreign_keys pragma.
func (db *DB) DeleteChat(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snippets WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)`, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting snippets of chat %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting messages of chat %s: %w", id, err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting chat %s: %w", id, err)
		}
		return expectOneRow(result, "chat", id)
	})
}

// GetMessage returns a message with its snippets, scoped to a chat so a message id
// from another chat is reported as not found.
func (db *DB) GetMessage(ctx context.Context, chatID, messageID string) (*model.Message, error) {
	msg, err := scanMessage(db.conn.QueryRowContext(ctx,
		`SELECT id, chat_id, direction, position, created_at
		 FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("message", messageID)
		}
		return nil, fmt.Errorf("sqlite: getting message %s: %w", messageID, err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, message_id, kind, content, sort_order
		 FROM snippets WHERE message_id = ? ORDER BY sort_order ASC`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snippets of message %s: %w", messageID, err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning snippet: %w", err)
		}
		msg.Snippets = append(msg.Snippets, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snippets: %w", err)
	}
	return msg, nil
}

// ReplaceMessageText rewrites the first TEXT snippet of a message. If the message
// has no TEXT snippet one is appended after the existing snippets. The owning chat's
// updated_at is bumped in the same transaction.
func (db *DB) ReplaceMessageText(ctx context.Context, messageID, content string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var chatID string
		err := tx.QueryRowContext(ctx,
			`SELECT chat_id FROM messages WHERE id = ?`, messageID,
		).Scan(&chatID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("message", messageID)
			}
			return fmt.Errorf("sqlite: looking up message %s: %w", messageID, err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE snippets SET content = ?
			WHERE id = (
				SELECT id FROM snippets
				WHERE message_id = ? AND kind = 'TEXT'
				ORDER BY sort_order ASC LIMIT 1
			)`, content, messageID)
		if err != nil {
			return fmt.Errorf("sqlite: updating text of message %s: %w", messageID, err)
		}

		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		} else if n == 0 {
			var next int
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(sort_order) + 1, 0) FROM snippets WHERE message_id = ?`, messageID,
			).Scan(&next); err != nil {
				return fmt.Errorf("sqlite: computing snippet order: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO snippets (id, message_id, kind, content, sort_order) VALUES (?, ?, 'TEXT', ?, ?)`,
				xid.New().String(), messageID, content, next,
			); err != nil {
				return fmt.Errorf("sqlite: inserting text snippet for message %s: %w", messageID, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UTC(), chatID,
		); err != nil {
			return fmt.Errorf("sqlite: touching chat %s: %w", chatID, err)
		}
		return nil
	})
}

// AppendTurn stores a user prompt and the bot reply as two consecutive messages.
//
// Everything happens in one transaction: either both messages (with all snippets)
// are visible or neither is.
func (db *DB) AppendTurn(ctx context.Context, chatID string, user, bot *model.Message, title string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ?`, chatID).Scan(&exists)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("chat", chatID)
			}
			return fmt.Errorf("sqlite: looking up chat %s: %w", chatID, err)
		}

		var last int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) FROM messages WHERE chat_id = ?`, chatID,
		).Scan(&last); err != nil {
			return fmt.Errorf("sqlite: reading last position of chat %s: %w", chatID, err)
		}

		now := time.Now().UTC()
		for i, msg := range []*model.Message{user, bot} {
			msg.ID = xid.New().String()
			msg.ChatID = chatID
			msg.Position = last + 1 + i
			msg.CreatedAt = now
			if err := insertMessage(ctx, tx, msg); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE chats
			SET updated_at = ?, title = CASE WHEN ? <> '' THEN ? ELSE title END
			WHERE id = ?`, now, title, title, chatID,
		); err != nil {
			return fmt.Errorf("sqlite: touching chat %s: %w", chatID, err)
		}
		return nil
	})
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *model.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, direction, position, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, string(msg.Direction), msg.Position, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting %s message: %w", msg.Direction, err)
	}

	for i := range msg.Snippets {
		s := &msg.Snippets[i]
		s.ID = xid.New().String()
		s.MessageID = msg.ID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snippets (id, message_id, kind, content, sort_order) VALUES (?, ?, ?, ?, ?)`,
			s.ID, s.MessageID, string(s.Kind), s.Content, s.Order,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting snippet %d of message %s: %w", s.Order, msg.ID, err)
		}
	}
	return nil
}

// expectOneRow turns "0 rows affected" into apperror.ErrNotFound.
func expectOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
