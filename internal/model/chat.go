package model

import "time"

// Visibility controls who may read a chat.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Direction says who authored a message.
type Direction string

const (
	DirectionUser Direction = "USER"
	DirectionBot  Direction = "BOT"
)

// SnippetKind is the render type of a snippet: prose or Strudel code.
type SnippetKind string

const (
	SnippetText SnippetKind = "TEXT"
	SnippetCode SnippetKind = "CODE"
)

// DefaultChatTitle is used until the first turn gives the chat a real title.
const DefaultChatTitle = "New chat"

// Chat is a conversation owned by one user.
//
// Messages is only populated by single-chat reads. List endpoints leave it nil
// and respond with summaries instead.
type Chat struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Messages   []Message  `json:"messages"`
}

// IsPublic reports whether anyone may read the chat.
func (c *Chat) IsPublic() bool {
	return c.Visibility == VisibilityPublic
}

// Message is one side of a turn. Position increases monotonically within a chat
// and is the canonical ordering key.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Direction Direction `json:"direction"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	Snippets  []Snippet `json:"snippets"`
}

// Snippet is one renderable piece of a message.
type Snippet struct {
	ID        string      `json:"id"`
	MessageID string      `json:"messageId"`
	Kind      SnippetKind `json:"type"`
	Content   string      `json:"content"`
	Order     int         `json:"order"`
}
