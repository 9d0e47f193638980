package handler_test

import (
	"net/http"
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/jamflow/internal/handler"
	"github.com/sakif/jamflow/internal/model"
)

func createChat(t *testing.T, env *testEnv) *model.Chat {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/chat", env.ownerToken, map[string]string{"mode": "new"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	chat := decode[model.Chat](t, rec)
	return &chat
}

// ===== CREATE / GET TESTS =====

func TestChat_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	chat := createChat(t, env)

	rec := env.do(t, http.MethodGet, "/chat/"+chat.ID, env.ownerToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(mustField(t, rec.Body.Bytes(), "messages")))
	got := decode[model.Chat](t, rec)
	assert.Equal(t, chat.ID, got.ID)
	assert.Equal(t, model.VisibilityPrivate, got.Visibility)
}

func TestChat_CreateWithoutBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", env.ownerToken, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	recent := env.do(t, http.MethodPost, "/chat", env.ownerToken, map[string]string{"mode": "recent"})
	assert.Equal(t, http.StatusOK, recent.Code)
	assert.Equal(t, decode[model.Chat](t, rec).ID, decode[model.Chat](t, recent).ID)
}

func TestChat_CreateRecentWithoutChatsIsCreated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", env.ownerToken, map[string]string{"mode": "recent"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, decode[model.Chat](t, rec).ID)
}

func TestChat_CreateRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChat_GetErrors(t *testing.T) {
	env := newTestEnv(t)
	chat := createChat(t, env)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
		wantError  string
	}{
		{"anonymous on private", "/chat/" + chat.ID, "", http.StatusUnauthorized, "unauthorized"},
		{"other user on private", "/chat/" + chat.ID, env.otherToken, http.StatusForbidden, "forbidden"},
		{"malformed id", "/chat/not-an-id", env.ownerToken, http.StatusBadRequest, "validation_error"},
		{"missing chat", "/chat/" + xid.New().String(), env.ownerToken, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, tt.token, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decode[handler.ErrorResponse](t, rec).Error)
		})
	}
}

// ===== TURN TESTS =====

func TestChat_AppendTurnSegmentsResponse(t *testing.T) {
	env := newTestEnv(t)
	chat := createChat(t, env)

	rec := env.do(t, http.MethodPost, "/chat/"+chat.ID, env.ownerToken, map[string]string{
		"prompt":   "make a beat",
		"response": "Sure!\n```javascript\nsound(\"bd sd\")\n```",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[model.Chat](t, rec)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "make a beat", got.Title)

	bot := got.Messages[1]
	assert.Equal(t, model.DirectionBot, bot.Direction)
	require.Len(t, bot.Snippets, 2)
	assert.Equal(t, model.SnippetText, bot.Snippets[0].Kind)
	assert.Equal(t, model.SnippetCode, bot.Snippets[1].Kind)
	assert.Equal(t, "sound(\"bd sd\")", bot.Snippets[1].Content)
}

func TestChat_AppendTurnValidation(t *testing.T) {
	env := newTestEnv(t)
	chat := createChat(t, env)

	bad := env.do(t, http.MethodPost, "/chat/"+chat.ID, env.ownerToken, `{"prompt":`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	blank := env.do(t, http.MethodPost, "/chat/"+chat.ID, env.ownerToken, map[string]string{"prompt": "hi"})
	assert.Equal(t, http.StatusBadRequest, blank.Code)
	assert.Equal(t, "response", decode[handler.ErrorResponse](t, blank).Field)

	foreign := env.do(t, http.MethodPost, "/chat/"+chat.ID, env.otherToken, map[string]string{"prompt": "hi", "response": "ok"})
	assert.Equal(t, http.StatusForbidden, foreign.Code)
}

func TestChat_EditPrompt(t *testing.T) {
	env := newTestEnv(t)
	chat := createChat(t, env)
	withTurn := decode[model.Chat](t, env.do(t, http.MethodPost, "/chat/"+chat.ID, env.ownerToken,
		map[string]string{"prompt": "make a beat", "response": "ok"}))

	rec := env.do(t, http.MethodPut, "/chat/"+chat.ID, env.ownerToken, map[string]string{
		"messageId": withTurn.Messages[0].ID,
		"content":   "make a faster beat",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.Chat](t, rec)
	assert.Equal(t, "make a faster beat", got.Messages[0].Snippets[0].Content)

	botEdit := env.do(t, http.MethodPut, "/chat/"+chat.ID, env.ownerToken, map[string]string{
		"messageId": withTurn.Messages[1].ID,
		"content":   "nope",
	})
	assert.Equal(t, http.StatusBadRequest, botEdit.Code)
}

// ===== SHARE / DELETE / LIST TESTS =====

func TestChat_ShareMakesChatPublic(t *testing.T) {
	env := newTestEnv(t)
	chat := createChat(t, env)

	rec := env.do(t, http.MethodPost, "/share/"+chat.ID, env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"`+chat.ID+`","visibility":"public"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/chat/"+chat.ID, "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/chat/"+chat.ID, env.otherToken, nil).Code)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/unshare/"+chat.ID, env.otherToken, nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/unshare/"+chat.ID, env.ownerToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/chat/"+chat.ID, "", nil).Code)
}

func TestChat_Delete(t *testing.T) {
	env := newTestEnv(t)
	chat := createChat(t, env)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, "/chat/"+chat.ID, env.otherToken, nil).Code)

	rec := env.do(t, http.MethodDelete, "/chat/"+chat.ID, env.ownerToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/chat/"+chat.ID, env.ownerToken, nil).Code)
}

func TestChat_List(t *testing.T) {
	env := newTestEnv(t)
	createChat(t, env)
	createChat(t, env)

	rec := env.do(t, http.MethodGet, "/chats?limit=1", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Chats []map[string]any `json:"chats"`
	}](t, rec)
	require.Len(t, body.Chats, 1)
	assert.NotContains(t, body.Chats[0], "messages")

	other := decode[struct {
		Chats []map[string]any `json:"chats"`
	}](t, env.do(t, http.MethodGet, "/chats", env.otherToken, nil))
	assert.Empty(t, other.Chats)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/chats?limit=abc", env.ownerToken, nil).Code)
}
